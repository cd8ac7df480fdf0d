package activity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patleeman/taskfactory/internal/models"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := NewJournal(filepath.Join(t.TempDir(), "activity.jsonl"), nil)
	t.Cleanup(j.Close)
	return j
}

func chatEntry(taskID, content string) models.ActivityEntry {
	return models.ActivityEntry{
		TaskID:  taskID,
		Type:    models.ActivityChatMessage,
		Role:    models.RoleUser,
		Content: content,
	}
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	j := newTestJournal(t)

	got, err := j.Append(chatEntry("T-1", "hello"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got.ID == "" {
		t.Error("id not assigned")
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestAppendTimestampsAreMonotonic(t *testing.T) {
	j := newTestJournal(t)

	// A stalled clock must still yield strictly increasing timestamps.
	frozen := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	j.SetClock(func() time.Time { return frozen })

	var last time.Time
	for i := 0; i < 5; i++ {
		got, err := j.Append(chatEntry("T-1", "tick"))
		if err != nil {
			t.Fatal(err)
		}
		if !got.Timestamp.After(last) {
			t.Fatalf("timestamp %v not after %v", got.Timestamp, last)
		}
		last = got.Timestamp
	}
}

func TestAppendRejectsInvalidEntry(t *testing.T) {
	j := newTestJournal(t)

	if _, err := j.Append(models.ActivityEntry{Type: models.ActivityChatMessage}); err == nil {
		t.Error("expected error for entry without taskId")
	}
}

func TestReadAllNewestFirst(t *testing.T) {
	j := newTestJournal(t)

	for _, msg := range []string{"first", "second", "third"} {
		if _, err := j.Append(chatEntry("T-1", msg)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Content != "third" || entries[2].Content != "first" {
		t.Errorf("entries not newest first: %q, %q, %q",
			entries[0].Content, entries[1].Content, entries[2].Content)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	j := newTestJournal(t)
	entries, err := j.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	j := NewJournal(path, nil)
	t.Cleanup(j.Close)

	if _, err := j.Append(chatEntry("T-1", "good")); err != nil {
		t.Fatal(err)
	}

	// Simulate a torn append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"id":"x","taskId":"T-1","ty`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	entries, err := j.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "good" {
		t.Errorf("got %d entries, want only the intact one", len(entries))
	}
}

func TestReadForTaskFilters(t *testing.T) {
	j := newTestJournal(t)

	for _, taskID := range []string{"T-1", "T-2", "T-1"} {
		if _, err := j.Append(chatEntry(taskID, "msg")); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.ReadForTask("T-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries for T-1, want 2", len(entries))
	}
	for _, e := range entries {
		if e.TaskID != "T-1" {
			t.Errorf("entry for wrong task: %+v", e)
		}
	}
}

func TestReadStreamPages(t *testing.T) {
	j := newTestJournal(t)

	var ids []string
	for i := 0; i < 5; i++ {
		got, err := j.Append(chatEntry("T-1", "msg"))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, got.ID)
	}

	page, cursor, err := j.ReadStream("", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("first page = %d entries, want 2", len(page))
	}
	// Newest first: the page starts at the last appended entry.
	if page[0].ID != ids[4] {
		t.Errorf("first page starts at %q, want %q", page[0].ID, ids[4])
	}
	if cursor != page[1].ID {
		t.Errorf("cursor = %q, want %q", cursor, page[1].ID)
	}

	page, cursor, err = j.ReadStream(cursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Errorf("second page = %v", page)
	}

	page, cursor, err = j.ReadStream(cursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("last page = %d entries, want 1", len(page))
	}
	if cursor != "" {
		t.Errorf("exhausted cursor = %q, want empty", cursor)
	}
}

func TestReadStreamUnknownCursor(t *testing.T) {
	j := newTestJournal(t)
	if _, err := j.Append(chatEntry("T-1", "msg")); err != nil {
		t.Fatal(err)
	}

	page, cursor, err := j.ReadStream("no-such-id", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 0 || cursor != "" {
		t.Errorf("unknown cursor returned page=%v cursor=%q", page, cursor)
	}
}

func TestGroupSessionsSplitsOnSeparators(t *testing.T) {
	// Newest-first input: T-1 has a current session above a separator that
	// closes an older one; T-2 interleaves.
	entries := []models.ActivityEntry{
		{ID: "5", TaskID: "T-1", Type: models.ActivityChatMessage, Role: models.RoleAgent, Content: "new"},
		{ID: "4", TaskID: "T-2", Type: models.ActivityChatMessage, Role: models.RoleUser, Content: "other"},
		{ID: "3", TaskID: "T-1", Type: models.ActivityTaskSeparator},
		{ID: "2", TaskID: "T-1", Type: models.ActivityChatMessage, Role: models.RoleUser, Content: "old"},
		{ID: "1", TaskID: "T-2", Type: models.ActivityChatMessage, Role: models.RoleUser, Content: "older"},
	}

	sessions := GroupSessions(entries)
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}

	if sessions[0].TaskID != "T-1" || len(sessions[0].Entries) != 2 {
		t.Errorf("session 0 = %+v", sessions[0])
	}
	if sessions[0].Entries[1].Type != models.ActivityTaskSeparator {
		t.Error("separator should close the first T-1 session")
	}
	if sessions[1].TaskID != "T-2" || len(sessions[1].Entries) != 2 {
		t.Errorf("session 1 = %+v", sessions[1])
	}
	if sessions[2].TaskID != "T-1" || len(sessions[2].Entries) != 1 || sessions[2].Entries[0].Content != "old" {
		t.Errorf("session 2 = %+v", sessions[2])
	}
}
