package taskstore

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
	"github.com/patleeman/taskfactory/internal/workspace"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	paths := workspace.NewPaths(t.TempDir(), "")
	return New(paths, nil)
}

func makeTask(id string) *models.Task {
	return &models.Task{
		ID:    id,
		Title: "Task " + id,
		ExecutionModelConfig: models.ModelConfig{
			Provider: "anthropic",
			ModelID:  "claude-sonnet-4-5",
		},
		Body: "Do the thing.\n",
	}
}

func TestCreateAndRead(t *testing.T) {
	store := newTestStore(t)

	task := makeTask("PIFA-1")
	task.AcceptanceCriteria = []string{"  builds cleanly  ", "tests pass"}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Read("PIFA-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Phase != models.PhaseBacklog {
		t.Errorf("phase = %q, want backlog", got.Phase)
	}
	if got.Title != "Task PIFA-1" {
		t.Errorf("title = %q", got.Title)
	}
	if len(got.AcceptanceCriteria) != 2 || got.AcceptanceCriteria[0] != "builds cleanly" {
		t.Errorf("criteria not normalized: %v", got.AcceptanceCriteria)
	}
	if got.Created.IsZero() || got.Updated.IsZero() {
		t.Error("timestamps not stamped")
	}
	if !strings.Contains(got.Body, "Do the thing.") {
		t.Errorf("body lost: %q", got.Body)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	store := newTestStore(t)

	if err := store.Create(makeTask("PIFA-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(makeTask("PIFA-1"))
	if !taskerr.IsValidation(err) {
		t.Errorf("duplicate create error = %v, want validation", err)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Read("nope"); !taskerr.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestUnknownFrontmatterPreserved(t *testing.T) {
	store := newTestStore(t)

	task := makeTask("PIFA-2")
	if err := store.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Inject a key the schema does not know about.
	path := store.paths.TaskFile("PIFA-2")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	patched := strings.Replace(string(content), "---\n", "---\ncustomTag: keep-me\n", 1)
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Update("PIFA-2", func(tk *models.Task) error {
		tk.Title = "renamed"
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(rewritten), "customTag: keep-me") {
		t.Error("unknown frontmatter key lost on round-trip")
	}
}

func TestUpdateRefusesPhaseChange(t *testing.T) {
	store := newTestStore(t)
	if err := store.Create(makeTask("PIFA-3")); err != nil {
		t.Fatal(err)
	}

	_, err := store.Update("PIFA-3", func(tk *models.Task) error {
		tk.Phase = models.PhaseReady
		return nil
	})
	if !taskerr.IsValidation(err) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestMoveAppendsOrderAndStamps(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	for _, id := range []string{"A-1", "A-2", "A-3"} {
		if err := store.Create(makeTask(id)); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Minute)
	}

	moved, err := store.Move("A-1", models.PhaseReady, "promoted")
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if moved.Order != 0 {
		t.Errorf("first ready order = %d, want 0", moved.Order)
	}
	if moved2, _ := store.Move("A-2", models.PhaseReady, "promoted"); moved2.Order != 1 {
		t.Errorf("second ready order = %d, want 1", moved2.Order)
	}

	executing, err := store.Move("A-1", models.PhaseExecuting, "dispatched")
	if err != nil {
		t.Fatal(err)
	}
	if executing.Started == nil {
		t.Error("Started not stamped on entry to executing")
	}

	done, err := store.Move("A-1", models.PhaseComplete, "finished")
	if err != nil {
		t.Fatal(err)
	}
	if done.Completed == nil {
		t.Error("Completed not stamped on entry to complete")
	}
}

type recordedTransition struct {
	taskID   string
	from, to models.Phase
	reason   string
}

type fakeRecorder struct {
	transitions []recordedTransition
}

func (r *fakeRecorder) RecordPhaseChange(taskID string, from, to models.Phase, reason string) {
	r.transitions = append(r.transitions, recordedTransition{taskID, from, to, reason})
}

func TestMoveRecordsTransition(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{}
	store.SetRecorder(recorder)

	if err := store.Create(makeTask("B-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Move("B-1", models.PhaseReady, "promoted"); err != nil {
		t.Fatal(err)
	}

	if len(recorder.transitions) != 1 {
		t.Fatalf("got %d transitions, want 1", len(recorder.transitions))
	}
	tr := recorder.transitions[0]
	if tr.from != models.PhaseBacklog || tr.to != models.PhaseReady || tr.reason != "promoted" {
		t.Errorf("unexpected transition %+v", tr)
	}
}

type recordedUpdate struct {
	taskID  string
	changes []string
}

type fakeUpdateRecorder struct {
	updates []recordedUpdate
}

func (r *fakeUpdateRecorder) RecordTaskUpdated(task *models.Task, changes []string) {
	r.updates = append(r.updates, recordedUpdate{task.ID, changes})
}

func TestUpdateRecordsChangedKeys(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeUpdateRecorder{}
	store.SetUpdateRecorder(recorder)

	if err := store.Create(makeTask("G-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update("G-1", func(tk *models.Task) error {
		tk.Plan = &models.Plan{Goal: "ship it", Steps: []string{"code"}}
		tk.PlanningStatus = models.PlanningCompleted
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(recorder.updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(recorder.updates))
	}
	got := recorder.updates[0]
	if got.taskID != "G-1" {
		t.Errorf("taskID = %q", got.taskID)
	}
	want := []string{"plan", "planningStatus"}
	if len(got.changes) != len(want) {
		t.Fatalf("changes = %v, want %v", got.changes, want)
	}
	for i := range want {
		if got.changes[i] != want[i] {
			t.Fatalf("changes = %v, want %v", got.changes, want)
		}
	}
}

func TestUpdateWithoutChangesNotRecorded(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeUpdateRecorder{}
	store.SetUpdateRecorder(recorder)

	if err := store.Create(makeTask("G-2")); err != nil {
		t.Fatal(err)
	}
	// The updated stamp is bumped on every write; alone it is not a change.
	if _, err := store.Update("G-2", func(tk *models.Task) error {
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(recorder.updates) != 0 {
		t.Errorf("no-op update recorded: %v", recorder.updates)
	}
}

func TestReorderRecordsOrderChanges(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"H-1", "H-2", "H-3"} {
		if err := store.Create(makeTask(id)); err != nil {
			t.Fatal(err)
		}
	}
	recorder := &fakeUpdateRecorder{}
	store.SetUpdateRecorder(recorder)

	if err := store.Reorder(models.PhaseBacklog, []string{"H-3", "H-1", "H-2"}); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}

	if len(recorder.updates) != 3 {
		t.Fatalf("got %d updates, want one per moved task", len(recorder.updates))
	}
	for _, u := range recorder.updates {
		if len(u.changes) != 1 || u.changes[0] != "order" {
			t.Errorf("update for %s changes = %v, want [order]", u.taskID, u.changes)
		}
	}
}

func TestReorderAssignsPermutation(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"C-1", "C-2", "C-3"} {
		if err := store.Create(makeTask(id)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Reorder(models.PhaseBacklog, []string{"C-3", "C-1", "C-2"}); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}

	tasks, err := store.ListPhase(models.PhaseBacklog)
	if err != nil {
		t.Fatal(err)
	}
	orders := map[string]int{}
	seen := map[int]bool{}
	for _, task := range tasks {
		orders[task.ID] = task.Order
		seen[task.Order] = true
	}
	// Orders must be a permutation of 0..n-1.
	for i := 0; i < len(tasks); i++ {
		if !seen[i] {
			t.Errorf("order %d missing from %v", i, orders)
		}
	}
	if orders["C-3"] != 0 || orders["C-1"] != 1 || orders["C-2"] != 2 {
		t.Errorf("unexpected orders %v", orders)
	}
}

func TestReorderRefusesWrongSet(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"D-1", "D-2"} {
		if err := store.Create(makeTask(id)); err != nil {
			t.Fatal(err)
		}
	}

	cases := [][]string{
		{"D-1"},                 // too short
		{"D-1", "D-2", "D-3"},   // too long
		{"D-1", "D-1"},          // duplicate
		{"D-1", "other"},        // non-member
	}
	for _, ids := range cases {
		if err := store.Reorder(models.PhaseBacklog, ids); !taskerr.IsValidation(err) {
			t.Errorf("Reorder(%v) error = %v, want validation", ids, err)
		}
	}
}

func TestDeleteRemovesTaskDir(t *testing.T) {
	store := newTestStore(t)
	if err := store.Create(makeTask("E-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("E-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Read("E-1"); !taskerr.IsNotFound(err) {
		t.Errorf("Read after delete = %v, want not found", err)
	}
	if err := store.Delete("E-1"); !taskerr.IsNotFound(err) {
		t.Errorf("second delete = %v, want not found", err)
	}
}

func TestSortForDispatchFIFO(t *testing.T) {
	now := time.Now()
	tasks := []*models.Task{
		{ID: "old", Order: 1, Created: now.Add(-2 * time.Hour)},
		{ID: "newer", Order: 1, Created: now.Add(-time.Hour)},
		{ID: "front", Order: 0, Created: now},
	}
	SortForDispatch(tasks)

	got := []string{tasks[0].ID, tasks[1].ID, tasks[2].ID}
	want := []string{"front", "newer", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestListSkipsUnparsableTask(t *testing.T) {
	store := newTestStore(t)
	if err := store.Create(makeTask("F-1")); err != nil {
		t.Fatal(err)
	}

	badDir := store.paths.TaskDir("F-2")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.paths.TaskFile("F-2"), []byte("---\n: : :\n---\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tasks, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "F-1" {
		t.Errorf("List = %v tasks, want only F-1", len(tasks))
	}
}
