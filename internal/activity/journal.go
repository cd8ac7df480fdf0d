// Package activity maintains the append-only per-workspace event journal.
// The on-disk format is line-delimited JSON at
// <workspace>/<state-dir>/activity.jsonl; appends are serialized through a
// per-workspace write queue so there is a single writer per file.
package activity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/patleeman/taskfactory/internal/filelock"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

// Journal is one workspace's activity log.
type Journal struct {
	path  string
	queue *filelock.SerialQueue
	log   logger.Logger
	clock func() time.Time

	// lastStamp enforces per-journal timestamp monotonicity even when the
	// wall clock stalls between appends.
	lastStamp time.Time
}

// NewJournal opens (or lazily creates) the journal at path.
func NewJournal(path string, log logger.Logger) *Journal {
	return &Journal{
		path:  path,
		queue: filelock.NewSerialQueue(),
		log:   logger.OrNop(log),
		clock: time.Now,
	}
}

// SetClock overrides the journal's clock; used in tests.
func (j *Journal) SetClock(clock func() time.Time) { j.clock = clock }

// Close drains pending appends.
func (j *Journal) Close() { j.queue.Close() }

// Append durably appends the entry. Missing ID and Timestamp are filled in;
// timestamps are monotonic per journal. Entries are never rewritten.
func (j *Journal) Append(entry models.ActivityEntry) (models.ActivityEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var appended models.ActivityEntry
	err := j.queue.Do(func() error {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = j.clock().UTC()
		}
		if !entry.Timestamp.After(j.lastStamp) {
			entry.Timestamp = j.lastStamp.Add(time.Microsecond)
		}
		j.lastStamp = entry.Timestamp

		if err := entry.Validate(); err != nil {
			return taskerr.Validationf("invalid activity entry: %v", err)
		}
		line, err := entry.MarshalLine()
		if err != nil {
			return fmt.Errorf("failed to serialize activity entry: %w", err)
		}
		if err := j.appendLine(line); err != nil {
			return err
		}
		appended = entry
		return nil
	})
	if err != nil {
		return models.ActivityEntry{}, err
	}
	return appended, nil
}

func (j *Journal) appendLine(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return f.Sync()
}

// ReadAll returns every parseable entry, newest first. Malformed lines
// (including a torn trailing append) are skipped without failing the read.
func (j *Journal) ReadAll() ([]models.ActivityEntry, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var entries []models.ActivityEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry models.ActivityEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			j.log.Warnf("skipping malformed journal line: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}

	reverse(entries)
	return entries, nil
}

// ReadForTask returns the task's entries, newest first.
func (j *Journal) ReadForTask(taskID string) ([]models.ActivityEntry, error) {
	all, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	var entries []models.ActivityEntry
	for _, entry := range all {
		if entry.TaskID == taskID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// ReadStream returns up to limit entries older than the cursor entry id,
// newest first. An empty cursor starts from the newest entry. The returned
// cursor is the id of the last entry, or "" when the stream is exhausted.
func (j *Journal) ReadStream(cursor string, limit int) ([]models.ActivityEntry, string, error) {
	if limit <= 0 {
		limit = 50
	}
	all, err := j.ReadAll()
	if err != nil {
		return nil, "", err
	}

	start := 0
	if cursor != "" {
		start = len(all)
		for i, entry := range all {
			if entry.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, "", nil
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]

	next := ""
	if end < len(all) && len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func reverse(entries []models.ActivityEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
