package activity

import "github.com/patleeman/taskfactory/internal/models"

// Session is one task's slice of the timeline, bounded by task-separator
// entries. Entries are newest first, matching the reader views.
type Session struct {
	TaskID  string
	Entries []models.ActivityEntry
}

// GroupSessions folds a newest-first entry sequence into per-task sessions.
// A session starts (looking backward in time) at each task-separator; entries
// seen before any separator for their task form a leading open session.
func GroupSessions(entries []models.ActivityEntry) []Session {
	var sessions []Session
	open := make(map[string]int) // taskID -> index of the open session

	for _, entry := range entries {
		idx, ok := open[entry.TaskID]
		if !ok {
			sessions = append(sessions, Session{TaskID: entry.TaskID})
			idx = len(sessions) - 1
			open[entry.TaskID] = idx
		}
		sessions[idx].Entries = append(sessions[idx].Entries, entry)

		// Walking newest-first, a separator is the oldest entry of its
		// session; the next entry for this task opens a new one.
		if entry.Type == models.ActivityTaskSeparator {
			delete(open, entry.TaskID)
		}
	}
	return sessions
}
