// Package breaker implements the per-(provider, model) execution breaker: a
// sliding window of classified provider failures that opens after a burst and
// blocks dispatch until a cooldown elapses.
package breaker

import (
	"sync"
	"time"

	"github.com/patleeman/taskfactory/internal/models"
)

// OpenRecord describes an open breaker.
type OpenRecord struct {
	Category     Category
	OpenedAt     time.Time
	RetryAt      time.Time
	FailureCount int
	ErrorMessage string
}

// tracker is the per-model failure state.
type tracker struct {
	failures []time.Time
	open     *OpenRecord
	// notices dedupes "blocked" notices: taskID -> retryAt already notified.
	notices map[string]time.Time
}

// Set tracks breakers for one workspace. Trackers are created lazily on the
// first classified failure and live for the process lifetime.
type Set struct {
	mu          sync.Mutex
	trackers    map[string]*tracker
	threshold   int
	burstWindow time.Duration
	cooldown    time.Duration
	clock       func() time.Time
}

// NewSet creates a breaker set with the given thresholds.
func NewSet(threshold int, burstWindow, cooldown time.Duration) *Set {
	return &Set{
		trackers:    make(map[string]*tracker),
		threshold:   threshold,
		burstWindow: burstWindow,
		cooldown:    cooldown,
		clock:       time.Now,
	}
}

// SetClock overrides the set's clock; used in tests.
func (s *Set) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Set) trackerFor(model models.ModelConfig) *tracker {
	key := model.Key()
	t, ok := s.trackers[key]
	if !ok {
		t = &tracker{notices: make(map[string]time.Time)}
		s.trackers[key] = t
	}
	return t
}

// RecordFailure counts a classified failure against the model's tracker and
// returns the open record if this failure opened the breaker. Unclassified
// errors are ignored. An already-open breaker records the failure count but
// does not re-open.
func (s *Set) RecordFailure(model models.ModelConfig, errorMessage string) (*OpenRecord, bool) {
	category, ok := Classify(errorMessage)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	t := s.trackerFor(model)
	t.failures = append(t.failures, now)
	t.failures = pruneOlderThan(t.failures, now.Add(-s.burstWindow))

	if t.open != nil {
		t.open.FailureCount = len(t.failures)
		return nil, false
	}
	if len(t.failures) < s.threshold {
		return nil, false
	}

	t.open = &OpenRecord{
		Category:     category,
		OpenedAt:     now,
		RetryAt:      now.Add(s.cooldown),
		FailureCount: len(t.failures),
		ErrorMessage: errorMessage,
	}
	record := *t.open
	return &record, true
}

// Open returns the open record for the model, if any. Expired breakers are
// not auto-closed here; the queue calls ClearExpired at the top of its kick
// loop so close events are emitted exactly once.
func (s *Set) Open(model models.ModelConfig) (*OpenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trackers[model.Key()]
	if !ok || t.open == nil {
		return nil, false
	}
	record := *t.open
	return &record, true
}

// ShouldNotifyBlocked reports whether a "blocked" notice should be emitted
// for (taskID, the model's current retryAt). At most one notice is emitted
// per pair.
func (s *Set) ShouldNotifyBlocked(model models.ModelConfig, taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trackers[model.Key()]
	if !ok || t.open == nil {
		return false
	}
	if prior, seen := t.notices[taskID]; seen && prior.Equal(t.open.RetryAt) {
		return false
	}
	t.notices[taskID] = t.open.RetryAt
	return true
}

// ClearExpired closes breakers whose retryAt has passed and returns the
// models closed, one record each, so the caller can emit exactly one
// auto-close event per closing.
func (s *Set) ClearExpired() map[string]OpenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	closed := make(map[string]OpenRecord)
	for key, t := range s.trackers {
		if t.open != nil && !t.open.RetryAt.After(now) {
			closed[key] = *t.open
			t.open = nil
			t.failures = nil
			t.notices = make(map[string]time.Time)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	return closed
}

// ClearAll force-closes every open breaker (operator resume) and returns the
// keys that were open.
func (s *Set) ClearAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared []string
	for key, t := range s.trackers {
		if t.open != nil {
			cleared = append(cleared, key)
		}
		t.open = nil
		t.failures = nil
		t.notices = make(map[string]time.Time)
	}
	return cleared
}

// RecordSuccess resets the model's burst window after a successful
// completion.
func (s *Set) RecordSuccess(model models.ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trackers[model.Key()]; ok {
		t.failures = nil
	}
}

// NextRetryAt returns the earliest retryAt across open breakers, used to
// schedule a queue kick just after a breaker becomes closable.
func (s *Set) NextRetryAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, t := range s.trackers {
		if t.open == nil {
			continue
		}
		if earliest.IsZero() || t.open.RetryAt.Before(earliest) {
			earliest = t.open.RetryAt
		}
	}
	return earliest, !earliest.IsZero()
}

func pruneOlderThan(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
