// Package lease maintains the per-workspace execution lease file. Leases let
// a restarted orchestrator tell orphaned executing tasks from ones owned by a
// live process: a lease heartbeated within the TTL is fresh; anything else is
// an orphan candidate.
package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/patleeman/taskfactory/internal/filelock"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
)

// Manager owns one workspace's lease file. All writes go through a serial
// queue so concurrent heartbeats do not race; the file itself is guarded by a
// flock against sibling processes.
type Manager struct {
	path    string
	ownerID string
	ttl     time.Duration
	enabled bool
	queue   *filelock.SerialQueue
	log     logger.Logger
	clock   func() time.Time
}

// NewManager creates a lease manager for the file at path. The owner id is
// derived once per process: host:pid:startup-nonce:startedAt.
func NewManager(path string, ttl time.Duration, enabled bool, log logger.Logger) *Manager {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	ownerID := fmt.Sprintf("%s:%d:%s:%d", host, os.Getpid(), uuid.NewString()[:8], time.Now().Unix())

	return &Manager{
		path:    path,
		ownerID: ownerID,
		ttl:     ttl,
		enabled: enabled,
		queue:   filelock.NewSerialQueue(),
		log:     logger.OrNop(log),
		clock:   time.Now,
	}
}

// SetClock overrides the manager's clock; used in tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// OwnerID returns this process's lease owner identity.
func (m *Manager) OwnerID() string { return m.ownerID }

// Close drains pending lease writes.
func (m *Manager) Close() { m.queue.Close() }

// Upsert writes the lease for taskID owned by this process. StartedAt is
// preserved when the task already holds a lease; LastHeartbeatAt is stamped
// now. Heartbeat is a plain upsert.
func (m *Manager) Upsert(taskID string, status models.LeaseStatus) error {
	if !m.enabled {
		return nil
	}
	return m.queue.Do(func() error {
		return m.withFile(func(file *models.LeaseFile) {
			now := m.clock().UTC()
			lease := models.ExecutionLease{
				OwnerID:         m.ownerID,
				StartedAt:       now,
				LastHeartbeatAt: now,
				Status:          status,
			}
			if existing, ok := file.Leases[taskID]; ok && !existing.StartedAt.IsZero() {
				lease.StartedAt = existing.StartedAt
			}
			file.Leases[taskID] = lease
		})
	})
}

// Heartbeat refreshes the lease for taskID.
func (m *Manager) Heartbeat(taskID string, status models.LeaseStatus) error {
	return m.Upsert(taskID, status)
}

// Clear removes the lease for taskID.
func (m *Manager) Clear(taskID string) error {
	if !m.enabled {
		return nil
	}
	return m.queue.Do(func() error {
		return m.withFile(func(file *models.LeaseFile) {
			delete(file.Leases, taskID)
		})
	})
}

// Snapshot returns the current lease map. Missing file yields an empty map.
func (m *Manager) Snapshot() (map[string]models.ExecutionLease, error) {
	leases := make(map[string]models.ExecutionLease)
	err := m.queue.Do(func() error {
		file, err := m.read()
		if err != nil {
			return err
		}
		for id, lease := range file.Leases {
			leases[id] = lease
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leases, nil
}

// Fresh reports whether taskID holds a lease heartbeated within the TTL.
// With leases disabled every task reads as not fresh.
func (m *Manager) Fresh(taskID string) bool {
	if !m.enabled {
		return false
	}
	leases, err := m.Snapshot()
	if err != nil {
		m.log.Warnf("failed to read leases: %v", err)
		return false
	}
	lease, ok := leases[taskID]
	if !ok {
		return false
	}
	return lease.Fresh(m.clock().UTC(), m.ttl)
}

// RunHeartbeat heartbeats taskID at the given cadence until ctx is done,
// then clears the lease.
func (m *Manager) RunHeartbeat(ctx context.Context, taskID string, status models.LeaseStatus, cadence time.Duration) {
	if !m.enabled {
		return
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := m.Clear(taskID); err != nil {
				m.log.Warnf("failed to clear lease for %s: %v", taskID, err)
			}
			return
		case <-ticker.C:
			if err := m.Heartbeat(taskID, status); err != nil {
				m.log.Warnf("failed to heartbeat lease for %s: %v", taskID, err)
			}
		}
	}
}

// withFile applies mutate to the lease file under a cross-process flock.
func (m *Manager) withFile(mutate func(*models.LeaseFile)) error {
	lock := filelock.New(m.path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	file, err := m.read()
	if err != nil {
		return err
	}
	mutate(file)

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize leases: %w", err)
	}
	return filelock.AtomicWrite(m.path, data)
}

func (m *Manager) read() (*models.LeaseFile, error) {
	file := &models.LeaseFile{Leases: make(map[string]models.ExecutionLease)}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return nil, fmt.Errorf("failed to read lease file: %w", err)
	}
	if err := json.Unmarshal(data, file); err != nil {
		// A corrupt lease file must not wedge the queue; start over.
		m.log.Warnf("resetting corrupt lease file %s: %v", m.path, err)
		return &models.LeaseFile{Leases: make(map[string]models.ExecutionLease)}, nil
	}
	if file.Leases == nil {
		file.Leases = make(map[string]models.ExecutionLease)
	}
	return file, nil
}
