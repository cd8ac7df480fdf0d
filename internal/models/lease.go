package models

import "time"

// LeaseStatus is the coarse state an execution lease advertises.
type LeaseStatus string

const (
	LeaseRunning  LeaseStatus = "running"
	LeasePlanning LeaseStatus = "planning"
)

// ExecutionLease marks a task as owned by a live orchestrator process. Leases
// let a restarted process tell orphaned executing tasks from live ones.
type ExecutionLease struct {
	// OwnerID is host:pid:startup-nonce:startedAt for the owning process.
	OwnerID         string      `json:"ownerId"`
	StartedAt       time.Time   `json:"startedAt"`
	LastHeartbeatAt time.Time   `json:"lastHeartbeatAt"`
	Status          LeaseStatus `json:"status"`
}

// Fresh reports whether the lease was heartbeated within ttl of now.
func (l ExecutionLease) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.LastHeartbeatAt) <= ttl
}

// LeaseFile is the on-disk record at <workspace>/<state-dir>/execution-leases.json.
type LeaseFile struct {
	Leases map[string]ExecutionLease `json:"leases"`
}
