// Package broadcast is the fire-and-forget event bus the HTTP/WebSocket
// collaborator subscribes to. Emission never blocks the core: slow
// subscribers drop events.
package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// Event names emitted by the core.
const (
	QueueStatus        = "queue:status"
	TaskMoved          = "task:moved"
	TaskUpdated        = "task:updated"
	TaskPlanGenerated  = "task:plan_generated"
	ActivityEntry      = "activity:entry"
	AgentExecStatus    = "agent:execution_status"
	AgentStreamStart   = "agent:streaming_start"
	AgentStreamText    = "agent:streaming_text"
	AgentStreamEnd     = "agent:streaming_end"
	AgentThinkingDelta = "agent:thinking_delta"
	AgentThinkingEnd   = "agent:thinking_end"
	AgentToolStart     = "agent:tool_start"
	AgentToolUpdate    = "agent:tool_update"
	AgentToolEnd       = "agent:tool_end"
	AgentTurnEnd       = "agent:turn_end"
)

// Event is one broadcast message. Payload shapes are defined by the emitting
// component; subscribers treat them as opaque JSON-able values.
type Event struct {
	Name        string
	WorkspaceID string
	Payload     any
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a buffered subscriber channel and returns it with an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 256)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

// Emit delivers the event to every subscriber without blocking. Events to a
// full subscriber buffer are dropped.
func (b *Bus) Emit(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
