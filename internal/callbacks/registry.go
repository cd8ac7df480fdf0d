// Package callbacks is the process-wide routing table extension tools use to
// reach back into the orchestrator. Supervisor and queue register typed
// callbacks keyed by task or workspace id before starting a session and
// remove them on cleanup; the registry is in-memory only and recreated on
// startup.
package callbacks

import (
	"sync"

	"github.com/patleeman/taskfactory/internal/models"
)

// MessageKind is how a message_agent call should be delivered.
type MessageKind string

const (
	MessageSteer    MessageKind = "steer"
	MessageFollowUp MessageKind = "follow-up"
	MessageChat     MessageKind = "chat"
)

// FactoryAction is a factory_control operation.
type FactoryAction string

const (
	FactoryStatus FactoryAction = "status"
	FactoryStart  FactoryAction = "start"
	FactoryStop   FactoryAction = "stop"
)

// Callback signatures per family.
type (
	PlanCallback            func(taskID string, acceptanceCriteria []string, plan *models.Plan) error
	CompleteCallback        func(taskID, summary string) error
	AttachFileCallback      func(path, taskID, filename string) (models.Attachment, error)
	QACallback              func(requestID string, questions []string, workspaceID string) error
	MessageAgentCallback    func(taskID string, kind MessageKind, content string, attachmentIDs []string) error
	FactoryControlCallback  func(action FactoryAction) (string, error)
	ShelfCallback           func(action, itemID string, updates map[string]any) (string, error)
	CreateExtensionCallback func(name, audience, source string, confirmed bool) (string, error)
)

// Registry routes tool invocations to registered callbacks. Insertions and
// removals are idempotent; lookups of unregistered ids miss cleanly.
type Registry struct {
	mu sync.RWMutex

	plan            map[string]PlanCallback
	complete        map[string]CompleteCallback
	attachFile      map[string]AttachFileCallback
	qa              map[string]QACallback
	messageAgent    map[string]MessageAgentCallback
	factoryControl  map[string]FactoryControlCallback
	shelf           map[string]ShelfCallback
	createExtension map[string]CreateExtensionCallback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plan:            make(map[string]PlanCallback),
		complete:        make(map[string]CompleteCallback),
		attachFile:      make(map[string]AttachFileCallback),
		qa:              make(map[string]QACallback),
		messageAgent:    make(map[string]MessageAgentCallback),
		factoryControl:  make(map[string]FactoryControlCallback),
		shelf:           make(map[string]ShelfCallback),
		createExtension: make(map[string]CreateExtensionCallback),
	}
}

func (r *Registry) RegisterPlan(taskID string, cb PlanCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plan[taskID] = cb
}

func (r *Registry) RemovePlan(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plan, taskID)
}

func (r *Registry) RegisterComplete(taskID string, cb CompleteCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete[taskID] = cb
}

func (r *Registry) RemoveComplete(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.complete, taskID)
}

func (r *Registry) RegisterAttachFile(contextID string, cb AttachFileCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachFile[contextID] = cb
}

func (r *Registry) RemoveAttachFile(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attachFile, contextID)
}

func (r *Registry) RegisterQA(workspaceID string, cb QACallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qa[workspaceID] = cb
}

func (r *Registry) RemoveQA(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.qa, workspaceID)
}

func (r *Registry) RegisterMessageAgent(taskID string, cb MessageAgentCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageAgent[taskID] = cb
}

func (r *Registry) RemoveMessageAgent(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messageAgent, taskID)
}

func (r *Registry) RegisterFactoryControl(workspaceID string, cb FactoryControlCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factoryControl[workspaceID] = cb
}

func (r *Registry) RemoveFactoryControl(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factoryControl, workspaceID)
}

func (r *Registry) RegisterShelf(workspaceID string, cb ShelfCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shelf[workspaceID] = cb
}

func (r *Registry) RemoveShelf(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shelf, workspaceID)
}

func (r *Registry) RegisterCreateExtension(workspaceID string, cb CreateExtensionCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createExtension[workspaceID] = cb
}

func (r *Registry) RemoveCreateExtension(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.createExtension, workspaceID)
}

func (r *Registry) lookupPlan(taskID string) (PlanCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.plan[taskID]
	return cb, ok
}

func (r *Registry) lookupComplete(taskID string) (CompleteCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.complete[taskID]
	return cb, ok
}

func (r *Registry) lookupAttachFile(contextID string) (AttachFileCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.attachFile[contextID]
	return cb, ok
}

func (r *Registry) lookupQA(workspaceID string) (QACallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.qa[workspaceID]
	return cb, ok
}

func (r *Registry) lookupMessageAgent(taskID string) (MessageAgentCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.messageAgent[taskID]
	return cb, ok
}

func (r *Registry) lookupFactoryControl(workspaceID string) (FactoryControlCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.factoryControl[workspaceID]
	return cb, ok
}

func (r *Registry) lookupShelf(workspaceID string) (ShelfCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.shelf[workspaceID]
	return cb, ok
}

func (r *Registry) lookupCreateExtension(workspaceID string) (CreateExtensionCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.createExtension[workspaceID]
	return cb, ok
}
