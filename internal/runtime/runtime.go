// Package runtime defines the narrow capability interface the supervisor
// consumes from the third-party agent runtime. The orchestrator never
// interprets runtime internals; in particular, the session file is an opaque
// identifier stored and passed back verbatim on resume.
package runtime

import "context"

// SessionSource selects between a fresh conversation and resuming one.
type SessionSource struct {
	// ResumeFrom is the opaque session file of a persisted conversation.
	// Empty means a new session.
	ResumeFrom string
}

// Image is an inline image handed to a prompt turn.
type Image struct {
	MimeType string
	Data     []byte
}

// OpenOptions configures a new session.
type OpenOptions struct {
	Cwd           string
	Model         string
	Provider      string
	ThinkingLevel string
	Source        SessionSource
	// Extensions names the extension tool sets exposed to the session.
	Extensions []string
	// ContextID is handed to extension tools so their callbacks can be
	// routed back to the owning task or workspace.
	ContextID string
}

// AgentRuntime opens agent sessions.
type AgentRuntime interface {
	OpenSession(ctx context.Context, opts OpenOptions) (Session, error)
}

// Session is one live agent conversation.
type Session interface {
	// Subscribe registers an event listener and returns its unsubscribe
	// function. Events are delivered in order.
	Subscribe(listener func(Event)) (unsubscribe func())

	// Prompt sends a user turn; it settles when the turn ends.
	Prompt(ctx context.Context, text string, images []Image) error

	// FollowUp queues a message for after the current turn; settles when the
	// resulting turn ends.
	FollowUp(ctx context.Context, text string, images []Image) error

	// Steer delivers an interrupt into the running turn; returns quickly.
	Steer(ctx context.Context, text string, images []Image) error

	// Abort cancels any in-flight operation and tears the session down.
	Abort()

	// SessionFile is the opaque identifier of the persisted conversation.
	SessionFile() string
}
