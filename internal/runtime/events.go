package runtime

// EventType tags the runtime event union.
type EventType string

const (
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventMessageStart        EventType = "message_start"
	EventMessageUpdate       EventType = "message_update"
	EventMessageEnd          EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventTurnEnd             EventType = "turn_end"
	EventAutoCompactionStart EventType = "auto_compaction_start"
	EventAutoCompactionEnd   EventType = "auto_compaction_end"
	EventAutoRetryStart      EventType = "auto_retry_start"
	EventAutoRetryEnd        EventType = "auto_retry_end"
)

// StopReason explains how a message ended.
type StopReason string

const (
	StopReasonStop  StopReason = "stop"
	StopReasonError StopReason = "error"
	StopReasonAbort StopReason = "abort"
)

// Event is the tagged union of runtime events. Only the fields relevant to
// the tagged type are populated:
//
//	message_update: TextDelta or ThinkingDelta
//	message_end:    Content, StopReason, ErrorMessage
//	tool_*:         ToolCallID, ToolName, ToolArgs, ToolResult, ToolIsError
type Event struct {
	Type EventType

	TextDelta     string
	ThinkingDelta string

	Content      string
	StopReason   StopReason
	ErrorMessage string

	ToolCallID  string
	ToolName    string
	ToolArgs    map[string]any
	ToolResult  string
	ToolIsError bool
}
