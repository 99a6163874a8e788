// ABOUTME: Outbound event types for a conversation turn
// ABOUTME: One JSON object per event, pushed to the caller as the turn progresses

package kernel

// Event types emitted during a turn. Every turn ends with exactly one
// terminal event: done or error.
const (
	EventText                 = "text"
	EventToolCall             = "tool_call"
	EventToolExecuting        = "tool_executing"
	EventConfirmationRequired = "confirmation_required"
	EventDone                 = "done"
	EventError                = "error"
)

// ToolRef identifies a model-requested tool call in a tool_call event.
type ToolRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is one outbound stream item. Tool holds a ToolRef for tool_call
// events and a plain tool identifier string for the rest.
type Event struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	Tool           any    `json:"tool,omitempty"`
	Summary        string `json:"summary,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	ProcessingTime int64  `json:"processingTime,omitempty"`
	Error          string `json:"error,omitempty"`
	Partial        *bool  `json:"partial,omitempty"`
}

// EmitFunc delivers one event to the caller. A non-nil error aborts the turn.
type EmitFunc func(Event) error
