package relaycontract

// Canonical event kind names. These are the values of the "type" field of
// the event envelope delivered to subscribers.
const (
	EventUserMessage      = "user.message"
	EventAssistantMessage = "assistant.message"
	EventAssistantDelta   = "assistant.message_delta"
	EventToolStart        = "tool.execution_start"
	EventToolProgress     = "tool.execution_progress"
	EventToolComplete     = "tool.execution_complete"
	EventSessionIdle      = "session.idle"
	EventSessionError     = "session.error"
	EventModelChange      = "session.model_change"
	EventAbort            = "abort"
)

// Persisted message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// AbortReasonUser is the reason recorded when the caller aborts a turn.
const AbortReasonUser = "user_requested"
