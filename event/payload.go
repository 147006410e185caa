package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific body of an event.
type Payload interface {
	Kind() Kind
}

// Attachment is a file sent along with a prompt.
type Attachment struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	DisplayName string `json:"displayName,omitempty"`
}

// UserMessage records the prompt of a turn.
type UserMessage struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ToolRequest is a tool call announced in an assistant message.
type ToolRequest struct {
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// AssistantMessage is the final, fully assembled assistant text.
// It supersedes every delta with the same MessageID.
type AssistantMessage struct {
	MessageID    string        `json:"messageId"`
	Content      string        `json:"content"`
	ToolRequests []ToolRequest `json:"toolRequests,omitempty"`
}

// AssistantDelta is an incremental fragment of an assistant message.
type AssistantDelta struct {
	MessageID    string `json:"messageId"`
	DeltaContent string `json:"deltaContent"`
}

// ToolStart marks the start of a tool execution.
type ToolStart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolProgress reports progress of a running tool.
type ToolProgress struct {
	ToolCallID      string `json:"toolCallId"`
	ProgressMessage string `json:"progressMessage,omitempty"`
}

// ToolError describes a failed tool execution.
type ToolError struct {
	Message string `json:"message"`
}

// ToolComplete marks the end of a tool execution.
type ToolComplete struct {
	ToolCallID string     `json:"toolCallId"`
	Success    bool       `json:"success"`
	Error      *ToolError `json:"error,omitempty"`
}

// SessionIdle marks the end of a turn.
type SessionIdle struct{}

// SessionError reports a session-level failure.
type SessionError struct {
	ErrorType string `json:"errorType,omitempty"`
	Message   string `json:"message"`
}

// ModelChange reports that the session switched models.
type ModelChange struct {
	PreviousModel string `json:"previousModel,omitempty"`
	NewModel      string `json:"newModel"`
}

// Abort marks a turn cancelled by the caller.
type Abort struct {
	Reason string `json:"reason"`
}

func (UserMessage) Kind() Kind      { return KindUserMessage }
func (AssistantMessage) Kind() Kind { return KindAssistantMessage }
func (AssistantDelta) Kind() Kind   { return KindAssistantDelta }
func (ToolStart) Kind() Kind        { return KindToolStart }
func (ToolProgress) Kind() Kind     { return KindToolProgress }
func (ToolComplete) Kind() Kind     { return KindToolComplete }
func (SessionIdle) Kind() Kind      { return KindSessionIdle }
func (SessionError) Kind() Kind     { return KindSessionError }
func (ModelChange) Kind() Kind      { return KindModelChange }
func (Abort) Kind() Kind            { return KindAbort }

// newPayload returns a pointer to the zero payload for k.
func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindUserMessage:
		return &UserMessage{}, nil
	case KindAssistantMessage:
		return &AssistantMessage{}, nil
	case KindAssistantDelta:
		return &AssistantDelta{}, nil
	case KindToolStart:
		return &ToolStart{}, nil
	case KindToolProgress:
		return &ToolProgress{}, nil
	case KindToolComplete:
		return &ToolComplete{}, nil
	case KindSessionIdle:
		return &SessionIdle{}, nil
	case KindSessionError:
		return &SessionError{}, nil
	case KindModelChange:
		return &ModelChange{}, nil
	case KindAbort:
		return &Abort{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
}

// deref turns the pointer built by newPayload back into a value payload.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *UserMessage:
		return *v
	case *AssistantMessage:
		return *v
	case *AssistantDelta:
		return *v
	case *ToolStart:
		return *v
	case *ToolProgress:
		return *v
	case *ToolComplete:
		return *v
	case *SessionIdle:
		return *v
	case *SessionError:
		return *v
	case *ModelChange:
		return *v
	case *Abort:
		return *v
	}
	return p
}
