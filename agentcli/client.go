package agentcli

import (
	"context"

	"github.com/randalmurphal/threadrelay/event"
)

// Client is the shared connection to the assistant CLI.
type Client interface {
	// Start prepares the client. Calling it on a started client is a no-op.
	Start(ctx context.Context) error

	// Stop closes every session opened by the client.
	Stop() error

	ListModels(ctx context.Context) ([]ModelInfo, error)
	AuthStatus(ctx context.Context) (*AuthStatus, error)

	// CreateSession opens a new session.
	CreateSession(ctx context.Context, cfg SessionConfig) (Session, error)

	// ResumeSession reopens the session with the given id.
	ResumeSession(ctx context.Context, sessionID string, cfg SessionConfig) (Session, error)
}

// Session is one live conversation.
type Session interface {
	// ID returns the opaque id that ResumeSession accepts.
	ID() string

	// Model returns the model negotiated for the session, "" for the CLI default.
	Model() string

	// Send runs one turn and blocks until it ends. Turns are serialized.
	Send(ctx context.Context, p Prompt) error

	// Abort cancels the in-flight turn, if any.
	Abort(ctx context.Context) error

	// Close terminates the session. Idempotent.
	Close() error

	// Done is closed once the session is gone.
	Done() <-chan struct{}
}

// Handler receives the events of a session in order.
type Handler func(event.Event)

// SessionConfig configures a new or resumed session.
type SessionConfig struct {
	ThreadID         string
	Model            string
	WorkingDirectory string
	SkillDirectories []string
	Handler          Handler
}

// Prompt is the input of one turn.
type Prompt struct {
	// ID becomes the id of the user.message event. Reusing it on a retry
	// keeps the transcript free of duplicates.
	ID          string
	Text        string
	Attachments []event.Attachment
}

// ModelInfo describes a model the CLI offers.
type ModelInfo struct {
	ID                        string   `json:"id"`
	Name                      string   `json:"name"`
	SupportsVision            bool     `json:"supportsVision"`
	SupportsReasoningEffort   bool     `json:"supportsReasoningEffort"`
	DefaultReasoningEffort    string   `json:"defaultReasoningEffort,omitempty"`
	SupportedReasoningEfforts []string `json:"supportedReasoningEfforts,omitempty"`
}

// AuthStatus reports whether the CLI can authenticate.
type AuthStatus struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	StatusMessage   string `json:"statusMessage"`
	Login           string `json:"login,omitempty"`
	Host            string `json:"host,omitempty"`
	AuthType        string `json:"authType,omitempty"`
}
