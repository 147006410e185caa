package agentcli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/relaycontract"
)

// FakeDefaultModel is the model fake sessions use when none is requested.
const FakeDefaultModel = "gpt-5"

// FakeToolName is the tool fake turns pretend to run.
const FakeToolName = "mock.tool"

// Fake is an in-process Client that replays a fixed turn script. It needs
// no CLI and no credentials.
type Fake struct {
	delay time.Duration

	mu       sync.Mutex
	started  bool
	sessions map[*fakeSession]struct{}
}

var _ Client = (*Fake)(nil)

// FakeOption configures a Fake.
type FakeOption func(*Fake)

// WithStepDelay pauses between scripted events.
func WithStepDelay(d time.Duration) FakeOption {
	return func(f *Fake) { f.delay = d }
}

// NewFake creates a fake client.
func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{sessions: make(map[*fakeSession]struct{})}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fake) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	sessions := make([]*fakeSession, 0, len(f.sessions))
	for s := range f.sessions {
		sessions = append(sessions, s)
	}
	f.sessions = make(map[*fakeSession]struct{})
	f.started = false
	f.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

func (f *Fake) ListModels(context.Context) ([]ModelInfo, error) {
	if err := f.checkStarted(); err != nil {
		return nil, err
	}
	return []ModelInfo{
		{
			ID:                        "gpt-5",
			Name:                      "GPT-5",
			SupportsVision:            true,
			SupportsReasoningEffort:   true,
			DefaultReasoningEffort:    "medium",
			SupportedReasoningEfforts: []string{"low", "medium", "high", "xhigh"},
		},
		{
			ID:             "claude-sonnet-4.5",
			Name:           "Claude Sonnet 4.5",
			SupportsVision: true,
		},
	}, nil
}

func (f *Fake) AuthStatus(context.Context) (*AuthStatus, error) {
	if err := f.checkStarted(); err != nil {
		return nil, err
	}
	return &AuthStatus{
		IsAuthenticated: true,
		StatusMessage:   "Authenticated (mock)",
		Login:           "mock-user",
		Host:            relaycontract.DefaultHost,
		AuthType:        "user",
	}, nil
}

func (f *Fake) CreateSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f.open("mock-"+cfg.ThreadID, cfg)
}

func (f *Fake) ResumeSession(ctx context.Context, sessionID string, cfg SessionConfig) (Session, error) {
	return f.open(sessionID, cfg)
}

func (f *Fake) open(id string, cfg SessionConfig) (Session, error) {
	if err := f.checkStarted(); err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = FakeDefaultModel
	}
	s := &fakeSession{
		id:       id,
		threadID: cfg.ThreadID,
		model:    model,
		handler:  cfg.Handler,
		delay:    f.delay,
		done:     make(chan struct{}),
	}
	f.mu.Lock()
	f.sessions[s] = struct{}{}
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) checkStarted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return fmt.Errorf("fake client: %w", fault.ErrNotRunning)
	}
	return nil
}

type fakeSession struct {
	id       string
	threadID string
	model    string
	handler  Handler
	delay    time.Duration

	turnMu sync.Mutex

	mu      sync.Mutex
	aborted chan struct{} // non-nil while a turn runs

	closeOnce sync.Once
	done      chan struct{}
}

func (s *fakeSession) ID() string            { return s.id }
func (s *fakeSession) Model() string         { return s.model }
func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSession) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted != nil {
		select {
		case <-s.aborted:
		default:
			close(s.aborted)
		}
	}
	return nil
}

// Send replays the scripted turn: a tool run, the reply in two deltas,
// the final message and idle.
func (s *fakeSession) Send(ctx context.Context, p Prompt) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	select {
	case <-s.done:
		return fault.Transport("send", fault.ErrStreamDestroyed)
	default:
	}

	aborted := make(chan struct{})
	s.mu.Lock()
	s.aborted = aborted
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.aborted = nil
		s.mu.Unlock()
	}()

	user := event.New(s.threadID, event.UserMessage{Content: p.Text, Attachments: p.Attachments})
	if p.ID != "" {
		user.ID = p.ID
	}
	s.deliver(user)

	toolCallID := uuid.NewString()
	messageID := uuid.NewString()
	reply := fmt.Sprintf("Mock response from %s: %s", s.model, p.Text)
	half := (len(reply) + 1) / 2

	script := []event.Payload{
		event.ToolStart{ToolCallID: toolCallID, ToolName: FakeToolName},
		event.ToolProgress{ToolCallID: toolCallID, ProgressMessage: "Mock tool running"},
		event.ToolComplete{ToolCallID: toolCallID, Success: true},
		event.AssistantDelta{MessageID: messageID, DeltaContent: reply[:half]},
		event.AssistantDelta{MessageID: messageID, DeltaContent: reply[half:]},
		event.AssistantMessage{MessageID: messageID, Content: reply},
		event.SessionIdle{},
	}

	for _, payload := range script {
		if err := s.pause(ctx, aborted, user.ID); err != nil {
			return err
		}
		s.deliver(event.New(s.threadID, payload).WithParent(user.ID))
	}
	return nil
}

func (s *fakeSession) pause(ctx context.Context, aborted <-chan struct{}, parentID string) error {
	var wait <-chan time.Time
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		wait = timer.C
	} else {
		ch := make(chan time.Time)
		close(ch)
		wait = ch
	}
	select {
	case <-aborted:
		s.deliver(event.New(s.threadID, event.Abort{Reason: relaycontract.AbortReasonUser}).WithParent(parentID))
		return fault.ErrAborted
	case <-s.done:
		return fault.Transport("send", fault.ErrStreamDestroyed)
	case <-ctx.Done():
		return ctx.Err()
	case <-wait:
		return nil
	}
}

func (s *fakeSession) deliver(ev event.Event) {
	if s.handler != nil {
		s.handler(ev)
	}
}
