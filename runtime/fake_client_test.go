package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/store"
	"github.com/randalmurphal/threadrelay/workspace"
)

// plan scripts the failures and delays of every client a harness builds.
type plan struct {
	mu         sync.Mutex
	listErrs   []error
	authErrs   []error
	sendErrs   []error
	startDelay time.Duration
	openDelay  time.Duration
	models     []agentcli.ModelInfo

	starts  atomic.Int32
	creates atomic.Int32
	resumes atomic.Int32
}

func (p *plan) pop(list *[]error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(*list) == 0 {
		return nil
	}
	err := (*list)[0]
	*list = (*list)[1:]
	return err
}

// stubClient is a scripted agentcli.Client.
type stubClient struct {
	p *plan

	mu       sync.Mutex
	stopped  bool
	sessions []*stubSession
}

func (c *stubClient) Start(ctx context.Context) error {
	c.p.starts.Add(1)
	if c.p.startDelay > 0 {
		time.Sleep(c.p.startDelay)
	}
	return nil
}

func (c *stubClient) Stop() error {
	c.mu.Lock()
	c.stopped = true
	sessions := append([]*stubSession(nil), c.sessions...)
	c.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

func (c *stubClient) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *stubClient) ListModels(context.Context) ([]agentcli.ModelInfo, error) {
	if err := c.p.pop(&c.p.listErrs); err != nil {
		return nil, err
	}
	return c.p.models, nil
}

func (c *stubClient) AuthStatus(context.Context) (*agentcli.AuthStatus, error) {
	if err := c.p.pop(&c.p.authErrs); err != nil {
		return nil, err
	}
	return &agentcli.AuthStatus{IsAuthenticated: true, StatusMessage: "ok"}, nil
}

func (c *stubClient) CreateSession(ctx context.Context, cfg agentcli.SessionConfig) (agentcli.Session, error) {
	c.p.creates.Add(1)
	return c.open("sess-"+uuid.NewString(), cfg), nil
}

func (c *stubClient) ResumeSession(ctx context.Context, id string, cfg agentcli.SessionConfig) (agentcli.Session, error) {
	c.p.resumes.Add(1)
	return c.open(id, cfg), nil
}

func (c *stubClient) open(id string, cfg agentcli.SessionConfig) *stubSession {
	if c.p.openDelay > 0 {
		time.Sleep(c.p.openDelay)
	}
	s := &stubSession{id: id, cfg: cfg, p: c.p, done: make(chan struct{})}
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
	return s
}

// stubSession emits user message, one delta, the final message and idle.
// A scripted send error is returned after the user message.
type stubSession struct {
	id  string
	cfg agentcli.SessionConfig
	p   *plan

	aborts    atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

func (s *stubSession) ID() string            { return s.id }
func (s *stubSession) Model() string         { return s.cfg.Model }
func (s *stubSession) Done() <-chan struct{} { return s.done }

func (s *stubSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *stubSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stubSession) Abort(context.Context) error {
	s.aborts.Add(1)
	return nil
}

func (s *stubSession) Send(ctx context.Context, p agentcli.Prompt) error {
	if s.closed() {
		return fault.Transport("send", fault.ErrStreamDestroyed)
	}
	user := event.New(s.cfg.ThreadID, event.UserMessage{Content: p.Text, Attachments: p.Attachments})
	user.ID = p.ID
	s.cfg.Handler(user)

	if err := s.p.pop(&s.p.sendErrs); err != nil {
		return err
	}

	msgID := uuid.NewString()
	reply := fmt.Sprintf("echo: %s", p.Text)
	for _, payload := range []event.Payload{
		event.AssistantDelta{MessageID: msgID, DeltaContent: reply},
		event.AssistantMessage{MessageID: msgID, Content: reply},
		event.SessionIdle{},
	} {
		s.cfg.Handler(event.New(s.cfg.ThreadID, payload).WithParent(user.ID))
	}
	return nil
}

// harness wires a Service to a real store and resolver and stub clients.
type harness struct {
	t     *testing.T
	svc   *Service
	store *store.Store
	ws    *store.Workspace
	p     *plan

	mu      sync.Mutex
	clients []*stubClient
}

func newHarness(t *testing.T, p *plan) *harness {
	t.Helper()
	if p == nil {
		p = &plan{}
	}
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	ws, err := st.UpsertWorkspace(ctx, "", t.TempDir())
	require.NoError(t, err)

	h := &harness{t: t, store: st, ws: ws, p: p}
	resolver := workspace.NewResolver(st, workspace.WithHomeDir(t.TempDir()))
	h.svc = New(st, resolver, WithClientFactory(func() (agentcli.Client, error) {
		c := &stubClient{p: p}
		h.mu.Lock()
		h.clients = append(h.clients, c)
		h.mu.Unlock()
		return c, nil
	}))

	t.Cleanup(func() {
		_ = h.svc.Close()
		_ = st.Close()
	})
	return h
}

func (h *harness) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *harness) client(i int) *stubClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[i]
}

// thread creates a thread row without opening a session.
func (h *harness) thread(model string) *store.Thread {
	h.t.Helper()
	th, err := h.store.CreateThread(context.Background(), h.ws.ID, "New conversation", model)
	require.NoError(h.t, err)
	return th
}

// active returns the stub session registered for threadID.
func (h *harness) active(threadID string) *stubSession {
	h.t.Helper()
	a, ok := h.svc.registry.get(threadID)
	require.True(h.t, ok, "no session for %s", threadID)
	return a.session.(*stubSession)
}
