package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/linecodec"
	"github.com/randalmurphal/threadrelay/process"
	"github.com/randalmurphal/threadrelay/relaycontract"
)

// turn is one in-flight Send.
type turn struct {
	userID    string
	messageID string
	acc       *StreamAccumulator
	ended     bool // guarded by cliSession.emitMu
	result    chan error
	// cliErr is the last error record seen; read loop only.
	cliErr string
	// drained is closed once the CLI finished the output of an ended turn.
	drained chan struct{}
}

// cliSession drives one CLI process. A single read loop turns output lines
// into events; Send waits for the loop to finish the turn.
//
// Handlers run on the read loop while events are serialized. A handler may
// call Abort but must not call Send.
//
// A turn ended by abort, timeout or cancellation leaves the CLI still
// answering it. That turn drains: its output is discarded until its terminal
// record, and the next Send waits for that before writing. A CLI that never
// finishes within the abort grace is disposed.
type cliSession struct {
	id       string
	threadID string
	handler  Handler
	sup      *process.Supervisor
	decoder  linecodec.Decoder
	prose    bool
	sentinel string
	timeout  time.Duration
	grace    time.Duration
	log      *zap.Logger

	turnMu sync.Mutex // serializes Send

	mu    sync.Mutex
	cur   *turn
	drain *turn
	model string

	emitMu sync.Mutex
	armed  chan struct{}
}

var _ Session = (*cliSession)(nil)

func newCLISession(id string, cfg SessionConfig, sup *process.Supervisor, cc cliConfig, log *zap.Logger) *cliSession {
	s := &cliSession{
		id:       id,
		threadID: cfg.ThreadID,
		handler:  cfg.Handler,
		sup:      sup,
		prose:    cc.prose,
		sentinel: cc.sentinel,
		timeout:  cc.readTimeout,
		grace:    cc.abortGrace,
		log:      log,
		model:    cfg.Model,
		armed:    make(chan struct{}, 1),
	}
	if cc.prose {
		s.decoder = linecodec.ProseDecoder{Sentinel: cc.sentinel}
	} else {
		s.decoder = linecodec.JSONDecoder{}
	}
	return s
}

func (s *cliSession) ID() string { return s.id }

func (s *cliSession) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *cliSession) Done() <-chan struct{} { return s.sup.Done() }

// Send writes the prompt and blocks until the turn ends.
func (s *cliSession) Send(ctx context.Context, p Prompt) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if err := s.awaitDrain(ctx); err != nil {
		return err
	}
	select {
	case <-s.Done():
		return fault.Transport("send", fault.ErrStreamDestroyed)
	default:
	}

	user := event.New(s.threadID, event.UserMessage{Content: p.Text, Attachments: p.Attachments})
	if p.ID != "" {
		user.ID = p.ID
	}
	t := &turn{
		userID:    user.ID,
		messageID: uuid.NewString(),
		acc:       NewStreamAccumulator(),
		result:    make(chan error, 1),
		drained:   make(chan struct{}),
	}

	s.mu.Lock()
	s.cur = t
	s.mu.Unlock()
	s.emit(t, user, false)

	select {
	case s.armed <- struct{}{}:
	default:
	}

	if err := s.sup.WritePrompt(ctx, s.encodePrompt(p)); err != nil {
		s.finish(t, nil, err)
		return <-t.result
	}

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		_ = s.sup.Interrupt()
		s.startDrain(t)
		s.finish(t, nil, ctx.Err())
		return <-t.result
	}
}

// awaitDrain blocks until the previous turn's output is consumed.
func (s *cliSession) awaitDrain(ctx context.Context) error {
	s.mu.Lock()
	d := s.drain
	s.mu.Unlock()
	if d == nil {
		return nil
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-d.drained:
		return nil
	case <-s.Done():
		return nil
	case <-timer.C:
		s.log.Warn("cli did not finish the ended turn, disposing", zap.Duration("grace", s.grace))
		s.sup.Dispose()
		s.endDrain(d)
		return fault.Transport("send", fault.ErrStreamDestroyed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startDrain marks t as draining if it has not ended yet.
func (s *cliSession) startDrain(t *turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == t {
		s.drain = t
	}
}

func (s *cliSession) endDrain(t *turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drain == t {
		s.drain = nil
		close(t.drained)
	}
}

func (s *cliSession) draining() *turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain
}

func (s *cliSession) encodePrompt(p Prompt) string {
	if s.prose {
		return p.Text + "\n\n" + fmt.Sprintf(relaycontract.ProseInstruction, s.sentinel)
	}
	msg := struct {
		Type        string             `json:"type"`
		Prompt      string             `json:"prompt"`
		Attachments []event.Attachment `json:"attachments,omitempty"`
	}{Type: relaycontract.RoleUser, Prompt: p.Text, Attachments: p.Attachments}
	b, err := json.Marshal(msg)
	if err != nil {
		return p.Text
	}
	return string(b)
}

// Abort interrupts the CLI and ends the current turn with fault.ErrAborted.
// Without a turn in flight it does nothing. The abort event is delivered
// asynchronously so that Abort can be called from a handler.
func (s *cliSession) Abort(ctx context.Context) error {
	t := s.current()
	if t == nil {
		return nil
	}
	if err := s.sup.Interrupt(); err != nil {
		s.log.Debug("interrupt failed", zap.Error(err))
	}
	abort := event.New(s.threadID, event.Abort{Reason: relaycontract.AbortReasonUser})
	s.startDrain(t)
	go s.finish(t, &abort, fault.ErrAborted)
	return nil
}

// Close terminates the CLI process and waits for it to exit.
func (s *cliSession) Close() error {
	s.sup.Dispose()
	<-s.sup.Done()
	return nil
}

func (s *cliSession) current() *turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// emit delivers ev for t. A final event ends t. Events of an ended turn
// are dropped; emit reports whether ev was delivered.
func (s *cliSession) emit(t *turn, ev event.Event, final bool) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if t.ended {
		return false
	}
	if final {
		t.ended = true
		s.mu.Lock()
		if s.cur == t {
			s.cur = nil
		}
		s.mu.Unlock()
	}
	if ev.Kind != event.KindUserMessage && ev.ParentID == "" {
		ev = ev.WithParent(t.userID)
	}
	if s.handler != nil {
		s.handler(ev)
	}
	return true
}

// finish ends t with err, emitting ev first when it is non-nil. Only the
// first finish of a turn has an effect.
func (s *cliSession) finish(t *turn, ev *event.Event, err error) {
	var ended bool
	if ev != nil {
		ended = s.emit(t, *ev, true)
	} else {
		s.emitMu.Lock()
		if !t.ended {
			t.ended = true
			ended = true
			s.mu.Lock()
			if s.cur == t {
				s.cur = nil
			}
			s.mu.Unlock()
		}
		s.emitMu.Unlock()
	}
	if ended {
		t.result <- err
	}
}

func (s *cliSession) readLoop() {
	lines := s.sup.Lines()

	var timer *time.Timer
	var expired <-chan time.Time
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, expired = nil, nil
	}
	arm := func() {
		stop()
		if s.timeout > 0 && s.current() != nil {
			timer = time.NewTimer(s.timeout)
			expired = timer.C
		}
	}
	defer stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				s.streamEnded()
				return
			}
			s.handleLine(line)
			arm()
		case <-s.armed:
			arm()
		case <-expired:
			timer, expired = nil, nil
			s.timedOut()
		}
	}
}

func (s *cliSession) streamEnded() {
	if d := s.draining(); d != nil {
		s.endDrain(d)
	}
	t := s.current()
	if t == nil {
		return
	}
	err := fault.ErrStreamDestroyed
	if exitErr := s.sup.ExitErr(); exitErr != nil {
		s.log.Warn("cli exited during turn", zap.Error(exitErr))
	}
	s.finish(t, nil, fault.Transport("read", err))
}

func (s *cliSession) timedOut() {
	t := s.current()
	if t == nil {
		return
	}
	s.log.Warn("turn timed out", zap.Duration("timeout", s.timeout))
	ev := event.New(s.threadID, event.SessionError{
		ErrorType: "timeout",
		Message:   fmt.Sprintf("no output from the CLI for %s", s.timeout),
	})
	s.startDrain(t)
	s.finish(t, &ev, fault.Fatal("read", fault.ErrReadTimeout))
}

func (s *cliSession) handleLine(line string) {
	t := s.current()
	if t == nil {
		s.discardLine(line)
		return
	}

	if !s.prose {
		if p, ok := structuredPayload(line); ok {
			if mc, isModel := p.(event.ModelChange); isModel {
				s.mu.Lock()
				s.model = mc.NewModel
				s.mu.Unlock()
			}
			s.emit(t, event.New(s.threadID, p), false)
			return
		}
	}

	chunk, ok := s.decoder.Decode(line)
	if !ok {
		return
	}
	if chunk.Err != nil && s.reportError(t, *chunk.Err) {
		return
	}
	if chunk.Text != nil && *chunk.Text != "" {
		t.acc.Append(*chunk.Text)
		s.emit(t, event.New(s.threadID, event.AssistantDelta{
			MessageID:    t.messageID,
			DeltaContent: *chunk.Text,
		}), false)
	}
	if chunk.Done {
		s.completeTurn(t)
	}
}

// discardLine handles output while no turn is in flight.
func (s *cliSession) discardLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	d := s.draining()
	if d == nil {
		s.log.Debug("dropping output outside a turn", zap.String("line", line))
		return
	}
	if !s.prose {
		if _, ok := structuredPayload(line); ok {
			return
		}
	}
	if chunk, ok := s.decoder.Decode(line); ok && chunk.Done {
		s.endDrain(d)
	}
}

// completeTurn ends t normally. A turn that produced no text but reported
// an error returns that error from Send.
func (s *cliSession) completeTurn(t *turn) {
	content := t.acc.Content()
	if content != "" {
		s.emit(t, event.New(s.threadID, event.AssistantMessage{
			MessageID: t.messageID,
			Content:   content,
		}), false)
	}
	var err error
	if content == "" && t.cliErr != "" {
		err = fmt.Errorf("send: cli error: %s", t.cliErr)
	}
	idle := event.New(s.threadID, event.SessionIdle{})
	s.finish(t, &idle, err)
	s.endDrain(t)
}

// reportError emits a session.error for msg. Authentication and transport
// failures also end the turn; reportError reports whether it did.
func (s *cliSession) reportError(t *turn, msg string) bool {
	if msg == "" {
		msg = "Session error"
	}
	var err error
	errorType := "cli"
	switch {
	case isAuthText(msg):
		errorType = "authentication"
		err = fault.Fatal("send", fmt.Errorf("%w: %s", fault.ErrAuthRequired, msg))
	case fault.IsTransport(errors.New(msg)):
		errorType = "transport"
		err = fault.Transport("send", fmt.Errorf("%w: %s", fault.ErrStreamDestroyed, msg))
	}
	ev := event.New(s.threadID, event.SessionError{ErrorType: errorType, Message: msg})
	if err == nil {
		s.log.Warn("cli reported an error", zap.String("message", msg))
		t.cliErr = msg
		s.emit(t, ev, false)
		return false
	}
	s.finish(t, &ev, err)
	return true
}

// structuredPayload decodes {"type": <event kind>, "data": {...}} records
// for tool lifecycle and model change events.
func structuredPayload(line string) (event.Payload, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var rec struct {
		Type event.Kind      `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, false
	}
	if !rec.Type.IsTool() && rec.Type != event.KindModelChange {
		return nil, false
	}
	if len(rec.Data) == 0 {
		rec.Data = json.RawMessage("{}")
	}
	p, err := event.DecodePayload(rec.Type, rec.Data)
	if err != nil {
		return nil, false
	}
	return p, true
}
