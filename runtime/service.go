package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/relaycontract"
	"github.com/randalmurphal/threadrelay/store"
)

// Service is the runtime behind the presentation layer.
type Service struct {
	store      Store
	workspaces Workspaces
	log        *zap.Logger

	holder     *clientHolder
	registry   *registry
	dispatcher *Dispatcher
}

// SendInput is one message sent to a thread.
type SendInput struct {
	ThreadID    string
	Prompt      string
	Attachments []event.Attachment
	// Model switches the thread's session to this model when set.
	Model string
}

// New creates a Service. The shared client is built and started lazily.
func New(st Store, ws Workspaces, opts ...Option) *Service {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.logger.With(zap.String("component", "runtime"))
	s := &Service{
		store:      st,
		workspaces: ws,
		log:        log,
		registry:   newRegistry(),
	}
	s.dispatcher = NewDispatcher(NewRecorder(st, log, cfg.recordTimeout), log)
	s.holder = newClientHolder(cfg.factory, log, s.closeAllSessions)
	return s
}

// OnEvent subscribes h to the events of every thread.
//
// Handlers run synchronously on the session's event path, in event order.
// A handler may call Abort. It must not call SendMessage for the thread it
// is observing, since that thread's turn is still in flight.
func (s *Service) OnEvent(h Handler) (unsubscribe func()) {
	return s.dispatcher.Subscribe(h)
}

// OnThreadEvent subscribes h to the events of threadID. Handlers follow the
// same rules as OnEvent handlers.
func (s *Service) OnThreadEvent(threadID string, h Handler) (unsubscribe func()) {
	return s.dispatcher.SubscribeThread(threadID, h)
}

// ListModels returns the models the CLI offers. When the CLI cannot be
// reached, the last successful list is returned instead.
func (s *Service) ListModels(ctx context.Context) ([]agentcli.ModelInfo, error) {
	models, err := withClientRecovery(ctx, s.holder, s.log, "list models",
		func(c agentcli.Client) ([]agentcli.ModelInfo, error) {
			return c.ListModels(ctx)
		})
	if err == nil {
		if len(models) > 0 {
			if cacheErr := s.store.SetSetting(ctx, relaycontract.SettingModelsCache, models); cacheErr != nil {
				s.log.Warn("cache models", zap.Error(cacheErr))
			}
		}
		return models, nil
	}

	var cached []agentcli.ModelInfo
	if ok, cacheErr := s.store.GetSetting(ctx, relaycontract.SettingModelsCache, &cached); cacheErr != nil {
		s.log.Warn("read models cache", zap.Error(cacheErr))
	} else if ok && len(cached) > 0 {
		s.log.Warn("serving cached models", zap.Error(err))
		return cached, nil
	}
	return nil, fault.New("list models", fault.ClassOf(err), err)
}

// AuthStatus reports whether the CLI is authenticated.
func (s *Service) AuthStatus(ctx context.Context) (*agentcli.AuthStatus, error) {
	return withClientRecovery(ctx, s.holder, s.log, "auth status",
		func(c agentcli.Client) (*agentcli.AuthStatus, error) {
			return c.AuthStatus(ctx)
		})
}

// CreateThread creates a thread in workspaceID, opens its session and
// returns the stored thread.
func (s *Service) CreateThread(ctx context.Context, workspaceID, model string) (*store.Thread, error) {
	thread, err := s.store.CreateThread(ctx, workspaceID, relaycontract.DefaultThreadTitle, model)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureSession(ctx, thread.ID, model, false); err != nil {
		return nil, err
	}
	return s.store.GetThread(ctx, thread.ID)
}

// ResumeThread reopens the session of threadID, replacing any live one.
func (s *Service) ResumeThread(ctx context.Context, threadID string) (*store.Thread, error) {
	if _, err := s.ensureSession(ctx, threadID, "", true); err != nil {
		return nil, err
	}
	return s.store.GetThread(ctx, threadID)
}

// SendMessage runs one turn on threadID and blocks until it ends. An
// aborted turn returns fault.ErrAborted.
func (s *Service) SendMessage(ctx context.Context, in SendInput) error {
	if strings.TrimSpace(in.Prompt) == "" {
		return fault.Validation("send message", fault.ErrEmptyPrompt)
	}
	attachments, err := validateAttachments(in.Attachments)
	if err != nil {
		return err
	}
	if _, err := s.store.GetThread(ctx, in.ThreadID); err != nil {
		return err
	}

	unlock, err := s.registry.lockTurn(ctx, in.ThreadID)
	if err != nil {
		return err
	}
	defer unlock()

	prompt := agentcli.Prompt{
		ID:          uuid.NewString(),
		Text:        in.Prompt,
		Attachments: attachments,
	}
	return s.withThreadRecovery(in.ThreadID, "send message", func() error {
		sess, err := s.ensureSession(ctx, in.ThreadID, in.Model, false)
		if err != nil {
			return err
		}
		return sess.Send(ctx, prompt)
	})
}

// Abort cancels the in-flight turn of threadID. Without a live session it
// does nothing.
func (s *Service) Abort(ctx context.Context, threadID string) error {
	a, ok := s.registry.get(threadID)
	if !ok {
		return nil
	}
	return a.session.Abort(ctx)
}

// ListMessages returns the transcript of threadID.
func (s *Service) ListMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, threadID)
}

// Close ends every session and stops the shared client.
func (s *Service) Close() error {
	s.closeAllSessions()
	return s.holder.close()
}

// ensureSession returns the live session of threadID, opening one when
// there is none, a different model is requested or forceResume is set.
//
// Opens of one thread run one at a time. Concurrent callers asking for the
// same model and resume behavior share one open, which runs detached from
// any single caller's context; each caller stops waiting on its own ctx.
func (s *Service) ensureSession(ctx context.Context, threadID, requestedModel string, forceResume bool) (agentcli.Session, error) {
	if !forceResume {
		if a, ok := s.registry.get(threadID); ok && a.matches(requestedModel) {
			return a.session, nil
		}
	}

	openCtx := context.WithoutCancel(ctx)
	ch := s.registry.flight.DoChan(openKey(threadID, requestedModel, forceResume), func() (any, error) {
		unlock, err := s.registry.opens.lock(openCtx, threadID)
		if err != nil {
			return nil, err
		}
		defer unlock()
		if !forceResume {
			if a, ok := s.registry.get(threadID); ok && a.matches(requestedModel) {
				return a.session, nil
			}
		}
		return s.openSession(openCtx, threadID, requestedModel)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(agentcli.Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) openSession(ctx context.Context, threadID, requestedModel string) (agentcli.Session, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	loc, err := s.workspaces.Resolve(ctx, thread)
	if err != nil {
		return nil, err
	}
	if !loc.Available {
		return nil, fault.Validation("open session",
			fmt.Errorf("%w: %s", fault.ErrWorkspaceUnavailable, loc.Workspace.RootPath))
	}

	model := requestedModel
	if model == "" {
		model = thread.Model
	}
	cfg := agentcli.SessionConfig{
		ThreadID:         threadID,
		Model:            model,
		WorkingDirectory: loc.Workspace.RootPath,
		SkillDirectories: s.workspaces.SkillDirectories(loc.Workspace.RootPath),
		Handler:          s.dispatcher.Dispatch,
	}

	type opened struct {
		session    agentcli.Session
		generation uint64
	}
	res, err := withClientRecovery(ctx, s.holder, s.log, "open session",
		func(c agentcli.Client) (opened, error) {
			gen := s.holder.current()
			var sess agentcli.Session
			var err error
			if thread.SessionID != "" {
				sess, err = c.ResumeSession(ctx, thread.SessionID, cfg)
			} else {
				sess, err = c.CreateSession(ctx, cfg)
			}
			return opened{session: sess, generation: gen}, err
		})
	if err != nil {
		return nil, err
	}
	sess := res.session

	persisted := sess.Model()
	if persisted == "" {
		persisted = model
	}
	if err := s.store.UpdateThreadSession(ctx, threadID, sess.ID(), persisted); err != nil {
		_ = sess.Close()
		return nil, err
	}

	if res.generation != s.holder.current() {
		_ = sess.Close()
		return nil, fault.Transport("open session", fault.ErrStreamDestroyed)
	}
	if old, ok := s.registry.take(threadID); ok {
		_ = old.session.Close()
	}
	s.registry.put(threadID, &activeSession{session: sess, model: model})
	go s.watchSession(threadID, sess)

	s.log.Info("session ready",
		zap.String("thread_id", threadID),
		zap.String("session_id", sess.ID()),
		zap.String("model", persisted),
		zap.Bool("resumed", thread.SessionID != ""))
	return sess, nil
}

// watchSession drops the registry entry once the session goes away.
func (s *Service) watchSession(threadID string, sess agentcli.Session) {
	<-sess.Done()
	if s.registry.remove(threadID, sess) {
		s.log.Debug("session ended", zap.String("thread_id", threadID), zap.String("session_id", sess.ID()))
	}
}

// dropSession closes and forgets the session of threadID.
func (s *Service) dropSession(threadID string) {
	if a, ok := s.registry.take(threadID); ok {
		_ = a.session.Close()
	}
}

func (s *Service) closeAllSessions() {
	for _, a := range s.registry.clear() {
		_ = a.session.Close()
	}
}

// validateAttachments requires absolute paths to existing files and fills
// in type and display name.
func validateAttachments(in []event.Attachment) ([]event.Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]event.Attachment, 0, len(in))
	for _, a := range in {
		if !filepath.IsAbs(a.Path) {
			return nil, fault.Validation("send message",
				fmt.Errorf("%w: path must be absolute: %s", fault.ErrInvalidAttachment, a.Path))
		}
		if _, err := os.Stat(a.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fault.Validation("send message",
					fmt.Errorf("%w: file does not exist: %s", fault.ErrInvalidAttachment, a.Path))
			}
			return nil, fault.Validation("send message", fmt.Errorf("%w: %v", fault.ErrInvalidAttachment, err))
		}
		if a.Type == "" {
			a.Type = "file"
		}
		if a.DisplayName == "" {
			a.DisplayName = filepath.Base(a.Path)
		}
		out = append(out, a)
	}
	return out, nil
}
