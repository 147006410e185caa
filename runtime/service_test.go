package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/relaycontract"
	"github.com/randalmurphal/threadrelay/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// transcript reduces messages to role and content.
func transcript(msgs []store.Message) [][2]string {
	out := make([][2]string, len(msgs))
	for i, m := range msgs {
		out[i] = [2]string{m.Role, m.Content}
	}
	return out
}

func TestCreateThread(t *testing.T) {
	h := newHarness(t, nil)

	th, err := h.svc.CreateThread(context.Background(), h.ws.ID, "gpt-5")

	require.NoError(t, err)
	assert.Equal(t, relaycontract.DefaultThreadTitle, th.Title)
	assert.Equal(t, "gpt-5", th.Model)
	assert.NotEmpty(t, th.SessionID)
	assert.Equal(t, int32(1), h.p.creates.Load())

	sess := h.active(th.ID)
	assert.Equal(t, h.ws.RootPath, sess.cfg.WorkingDirectory)
	assert.Equal(t, th.SessionID, sess.ID())
}

func TestCreateThread_UnknownWorkspace(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.CreateThread(context.Background(), "missing", "")

	assert.ErrorIs(t, err, fault.ErrWorkspaceNotFound)
}

func TestSendMessage_RecordsTranscript(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	th, err := h.svc.CreateThread(ctx, h.ws.ID, "")
	require.NoError(t, err)

	var mu sync.Mutex
	var kinds []event.Kind
	unsubscribe := h.svc.OnThreadEvent(th.ID, func(ev event.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, h.svc.SendMessage(ctx, SendInput{ThreadID: th.ID, Prompt: "hello"}))

	msgs, err := h.svc.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	want := [][2]string{
		{relaycontract.RoleUser, "hello"},
		{relaycontract.RoleAssistant, "echo: hello"},
	}
	if diff := cmp.Diff(want, transcript(msgs)); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []event.Kind{
		event.KindUserMessage, event.KindAssistantDelta, event.KindAssistantMessage, event.KindSessionIdle,
	}, kinds)
}

func TestSendMessage_OpensSessionLazily(t *testing.T) {
	h := newHarness(t, nil)
	th := h.thread("claude-sonnet-4.5")

	require.NoError(t, h.svc.SendMessage(context.Background(), SendInput{ThreadID: th.ID, Prompt: "hi"}))

	assert.Equal(t, int32(1), h.p.creates.Load())
	assert.Equal(t, "claude-sonnet-4.5", h.active(th.ID).cfg.Model)

	stored, err := h.store.GetThread(context.Background(), th.ID)
	require.NoError(t, err)
	assert.Equal(t, h.active(th.ID).ID(), stored.SessionID)
}

func TestSendMessage_RetriesAfterTransportFailure(t *testing.T) {
	p := &plan{sendErrs: []error{errors.New("write EPIPE: broken pipe")}}
	h := newHarness(t, p)
	ctx := context.Background()
	th, err := h.svc.CreateThread(ctx, h.ws.ID, "")
	require.NoError(t, err)
	first := h.active(th.ID)

	err = h.svc.SendMessage(ctx, SendInput{ThreadID: th.ID, Prompt: "hello"})

	require.NoError(t, err)
	assert.True(t, first.closed(), "failed session must be discarded")
	second := h.active(th.ID)
	assert.NotSame(t, first, second)
	assert.Equal(t, th.SessionID, second.ID(), "retry resumes the recorded session")
	assert.Equal(t, int32(1), h.p.resumes.Load())
	assert.Equal(t, 1, h.clientCount(), "thread recovery keeps the shared client")

	msgs, err := h.svc.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{
		{relaycontract.RoleUser, "hello"},
		{relaycontract.RoleAssistant, "echo: hello"},
	}, transcript(msgs), "the replayed user message is recorded once")
}

func TestSendMessage_SecondFailureReturnsOriginal(t *testing.T) {
	original := fault.Transport("send", fault.ErrStreamDestroyed)
	retry := errors.New("stream was destroyed again")
	h := newHarness(t, &plan{sendErrs: []error{original, retry}})
	th := h.thread("")

	err := h.svc.SendMessage(context.Background(), SendInput{ThreadID: th.ID, Prompt: "hello"})

	require.Error(t, err)
	assert.Same(t, original, err)
}

func TestSendMessage_NonTransportFailureIsNotRetried(t *testing.T) {
	boom := errors.New("model overloaded")
	h := newHarness(t, &plan{sendErrs: []error{boom}})
	th := h.thread("")

	err := h.svc.SendMessage(context.Background(), SendInput{ThreadID: th.ID, Prompt: "hello"})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), h.p.creates.Load())
	assert.Equal(t, int32(0), h.p.resumes.Load())
	assert.False(t, h.active(th.ID).closed())
}

func TestSendMessage_Validation(t *testing.T) {
	h := newHarness(t, nil)
	th := h.thread("")
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		in      SendInput
		wantErr error
	}{
		{name: "blank prompt", in: SendInput{ThreadID: th.ID, Prompt: "  \n"}, wantErr: fault.ErrEmptyPrompt},
		{name: "relative attachment", in: SendInput{ThreadID: th.ID, Prompt: "x",
			Attachments: []event.Attachment{{Path: "notes.txt"}}}, wantErr: fault.ErrInvalidAttachment},
		{name: "missing attachment", in: SendInput{ThreadID: th.ID, Prompt: "x",
			Attachments: []event.Attachment{{Path: file + ".gone"}}}, wantErr: fault.ErrInvalidAttachment},
		{name: "unknown thread", in: SendInput{ThreadID: "nope", Prompt: "x"}, wantErr: fault.ErrThreadNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.SendMessage(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, fault.IsValidation(err))
		})
	}
	assert.Equal(t, 0, h.clientCount(), "validation never touches the client")
}

func TestSendMessage_AttachmentDefaults(t *testing.T) {
	h := newHarness(t, nil)
	th := h.thread("")
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	var got []event.Attachment
	unsubscribe := h.svc.OnEvent(func(ev event.Event) {
		if um, ok := ev.Payload.(event.UserMessage); ok {
			got = um.Attachments
		}
	})
	defer unsubscribe()

	require.NoError(t, h.svc.SendMessage(context.Background(), SendInput{
		ThreadID:    th.ID,
		Prompt:      "see file",
		Attachments: []event.Attachment{{Path: file}},
	}))

	assert.Equal(t, []event.Attachment{{Type: "file", Path: file, DisplayName: "notes.txt"}}, got)
}

func TestEnsureSession_SingleFlight(t *testing.T) {
	h := newHarness(t, &plan{openDelay: 50 * time.Millisecond})
	th := h.thread("")

	var wg sync.WaitGroup
	sessions := make([]agentcli.Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.svc.ensureSession(context.Background(), th.ID, "", false)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.p.creates.Load())
	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
}

func TestEnsureSession_ConcurrentDifferentModels(t *testing.T) {
	h := newHarness(t, &plan{openDelay: 100 * time.Millisecond})
	th := h.thread("")

	var wg sync.WaitGroup
	var first, second agentcli.Session
	wg.Add(2)
	go func() {
		defer wg.Done()
		s, err := h.svc.ensureSession(context.Background(), th.ID, "gpt-5", false)
		assert.NoError(t, err)
		first = s
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		s, err := h.svc.ensureSession(context.Background(), th.ID, "claude-sonnet-4.5", false)
		assert.NoError(t, err)
		second = s
	}()
	wg.Wait()

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "gpt-5", first.Model())
	assert.Equal(t, "claude-sonnet-4.5", second.Model())
	assert.Equal(t, "claude-sonnet-4.5", h.active(th.ID).Model())
	assert.Equal(t, int32(1), h.p.creates.Load())
	assert.Equal(t, int32(1), h.p.resumes.Load())
}

func TestResumeThread_DuringPendingOpen(t *testing.T) {
	h := newHarness(t, &plan{openDelay: 100 * time.Millisecond})
	th := h.thread("")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ensureSession(context.Background(), th.ID, "", false)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := h.svc.ResumeThread(context.Background(), th.ID)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), h.p.creates.Load())
	assert.Equal(t, int32(1), h.p.resumes.Load())
}

func TestEnsureSession_JoinerSurvivesLeaderCancel(t *testing.T) {
	h := newHarness(t, &plan{openDelay: 100 * time.Millisecond})
	th := h.thread("")

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := h.svc.ensureSession(leaderCtx, th.ID, "", false)
		leader <- err
	}()
	time.Sleep(20 * time.Millisecond)

	joiner := make(chan error, 1)
	go func() {
		_, err := h.svc.ensureSession(context.Background(), th.ID, "", false)
		joiner <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leader, context.Canceled)
	require.NoError(t, <-joiner)
	assert.Equal(t, int32(1), h.p.creates.Load())

	stored, err := h.store.GetThread(context.Background(), th.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.SessionID)
}

func TestEnsureSession_ModelSwitch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	th := h.thread("")

	first, err := h.svc.ensureSession(ctx, th.ID, "gpt-5", false)
	require.NoError(t, err)
	same, err := h.svc.ensureSession(ctx, th.ID, "", false)
	require.NoError(t, err)
	assert.Same(t, first, same)

	second, err := h.svc.ensureSession(ctx, th.ID, "claude-sonnet-4.5", false)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.True(t, first.(*stubSession).closed())
	assert.Equal(t, first.ID(), second.ID(), "switching models resumes the same session")

	stored, err := h.store.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4.5", stored.Model)
}

func TestEnsureSession_WorkspaceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	gone := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(gone, 0o755))
	ws, err := h.store.UpsertWorkspace(ctx, "", gone)
	require.NoError(t, err)
	th, err := h.store.CreateThread(ctx, ws.ID, "t", "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	err = h.svc.SendMessage(ctx, SendInput{ThreadID: th.ID, Prompt: "hi"})

	require.ErrorIs(t, err, fault.ErrWorkspaceUnavailable)
	assert.True(t, fault.IsValidation(err))
	assert.Equal(t, 0, h.svc.registry.len())
}

func TestResumeThread_ForcesNewHandle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	th, err := h.svc.CreateThread(ctx, h.ws.ID, "")
	require.NoError(t, err)
	first := h.active(th.ID)

	resumed, err := h.svc.ResumeThread(ctx, th.ID)

	require.NoError(t, err)
	assert.Equal(t, th.SessionID, resumed.SessionID)
	assert.True(t, first.closed())
	assert.NotSame(t, first, h.active(th.ID))
	assert.Equal(t, int32(1), h.p.resumes.Load())
}

func TestSessionExit_RemovesEntry(t *testing.T) {
	h := newHarness(t, nil)
	th, err := h.svc.CreateThread(context.Background(), h.ws.ID, "")
	require.NoError(t, err)

	require.NoError(t, h.active(th.ID).Close())

	assert.Eventually(t, func() bool {
		_, ok := h.svc.registry.get(th.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAbort(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.svc.Abort(ctx, "no-session"))

	th, err := h.svc.CreateThread(ctx, h.ws.ID, "")
	require.NoError(t, err)
	require.NoError(t, h.svc.Abort(ctx, th.ID))
	assert.Equal(t, int32(1), h.active(th.ID).aborts.Load())
}

func TestListModels_ResetsClientOnTransportFailure(t *testing.T) {
	models := []agentcli.ModelInfo{{ID: "gpt-5", Name: "GPT-5"}}
	h := newHarness(t, &plan{models: models, listErrs: []error{errors.New("ERR_STREAM_DESTROYED")}})
	ctx := context.Background()
	th, err := h.svc.CreateThread(ctx, h.ws.ID, "")
	require.NoError(t, err)
	orphan := h.active(th.ID)

	got, err := h.svc.ListModels(ctx)

	require.NoError(t, err)
	assert.Equal(t, models, got)
	require.Equal(t, 2, h.clientCount())
	assert.True(t, h.client(0).isStopped())
	assert.True(t, orphan.closed())
	assert.Equal(t, 0, h.svc.registry.len(), "reset clears every cached session")
}

func TestListModels_SecondFailurePropagates(t *testing.T) {
	h := newHarness(t, &plan{listErrs: []error{
		errors.New("stream was destroyed"),
		errors.New("file already closed"),
	}})

	_, err := h.svc.ListModels(context.Background())

	require.Error(t, err)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "list models", fe.Op)
	assert.Contains(t, err.Error(), "file already closed")
	assert.Equal(t, 2, h.clientCount())
}

func TestListModels_FallsBackToCache(t *testing.T) {
	models := []agentcli.ModelInfo{{ID: "gpt-5", Name: "GPT-5", SupportsVision: true}}
	p := &plan{models: models}
	h := newHarness(t, p)
	ctx := context.Background()

	_, err := h.svc.ListModels(ctx)
	require.NoError(t, err)

	p.mu.Lock()
	p.listErrs = []error{errors.New("broken pipe"), errors.New("broken pipe")}
	p.mu.Unlock()

	got, err := h.svc.ListModels(ctx)

	require.NoError(t, err)
	assert.Equal(t, models, got)
	assert.Equal(t, 2, h.clientCount(), "recovery ran before falling back")
}

func TestAuthStatus_FatalIsNotRetried(t *testing.T) {
	authErr := fault.Fatal("auth status", fault.ErrAuthRequired)
	h := newHarness(t, &plan{authErrs: []error{authErr}})

	_, err := h.svc.AuthStatus(context.Background())

	assert.ErrorIs(t, err, fault.ErrAuthRequired)
	assert.Equal(t, 1, h.clientCount())
}

func TestClientStart_SingleFlight(t *testing.T) {
	h := newHarness(t, &plan{startDelay: 50 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.AuthStatus(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.p.starts.Load())
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil)
	th, err := h.svc.CreateThread(context.Background(), h.ws.ID, "")
	require.NoError(t, err)
	sess := h.active(th.ID)

	require.NoError(t, h.svc.Close())

	assert.True(t, sess.closed())
	assert.True(t, h.client(0).isStopped())
	_, err = h.svc.AuthStatus(context.Background())
	assert.ErrorIs(t, err, fault.ErrClosed)
}
