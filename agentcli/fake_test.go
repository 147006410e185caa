package agentcli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
)

func startFake(t *testing.T, opts ...FakeOption) *Fake {
	t.Helper()
	f := NewFake(opts...)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(func() { _ = f.Stop() })
	return f
}

func TestFake_Script(t *testing.T) {
	f := startFake(t)
	rec := newRecorder()

	s, err := f.CreateSession(context.Background(), SessionConfig{ThreadID: "th", Handler: rec.handle})
	require.NoError(t, err)
	assert.Equal(t, "mock-th", s.ID())
	assert.Equal(t, FakeDefaultModel, s.Model())

	require.NoError(t, s.Send(context.Background(), Prompt{ID: "u1", Text: "hello"}))

	assert.Equal(t, []event.Kind{
		event.KindUserMessage,
		event.KindToolStart,
		event.KindToolProgress,
		event.KindToolComplete,
		event.KindAssistantDelta,
		event.KindAssistantDelta,
		event.KindAssistantMessage,
		event.KindSessionIdle,
	}, rec.kinds())

	msg, _ := rec.find(event.KindAssistantMessage)
	assert.Equal(t, "Mock response from gpt-5: hello", msg.Payload.(event.AssistantMessage).Content)
	assert.Equal(t, "u1", msg.ParentID)

	rec.mu.Lock()
	first := rec.events[4].Payload.(event.AssistantDelta).DeltaContent
	second := rec.events[5].Payload.(event.AssistantDelta).DeltaContent
	rec.mu.Unlock()
	assert.Equal(t, "Mock response from gpt-5: hello", first+second)
	assert.Len(t, first, 16)

	tool, _ := rec.find(event.KindToolStart)
	assert.Equal(t, FakeToolName, tool.Payload.(event.ToolStart).ToolName)
}

func TestFake_RequestedModel(t *testing.T) {
	f := startFake(t)
	rec := newRecorder()
	s, err := f.ResumeSession(context.Background(), "sess-1", SessionConfig{
		ThreadID: "th",
		Model:    "claude-sonnet-4.5",
		Handler:  rec.handle,
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID())

	require.NoError(t, s.Send(context.Background(), Prompt{Text: "x"}))
	msg, _ := rec.find(event.KindAssistantMessage)
	assert.Equal(t, "Mock response from claude-sonnet-4.5: x", msg.Payload.(event.AssistantMessage).Content)
}

func TestFake_Abort(t *testing.T) {
	f := startFake(t, WithStepDelay(50*time.Millisecond))
	rec := newRecorder()
	s, err := f.CreateSession(context.Background(), SessionConfig{ThreadID: "th", Handler: rec.handle})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), Prompt{Text: "x"}) }()

	rec.waitFor(t, event.KindToolStart)
	require.NoError(t, s.Abort(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, fault.ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return")
	}
	_, ok := rec.find(event.KindAbort)
	assert.True(t, ok)
	_, ok = rec.find(event.KindSessionIdle)
	assert.False(t, ok)
}

func TestFake_ClosedSessionIsTransportFailure(t *testing.T) {
	f := startFake(t)
	s, err := f.CreateSession(context.Background(), SessionConfig{ThreadID: "th"})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Send(context.Background(), Prompt{Text: "x"})
	assert.True(t, fault.IsTransport(err))
}

func TestFake_ModelsAndAuth(t *testing.T) {
	f := NewFake()
	_, err := f.ListModels(context.Background())
	assert.ErrorIs(t, err, fault.ErrNotRunning)

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	models, err := f.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-5", models[0].ID)
	assert.Equal(t, []string{"low", "medium", "high", "xhigh"}, models[0].SupportedReasoningEfforts)
	assert.Equal(t, "Claude Sonnet 4.5", models[1].Name)

	status, err := f.AuthStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsAuthenticated)
	assert.Equal(t, "mock-user", status.Login)
}
