package process

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randalmurphal/threadrelay/fault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeScript writes an executable bash script standing in for the CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mock.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755))
	return path
}

// drain reads lines until the channel closes or the deadline passes.
func drain(t *testing.T, s *Supervisor) []string {
	t.Helper()
	var got []string
	for {
		line, err := s.ReadLine(context.Background(), 5*time.Second)
		if errors.Is(err, io.EOF) {
			return got
		}
		require.NoError(t, err)
		got = append(got, line)
	}
}

func TestStart_BinaryNotFound(t *testing.T) {
	s := New("definitely-not-a-real-cli-binary")

	err := s.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrCLINotFound)
	assert.True(t, fault.IsFatal(err))
	assert.Contains(t, err.Error(), "install")
	assert.Equal(t, StateNotStarted, s.State())
	s.Dispose()
}

func TestStart_IsNoOpWhenRunning(t *testing.T) {
	s := New(writeScript(t, "read -r line\n"))
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	pid := s.Pid()
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, pid, s.Pid())
	assert.Equal(t, StateRunning, s.State())
}

func TestWritePrompt_MergesStdoutAndStderr(t *testing.T) {
	script := writeScript(t, `while IFS= read -r line; do
  echo "out:$line"
  echo "err:$line" >&2
done
`)
	s := New(script)
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	require.NoError(t, s.WritePrompt(context.Background(), "hello"))

	var got []string
	for range 2 {
		line, err := s.ReadLine(context.Background(), 5*time.Second)
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.ElementsMatch(t, []string{"out:hello", "err:hello"}, got)
}

func TestWritePrompt_NotStarted(t *testing.T) {
	s := New("bash")

	err := s.WritePrompt(context.Background(), "hi")

	assert.ErrorIs(t, err, fault.ErrNotRunning)
	assert.False(t, fault.IsTransport(err))
	s.Dispose()
}

func TestExit_TransitionsAndNotifies(t *testing.T) {
	var exitCalls atomic.Int32
	exited := make(chan error, 1)
	s := New(writeScript(t, "echo bye\nexit 3\n"), WithOnExit(func(err error) {
		exitCalls.Add(1)
		exited <- err
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	assert.Equal(t, []string{"bye"}, drain(t, s))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	exitErr := <-exited
	require.Error(t, exitErr)
	assert.Equal(t, exitErr, s.ExitErr())
	assert.Equal(t, StateExited, s.State())
	assert.Equal(t, int32(1), exitCalls.Load())

	err := s.WritePrompt(context.Background(), "too late")
	assert.ErrorIs(t, err, fault.ErrStreamDestroyed)
	assert.True(t, fault.IsTransport(err))

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReadLine_Timeout(t *testing.T) {
	s := New(writeScript(t, "read -r line\n"))
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	_, err := s.ReadLine(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, fault.ErrReadTimeout)
}

func TestReadLine_ContextCancelled(t *testing.T) {
	s := New(writeScript(t, "read -r line\n"))
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ReadLine(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadLine_BeforeStart(t *testing.T) {
	s := New("bash")
	_, err := s.ReadLine(context.Background(), time.Second)
	assert.ErrorIs(t, err, io.EOF)
	s.Dispose()
}

func TestOptions_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	s := New(writeScript(t, "pwd\necho \"$RELAY_TEST_VALUE\"\n"),
		WithDir(dir),
		WithEnv(map[string]string{"RELAY_TEST_VALUE": "from-env"}),
	)
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	got := drain(t, s)
	require.Len(t, got, 2)

	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(got[0])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
	assert.Equal(t, "from-env", got[1])
}

func TestInterrupt(t *testing.T) {
	script := writeScript(t, `trap 'echo interrupted; exit 0' INT
echo ready
while true; do sleep 0.05; done
`)
	s := New(script)
	require.NoError(t, s.Start(context.Background()))
	defer s.Dispose()

	line, err := s.ReadLine(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "ready", line)

	require.NoError(t, s.Interrupt())

	line, err = s.ReadLine(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "interrupted", line)
}

func TestInterrupt_NotRunning(t *testing.T) {
	s := New("bash")
	assert.ErrorIs(t, s.Interrupt(), fault.ErrNotRunning)
	s.Dispose()
}

func TestDispose_GracefulOnStdinClose(t *testing.T) {
	s := New(writeScript(t, "cat\n"))
	require.NoError(t, s.Start(context.Background()))

	start := time.Now()
	s.Dispose()

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateDisposed, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after dispose")
	}
}

func TestDispose_KillsStubbornProcessGroup(t *testing.T) {
	script := writeScript(t, `trap '' TERM INT
while true; do sleep 0.05; done
`)
	s := New(script, WithShutdownGrace(100*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))

	s.Dispose()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stubborn process survived dispose")
	}
	assert.Equal(t, StateDisposed, s.State())
}

func TestDispose_Idempotent(t *testing.T) {
	tests := []struct {
		name  string
		start bool
	}{
		{"never started", false},
		{"running", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(writeScript(t, "cat\n"))
			if tt.start {
				require.NoError(t, s.Start(context.Background()))
			}

			s.Dispose()
			s.Dispose()

			assert.Equal(t, StateDisposed, s.State())
			<-s.Done()

			err := s.WritePrompt(context.Background(), "x")
			assert.True(t, fault.IsTransport(err))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "disposed", StateDisposed.String())
	assert.Equal(t, "unknown", State(42).String())
}
