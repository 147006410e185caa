package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/threadrelay/fault"
)

// State is the lifecycle state of a Supervisor.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateExited
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned by Start when the supervisor has already
// finished its lifecycle.
var ErrInvalidState = errors.New("invalid supervisor state")

// maxLineSize bounds a single output line.
const maxLineSize = 10 * 1024 * 1024

// Supervisor owns one CLI process.
type Supervisor struct {
	binary string
	cfg    config
	log    *zap.Logger

	startMu sync.Mutex // held for the whole of Start; Dispose waits on it
	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exitErr error

	lines chan string
	stop  chan struct{} // closed by Dispose to release blocked readers
	done  chan struct{} // closed when the process is gone

	disposeOnce sync.Once
}

// New creates a supervisor for binary. The process is not started.
func New(binary string, opts ...Option) *Supervisor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Supervisor{
		binary: binary,
		cfg:    cfg,
		log:    cfg.logger.With(zap.String("component", "process"), zap.String("binary", binary)),
		state:  StateNotStarted,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start spawns the process. It is a no-op when already running.
// A binary that cannot be found is a fatal error and carries a hint.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateNotStarted:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, st)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.setState(StateNotStarted)
		return err
	}

	path, err := exec.LookPath(s.binary)
	if err != nil {
		s.setState(StateNotStarted)
		return fault.Fatal("start", fmt.Errorf("%w: %q is not installed or not on PATH; install it or configure the CLI path", fault.ErrCLINotFound, s.binary))
	}

	cmd := exec.Command(path, s.cfg.args...)
	// Own process group so Dispose and Interrupt reach every child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = s.cfg.dir
	if len(s.cfg.env) > 0 {
		env := os.Environ()
		for k, v := range s.cfg.env {
			env = setEnvVar(env, k, v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setState(StateNotStarted)
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		s.setState(StateNotStarted)
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		s.setState(StateNotStarted)
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		s.setState(StateNotStarted)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return fault.Fatal("start", fmt.Errorf("%w: %v", fault.ErrCLINotFound, err))
		}
		return fault.Fatal("start", fmt.Errorf("start %s: %w", s.binary, err))
	}

	lines := make(chan string, s.cfg.lineBuffer)

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.lines = lines
	s.state = StateRunning
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return s.readLines(stdout, lines) })
	g.Go(func() error { return s.readLines(stderr, lines) })
	go s.waitForExit(cmd, &g, lines)

	s.log.Debug("process started", zap.Int("pid", cmd.Process.Pid), zap.Strings("args", s.cfg.args))
	return nil
}

// readLines forwards each line of r to out until EOF or disposal.
func (s *Supervisor) readLines(r io.Reader, out chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-s.stop:
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("read output: %w", err)
	}
	return nil
}

// waitForExit reaps the process once both readers are finished.
func (s *Supervisor) waitForExit(cmd *exec.Cmd, g *errgroup.Group, lines chan string) {
	if err := g.Wait(); err != nil {
		s.log.Warn("output reader failed", zap.Error(err))
	}
	close(lines)

	err := cmd.Wait()

	s.mu.Lock()
	s.exitErr = err
	if s.state != StateDisposed {
		s.state = StateExited
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Debug("process exited", zap.Error(err))
	} else {
		s.log.Debug("process exited")
	}
	close(s.done)

	if s.cfg.onExit != nil {
		s.cfg.onExit(err)
	}
}

// WritePrompt writes text plus a newline to the process input.
// Writing after the process went away reports fault.ErrStreamDestroyed.
func (s *Supervisor) WritePrompt(ctx context.Context, text string) error {
	s.mu.Lock()
	state, stdin := s.state, s.stdin
	s.mu.Unlock()

	switch state {
	case StateRunning:
	case StateExited, StateDisposed:
		return fault.Transport("write prompt", fault.ErrStreamDestroyed)
	default:
		return fmt.Errorf("write prompt: %w (state %s)", fault.ErrNotRunning, state)
	}

	data := []byte(text + "\n")
	errCh := make(chan error, 1)
	go func() {
		_, err := stdin.Write(data)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return fault.Transport("write prompt", fmt.Errorf("%w: %v", fault.ErrStreamDestroyed, err))
		}
		return fmt.Errorf("write prompt: %w", err)
	}
}

// Lines returns the merged stdout and stderr line channel. It is closed
// once the process output ends. Before Start it returns a closed channel.
func (s *Supervisor) Lines() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lines == nil {
		ch := make(chan string)
		close(ch)
		return ch
	}
	return s.lines
}

// ReadLine returns the next output line, waiting at most timeout (zero
// waits forever). It returns io.EOF once output has ended and
// fault.ErrReadTimeout when the wait is exceeded.
func (s *Supervisor) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	lines := s.Lines()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case line, ok := <-lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-expired:
		return "", fault.ErrReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Interrupt sends SIGINT to the process group to cancel the current turn.
func (s *Supervisor) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.cmd == nil || s.cmd.Process == nil {
		return fault.ErrNotRunning
	}
	if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGINT); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	return nil
}

// Dispose terminates the process tree: close input, SIGTERM, then SIGKILL.
// Safe from any state and idempotent. Termination errors are logged only.
func (s *Supervisor) Dispose() {
	s.disposeOnce.Do(func() {
		s.startMu.Lock()
		s.mu.Lock()
		s.state = StateDisposed
		cmd, stdin := s.cmd, s.stdin
		s.mu.Unlock()
		s.startMu.Unlock()

		close(s.stop)

		if cmd == nil {
			// Never spawned: nothing else will close done.
			close(s.done)
			return
		}

		_ = stdin.Close()
		if s.waitDone(s.cfg.grace) {
			return
		}

		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.log.Debug("sigterm failed", zap.Error(err))
		}
		if s.waitDone(s.cfg.grace) {
			return
		}

		s.log.Warn("process ignored SIGTERM, killing process group", zap.Int("pid", cmd.Process.Pid))
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.log.Debug("sigkill failed", zap.Error(err))
		}
		if !s.waitDone(s.cfg.grace) {
			s.log.Warn("process did not exit after kill")
		}
	})
}

func (s *Supervisor) waitDone(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the process has exited or was disposed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the error from the process exit, if any.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the process id, or 0 when no process was spawned.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// setEnvVar updates or adds an environment variable.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
