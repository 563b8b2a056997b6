package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/sparkrun/internal/log"
)

// Mode selects how the child's standard streams are routed.
type Mode int

const (
	// PassThrough hands the orchestrator's own streams to the child.
	PassThrough Mode = iota
	// Buffered captures stdout/stderr in memory for replay on failure.
	Buffered
)

func (m Mode) String() string {
	switch m {
	case PassThrough:
		return "pass-through"
	case Buffered:
		return "buffered"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the lifecycle state of a Supervisor.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateSignalExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateSignalExited:
		return "signal-exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrEmptyCommand   = errors.New("process: empty argument vector")
	ErrAlreadyStarted = errors.New("process: child already running")
	ErrNotStarted     = errors.New("process: not started")
	ErrNotWaited      = errors.New("process: return code unavailable before wait completes")
	ErrWaitTimeout    = errors.New("process: timed out waiting for child")
)

// Spec describes one child invocation.
type Spec struct {
	Args []string
	// Env overlays the orchestrator's environment; explicit keys win.
	Env  map[string]string
	Dir  string
	Mode Mode
}

// String renders the argument vector for logs.
func (s Spec) String() string {
	return strings.Join(s.Args, " ")
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStdin replaces os.Stdin as the child's input.
func WithStdin(r io.Reader) Option {
	return func(s *Supervisor) { s.stdin = r }
}

// WithStdout replaces os.Stdout for pass-through and replay.
func WithStdout(w io.Writer) Option {
	return func(s *Supervisor) { s.stdout = w }
}

// WithStderr replaces os.Stderr for pass-through and replay.
func WithStderr(w io.Writer) Option {
	return func(s *Supervisor) { s.stderr = w }
}

// WithSignals replaces the forwarded signal set. An empty set disables forwarding.
func WithSignals(sigs ...os.Signal) Option {
	return func(s *Supervisor) { s.signals = sigs }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// Supervisor owns the lifecycle of a single child process.
type Supervisor struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	signals []os.Signal
	logger  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	mode    Mode
	state   State
	done    chan struct{}
	outBuf  bytes.Buffer
	errBuf  bytes.Buffer
	waitErr error
	code    int
	waited  bool

	sigCh   chan os.Signal
	sigStop chan struct{}
}

// New creates an idle Supervisor wired to the orchestrator's own streams.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("process")
	}
	return s
}

// Start spawns the child described by spec and installs signal forwarding.
func (s *Supervisor) Start(ctx context.Context, spec Spec) error {
	if len(spec.Args) == 0 {
		return ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyStarted
	}

	// Don't use CommandContext: cancellation reaches the child as a forwarded signal.
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	cmd.Dir = spec.Dir
	cmd.Stdin = s.stdin

	var stdout, stderr io.ReadCloser
	switch spec.Mode {
	case Buffered:
		var err error
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("create stdout pipe: %w", err)
		}
		if stderr, err = cmd.StderrPipe(); err != nil {
			return fmt.Errorf("create stderr pipe: %w", err)
		}
	default:
		cmd.Stdout = s.stdout
		cmd.Stderr = s.stderr
	}

	s.logger.Debug("spawning process", "args", spec.Args, "mode", spec.Mode.String())

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", spec.Args[0], err)
	}

	s.cmd = cmd
	s.mode = spec.Mode
	s.state = StateRunning
	s.done = make(chan struct{})
	s.outBuf.Reset()
	s.errBuf.Reset()
	s.waitErr = nil
	s.code = 0
	s.waited = false

	s.installForwarder(cmd.Process)

	var copies *errgroup.Group
	if spec.Mode == Buffered {
		copies = new(errgroup.Group)
		copies.SetLimit(2)
		copies.Go(func() error { return drain(&s.outBuf, stdout) })
		copies.Go(func() error { return drain(&s.errBuf, stderr) })
	}

	go s.reap(cmd, copies, s.done)
	return nil
}

// drain copies src to dst until end-of-input.
func drain(dst *bytes.Buffer, src io.Reader) error {
	if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// reap joins the stream copies, then waits for process exit.
func (s *Supervisor) reap(cmd *exec.Cmd, copies *errgroup.Group, done chan struct{}) {
	var copyErr error
	if copies != nil {
		// Pipes hit EOF when the child's descriptors close at exit; cmd.Wait
		// must not run before the reads complete.
		copyErr = copies.Wait()
	}
	err := cmd.Wait()

	s.mu.Lock()
	code, signaled := exitStatus(cmd.ProcessState)
	s.code = code
	if signaled {
		s.state = StateSignalExited
	} else {
		s.state = StateCompleted
	}

	var exitErr *exec.ExitError
	switch {
	case err != nil && !errors.As(err, &exitErr):
		s.waitErr = fmt.Errorf("wait for process: %w", err)
	case copyErr != nil:
		s.waitErr = fmt.Errorf("copy child output: %w", copyErr)
	}
	s.mu.Unlock()

	s.logger.Debug("process exited", "pid", cmd.Process.Pid, "exit_code", code, "signaled", signaled)
	close(done)
}

// exitStatus returns the exit code, or -signum for signal-terminated children.
func exitStatus(ps *os.ProcessState) (int, bool) {
	if ps == nil {
		return -1, false
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal()), true
	}
	return ps.ExitCode(), false
}

// Wait blocks until the child exits or timeout elapses (0 waits forever).
// Signal forwarding is removed on every return path. On a non-zero exit in
// buffered mode the captured output is replayed exactly once.
func (s *Supervisor) Wait(timeout time.Duration) (int, error) {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd == nil {
		return -1, ErrNotStarted
	}
	defer s.stopForwarding()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.logger.Warn("wait timed out; child left running", "pid", cmd.Process.Pid, "timeout", timeout)
			return -1, ErrWaitTimeout
		}
	} else {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.waited {
		s.waited = true
		if s.code != 0 && s.mode == Buffered {
			s.replay()
		}
	}
	return s.code, s.waitErr
}

// replay flushes captured output; caller holds s.mu.
func (s *Supervisor) replay() {
	if _, err := s.stdout.Write(s.outBuf.Bytes()); err != nil {
		s.logger.Warn("failed to replay child stdout", "error", err)
	}
	if _, err := s.stderr.Write(s.errBuf.Bytes()); err != nil {
		s.logger.Warn("failed to replay child stderr", "error", err)
	}
}

// ReturnCode is available only after Wait has observed the child's exit.
func (s *Supervisor) ReturnCode() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waited {
		return -1, ErrNotWaited
	}
	return s.code, nil
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the child's process ID, or -1 before Start.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// Output returns copies of the captured stdout and stderr (buffered mode only).
func (s *Supervisor) Output() (stdout, stderr []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return nil, nil
	}
	return bytes.Clone(s.outBuf.Bytes()), bytes.Clone(s.errBuf.Bytes())
}

func (s *Supervisor) installForwarder(proc *os.Process) {
	if len(s.signals) == 0 {
		return
	}

	ch := make(chan os.Signal, 1)
	stop := make(chan struct{})
	signal.Notify(ch, s.signals...)

	go func() {
		for {
			select {
			case sig := <-ch:
				s.logger.Debug("forwarding signal", "signal", sig.String(), "pid", proc.Pid)
				if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
					s.logger.Warn("failed to forward signal", "signal", sig.String(), "error", err)
				}
			case <-stop:
				return
			}
		}
	}()

	s.sigCh = ch
	s.sigStop = stop
}

func (s *Supervisor) stopForwarding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sigCh == nil {
		return
	}
	signal.Stop(s.sigCh)
	close(s.sigStop)
	s.sigCh = nil
	s.sigStop = nil
}

// MergeEnv overlays env onto base (KEY=VALUE entries). Overlay keys replace
// existing entries and are appended in sorted order.
func MergeEnv(base []string, env map[string]string) []string {
	out := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := env[key]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
