package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cloudedugcp/journald-broker/internal/metrics"
	"github.com/cloudedugcp/journald-broker/internal/script"
	"golang.org/x/sys/unix"
)

// ErrQueueClosed is returned by Add after Close.
var ErrQueueClosed = errors.New("script queue closed")

// Validator checks a script path before it is executed.
type Validator interface {
	Validate(path string) error
}

// ExecError reports a script that could not be started.
type ExecError struct {
	Path string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("failed to execute `%s`: %v", e.Path, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// TimeoutError reports a script killed after running past its timeout.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
	State   *os.ProcessState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execute timeout `%s`, >= %s, %s", e.Path, e.Timeout, ExitStatus(e.State))
}

// Outcome is the end result of one queued script.
type Outcome struct {
	Script *script.Script
	// State is nil when no process was started.
	State   *os.ProcessState
	Err     error
	Elapsed time.Duration
}

// Result classifies the outcome with one of the metrics.Result* values.
func (o Outcome) Result() string {
	var (
		validationErr *script.ValidationError
		execErr       *ExecError
		timeoutErr    *TimeoutError
	)
	switch {
	case errors.As(o.Err, &validationErr):
		return metrics.ResultRejected
	case errors.As(o.Err, &execErr):
		return metrics.ResultSpawnError
	case errors.As(o.Err, &timeoutErr):
		return metrics.ResultTimeout
	case o.Err != nil:
		return metrics.ResultExitError
	case o.State != nil && !o.State.Success():
		return metrics.ResultExitError
	default:
		return metrics.ResultOK
	}
}

// ExitStatus formats a process state as "exit status: N" or
// "signal: N (NAME)".
func ExitStatus(state *os.ProcessState) string {
	if state == nil {
		return "not started"
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return fmt.Sprintf("signal: %d (%s)", int(sig), unix.SignalName(sig))
	}
	return fmt.Sprintf("exit status: %d", state.ExitCode())
}

// Launcher runs scripts from an unbounded FIFO queue on a single worker.
// Scripts with a timeout occupy the worker until they exit or are killed;
// scripts without one are waited for on their own goroutine.
type Launcher struct {
	guard  Validator
	logger *slog.Logger
	report func(Outcome)

	mu     sync.Mutex
	queue  []*script.Script
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithGuard sets the validator used for scripts with Check set.
// Default: script.Guard{} (root-owned scripts only).
func WithGuard(v Validator) Option {
	return func(l *Launcher) { l.guard = v }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// WithReporter sets the callback receiving every Outcome, including those
// of detached waits. It may be called from several goroutines at once.
// Default: log the outcome.
func WithReporter(f func(Outcome)) Option {
	return func(l *Launcher) { l.report = f }
}

// New creates a Launcher and starts its worker.
func New(opts ...Option) *Launcher {
	l := &Launcher{
		guard:  script.Guard{},
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "script launcher")
	if l.report == nil {
		l.report = l.logOutcome
	}
	go l.work()
	return l
}

// Add puts a script in the execution queue. It never blocks on the worker.
func (l *Launcher) Add(s *script.Script) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("failed to send `%s` to the launcher: %w", s.Path, ErrQueueClosed)
	}
	l.queue = append(l.queue, s)
	metrics.QueueDepth.Set(float64(len(l.queue)))
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of scripts waiting in the queue.
func (l *Launcher) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting scripts without waiting. The worker keeps running
// what is already queued and then exits, closing Done; a process exiting
// meanwhile abandons the rest. Detached waits are not tracked.
func (l *Launcher) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Shutdown closes the queue and waits until the worker has run every
// queued script or ctx ends, whichever comes first.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.Close()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker has exited.
func (l *Launcher) Done() <-chan struct{} { return l.done }

func (l *Launcher) work() {
	defer close(l.done)
	for {
		s, ok := l.next()
		if !ok {
			l.logger.Error("Failed to receive script, launcher stopped", "error", ErrQueueClosed)
			return
		}
		l.run(s)
	}
}

// next blocks until a script is queued or the queue is closed and empty.
func (l *Launcher) next() (*script.Script, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			s := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			metrics.QueueDepth.Set(float64(len(l.queue)))
			l.mu.Unlock()
			return s, true
		}
		if l.closed {
			l.mu.Unlock()
			return nil, false
		}
		l.mu.Unlock()
		<-l.wake
	}
}

func (l *Launcher) run(s *script.Script) {
	if s.Check {
		if err := l.guard.Validate(s.Path); err != nil {
			l.finish(Outcome{Script: s, Err: err}, false)
			return
		}
	}

	l.logger.Info("Execute", "script", s.Path, "event", s.Event, "id", s.ID)

	cmd := exec.Command(s.Path)
	cmd.Env = s.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group, so a timeout also kills whatever the script forked.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		l.finish(Outcome{Script: s, Err: &ExecError{Path: s.Path, Err: err}}, false)
		return
	}
	metrics.RunningChildren.Inc()

	if s.Timeout <= 0 {
		go func() {
			err := cmd.Wait()
			l.finish(waited(s, cmd, start, err), true)
		}()
		return
	}

	// The child is not reaped until the worker decides, so its pid and
	// process group cannot be reused before a kill.
	exited := make(chan struct{})
	go func() {
		waitExited(cmd.Process.Pid)
		close(exited)
	}()

	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()

	killed := false
	select {
	case <-exited:
	case <-timer.C:
		select {
		case <-exited:
		default:
			l.kill(cmd)
			killed = true
		}
	}

	err := cmd.Wait()
	if !killed || !sigkilled(cmd.ProcessState) {
		// Exited on its own, possibly between the deadline and the kill.
		l.finish(waited(s, cmd, start, err), true)
		return
	}
	l.finish(Outcome{
		Script:  s,
		State:   cmd.ProcessState,
		Err:     &TimeoutError{Path: s.Path, Timeout: s.Timeout, State: cmd.ProcessState},
		Elapsed: time.Since(start),
	}, true)
}

// waitExited blocks until pid has exited without reaping it.
func waitExited(pid int) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return
		}
	}
}

func sigkilled(state *os.ProcessState) bool {
	ws, ok := state.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL
}

func (l *Launcher) kill(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		l.logger.Warn("Failed to kill script", "pid", pid, "error", err)
	}
}

// waited builds the outcome of a started process. A non-zero exit is part
// of State, not an error.
func waited(s *script.Script, cmd *exec.Cmd, start time.Time, err error) Outcome {
	o := Outcome{Script: s, State: cmd.ProcessState, Elapsed: time.Since(start)}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		o.Err = fmt.Errorf("waiting for `%s`: %w", s.Path, err)
	}
	return o
}

func (l *Launcher) finish(o Outcome, started bool) {
	if started {
		metrics.RunningChildren.Dec()
		metrics.ExecutionSeconds.Observe(o.Elapsed.Seconds())
	}
	metrics.ExecutionsTotal.WithLabelValues(o.Result()).Inc()
	l.report(o)
}

func (l *Launcher) logOutcome(o Outcome) {
	attrs := []any{"script", o.Script.Path, "event", o.Script.Event, "id", o.Script.ID}
	if o.Err != nil {
		l.logger.Warn("Script failed", append(attrs, "error", o.Err)...)
		return
	}
	l.logger.Info("Finished", append(attrs, "status", ExitStatus(o.State), "elapsed", o.Elapsed)...)
}
