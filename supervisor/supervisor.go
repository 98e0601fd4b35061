// Package supervisor runs the codex app-server subprocess and restarts it
// with exponential backoff when it exits unexpectedly.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/internal/logging"
	"github.com/mzhaom/codex-appserver/internal/queue"
)

// DefaultMaxRestartAttempts bounds consecutive restarts without a
// successful start in between.
const DefaultMaxRestartAttempts = 5

// Config describes the process to supervise.
type Config struct {
	// BinaryPath is the codex executable. Empty means search PATH.
	BinaryPath string
	// ExtraArgs are appended after "app-server".
	ExtraArgs []string
	// WorkDir is the process working directory.
	WorkDir string
	// Env overrides the inherited environment when non-empty.
	Env []string
	// MaxRestartAttempts defaults to DefaultMaxRestartAttempts.
	MaxRestartAttempts int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.log = logging.OrNop(l) }
}

// WithClock sets the clock used for restart delays.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clk = c }
}

// WithLookPath overrides binary resolution.
func WithLookPath(fn func(name string) (string, error)) Option {
	return func(s *Supervisor) { s.lookPath = fn }
}

// Supervisor owns at most one live Instance at a time.
type Supervisor struct {
	cfg      Config
	log      *zap.Logger
	clk      clock.Clock
	lookPath func(string) (string, error)

	mu       sync.Mutex
	status   Status
	current  *Instance
	attempts int
	desired  bool
	gen      uint64
	timer    *clock.Timer

	subMu   sync.Mutex
	subs    map[int]*queue.Queue[Status]
	nextSub int
}

// New creates a stopped supervisor.
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	s := &Supervisor{
		cfg:      cfg,
		log:      zap.NewNop(),
		clk:      clock.New(),
		lookPath: LookPath,
		status:   Status{State: StateStopped},
		subs:     make(map[int]*queue.Queue[Status]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins supervision and spawns the first process. A spawn failure
// is returned, but supervision stays active and a restart is scheduled.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.desired {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.desired = true
	s.attempts = 0
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	return s.launch(gen)
}

// Stop ends supervision, kills the current process and cancels any
// scheduled restart. Safe to call repeatedly.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.desired = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	inst := s.current
	s.current = nil
	wasStopped := s.status.State == StateStopped
	s.setStatusLocked(Status{State: StateStopped})
	s.mu.Unlock()

	if inst != nil {
		inst.kill()
	}
	if !wasStopped {
		s.log.Info("codex process stopped")
	}
	return nil
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.Status().State
}

// Current returns the live instance, or nil.
func (s *Supervisor) Current() *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe returns every status published after the call, in order, with
// no loss. The current status is delivered first. Call cancel to release.
func (s *Supervisor) Subscribe() (<-chan Status, func()) {
	q := queue.New[Status]()

	s.mu.Lock()
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = q
	q.Push(s.status)
	s.subMu.Unlock()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			q.Discard()
		})
	}
	return q.Out(), cancel
}

func (s *Supervisor) setStatusLocked(st Status) {
	s.status = st
	s.subMu.Lock()
	for _, q := range s.subs {
		q.Push(st)
	}
	s.subMu.Unlock()
}

func (s *Supervisor) launch(gen uint64) error {
	s.mu.Lock()
	if !s.desired || gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.setStatusLocked(Status{State: StateStarting})
	s.mu.Unlock()

	inst, err := s.spawn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.desired || gen != s.gen {
		// Stopped while spawning.
		if inst != nil {
			inst.kill()
		}
		return nil
	}

	if err != nil {
		s.log.Error("failed to start codex process", zap.Error(err))
		s.failLocked(err)
		return err
	}

	s.attempts = 0
	s.current = inst
	s.setStatusLocked(Status{State: StateRunning, Instance: inst})
	go s.monitor(inst)
	return nil
}

func (s *Supervisor) spawn() (*Instance, error) {
	binary := s.cfg.BinaryPath
	if binary == "" {
		path, err := s.lookPath(DefaultBinaryName)
		if err != nil {
			return nil, err
		}
		binary = path
	}
	s.log.Info("starting codex app-server",
		zap.String("binary", binary),
		zap.Strings("extra_args", s.cfg.ExtraArgs),
		zap.String("work_dir", s.cfg.WorkDir))
	return spawn(binary, s.cfg.ExtraArgs, s.cfg.WorkDir, s.cfg.Env, s.log)
}

func (s *Supervisor) monitor(inst *Instance) {
	<-inst.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != inst {
		return
	}
	s.current = nil
	if !s.desired {
		return
	}

	cause := &ProcessError{Message: "codex process exited", ExitCode: inst.ExitCode(), Cause: inst.Err()}
	s.log.Warn("codex process exited", zap.Int("exit_code", inst.ExitCode()), zap.String("instance", inst.ID()))
	s.scheduleRestartLocked(cause)
}

// failLocked publishes a spawn failure and schedules a retry when allowed.
func (s *Supervisor) failLocked(err error) {
	if s.attempts >= s.cfg.MaxRestartAttempts {
		s.giveUpLocked(err)
		return
	}
	next := Backoff(s.attempts + 1)
	s.setStatusLocked(Status{State: StateFailed, Err: err, RestartIn: next})
	s.scheduleRestartLocked(err)
}

func (s *Supervisor) scheduleRestartLocked(cause error) {
	if s.attempts >= s.cfg.MaxRestartAttempts {
		s.giveUpLocked(cause)
		return
	}
	s.attempts++
	delay := Backoff(s.attempts)
	gen := s.gen

	s.log.Warn("scheduling codex restart", zap.Int("attempt", s.attempts), zap.Duration("delay", delay))
	// Arm the timer before publishing so observers of StateRestarting can
	// advance a mock clock past it.
	s.timer = s.clk.AfterFunc(delay, func() {
		s.log.Info("restarting codex process", zap.Int("attempt", s.Status().Attempt))
		_ = s.launch(gen)
	})
	s.setStatusLocked(Status{State: StateRestarting, Attempt: s.attempts, Delay: delay, Err: cause})
}

func (s *Supervisor) giveUpLocked(cause error) {
	s.desired = false
	err := fmt.Errorf("%w (%d): %w", ErrMaxRestarts, s.cfg.MaxRestartAttempts, cause)
	s.log.Error("max restart attempts reached, giving up", zap.Error(cause))
	s.setStatusLocked(Status{State: StateFailed, Err: err})
}

// WaitRunning blocks until the supervisor is running, terminally failed,
// or ctx is done.
func (s *Supervisor) WaitRunning(ctx context.Context) (*Instance, error) {
	ch, cancel := s.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case st, ok := <-ch:
			if !ok {
				return nil, ErrMaxRestarts
			}
			switch {
			case st.State == StateRunning:
				return st.Instance, nil
			case st.Terminal():
				if st.Err != nil {
					return nil, st.Err
				}
				return nil, fmt.Errorf("supervisor %s", st.State)
			}
		}
	}
}

