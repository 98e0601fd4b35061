package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/approval"
	"github.com/mzhaom/codex-appserver/codexprotocol"
	"github.com/mzhaom/codex-appserver/config"
	"github.com/mzhaom/codex-appserver/internal/queue"
	"github.com/mzhaom/codex-appserver/internal/sessionlog"
	"github.com/mzhaom/codex-appserver/jsonrpc"
	"github.com/mzhaom/codex-appserver/session"
	"github.com/mzhaom/codex-appserver/supervisor"
)

// State is the service lifecycle state.
type State int

const (
	// StateStopped means the service has not been started or was stopped.
	StateStopped State = iota

	// StateStarting means an app-server is being spawned or initialized.
	StateStarting

	// StateRunning means the handshake completed and requests can be sent.
	StateRunning

	// StateError means the last spawn or handshake failed.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a published service state.
type Status struct {
	State State
	// Err is set for StateError.
	Err error
	// UserAgent is the server's initialize userAgent for StateRunning.
	UserAgent string
}

func (s Status) String() string {
	switch {
	case s.State == StateError && s.Err != nil:
		return fmt.Sprintf("error: %v", s.Err)
	case s.State == StateRunning && s.UserAgent != "":
		return fmt.Sprintf("running (%s)", s.UserAgent)
	default:
		return s.State.String()
	}
}

// Service hosts one supervised codex app-server and everything bound to
// it: the transport of the current instance, the session registry, the
// approval cache and the normalized event stream. A Service is started at
// most once.
type Service struct {
	cfg *config.Config
	opts options
	log  *zap.Logger

	registry *session.Registry
	cache    *approval.Cache
	events   *queue.Queue[codexprotocol.Event]
	client   *Client

	mu        sync.Mutex
	status    Status
	started   bool
	stopped   bool
	sup       *supervisor.Supervisor
	conn      *connection
	recorder  *sessionlog.Recorder
	ctx       context.Context
	cancel    context.CancelFunc
	unwatch   func()
	watchDone chan struct{}

	subMu   sync.Mutex
	subs    map[int]*queue.Queue[Status]
	nextSub int
}

// connection is everything tied to one app-server instance.
type connection struct {
	inst      *supervisor.Instance
	transport *jsonrpc.Transport
	ctx       context.Context
	cancel    context.CancelFunc
	// readers tracks the line and notification loops. The approval loop
	// is not waited on since a handler may block on user input.
	readers sync.WaitGroup
}

func (c *connection) close() {
	c.cancel()
	c.transport.Close(nil)
	c.readers.Wait()
}

// NewService creates a stopped service. A nil cfg uses config.Default().
func NewService(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		cfg:      cfg,
		opts:     o,
		log:      o.log,
		registry: session.NewRegistry(session.WithLogger(o.log.Named("session"))),
		cache:    approval.NewCache(),
		events:   queue.New[codexprotocol.Event](),
		status:   Status{State: StateStopped},
		subs:     make(map[int]*queue.Queue[Status]),
	}
	s.client = NewClient(requesterFunc(s.sendRequest))
	return s
}

type requesterFunc func(ctx context.Context, method string, params any) (json.RawMessage, error)

func (f requesterFunc) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f(ctx, method, params)
}

// Registry returns the session registry.
func (s *Service) Registry() *session.Registry { return s.registry }

// Cache returns the approval cache.
func (s *Service) Cache() *approval.Cache { return s.cache }

// Events delivers normalized notifications in arrival order across
// restarts. It is closed by Stop once drained.
func (s *Service) Events() <-chan codexprotocol.Event { return s.events.Out() }

// Client returns the domain client. Requests are routed to whichever
// app-server instance is current when they are sent.
func (s *Service) Client() (*Client, error) {
	if s.State() != StateRunning {
		return nil, ErrNotRunning
	}
	return s.client, nil
}

// Status returns the current status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns the current state.
func (s *Service) State() State {
	return s.Status().State
}

// Subscribe returns every status published after the call, in order,
// starting with the current one. Call cancel to release.
func (s *Service) Subscribe() (<-chan Status, func()) {
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

func (s *Service) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(st)
}

func (s *Service) setStatusLocked(st Status) {
	if s.stopped && st.State != StateStopped {
		return
	}
	if st.Err == nil && s.status.Err == nil && st.State == s.status.State && st.UserAgent == s.status.UserAgent {
		return
	}
	s.status = st
	s.log.Debug("service state changed", zap.Stringer("status", st))
	s.subMu.Lock()
	for _, q := range s.subs {
		q.Push(st)
	}
	s.subMu.Unlock()
}

// Start spawns the app-server and blocks until the handshake completes or
// fails. After a failure the supervisor keeps retrying in the background
// until Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true

	if s.cfg.TracePath != "" {
		rec, err := sessionlog.Create(s.cfg.TracePath, s.cfg.Client.Name)
		if err != nil {
			s.setStatusLocked(Status{State: StateError, Err: err})
			s.mu.Unlock()
			return err
		}
		s.recorder = rec
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sup = supervisor.New(supervisor.Config{
		BinaryPath:         s.cfg.BinaryPath,
		ExtraArgs:          s.cfg.ExtraArgs,
		WorkDir:            s.cfg.WorkDir,
		Env:                s.opts.env,
		MaxRestartAttempts: s.cfg.MaxRestartAttempts,
	},
		supervisor.WithLogger(s.log.Named("supervisor")),
		supervisor.WithClock(s.opts.clk),
		supervisor.WithLookPath(s.opts.lookPath),
	)
	statuses, unwatch := s.sup.Subscribe()
	s.unwatch = unwatch
	s.watchDone = make(chan struct{})
	s.setStatusLocked(Status{State: StateStarting})
	sup := s.sup
	s.mu.Unlock()

	ready, cancelReady := s.Subscribe()
	defer cancelReady()

	go s.watch(statuses)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start codex app-server: %w", err)
	}
	return waitReady(ctx, ready)
}

func waitReady(ctx context.Context, ch <-chan Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-ch:
			if !ok {
				return ErrStopped
			}
			switch st.State {
			case StateRunning:
				return nil
			case StateError:
				return st.Err
			case StateStopped:
				return ErrStopped
			}
		}
	}
}

// watch follows supervisor transitions and keeps exactly one connection
// bound to the running instance.
func (s *Service) watch(statuses <-chan supervisor.Status) {
	defer close(s.watchDone)
	for st := range statuses {
		switch st.State {
		case supervisor.StateRunning:
			s.attach(st.Instance)
		case supervisor.StateStarting:
			s.detach(false)
			s.setStatus(Status{State: StateStarting})
		case supervisor.StateRestarting:
			s.detach(true)
			// A spawn failure stays visible as an error until the retry
			// actually begins.
			if s.State() != StateError {
				s.setStatus(Status{State: StateStarting})
			}
		case supervisor.StateFailed:
			s.detach(true)
			s.setStatus(Status{State: StateError, Err: st.Err})
		case supervisor.StateStopped:
			// Stop publishes the service status itself.
			s.detach(false)
		}
	}
}

func (s *Service) attach(inst *supervisor.Instance) {
	if inst == nil {
		return
	}
	s.mu.Lock()
	if s.conn != nil && s.conn.inst == inst {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.detach(true)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	conn := s.connect(inst)
	s.conn = conn
	s.mu.Unlock()

	if err := conn.transport.Initialize(conn.ctx); err != nil {
		if conn.ctx.Err() != nil {
			return
		}
		s.log.Error("app-server handshake failed", zap.String("instance", inst.ID()), zap.Error(err))
		s.setStatus(Status{State: StateError, Err: err})
		return
	}
	s.setStatus(Status{State: StateRunning, UserAgent: conn.transport.InitializeResult().UserAgent})
}

// detach tears down the current connection. Sessions do not survive a
// restarted process, so stale marks the registry for shutdown.
func (s *Service) detach(stale bool) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	conn.close()
	s.log.Debug("connection closed", zap.String("instance", conn.inst.ID()))
	if stale {
		s.registry.Shutdown()
	}
}

// connect binds a transport to inst and starts its loops. Caller holds mu.
func (s *Service) connect(inst *supervisor.Instance) *connection {
	ctx, cancel := context.WithCancel(s.ctx)
	log := s.log.With(zap.String("instance", inst.ID()))

	opts := []jsonrpc.Option{
		jsonrpc.WithLogger(log.Named("jsonrpc")),
		jsonrpc.WithClock(s.opts.clk),
		jsonrpc.WithRequestTimeout(s.cfg.RequestTimeout),
		jsonrpc.WithClientInfo(jsonrpc.ClientInfo{
			Name:    s.cfg.Client.Name,
			Title:   s.cfg.Client.Title,
			Version: s.cfg.Client.Version,
		}),
	}
	if s.recorder != nil {
		s.recorder.Mark(s.cfg.Client.Name, inst.ID())
		opts = append(opts, jsonrpc.WithTap(s.recorder.Tap()))
	}
	tr := jsonrpc.New(inst.Stdin(), opts...)
	conn := &connection{inst: inst, transport: tr, ctx: ctx, cancel: cancel}

	dispatcher := approval.NewDispatcher(s.cache, s.opts.handler, tr, approval.WithLogger(log.Named("approval")))

	conn.readers.Add(2)
	go func() {
		defer conn.readers.Done()
		if err := tr.Serve(ctx, inst.Lines()); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("reader loop ended", zap.Error(err))
		}
	}()
	go func() {
		defer conn.readers.Done()
		s.pump(ctx, tr.Notifications())
	}()
	go dispatcher.Run(ctx, tr.Approvals())

	return conn
}

// pump normalizes notifications, applies them to the registry and
// publishes them, preserving order.
func (s *Service) pump(ctx context.Context, notifications <-chan jsonrpc.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			ev := NormalizeNotification(n)
			if u, isUnknown := ev.(codexprotocol.Unknown); isUnknown {
				s.log.Debug("unhandled notification", zap.String("method", u.Method))
			}
			s.registry.Apply(ev)
			s.events.Push(ev)
		}
	}
}

// NormalizeNotification converts a transport notification into an event.
func NormalizeNotification(n jsonrpc.Notification) codexprotocol.Event {
	return codexprotocol.Normalize(n.Method, n.Params)
}

func (s *Service) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !conn.transport.Initialized() {
		return nil, ErrNotRunning
	}
	return conn.transport.SendRequest(ctx, method, params)
}

// InterruptActiveTurn interrupts the running turn of a registered thread.
func (s *Service) InterruptActiveTurn(ctx context.Context, threadID string) error {
	return s.registry.InterruptActiveTurn(ctx, s.client, threadID)
}

// ArchiveSession archives a registered thread. Its cached approvals are
// forgotten once the server accepts the archive.
func (s *Service) ArchiveSession(ctx context.Context, threadID string) error {
	if err := s.registry.ArchiveSession(ctx, s.client, threadID); err != nil {
		return err
	}
	s.cache.ClearThread(threadID)
	return nil
}

// RemoveSession forgets a thread locally along with every approval cached
// for it. The server is not contacted.
func (s *Service) RemoveSession(threadID string) {
	s.registry.Remove(threadID)
	s.cache.ClearThread(threadID)
}

// Stop shuts the service down: sessions and cached approvals are dropped,
// the app-server is killed and every connection loop has exited when it
// returns. The event stream is closed after its buffered events drain.
// Safe to call repeatedly.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	sup, unwatch, watchDone := s.sup, s.unwatch, s.watchDone
	s.mu.Unlock()

	s.registry.Shutdown()
	s.cache.Clear()

	var err error
	if started && sup != nil {
		err = sup.Stop()
		unwatch()
		<-watchDone
	}
	s.detach(false)

	s.mu.Lock()
	s.setStatusLocked(Status{State: StateStopped})
	rec := s.recorder
	s.mu.Unlock()

	s.events.Close()
	if cerr := rec.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.log.Info("codex service stopped")
	return err
}
