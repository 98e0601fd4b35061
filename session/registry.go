// Package session tracks codex threads and the state of their turns.
//
// The registry is driven from two directions: explicit calls made by the
// code that starts threads and turns, and normalized app-server events fed
// through Apply. Observers receive a lifecycle Event for every change.
package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/codexprotocol"
	"github.com/mzhaom/codex-appserver/internal/logging"
)

// SubscriberBuffer is the channel capacity of each subscriber. Events sent
// to a full subscriber are dropped.
const SubscriberBuffer = 64

// TurnInterrupter issues turn/interrupt.
type TurnInterrupter interface {
	InterruptTurn(ctx context.Context, threadID, turnID string) error
}

// ThreadArchiver issues thread/archive.
type ThreadArchiver interface {
	ArchiveThread(ctx context.Context, threadID string) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = logging.OrNop(l) }
}

// Registry holds per-thread session state. It is safe for concurrent use.
type Registry struct {
	log *zap.Logger

	mu       sync.RWMutex
	sessions map[string]Info

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:      zap.NewNop(),
		sessions: make(map[string]Info),
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a new thread in StateCreated, replacing any previous
// entry for the same id.
func (r *Registry) Register(threadID, model, cwd string) Info {
	info := Info{ThreadID: threadID, Model: model, Cwd: cwd, State: StateCreated}
	r.mu.Lock()
	r.sessions[threadID] = info
	r.mu.Unlock()

	r.log.Info("registered session", zap.String("thread_id", threadID), zap.String("model", model))
	r.emit(Event{Kind: EventCreated, ThreadID: threadID})
	return info
}

// UpdateState moves a session to s. Unknown threads are ignored.
func (r *Registry) UpdateState(threadID string, s State) {
	r.transition(threadID, func(info *Info) { info.State = s })
}

// HandleThreadStarted marks the thread configured.
func (r *Registry) HandleThreadStarted(threadID string) {
	r.UpdateState(threadID, StateConfigured)
}

// MarkTurnActive records turnID as the running turn.
func (r *Registry) MarkTurnActive(threadID, turnID string) {
	r.transition(threadID, func(info *Info) {
		info.State = StateActive
		info.ActiveTurnID = turnID
	})
}

// CompleteTurn marks the thread completed and clears the active turn.
func (r *Registry) CompleteTurn(threadID string) {
	r.transition(threadID, func(info *Info) {
		info.State = StateCompleted
		info.ActiveTurnID = ""
	})
}

// MarkTurnInterrupted marks the thread interrupted and clears the active turn.
func (r *Registry) MarkTurnInterrupted(threadID string) {
	r.transition(threadID, func(info *Info) {
		info.State = StateInterrupted
		info.ActiveTurnID = ""
	})
}

func (r *Registry) transition(threadID string, mutate func(*Info)) bool {
	r.mu.Lock()
	info, ok := r.sessions[threadID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	mutate(&info)
	r.sessions[threadID] = info
	r.mu.Unlock()

	r.log.Debug("session state",
		zap.String("thread_id", threadID),
		zap.Stringer("state", info.State),
		zap.String("turn_id", info.ActiveTurnID))
	if kind, ok := eventFor(info.State); ok {
		r.emit(Event{Kind: kind, ThreadID: threadID})
	}
	return true
}

// InterruptActiveTurn asks the server to interrupt the running turn and
// marks the session interrupted once it agrees. On error the local state
// is left as it was.
func (r *Registry) InterruptActiveTurn(ctx context.Context, client TurnInterrupter, threadID string) error {
	info, ok := r.Get(threadID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, threadID)
	}
	if info.ActiveTurnID == "" {
		return fmt.Errorf("%w: %s", ErrNoActiveTurn, threadID)
	}

	r.log.Info("interrupting turn", zap.String("thread_id", threadID), zap.String("turn_id", info.ActiveTurnID))
	if err := client.InterruptTurn(ctx, threadID, info.ActiveTurnID); err != nil {
		r.log.Error("interrupt turn failed", zap.String("thread_id", threadID), zap.Error(err))
		return fmt.Errorf("interrupt turn %s: %w", info.ActiveTurnID, err)
	}
	r.MarkTurnInterrupted(threadID)
	return nil
}

// ArchiveSession archives the thread on the server, then locally.
func (r *Registry) ArchiveSession(ctx context.Context, client ThreadArchiver, threadID string) error {
	if _, ok := r.Get(threadID); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, threadID)
	}

	r.log.Info("archiving session", zap.String("thread_id", threadID))
	if err := client.ArchiveThread(ctx, threadID); err != nil {
		r.log.Error("archive thread failed", zap.String("thread_id", threadID), zap.Error(err))
		return fmt.Errorf("archive thread %s: %w", threadID, err)
	}
	r.UpdateState(threadID, StateArchived)
	return nil
}

// Apply updates state from a normalized event. Events for threads that
// were never registered are ignored.
func (r *Registry) Apply(ev codexprotocol.Event) {
	switch e := ev.(type) {
	case codexprotocol.ThreadStarted:
		r.HandleThreadStarted(e.ThreadID)
	case codexprotocol.TaskStarted:
		if e.TurnID != "" {
			r.MarkTurnActive(e.ThreadID, e.TurnID)
		}
	case codexprotocol.TaskComplete:
		r.CompleteTurn(e.ThreadID)
	case codexprotocol.TurnAborted:
		r.MarkTurnInterrupted(e.ThreadID)
	}
}

// Get returns the session for threadID.
func (r *Registry) Get(threadID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[threadID]
	return info, ok
}

// List returns every session ordered by thread id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	list := lo.Values(r.sessions)
	r.mu.RUnlock()
	slices.SortFunc(list, func(a, b Info) int { return strings.Compare(a.ThreadID, b.ThreadID) })
	return list
}

// ListActive returns sessions that are neither completed nor archived.
func (r *Registry) ListActive() []Info {
	return lo.Filter(r.List(), func(info Info, _ int) bool { return info.State.Live() })
}

// Remove forgets a session. No event is emitted.
func (r *Registry) Remove(threadID string) {
	r.mu.Lock()
	delete(r.sessions, threadID)
	r.mu.Unlock()
	r.log.Info("removed session", zap.String("thread_id", threadID))
}

// Shutdown forgets every session. Subscribers stay attached.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	n := len(r.sessions)
	clear(r.sessions)
	r.mu.Unlock()
	r.log.Info("session registry cleared", zap.Int("sessions", n))
}

// Subscribe returns a channel of lifecycle events and a cancel func that
// detaches and closes it.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, SubscriberBuffer)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			close(ch)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) emit(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.log.Warn("session subscriber full, dropping event",
				zap.Int("subscriber", id),
				zap.Stringer("kind", ev.Kind),
				zap.String("thread_id", ev.ThreadID))
		}
	}
}
