package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/internal/logging"
	"github.com/mzhaom/codex-appserver/jsonrpc"
)

// Responder sends the decision for one server request id.
type Responder interface {
	RespondToApproval(id int64, decision string) error
}

// approvalParams covers both execCommandApproval and applyPatchApproval.
type approvalParams struct {
	ConversationID string                     `json:"conversationId"`
	ThreadID       string                     `json:"threadId"`
	CallID         string                     `json:"callId"`
	Command        []string                   `json:"command"`
	Cwd            string                     `json:"cwd"`
	Reason         string                     `json:"reason"`
	FileChanges    map[string]json.RawMessage `json:"fileChanges"`
}

func (p approvalParams) threadID() string {
	if p.ThreadID != "" {
		return p.ThreadID
	}
	return p.ConversationID
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = logging.OrNop(l) }
}

// Dispatcher answers approval requests for one connection: from the cache
// when possible, otherwise by asking the Handler. Every request gets
// exactly one response.
type Dispatcher struct {
	cache     *Cache
	handler   Handler
	responder Responder
	log       *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil handler denies everything.
func NewDispatcher(cache *Cache, handler Handler, responder Responder, opts ...DispatcherOption) *Dispatcher {
	if handler == nil {
		handler = DenyAll()
	}
	d := &Dispatcher{
		cache:     cache,
		handler:   handler,
		responder: responder,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches requests until the channel closes or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, requests <-chan jsonrpc.ApprovalRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			if err := d.Dispatch(ctx, req); err != nil {
				d.log.Warn("approval response failed", zap.Int64("id", req.ID), zap.Error(err))
			}
		}
	}
}

// Dispatch decides one request and sends the response. The returned error
// is the responder's.
func (d *Dispatcher) Dispatch(ctx context.Context, raw jsonrpc.ApprovalRequest) error {
	req, err := parseRequest(raw)
	if err != nil {
		d.log.Warn("unreadable approval request, denying", zap.Int64("id", raw.ID), zap.Error(err))
		return d.respond(raw.ID, Denied)
	}

	if decision, ok := d.cached(req); ok {
		d.log.Info("approval answered from cache",
			zap.Int64("id", req.ID),
			zap.Stringer("kind", req.Kind),
			zap.String("thread_id", req.ThreadID))
		return d.respond(req.ID, decision)
	}

	decision := d.decide(ctx, req)
	d.log.Info("approval decided",
		zap.Int64("id", req.ID),
		zap.Stringer("kind", req.Kind),
		zap.String("thread_id", req.ThreadID),
		zap.Strings("command", MaskCommand(req.Command)),
		zap.Int("files", len(req.Files)),
		zap.String("risk", req.Risk),
		zap.String("decision", string(decision)))

	if req.ThreadID != "" {
		switch req.Kind {
		case KindExec:
			d.cache.CacheExec(req.ThreadID, req.Command, req.Cwd, decision)
		case KindPatch:
			d.cache.CachePatch(req.ThreadID, req.Files, decision)
		}
	}
	return d.respond(req.ID, decision)
}

func (d *Dispatcher) cached(req *Request) (Decision, bool) {
	if req.ThreadID == "" {
		return "", false
	}
	if req.Kind == KindPatch {
		return d.cache.CheckPatch(req.ThreadID, req.Files)
	}
	return d.cache.CheckExec(req.ThreadID, req.Command, req.Cwd)
}

// decide calls the handler. Errors, panics and empty answers all deny.
func (d *Dispatcher) decide(ctx context.Context, req *Request) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("approval handler panicked", zap.Int64("id", req.ID), zap.Any("panic", r))
			decision = Denied
		}
	}()
	decision, err := d.handler.Decide(ctx, req)
	if err != nil {
		d.log.Warn("approval handler failed, denying", zap.Int64("id", req.ID), zap.Error(err))
		return Denied
	}
	if decision == "" {
		return Denied
	}
	return decision
}

func (d *Dispatcher) respond(id int64, decision Decision) error {
	if err := d.responder.RespondToApproval(id, string(decision)); err != nil {
		return fmt.Errorf("respond to approval %d: %w", id, err)
	}
	return nil
}

func parseRequest(raw jsonrpc.ApprovalRequest) (*Request, error) {
	var kind Kind
	switch raw.Method {
	case jsonrpc.MethodExecCommandApproval:
		kind = KindExec
	case jsonrpc.MethodApplyPatchApproval:
		kind = KindPatch
	default:
		return nil, fmt.Errorf("unsupported approval method %q", raw.Method)
	}

	var p approvalParams
	if len(raw.Params) > 0 {
		if err := json.Unmarshal(raw.Params, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", raw.Method, err)
		}
	}

	req := &Request{
		ID:       raw.ID,
		Kind:     kind,
		ThreadID: p.threadID(),
		CallID:   p.CallID,
		Reason:   strings.TrimSpace(p.Reason),
	}
	switch kind {
	case KindExec:
		req.Command = p.Command
		req.Cwd = p.Cwd
		req.Risk = AssessCommandRisk(p.Command)
	case KindPatch:
		req.Files = make([]string, 0, len(p.FileChanges))
		for path := range p.FileChanges {
			req.Files = append(req.Files, path)
		}
		sort.Strings(req.Files)
		if TouchesSensitiveFiles(req.Files) {
			req.Risk = "Modifies sensitive configuration files"
		}
	}
	return req, nil
}
