// Package jsonrpc implements the line-delimited JSON-RPC connection to a
// codex app-server: request/response correlation, inbound classification
// and the initialize handshake.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/internal/logging"
	"github.com/mzhaom/codex-appserver/internal/ndjson"
	"github.com/mzhaom/codex-appserver/internal/queue"
)

// DefaultRequestTimeout bounds how long SendRequest waits for a response.
const DefaultRequestTimeout = 30 * time.Second

// Tap directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.log = logging.OrNop(l) }
}

// WithClock sets the clock used for request timeouts.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clk = c }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithClientInfo sets the identity sent in the initialize handshake.
func WithClientInfo(info ClientInfo) Option {
	return func(t *Transport) { t.clientInfo = info }
}

// WithTap installs a callback that observes every line sent and received.
func WithTap(tap func(direction string, line []byte)) Option {
	return func(t *Transport) { t.tap = tap }
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method string
	ch     chan rpcResult
}

// idGenerator hands out strictly increasing request ids starting at 1.
type idGenerator struct {
	next atomic.Int64
}

func (g *idGenerator) Next() int64 {
	return g.next.Add(1)
}

// Transport is one JSON-RPC connection bound to a single writer. A new
// Transport is created for every app-server instance.
type Transport struct {
	w          *ndjson.Writer
	log        *zap.Logger
	clk        clock.Clock
	timeout    time.Duration
	clientInfo ClientInfo
	tap        func(string, []byte)

	ids idGenerator

	mu      sync.Mutex
	pending map[int64]*pendingCall
	closed  bool

	initMu      sync.Mutex
	initialized atomic.Bool
	initResult  InitializeResult

	notifications *queue.Queue[Notification]
	approvals     *queue.Queue[ApprovalRequest]
	done          chan struct{}
}

// New creates a transport that writes to w.
func New(w io.Writer, opts ...Option) *Transport {
	t := &Transport{
		w:       ndjson.NewWriter(w),
		log:     zap.NewNop(),
		clk:     clock.New(),
		timeout: DefaultRequestTimeout,
		clientInfo: ClientInfo{
			Name:    "codexctl",
			Title:   "Codex app-server host",
			Version: "0.1.0",
		},
		pending:       make(map[int64]*pendingCall),
		notifications: queue.New[Notification](),
		approvals:     queue.New[ApprovalRequest](),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tap != nil {
		tap := t.tap
		t.w.SetTap(func(line []byte) { tap(DirectionSent, line) })
	}
	return t
}

// Notifications delivers server notifications in arrival order.
func (t *Transport) Notifications() <-chan Notification {
	return t.notifications.Out()
}

// Approvals delivers approval requests in arrival order.
func (t *Transport) Approvals() <-chan ApprovalRequest {
	return t.approvals.Out()
}

// Done is closed when the transport is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Initialized reports whether the handshake has completed.
func (t *Transport) Initialized() bool {
	return t.initialized.Load()
}

// InitializeResult returns the server's initialize response.
func (t *Transport) InitializeResult() InitializeResult {
	t.initMu.Lock()
	defer t.initMu.Unlock()
	return t.initResult
}

// Initialize performs the initialize request followed by the initialized
// notification. Calls after a successful handshake return immediately;
// concurrent callers wait for the one in flight.
func (t *Transport) Initialize(ctx context.Context) error {
	t.initMu.Lock()
	defer t.initMu.Unlock()

	if t.initialized.Load() {
		return nil
	}

	raw, err := t.call(ctx, "initialize", InitializeParams{ClientInfo: t.clientInfo})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var res InitializeResult
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &res); err != nil {
			return &ProtocolError{Message: "failed to parse initialize response", Line: string(raw), Cause: err}
		}
	}
	if err := t.SendNotification(ctx, "initialized", nil); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}

	t.initResult = res
	t.initialized.Store(true)
	t.log.Info("app-server initialized", zap.String("user_agent", res.UserAgent))
	return nil
}

// SendRequest sends a request and waits for its result. It fails with
// ErrNotInitialized before the handshake and ErrRequestTimeout when no
// response arrives within the configured timeout.
func (t *Transport) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return t.call(ctx, method, params)
}

func (t *Transport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := t.ids.Next()
	call := &pendingCall{method: method, ch: make(chan rpcResult, 1)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.pending[id] = call
	t.mu.Unlock()

	if err := t.w.Write(Request{ID: id, Method: method, Params: body}); err != nil {
		t.forget(id)
		return nil, fmt.Errorf("write %s: %w", method, err)
	}
	t.log.Debug("request sent", zap.Int64("id", id), zap.String("method", method))

	timer := t.clk.Timer(t.timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return res.result, res.err
	case <-timer.C:
		if t.forget(id) {
			t.log.Warn("request timed out", zap.Int64("id", id), zap.String("method", method), zap.Duration("timeout", t.timeout))
			return nil, fmt.Errorf("%s (id %d): %w", method, id, ErrRequestTimeout)
		}
		// Resolved concurrently with the timer firing.
		res := <-call.ch
		return res.result, res.err
	case <-ctx.Done():
		if t.forget(id) {
			return nil, ctx.Err()
		}
		res := <-call.ch
		return res.result, res.err
	}
}

// forget removes a pending entry and reports whether it was still there.
func (t *Transport) forget(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

// SendNotification writes a notification.
func (t *Transport) SendNotification(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return ErrTransportClosed
	}
	body, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return t.w.Write(OutNotification{Method: method, Params: body})
}

// RespondToApproval answers a server approval request.
func (t *Transport) RespondToApproval(id int64, decision string) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	t.log.Debug("approval response", zap.Int64("id", id), zap.String("decision", decision))
	return t.w.Write(Response{ID: id, Result: approvalResult{Decision: decision}})
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Serve feeds lines into HandleLine until lines is closed or ctx is done,
// then closes the transport.
func (t *Transport) Serve(ctx context.Context, lines <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			t.Close(ctx.Err())
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				t.Close(io.EOF)
				return nil
			}
			t.HandleLine(line)
		}
	}
}

// HandleLine classifies and dispatches one inbound line. Malformed lines
// are logged and dropped.
func (t *Transport) HandleLine(line []byte) {
	if t.tap != nil {
		t.tap(DirectionReceived, line)
	}

	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		t.log.Error("dropping malformed message", zap.Error(err), zap.ByteString("line", truncate(line)))
		return
	}

	hasID := len(msg.ID) > 0 && !bytes.Equal(msg.ID, []byte("null"))
	switch {
	case hasID && (msg.Result != nil || msg.hasError()):
		id, ok := parseID(msg.ID)
		if !ok {
			t.log.Warn("dropping response with non-numeric id", zap.ByteString("id", msg.ID))
			return
		}
		t.resolve(id, msg)
	case hasID && msg.Method != "":
		id, ok := parseID(msg.ID)
		if !ok {
			t.log.Warn("dropping server request with non-numeric id", zap.String("method", msg.Method), zap.ByteString("id", msg.ID))
			return
		}
		t.handleServerRequest(id, msg)
	case msg.Method != "":
		t.notifications.Push(Notification{Method: msg.Method, Params: msg.Params})
	case hasID:
		// A bare id with neither result nor error resolves with null.
		if id, ok := parseID(msg.ID); ok {
			t.resolve(id, msg)
			return
		}
		fallthrough
	default:
		t.log.Error("dropping unrecognized message", zap.ByteString("line", truncate(line)))
	}
}

func (t *Transport) resolve(id int64, msg inbound) {
	t.mu.Lock()
	call, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.log.Debug("dropping response for unknown request", zap.Int64("id", id))
		return
	}

	if msg.hasError() {
		call.ch <- rpcResult{err: parseError(msg.Error, call.method)}
		return
	}
	result := msg.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	call.ch <- rpcResult{result: result}
}

func (t *Transport) handleServerRequest(id int64, msg inbound) {
	switch msg.Method {
	case MethodExecCommandApproval, MethodApplyPatchApproval:
		t.approvals.Push(ApprovalRequest{ID: id, Method: msg.Method, Params: msg.Params})
	default:
		t.log.Warn("rejecting unsupported server request", zap.Int64("id", id), zap.String("method", msg.Method))
		err := t.w.Write(Response{ID: id, Error: &ErrorObject{
			Code:    CodeMethodNotFound,
			Message: "method not found: " + msg.Method,
		}})
		if err != nil {
			t.log.Error("failed to reject server request", zap.Int64("id", id), zap.Error(err))
		}
	}
}

// Close rejects every pending request with ErrTransportClosed and stops
// both queues. A cause of io.EOF lets notifications already queued drain;
// any other cause drops them. Queued approvals are always dropped since
// they can no longer be answered. Safe to call repeatedly.
func (t *Transport) Close(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[int64]*pendingCall)
	t.mu.Unlock()

	err := ErrTransportClosed
	if cause != nil && cause != io.EOF {
		err = fmt.Errorf("%w: %v", ErrTransportClosed, cause)
	}
	for id, call := range pending {
		t.log.Debug("rejecting pending request", zap.Int64("id", id), zap.String("method", call.method))
		call.ch <- rpcResult{err: err}
	}

	if cause == io.EOF {
		t.notifications.Close()
	} else {
		t.notifications.Discard()
	}
	t.approvals.Discard()
	close(t.done)
}

// Pending returns the number of requests awaiting a response.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func parseID(raw json.RawMessage) (int64, bool) {
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func truncate(line []byte) []byte {
	const max = 512
	if len(line) <= max {
		return line
	}
	return line[:max]
}
