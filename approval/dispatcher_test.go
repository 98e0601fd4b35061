package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mzhaom/codex-appserver/jsonrpc"
)

type response struct {
	id       int64
	decision string
}

type recordingResponder struct {
	mu        sync.Mutex
	responses []response
	err       error
}

func (r *recordingResponder) RespondToApproval(id int64, decision string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response{id, decision})
	return r.err
}

func (r *recordingResponder) all() []response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]response(nil), r.responses...)
}

type countingHandler struct {
	calls    int
	last     *Request
	decision Decision
	err      error
}

func (h *countingHandler) Decide(_ context.Context, req *Request) (Decision, error) {
	h.calls++
	h.last = req
	return h.decision, h.err
}

func execRequest(id int64, params string) jsonrpc.ApprovalRequest {
	return jsonrpc.ApprovalRequest{ID: id, Method: jsonrpc.MethodExecCommandApproval, Params: json.RawMessage(params)}
}

func TestDispatcher_ExecSessionApprovalIsCached(t *testing.T) {
	ctx := context.Background()
	cache := NewCache()
	h := &countingHandler{decision: ApprovedForSession}
	resp := &recordingResponder{}
	d := NewDispatcher(cache, h, resp, WithLogger(zaptest.NewLogger(t)))

	params := `{"conversationId":"t1","callId":"c1","command":["git","status"],"cwd":"/p","reason":"check tree"}`
	require.NoError(t, d.Dispatch(ctx, execRequest(1, params)))
	require.NotNil(t, h.last)
	assert.Equal(t, KindExec, h.last.Kind)
	assert.Equal(t, "t1", h.last.ThreadID)
	assert.Equal(t, "c1", h.last.CallID)
	assert.Equal(t, []string{"git", "status"}, h.last.Command)
	assert.Equal(t, "check tree", h.last.Reason)
	assert.Empty(t, h.last.Risk)

	require.NoError(t, d.Dispatch(ctx, execRequest(2, `{"threadId":"t1","command":["GIT","status "],"cwd":"/p"}`)))
	require.NoError(t, d.Dispatch(ctx, execRequest(3, `{"threadId":"t1","command":["git","status"],"cwd":"/elsewhere"}`)))

	assert.Equal(t, 2, h.calls, "second request answered from cache")
	assert.Equal(t, []response{
		{1, "approved_for_session"},
		{2, "approved"},
		{3, "approved_for_session"},
	}, resp.all())
}

func TestDispatcher_OneShotApprovalNotCached(t *testing.T) {
	ctx := context.Background()
	h := &countingHandler{decision: Approved}
	resp := &recordingResponder{}
	d := NewDispatcher(NewCache(), h, resp)

	for id := int64(1); id <= 2; id++ {
		require.NoError(t, d.Dispatch(ctx, execRequest(id, `{"threadId":"t1","command":["ls"],"cwd":"/"}`)))
	}
	assert.Equal(t, 2, h.calls)
}

func TestDispatcher_NoThreadSkipsCache(t *testing.T) {
	ctx := context.Background()
	cache := NewCache()
	h := &countingHandler{decision: ApprovedForSession}
	d := NewDispatcher(cache, h, &recordingResponder{})

	require.NoError(t, d.Dispatch(ctx, execRequest(1, `{"command":["ls"],"cwd":"/"}`)))
	require.NoError(t, d.Dispatch(ctx, execRequest(2, `{"command":["ls"],"cwd":"/"}`)))
	assert.Equal(t, 2, h.calls)
	assert.Equal(t, Stats{}, cache.Stats())
}

func TestDispatcher_Patch(t *testing.T) {
	ctx := context.Background()
	cache := NewCache()
	h := &countingHandler{decision: ApprovedForSession}
	resp := &recordingResponder{}
	d := NewDispatcher(cache, h, resp)

	req := jsonrpc.ApprovalRequest{
		ID:     5,
		Method: jsonrpc.MethodApplyPatchApproval,
		Params: json.RawMessage(`{"conversationId":"t1","fileChanges":{"b.go":{"update":{}},"a/.env":{"add":{}}}}`),
	}
	require.NoError(t, d.Dispatch(ctx, req))
	assert.Equal(t, KindPatch, h.last.Kind)
	assert.Equal(t, []string{"a/.env", "b.go"}, h.last.Files)
	assert.NotEmpty(t, h.last.Risk)

	req.ID = 6
	require.NoError(t, d.Dispatch(ctx, req))
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, Stats{Patch: 1}, cache.Stats())
	assert.Equal(t, []response{{5, "approved_for_session"}, {6, "approved"}}, resp.all())
}

func TestDispatcher_FailuresDeny(t *testing.T) {
	ctx := context.Background()
	panicky := HandlerFunc(func(context.Context, *Request) (Decision, error) {
		panic("boom")
	})
	tests := []struct {
		name    string
		handler Handler
		req     jsonrpc.ApprovalRequest
	}{
		{"handler error", &countingHandler{decision: Approved, err: errors.New("ui gone")}, execRequest(1, `{"command":["ls"]}`)},
		{"handler panic", panicky, execRequest(1, `{"command":["ls"]}`)},
		{"empty decision", &countingHandler{}, execRequest(1, `{"command":["ls"]}`)},
		{"nil handler", nil, execRequest(1, `{"command":["ls"]}`)},
		{"bad params", AutoApprove(), execRequest(1, `{"command":"not a list"}`)},
		{"unknown method", AutoApprove(), jsonrpc.ApprovalRequest{ID: 1, Method: "somethingElse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &recordingResponder{}
			d := NewDispatcher(NewCache(), tt.handler, resp, WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, d.Dispatch(ctx, tt.req))
			assert.Equal(t, []response{{1, "denied"}}, resp.all())
		})
	}
}

func TestDispatcher_ResponderError(t *testing.T) {
	resp := &recordingResponder{err: jsonrpc.ErrTransportClosed}
	d := NewDispatcher(NewCache(), AutoApprove(), resp)
	err := d.Dispatch(context.Background(), execRequest(9, `{"command":["ls"]}`))
	assert.ErrorIs(t, err, jsonrpc.ErrTransportClosed)
}

func TestDispatcher_Run(t *testing.T) {
	resp := &recordingResponder{}
	d := NewDispatcher(NewCache(), DenyAll(), resp, WithLogger(zaptest.NewLogger(t)))

	ch := make(chan jsonrpc.ApprovalRequest, 3)
	ch <- execRequest(1, `{"command":["a"]}`)
	ch <- execRequest(2, `{"command":["b"]}`)
	close(ch)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Equal(t, []response{{1, "denied"}, {2, "denied"}}, resp.all())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx, make(chan jsonrpc.ApprovalRequest))
}

func TestPromptHandler(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		input  string
		req    *Request
		want   Decision
		output []string
	}{
		{
			name:   "session",
			input:  "s\n",
			req:    &Request{Kind: KindExec, Command: []string{"git", "--token", "abc"}, Cwd: "/p"},
			want:   ApprovedForSession,
			output: []string{"git --token [MASKED]", "Directory: /p", "No reason provided", "(default approved)"},
		},
		{
			name:   "risky defaults to deny",
			input:  "\n",
			req:    &Request{Kind: KindExec, Command: []string{"rm", "-rf", "x"}, Risk: "Destructive file deletion"},
			want:   Denied,
			output: []string{"Risk:      Destructive file deletion", "(default denied)"},
		},
		{
			name:   "patch files masked",
			input:  "a",
			req:    &Request{Kind: KindPatch, Files: []string{"src/.env", "main.go"}, Reason: "password: hunter22"},
			want:   Approved,
			output: []string{"src/<sensitive-file>", "main.go", "password=[MASKED]"},
		},
		{
			name:  "abort",
			input: "b\n",
			req:   &Request{Kind: KindExec, Command: []string{"ls"}},
			want:  Abort,
		},
		{
			name:  "garbage denies",
			input: "maybe\n",
			req:   &Request{Kind: KindExec, Command: []string{"ls"}},
			want:  Denied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := PromptHandler(strings.NewReader(tt.input), &out)
			got, err := h.Decide(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			for _, s := range tt.output {
				assert.Contains(t, out.String(), s)
			}
		})
	}
}

func TestPromptHandler_EOF(t *testing.T) {
	h := PromptHandler(strings.NewReader(""), &bytes.Buffer{})
	got, err := h.Decide(context.Background(), &Request{Kind: KindExec})
	assert.Error(t, err)
	assert.Equal(t, Denied, got)
}
