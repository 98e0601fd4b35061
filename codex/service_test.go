package codex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mzhaom/codex-appserver/approval"
	"github.com/mzhaom/codex-appserver/codexprotocol"
	"github.com/mzhaom/codex-appserver/config"
	"github.com/mzhaom/codex-appserver/jsonrpc"
	"github.com/mzhaom/codex-appserver/session"
	"github.com/mzhaom/codex-appserver/supervisor"
)

// stubServer answers the handshake, thread/start and turn/start. A turn
// streams a message, then asks for exec approval and completes with the
// decision it received as the last message. When CRASH_MARKER names a
// file that does not exist yet, the first thread/start creates it and
// exits instead of answering.
const stubServer = `
while IFS= read -r line; do
  id=$(printf '%s\n' "$line" | sed -n 's/^{"id":\([0-9]*\),.*/\1/p')
  case "$line" in
    *'"decision":"'*)
      decision=$(printf '%s\n' "$line" | sed -n 's/.*"decision":"\([a-z_]*\)".*/\1/p')
      echo "{\"method\":\"turn/completed\",\"params\":{\"threadId\":\"thr_1\",\"turn\":{\"id\":\"turn_1\",\"status\":\"completed\",\"lastMessage\":\"$decision\"}}}"
      ;;
    *'"method":"initialize"'*)
      echo "{\"id\":$id,\"result\":{\"userAgent\":\"stub/1.0\"}}"
      ;;
    *'"method":"thread/start"'*)
      if [ -n "$CRASH_MARKER" ] && [ ! -e "$CRASH_MARKER" ]; then
        touch "$CRASH_MARKER"
        exit 1
      fi
      echo "{\"id\":$id,\"result\":{\"thread\":{\"id\":\"thr_1\",\"modelProvider\":\"openai\"}}}"
      echo '{"method":"thread/started","params":{"thread":{"id":"thr_1","model":"gpt-5-codex"}}}'
      ;;
    *'"method":"turn/start"'*)
      echo "{\"id\":$id,\"result\":{\"turn\":{\"id\":\"turn_1\",\"status\":\"inProgress\"}}}"
      echo '{"method":"turn/started","params":{"threadId":"thr_1","turn":{"id":"turn_1"}}}'
      echo '{"method":"item/created","params":{"threadId":"thr_1","turnId":"turn_1","item":{"type":"agentMessage","text":"Hello!"}}}'
      echo '{"id":99,"method":"execCommandApproval","params":{"conversationId":"thr_1","callId":"c1","command":["git","status"],"cwd":"/w"}}'
      ;;
  esac
done
`

func writeStub(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub binaries are shell scripts")
	}
	path := filepath.Join(t.TempDir(), "codex")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+stubServer), 0o755))
	return path
}

func testConfig(t *testing.T, binary string) *config.Config {
	cfg := config.Default()
	cfg.BinaryPath = binary
	cfg.WorkDir = t.TempDir()
	cfg.RequestTimeout = 10 * time.Second
	return cfg
}

func nextEvent(t *testing.T, events <-chan codexprotocol.Event) codexprotocol.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitStatus(t *testing.T, ch <-chan Status, want State) Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.State == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestService_EndToEndTurn(t *testing.T) {
	cfg := testConfig(t, writeStub(t))
	cfg.TracePath = filepath.Join(t.TempDir(), "trace.jsonl")

	var approvals atomic.Int32
	handler := approval.HandlerFunc(func(_ context.Context, req *approval.Request) (approval.Decision, error) {
		approvals.Add(1)
		assert.Equal(t, approval.KindExec, req.Kind)
		assert.Equal(t, []string{"git", "status"}, req.Command)
		return approval.ApprovedForSession, nil
	})
	svc := NewService(cfg, WithLogger(zaptest.NewLogger(t)), WithApprovalHandler(handler))
	defer svc.Stop()

	_, err := svc.Client()
	assert.ErrorIs(t, err, ErrNotRunning)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, Status{State: StateRunning, UserAgent: "stub/1.0"}, svc.Status())
	assert.ErrorIs(t, svc.Start(ctx), ErrAlreadyStarted)

	client, err := svc.Client()
	require.NoError(t, err)
	thread, err := client.StartThread(ctx, ThreadStartParams{Model: "gpt-5-codex", Cwd: cfg.WorkDir})
	require.NoError(t, err)
	assert.Equal(t, "thr_1", thread.ID)
	svc.Registry().Register(thread.ID, "gpt-5-codex", cfg.WorkDir)

	turn, err := client.SendText(ctx, thread.ID, "say hello")
	require.NoError(t, err)
	assert.Equal(t, "turn_1", turn.ID)

	events := svc.Events()
	started, ok := nextEvent(t, events).(codexprotocol.ThreadStarted)
	require.True(t, ok)
	assert.Equal(t, "thr_1", started.ThreadID)
	assert.Equal(t, "gpt-5-codex", started.Model)

	task, ok := nextEvent(t, events).(codexprotocol.TaskStarted)
	require.True(t, ok)
	assert.Equal(t, "turn_1", task.TurnID)

	msg, ok := nextEvent(t, events).(codexprotocol.AgentMessage)
	require.True(t, ok)
	assert.Equal(t, "Hello!", msg.Message)

	done, ok := nextEvent(t, events).(codexprotocol.TaskComplete)
	require.True(t, ok)
	assert.Equal(t, "turn_1", done.TurnID)
	assert.Equal(t, "approved_for_session", done.LastAgentMessage)

	assert.Equal(t, int32(1), approvals.Load())
	assert.Equal(t, approval.Stats{Exec: 1}, svc.Cache().Stats())

	info, ok := svc.Registry().Get("thr_1")
	require.True(t, ok)
	assert.Equal(t, session.StateCompleted, info.State)
	assert.Empty(t, info.ActiveTurnID)

	assert.ErrorIs(t, svc.InterruptActiveTurn(ctx, "thr_1"), session.ErrNoActiveTurn)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
	assert.Empty(t, svc.Registry().List())
	assert.Equal(t, approval.Stats{}, svc.Cache().Stats())
	_, open := <-svc.Events()
	assert.False(t, open, "event stream closed after stop")
	assert.ErrorIs(t, svc.Start(ctx), ErrStopped)

	trace, err := os.ReadFile(cfg.TracePath)
	require.NoError(t, err)
	assert.Contains(t, string(trace), `"format":"codex-app-server"`)
	assert.Contains(t, string(trace), `thread/start`)
	assert.Contains(t, string(trace), `"direction":"received"`)
}

func TestService_RemoveSessionForgetsApprovals(t *testing.T) {
	svc := NewService(nil, WithLogger(zaptest.NewLogger(t)))
	defer svc.Stop()

	svc.Registry().Register("thr_1", "gpt-5-codex", "/w")
	svc.Registry().Register("thr_2", "gpt-5-codex", "/w")
	svc.Cache().CacheExec("thr_1", []string{"git", "status"}, "/w", approval.ApprovedForSession)
	svc.Cache().CachePatch("thr_1", []string{"main.go"}, approval.ApprovedForSession)
	svc.Cache().CacheExec("thr_2", []string{"git", "status"}, "/w", approval.ApprovedForSession)

	d, ok := svc.Cache().CheckExec("thr_1", []string{"git", "status"}, "/w")
	require.True(t, ok)
	assert.Equal(t, approval.ApprovedForSession, d)

	svc.RemoveSession("thr_1")

	_, ok = svc.Registry().Get("thr_1")
	assert.False(t, ok)
	_, ok = svc.Cache().CheckExec("thr_1", []string{"git", "status"}, "/w")
	assert.False(t, ok, "approval for a removed thread must not be reused")
	_, ok = svc.Cache().CheckPatch("thr_1", []string{"main.go"})
	assert.False(t, ok)

	_, ok = svc.Registry().Get("thr_2")
	assert.True(t, ok)
	_, ok = svc.Cache().CheckExec("thr_2", []string{"git", "status"}, "/w")
	assert.True(t, ok, "other threads keep their approvals")
	assert.Equal(t, approval.Stats{Exec: 1}, svc.Cache().Stats())

	svc.RemoveSession("missing")
}

func TestService_RestartMarksSessionsStale(t *testing.T) {
	binary := writeStub(t)
	t.Setenv("CRASH_MARKER", filepath.Join(t.TempDir(), "crashed"))

	mock := clock.NewMock()
	svc := NewService(testConfig(t, binary), WithLogger(zaptest.NewLogger(t)), WithClock(mock))
	defer svc.Stop()

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	svc.Registry().Register("old", "gpt-5", "/w")

	ch, cancel := svc.Subscribe()
	defer cancel()
	waitStatus(t, ch, StateRunning)

	client, err := svc.Client()
	require.NoError(t, err)
	_, err = client.StartThread(ctx, ThreadStartParams{Model: "gpt-5"})
	assert.ErrorIs(t, err, jsonrpc.ErrTransportClosed)

	waitStatus(t, ch, StateStarting)
	assert.Empty(t, svc.Registry().List(), "sessions dropped when the process restarts")

	mock.Add(supervisor.Backoff(1))
	waitStatus(t, ch, StateRunning)

	thread, err := client.StartThread(ctx, ThreadStartParams{Model: "gpt-5"})
	require.NoError(t, err)
	assert.Equal(t, "thr_1", thread.ID)
}

func TestService_StartFailsWithoutBinary(t *testing.T) {
	cfg := config.Default()
	notFound := func(string) (string, error) { return "", supervisor.ErrBinaryNotFound }
	svc := NewService(cfg, WithLogger(zaptest.NewLogger(t)), WithLookPath(notFound), WithClock(clock.NewMock()))

	err := svc.Start(context.Background())
	require.ErrorIs(t, err, supervisor.ErrBinaryNotFound)

	require.Eventually(t, func() bool { return svc.State() == StateError }, 5*time.Second, 10*time.Millisecond)
	_, err = svc.Client()
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
}

func TestService_StopWithoutStart(t *testing.T) {
	svc := NewService(nil)
	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
	_, open := <-svc.Events()
	assert.False(t, open)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "stopped", Status{}.String())
	assert.Equal(t, "running (stub/1.0)", Status{State: StateRunning, UserAgent: "stub/1.0"}.String())
	assert.Equal(t, "error: boom", Status{State: StateError, Err: errors.New("boom")}.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNormalizeNotification(t *testing.T) {
	ev := NormalizeNotification(jsonrpc.Notification{
		Method: "turn/started",
		Params: []byte(`{"threadId":"t","turn":{"id":"u"}}`),
	})
	assert.Equal(t, codexprotocol.TaskStarted{ThreadID: "t", TurnID: "u"}, ev)
}
