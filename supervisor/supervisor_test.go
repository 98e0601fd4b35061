package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
		{0, 1 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestFindBinary(t *testing.T) {
	empty := t.TempDir()
	notExec := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(notExec, "codex"), []byte("x"), 0o644))
	withDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(withDir, "codex"), 0o755))
	good := t.TempDir()
	want := writeStub(t, good, "codex", "exit 0")

	sep := string(os.PathListSeparator)

	got, err := FindBinary("codex", empty+sep+notExec+sep+withDir+sep+good)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = FindBinary("codex", empty+sep+notExec)
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	_, err = FindBinary("", "")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func nextStatus(t *testing.T, ch <-chan Status, want State) Status {
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

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub binaries are shell scripts")
	}
}

func TestSupervisor_DeliversStdoutLines(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeStub(t, dir, "codex", `echo '{"method":"hello","params":{}}'
echo 'warning from codex' 1>&2
cat >/dev/null`)
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	s := New(Config{WorkDir: dir}, WithLogger(zaptest.NewLogger(t)))
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Start(context.Background()))
	running := nextStatus(t, ch, StateRunning)
	inst := running.Instance
	require.NotNil(t, inst)
	assert.Same(t, inst, s.Current())
	assert.NotEmpty(t, inst.ID())

	select {
	case line := <-inst.Lines():
		assert.JSONEq(t, `{"method":"hello","params":{}}`, string(line))
	case <-time.After(5 * time.Second):
		t.Fatal("no stdout line delivered")
	}

	require.NoError(t, s.Stop())
	nextStatus(t, ch, StateStopped)
	assert.Nil(t, s.Current())
	require.NoError(t, s.Stop())

	select {
	case <-inst.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped after stop")
	}
}

func TestInstance_OversizedStdoutLineIsSkipped(t *testing.T) {
	inst := &Instance{lines: make(chan []byte, 4), killed: make(chan struct{})}
	input := strings.NewReader(`{"method":"before"}` + "\n" +
		strings.Repeat("x", 4096) + "\n" +
		`{"method":"after"}` + "\n")

	inst.readStdout(input, 1024, zaptest.NewLogger(t))

	var got []string
	for line := range inst.lines {
		got = append(got, string(line))
	}
	assert.Equal(t, []string{`{"method":"before"}`, `{"method":"after"}`}, got)
}

func TestSupervisor_RestartsWithBackoffAfterExit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "started-once")
	// First run exits immediately; later runs stay up.
	bin := writeStub(t, dir, "codex", `if [ ! -f `+marker+` ]; then touch `+marker+`; exit 3; fi
cat >/dev/null`)

	mock := clock.NewMock()
	s := New(Config{BinaryPath: bin, WorkDir: dir}, WithClock(mock), WithLogger(zaptest.NewLogger(t)))
	ch, cancel := s.Subscribe()
	defer cancel()
	defer s.Stop()

	require.NoError(t, s.Start(context.Background()))
	first := nextStatus(t, ch, StateRunning).Instance

	restarting := nextStatus(t, ch, StateRestarting)
	assert.Equal(t, 1, restarting.Attempt)
	assert.Equal(t, time.Second, restarting.Delay)
	var perr *ProcessError
	require.ErrorAs(t, restarting.Err, &perr)
	assert.Equal(t, 3, perr.ExitCode)

	mock.Add(time.Second)
	second := nextStatus(t, ch, StateRunning).Instance
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestSupervisor_StopCancelsScheduledRestart(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	bin := writeStub(t, dir, "codex", "exit 1")

	mock := clock.NewMock()
	s := New(Config{BinaryPath: bin, WorkDir: dir}, WithClock(mock), WithLogger(zaptest.NewLogger(t)))
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Start(context.Background()))
	nextStatus(t, ch, StateRestarting)

	require.NoError(t, s.Stop())
	nextStatus(t, ch, StateStopped)

	mock.Add(time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_FailsAfterMaxSpawnAttempts(t *testing.T) {
	mock := clock.NewMock()
	lookErr := ErrBinaryNotFound
	s := New(Config{MaxRestartAttempts: 3},
		WithClock(mock),
		WithLogger(zaptest.NewLogger(t)),
		WithLookPath(func(string) (string, error) { return "", lookErr }))
	ch, cancel := s.Subscribe()
	defer cancel()

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrBinaryNotFound)

	failed := nextStatus(t, ch, StateFailed)
	assert.Equal(t, time.Second, failed.RestartIn)
	assert.False(t, failed.Terminal())

	for attempt := 1; attempt <= 3; attempt++ {
		st := nextStatus(t, ch, StateRestarting)
		assert.Equal(t, attempt, st.Attempt)
		assert.Equal(t, Backoff(attempt), st.Delay)
		mock.Add(st.Delay)
	}

	var final Status
	for {
		final = nextStatus(t, ch, StateFailed)
		if final.Terminal() {
			break
		}
	}
	assert.True(t, errors.Is(final.Err, ErrMaxRestarts))
	assert.True(t, errors.Is(final.Err, ErrBinaryNotFound))

	// No further restart is scheduled.
	mock.Add(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateFailed, s.State())

	// Supervision can be started again.
	assert.NotErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, s.Stop())
}

func TestSupervisor_StartTwice(t *testing.T) {
	mock := clock.NewMock()
	s := New(Config{}, WithClock(mock),
		WithLookPath(func(string) (string, error) { return "", ErrBinaryNotFound }))
	_ = s.Start(context.Background())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, s.Stop())
}

func TestSupervisor_WaitRunning(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	bin := writeStub(t, dir, "codex", "cat >/dev/null")

	s := New(Config{BinaryPath: bin, WorkDir: dir}, WithLogger(zaptest.NewLogger(t)))
	defer s.Stop()
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inst, err := s.WaitRunning(ctx)
	require.NoError(t, err)
	assert.Greater(t, inst.PID(), 0)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "stopped", Status{State: StateStopped}.String())
	assert.Equal(t, "restarting (attempt 2 in 2s)", Status{State: StateRestarting, Attempt: 2, Delay: 2 * time.Second}.String())
	assert.Equal(t, "failed: boom", Status{State: StateFailed, Err: errors.New("boom")}.String())
	assert.Equal(t, "unknown", State(42).String())
}
