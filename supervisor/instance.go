package supervisor

import (
	"errors"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/internal/ndjson"
)

// lineBuffer is the stdout channel capacity. The reader blocks when the
// consumer falls behind rather than dropping protocol lines.
const lineBuffer = 256

// Instance is one spawned app-server process. A restart creates a new
// Instance; consumers detect hand-off by comparing pointers or IDs.
type Instance struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	done   chan struct{}
	killed chan struct{}

	killOnce sync.Once
	mu       sync.Mutex
	exitErr  error
}

// ID returns a unique identifier for this process instance.
func (i *Instance) ID() string { return i.id }

// PID returns the OS process id.
func (i *Instance) PID() int {
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Stdin returns the process's standard input.
func (i *Instance) Stdin() io.Writer { return i.stdin }

// Lines delivers stdout lines in order. It is closed when stdout ends or
// the instance is killed.
func (i *Instance) Lines() <-chan []byte { return i.lines }

// Done is closed after the process has exited and been reaped.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Err returns the exit error once Done is closed.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitErr
}

// ExitCode returns the exit code, or -1 if unknown.
func (i *Instance) ExitCode() int {
	if i.cmd == nil || i.cmd.ProcessState == nil {
		return -1
	}
	return i.cmd.ProcessState.ExitCode()
}

func spawn(binary string, args []string, dir string, env []string, log *zap.Logger) (*Instance, error) {
	cmd := exec.Command(binary, append([]string{"app-server"}, args...)...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Message: "failed to start codex app-server", Cause: err}
	}

	inst := &Instance{
		id:     uuid.NewString(),
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, lineBuffer),
		done:   make(chan struct{}),
		killed: make(chan struct{}),
	}
	log = log.With(zap.String("instance", inst.id), zap.Int("pid", inst.PID()))

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		inst.readStdout(stdout, ndjson.DefaultMaxLineSize, log)
	}()
	go func() {
		defer pipes.Done()
		readStderr(stderr, log)
	}()
	go func() {
		pipes.Wait()
		err := cmd.Wait()
		inst.mu.Lock()
		inst.exitErr = err
		inst.mu.Unlock()
		close(inst.done)
	}()

	return inst, nil
}

func (i *Instance) readStdout(r io.Reader, maxLine int, log *zap.Logger) {
	defer close(i.lines)
	reader := ndjson.NewReaderSize(r, maxLine)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, ndjson.ErrLineTooLong) {
			log.Error("dropping oversized codex stdout line", zap.Int("max_bytes", maxLine))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-i.killed:
				default:
					log.Error("error reading codex stdout", zap.Error(err))
				}
			}
			// Drain so the process is never blocked on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return
		}
		select {
		case i.lines <- line:
		case <-i.killed:
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
}

func readStderr(r io.Reader, log *zap.Logger) {
	reader := ndjson.NewReader(r)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, ndjson.ErrLineTooLong) {
			continue
		}
		if err != nil {
			_, _ = io.Copy(io.Discard, r)
			return
		}
		log.Warn("codex stderr", zap.ByteString("line", line))
	}
}

// kill terminates the process forcibly. Safe to call repeatedly.
func (i *Instance) kill() {
	i.killOnce.Do(func() {
		close(i.killed)
		_ = i.stdin.Close()
		if i.cmd.Process != nil {
			_ = i.cmd.Process.Kill()
		}
	})
}
