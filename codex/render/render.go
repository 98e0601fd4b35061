// Package render prints normalized codex events to a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/mzhaom/codex-appserver/codexprotocol"
)

// maxOutputBytes is the maximum size of command output to buffer (1MB).
const maxOutputBytes = 1024 * 1024

// styles are chosen to read on both light and dark backgrounds.
type styles struct {
	dim       lipgloss.Style
	reasoning lipgloss.Style
	command   lipgloss.Style
	ok        lipgloss.Style
	fail      lipgloss.Style
	warn      lipgloss.Style
	plan      lipgloss.Style
}

func plainStyles() styles {
	plain := lipgloss.NewStyle()
	return styles{plain, plain, plain, plain, plain, plain, plain}
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		dim:       r.NewStyle().Faint(true),
		reasoning: r.NewStyle().Italic(true).Foreground(lipgloss.Color("6")),
		command:   r.NewStyle().Foreground(lipgloss.Color("6")),
		ok:        r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:      r.NewStyle().Foreground(lipgloss.Color("1")),
		warn:      r.NewStyle().Foreground(lipgloss.Color("3")),
		plan:      r.NewStyle().Foreground(lipgloss.Color("5")),
	}
}

// Renderer handles terminal output.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	st      styles
	now     func() time.Time

	commands    map[string]*commandState
	inReasoning bool
	// streamed is set once deltas of the current message were printed, so
	// the complete message is not printed twice.
	streamed          bool
	streamedReasoning bool
	turnStart         time.Time
	lastTokens        int64
}

// commandState tracks an active command's state.
type commandState struct {
	command   string
	output    strings.Builder
	truncated bool
}

// NewRenderer creates a renderer writing to out. If verbose is false,
// command output is not shown. Colors are disabled when noColor is set,
// NO_COLOR is present, or out is not a terminal.
func NewRenderer(out io.Writer, verbose, noColor bool) *Renderer {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	if !noColor {
		noColor = !IsTerminal(out)
	}
	st := plainStyles()
	if !noColor {
		st = newStyles(lipgloss.NewRenderer(out))
	}
	return newRenderer(out, verbose, st)
}

// NewColorRenderer creates a renderer that always colors with profile,
// skipping terminal detection.
func NewColorRenderer(out io.Writer, verbose bool, profile termenv.Profile) *Renderer {
	lr := lipgloss.NewRenderer(out, termenv.WithProfile(profile))
	// ColorProfile re-detects from the environment unless set explicitly.
	lr.SetColorProfile(profile)
	return newRenderer(out, verbose, newStyles(lr))
}

func newRenderer(out io.Writer, verbose bool, st styles) *Renderer {
	return &Renderer{
		out:      out,
		verbose:  verbose,
		st:       st,
		now:      time.Now,
		commands: make(map[string]*commandState),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Event renders one normalized event.
func (r *Renderer) Event(ev codexprotocol.Event) {
	switch e := ev.(type) {
	case codexprotocol.ThreadStarted:
		r.Status(fmt.Sprintf("thread %s started (model %s)", e.ThreadID, orDash(e.Model)))
	case codexprotocol.TaskStarted:
		r.mu.Lock()
		r.turnStart = r.now()
		r.lastTokens = 0
		r.mu.Unlock()
	case codexprotocol.AgentMessageDelta:
		r.mu.Lock()
		r.streamed = true
		r.mu.Unlock()
		r.Text(e.Delta)
	case codexprotocol.AgentMessage:
		r.mu.Lock()
		streamed := r.streamed
		r.streamed = false
		r.mu.Unlock()
		if streamed {
			r.Text("\n")
		} else {
			r.Text(e.Message + "\n")
		}
	case codexprotocol.AgentReasoningDelta:
		r.mu.Lock()
		r.streamedReasoning = true
		r.mu.Unlock()
		r.Reasoning(e.Delta)
	case codexprotocol.AgentReasoning:
		r.mu.Lock()
		streamed := r.streamedReasoning
		r.streamedReasoning = false
		r.mu.Unlock()
		if !streamed {
			r.Reasoning(e.Content)
		}
	case codexprotocol.PlanUpdate:
		r.Plan(e.Explanation, e.Plan)
	case codexprotocol.ExecCommandBegin:
		r.CommandStart(e.CallID, strings.Join(e.Command, " "))
	case codexprotocol.ExecCommandOutputDelta:
		r.CommandOutput(e.CallID, e.Chunk)
	case codexprotocol.ExecCommandEnd:
		r.CommandEnd(e.CallID, e.ExitCode, e.DurationMs)
	case codexprotocol.McpToolCallBegin:
		r.Status(fmt.Sprintf("tool %s/%s", orDash(e.Server), orDash(e.Tool)))
	case codexprotocol.McpToolCallEnd:
		if e.Error != "" {
			r.Warning("tool call failed: " + e.Error)
		}
	case codexprotocol.ApplyPatchApprovalRequest:
		r.Status(fmt.Sprintf("patch awaiting approval: %s", strings.Join(e.Files(), ", ")))
	case codexprotocol.PatchApplyEnd:
		if e.Success {
			r.Status("patch applied")
		} else {
			r.Warning("patch failed")
		}
	case codexprotocol.WebSearchBegin:
		r.Status("searching the web: " + e.Query)
	case codexprotocol.TokenCount:
		r.mu.Lock()
		r.lastTokens = e.LastTokenUsage
		if r.lastTokens == 0 {
			r.lastTokens = e.TotalTokenUsage
		}
		r.mu.Unlock()
	case codexprotocol.TaskComplete:
		r.mu.Lock()
		var elapsed int64
		if !r.turnStart.IsZero() {
			elapsed = r.now().Sub(r.turnStart).Milliseconds()
		}
		tokens := r.lastTokens
		r.mu.Unlock()
		r.TurnComplete(!isFailedStatus(e.Status), elapsed, tokens)
	case codexprotocol.TurnAborted:
		r.Warning("turn aborted: " + e.Reason)
	case codexprotocol.Error:
		r.Error(fmt.Errorf("%s", e.Message), "agent")
	case codexprotocol.Warning:
		r.Warning(e.Message)
	}
}

func isFailedStatus(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "fail") || strings.Contains(s, "error")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Status prints a status message.
func (r *Renderer) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()
	fmt.Fprintln(r.out, r.st.dim.Render("[Status] "+msg))
}

// Text prints streaming text output.
func (r *Renderer) Text(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()
	fmt.Fprint(r.out, text)
}

// Reasoning prints reasoning output in italic style.
func (r *Renderer) Reasoning(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, r.st.reasoning.Render(text))
	r.inReasoning = true
}

// endReasoning adds a newline when switching away from reasoning output.
func (r *Renderer) endReasoning() {
	if r.inReasoning {
		fmt.Fprintln(r.out)
		r.inReasoning = false
	}
}

// Plan prints the agent's plan with a marker per step phase.
func (r *Renderer) Plan(explanation string, steps []codexprotocol.PlanStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()
	fmt.Fprintln(r.out, r.st.plan.Render("[Plan]"))
	if explanation != "" {
		fmt.Fprintln(r.out, "  "+explanation)
	}
	for _, s := range steps {
		marker := "○"
		switch s.Phase() {
		case codexprotocol.PlanStepActive:
			marker = "◐"
		case codexprotocol.PlanStepDone:
			marker = "●"
		}
		fmt.Fprintf(r.out, "  %s %s\n", r.st.plan.Render(marker), s.Step)
	}
}

// CommandStart prints the start of a command execution.
func (r *Renderer) CommandStart(callID, command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()
	r.commands[callID] = &commandState{command: command}
	fmt.Fprintf(r.out, "\n%s ", r.st.command.Render("["+truncate(command, 60)+"]"))
}

// HasOutput reports whether output has been accumulated for callID.
func (r *Renderer) HasOutput(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd, ok := r.commands[callID]; ok {
		return cmd.output.Len() > 0
	}
	return false
}

// CommandOutput accumulates command output up to maxOutputBytes. Nothing
// is kept unless verbose.
func (r *Renderer) CommandOutput(callID, chunk string) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.commands[callID]
	if !ok || cmd.truncated {
		return
	}
	remaining := maxOutputBytes - cmd.output.Len()
	if len(chunk) > remaining {
		cmd.output.WriteString(chunk[:remaining])
		cmd.truncated = true
		return
	}
	cmd.output.WriteString(chunk)
}

// CommandEnd prints the completion of a command. A negative durationMs
// means the duration is unknown.
func (r *Renderer) CommandEnd(callID string, exitCode int, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.commands[callID]
	if !ok {
		return
	}
	delete(r.commands, callID)

	prefix := ""
	if r.verbose {
		if output := strings.TrimSpace(cmd.output.String()); output != "" {
			fmt.Fprint(r.out, output)
			if cmd.truncated {
				fmt.Fprint(r.out, "\n"+r.st.warn.Render("  [output truncated at 1MB]"))
			}
		}
		prefix = "\n  "
	}

	var status string
	switch {
	case exitCode == 0 && durationMs >= 0:
		status = r.st.ok.Render(fmt.Sprintf("✓ %.2fs", float64(durationMs)/1000))
	case exitCode == 0:
		status = r.st.ok.Render("✓")
	case durationMs >= 0:
		status = r.st.fail.Render(fmt.Sprintf("✗ exit %d (%.2fs)", exitCode, float64(durationMs)/1000))
	default:
		status = r.st.fail.Render(fmt.Sprintf("✗ exit %d", exitCode))
	}
	fmt.Fprintf(r.out, "%s%s\n", prefix, status)
}

// TurnComplete prints a summary of the completed turn.
func (r *Renderer) TurnComplete(success bool, durationMs, tokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()

	fmt.Fprintf(r.out, "\n%s\n", r.st.dim.Render(strings.Repeat("─", 55)))
	style, mark := r.st.ok, "✓"
	if !success {
		style, mark = r.st.fail, "✗"
	}
	summary := fmt.Sprintf("%s Turn complete (%.1fs", mark, float64(durationMs)/1000)
	if tokens > 0 {
		summary += fmt.Sprintf(", %d tokens", tokens)
	}
	fmt.Fprintln(r.out, style.Render(summary+")"))
}

// Warning prints a warning.
func (r *Renderer) Warning(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()
	fmt.Fprintln(r.out, r.st.warn.Render("[Warning] "+msg))
}

// Error prints an error message.
func (r *Renderer) Error(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endReasoning()
	fmt.Fprintf(r.out, "\n%s %v\n", r.st.fail.Render("[Error: "+context+"]"), err)
}

// truncate shortens s to max runes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
