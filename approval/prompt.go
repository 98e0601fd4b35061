package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptHandler asks a human on out and reads the answer from in. Secrets
// are masked before display. The default answer is deny when the request
// carries a risk hint, otherwise approve.
func PromptHandler(in io.Reader, out io.Writer) Handler {
	p := &prompter{in: bufio.NewReader(in), out: out}
	return HandlerFunc(p.decide)
}

type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) decide(ctx context.Context, req *Request) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Denied, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	var b strings.Builder
	switch req.Kind {
	case KindExec:
		fmt.Fprintf(&b, "\nCommand:   %s\n", strings.Join(MaskCommand(req.Command), " "))
		fmt.Fprintf(&b, "Directory: %s\n", MaskPath(req.Cwd))
	case KindPatch:
		b.WriteString("\nFiles to modify:\n")
		for _, f := range req.Files {
			fmt.Fprintf(&b, "  %s\n", MaskPath(f))
		}
	}
	fmt.Fprintf(&b, "Reason:    %s\n", Mask(reason))
	if req.Risk != "" {
		fmt.Fprintf(&b, "Risk:      %s\n", req.Risk)
	}

	def := Approved
	if req.Risk != "" {
		def = Denied
	}
	fmt.Fprintf(&b, "[a]pprove, approve for [s]ession, [d]eny, a[b]ort (default %s): ", def)
	if _, err := io.WriteString(p.out, b.String()); err != nil {
		return Denied, err
	}

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return Denied, fmt.Errorf("read approval answer: %w", err)
	}
	return parseAnswer(line, def), nil
}

func parseAnswer(line string, def Decision) Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def
	case "a", "y", "yes", "approve":
		return Approved
	case "s", "session":
		return ApprovedForSession
	case "b", "abort":
		return Abort
	default:
		return Denied
	}
}
