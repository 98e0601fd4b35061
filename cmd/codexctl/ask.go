package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/codex"
	"github.com/mzhaom/codex-appserver/codex/render"
	"github.com/mzhaom/codex-appserver/codexprotocol"
	"github.com/mzhaom/codex-appserver/session"
)

type askOptions struct {
	model   string
	effort  string
	sandbox string
	approve string
	color   string
	verbose bool
	images  []string
}

func newAskCmd(a *app) *cobra.Command {
	o := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [flags] <prompt>",
		Short: "Start a thread, run one turn and stream the answer",
		Example: `  codexctl ask "What does this repository do?"
  codexctl ask --approve prompt --sandbox workspace-write "Fix the failing test"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd.Context(), o, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.model, "model", "", "Model (default from config)")
	f.StringVar(&o.effort, "effort", "", "Reasoning effort: minimal, low, medium, high")
	f.StringVar(&o.sandbox, "sandbox", "", "Sandbox mode: read-only, workspace-write, danger-full-access")
	f.StringVar(&o.approve, "approve", "deny", "Approval handling: auto, deny, prompt")
	f.StringVar(&o.color, "color", "auto", "Color output: auto, always, never")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Show command output")
	f.StringSliceVar(&o.images, "image", nil, "Attach a local image (repeatable)")
	return cmd
}

func (o *askOptions) renderer() (*render.Renderer, error) {
	switch o.color {
	case "auto", "":
		return render.NewRenderer(os.Stdout, o.verbose, false), nil
	case "never":
		return render.NewRenderer(os.Stdout, o.verbose, true), nil
	case "always":
		return render.NewColorRenderer(os.Stdout, o.verbose, termenv.ANSI256), nil
	default:
		return nil, fmt.Errorf("unknown color mode %q (want auto, always or never)", o.color)
	}
}

func (a *app) ask(ctx context.Context, o *askOptions, prompt string) error {
	handler, err := approvalHandler(o.approve)
	if err != nil {
		return err
	}
	r, err := o.renderer()
	if err != nil {
		return err
	}

	defaults := a.cfg.Defaults
	model := firstNonEmpty(o.model, defaults.Model)
	sandbox := firstNonEmpty(o.sandbox, defaults.SandboxMode)

	r.Status("Starting codex app-server...")
	svc, client, err := a.startService(ctx, handler)
	if err != nil {
		return err
	}
	defer svc.Stop()

	thread, err := client.StartThread(ctx, codex.ThreadStartParams{
		Model:          model,
		Cwd:            a.cfg.WorkDir,
		ApprovalPolicy: defaults.ApprovalPolicy,
		Sandbox:        sandbox,
		Profile:        defaults.Profile,
	})
	if err != nil {
		return fmt.Errorf("start thread: %w", err)
	}
	svc.Registry().Register(thread.ID, model, a.cfg.WorkDir)
	a.log.Debug("thread started", zap.String("thread", thread.ID), zap.String("model", model))

	input := []codex.UserInput{codex.TextInput(prompt)}
	for _, img := range o.images {
		input = append(input, codex.LocalImageInput(img))
	}
	turn, err := client.StartTurn(ctx, codex.TurnStartParams{
		ThreadID: thread.ID,
		Input:    input,
		Effort:   firstNonEmpty(o.effort, defaults.Effort),
		Summary:  defaults.Summary,
	})
	if err != nil {
		return fmt.Errorf("start turn: %w", err)
	}
	if turn.Error != "" {
		return fmt.Errorf("turn %s failed: %s", turn.ID, turn.Error)
	}

	return streamTurn(ctx, svc, r, thread.ID)
}

// streamTurn renders the thread's events until its turn ends. Cancelling
// ctx interrupts the turn on the server before returning.
func streamTurn(ctx context.Context, svc *codex.Service, r *render.Renderer, threadID string) error {
	events := svc.Events()
	for {
		select {
		case <-ctx.Done():
			interruptCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := svc.InterruptActiveTurn(interruptCtx, threadID)
			cancel()
			if err != nil && !errors.Is(err, session.ErrNoActiveTurn) {
				r.Error(err, "interrupt")
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed before the turn finished")
			}
			if id := ev.Thread(); id != "" && id != threadID {
				continue
			}
			r.Event(ev)
			switch e := ev.(type) {
			case codexprotocol.TaskComplete:
				if e.Status == "failed" {
					return fmt.Errorf("turn %s failed", e.TurnID)
				}
				return nil
			case codexprotocol.TurnAborted:
				return fmt.Errorf("turn aborted: %s", e.Reason)
			case codexprotocol.Error:
				return errors.New(e.Message)
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
