package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mzhaom/codex-appserver/codex/render"
	"github.com/mzhaom/codex-appserver/codexprotocol"
	"github.com/mzhaom/codex-appserver/internal/sessionlog"
)

func newReplayCmd() *cobra.Command {
	var (
		verbose bool
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "replay <trace.jsonl>",
		Short: "Render a recorded --trace file as if it were live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := render.NewRenderer(cmd.OutOrStdout(), verbose, noColor)
			return replayTrace(args[0], r)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show command output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")
	return cmd
}

// replayTrace feeds the server-to-client lines of a trace through the
// normalizer and renderer.
func replayTrace(path string, r *render.Renderer) error {
	onHeader := func(h sessionlog.Header) {
		if h.Instance != "" {
			r.Status(fmt.Sprintf("app-server instance %s", h.Instance))
		}
	}
	return sessionlog.ReplayFile(path, onHeader, func(e sessionlog.Entry) error {
		if e.Direction != sessionlog.DirectionReceived {
			return nil
		}
		var msg struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if json.Unmarshal(e.Message, &msg) != nil || msg.Method == "" {
			return nil
		}
		if len(msg.ID) > 0 {
			r.Warning(fmt.Sprintf("server request %s", msg.Method))
			return nil
		}
		r.Event(codexprotocol.Normalize(msg.Method, msg.Params))
		return nil
	})
}
