package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/mzhaom/codex-appserver/codex"
	"github.com/mzhaom/codex-appserver/codexprotocol"
)

func newThreadsCmd(a *app) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List stored threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(c *codex.Client) error {
				list, err := c.ListThreads(cmd.Context(), codex.ThreadListParams{Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				return writeThreads(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum threads to list")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous listing's cursor")
	return cmd
}

func writeThreads(w io.Writer, list *codex.ThreadList) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Provider", "Created", "Preview")
	for _, t := range list.Threads {
		created := "-"
		if t.CreatedAt > 0 {
			created = time.Unix(t.CreatedAt, 0).Local().Format(time.DateTime)
		}
		if err := table.Append([]string{t.ID, orDash(t.ModelProvider), created, preview(t.Preview, 60)}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if list.NextCursor != "" {
		_, err := fmt.Fprintf(w, "more: --cursor %s\n", list.NextCursor)
		return err
	}
	return nil
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Print the server's model list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(c *codex.Client) error {
				raw, err := c.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), raw)
			})
		},
	}
}

func writeJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func newRateLimitsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rate-limits",
		Short: "Show account rate-limit windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(c *codex.Client) error {
				snap, err := c.RateLimits(cmd.Context())
				if err != nil {
					return err
				}
				return writeRateLimits(cmd.OutOrStdout(), snap)
			})
		},
	}
}

func writeRateLimits(w io.Writer, snap *codexprotocol.RateLimitSnapshot) error {
	if snap == nil {
		_, err := fmt.Fprintln(w, "no rate-limit information reported")
		return err
	}
	windows := lo.Compact([]*codexprotocol.RateLimitWindow{snap.Primary, snap.Secondary})
	table := tablewriter.NewWriter(w)
	table.Header("Window", "Used", "Length", "Resets")
	for _, win := range windows {
		if err := table.Append(rateLimitRow(win)); err != nil {
			return err
		}
	}
	return table.Render()
}

func rateLimitRow(win *codexprotocol.RateLimitWindow) []string {
	used := "-"
	if frac, ok := win.UsageFraction(); ok {
		used = strconv.FormatFloat(frac*100, 'f', 1, 64) + "%"
	}
	length := "-"
	if win.WindowMinutes != nil {
		length = (time.Duration(*win.WindowMinutes) * time.Minute).String()
	}
	resets := "-"
	if at, ok := win.ResetTime(); ok {
		resets = at.Local().Format(time.DateTime)
	}
	return []string{win.Label, used, length, resets}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func preview(s string, max int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max-1]) + "…"
}
