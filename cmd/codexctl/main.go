// Command codexctl drives a supervised codex app-server from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/config"
	"github.com/mzhaom/codex-appserver/internal/logging"
)

// app carries state shared by every subcommand once the root command's
// PersistentPreRunE has run.
type app struct {
	configFile string
	src        *config.Source
	cfg        *config.Config
	log        *zap.Logger
	level      zap.AtomicLevel
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "codexctl",
		Short:         "Run prompts and queries against a local codex app-server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default: search for codexctl.yaml)")
	flags.String("codex-path", "", "Path to the codex binary (default: search PATH)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("cwd", "", "Working directory for the agent (default: current)")
	flags.String("trace", "", "Record every protocol line to this file")

	root.AddCommand(
		newAskCmd(a),
		newThreadsCmd(a),
		newModelsCmd(a),
		newRateLimitsCmd(a),
		newReplayCmd(),
	)
	return root
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"codex-path": "binary_path",
	"log-level":  "log.level",
	"cwd":        "work_dir",
	"trace":      "trace_path",
}

func (a *app) setup(cmd *cobra.Command) error {
	a.src = config.NewSource(a.configFile)
	for name, key := range flagKeys {
		if err := a.src.BindFlag(key, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	cfg, err := a.src.Load()
	if err != nil {
		return err
	}
	if cfg.WorkDir == "" {
		if cfg.WorkDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}
	a.cfg = cfg

	a.log, a.level, err = logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	if file := a.src.FileUsed(); file != "" {
		a.log.Debug("loaded config", zap.String("file", file))
	}
	a.src.Watch(a.reload)
	return nil
}

// reload applies a changed config file. Only the log level takes effect
// while a command runs.
func (a *app) reload(cfg *config.Config, err error) {
	if err != nil {
		a.log.Warn("ignoring config change", zap.Error(err))
		return
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		a.log.Warn("ignoring config change", zap.Error(err))
		return
	}
	if level != a.level.Level() {
		a.level.SetLevel(level)
		a.log.Info("log level changed", zap.Stringer("level", level))
	}
}
