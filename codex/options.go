package codex

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mzhaom/codex-appserver/approval"
	"github.com/mzhaom/codex-appserver/internal/logging"
	"github.com/mzhaom/codex-appserver/supervisor"
)

// options holds the collaborators a Service is built with.
type options struct {
	log      *zap.Logger
	clk      clock.Clock
	lookPath func(string) (string, error)
	env      []string
	handler  approval.Handler
}

func defaultOptions() options {
	return options{
		log:      zap.NewNop(),
		clk:      clock.New(),
		lookPath: supervisor.LookPath,
		handler:  approval.DenyAll(),
	}
}

// Option is a functional option for configuring a Service.
type Option func(*options)

// WithLogger sets the logger. Components get named children of it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = logging.OrNop(l)
	}
}

// WithClock sets the clock used for restart backoff and request timeouts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clk = c
	}
}

// WithLookPath overrides how the codex binary is found when the config
// leaves binary_path empty.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(o *options) {
		o.lookPath = fn
	}
}

// WithEnv replaces the environment of the app-server process.
func WithEnv(env []string) Option {
	return func(o *options) {
		o.env = env
	}
}

// WithApprovalHandler sets the handler for approval requests that the
// session cache cannot answer. The default denies everything.
func WithApprovalHandler(h approval.Handler) Option {
	return func(o *options) {
		if h != nil {
			o.handler = h
		}
	}
}
