package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mzhaom/codex-appserver/approval"
	"github.com/mzhaom/codex-appserver/codex"
)

// approvalHandler maps an --approve value to a handler.
func approvalHandler(mode string) (approval.Handler, error) {
	switch mode {
	case "auto":
		return approval.AutoApprove(), nil
	case "deny", "":
		return approval.DenyAll(), nil
	case "prompt":
		return approval.PromptHandler(os.Stdin, os.Stderr), nil
	default:
		return nil, fmt.Errorf("unknown approval mode %q (want auto, deny or prompt)", mode)
	}
}

// startService launches codex app-server and waits for the handshake. The
// caller must Stop the returned service.
func (a *app) startService(ctx context.Context, handler approval.Handler) (*codex.Service, *codex.Client, error) {
	opts := []codex.Option{codex.WithLogger(a.log)}
	if handler != nil {
		opts = append(opts, codex.WithApprovalHandler(handler))
	}
	svc := codex.NewService(a.cfg, opts...)
	if err := svc.Start(ctx); err != nil {
		_ = svc.Stop()
		return nil, nil, err
	}
	client, err := svc.Client()
	if err != nil {
		_ = svc.Stop()
		return nil, nil, err
	}
	return svc, client, nil
}

// withService runs fn against a fresh service with approvals denied.
func (a *app) withService(ctx context.Context, fn func(*codex.Client) error) error {
	svc, client, err := a.startService(ctx, nil)
	if err != nil {
		return err
	}
	defer svc.Stop()
	return fn(client)
}
