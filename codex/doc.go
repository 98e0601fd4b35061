// Package codex hosts a supervised codex app-server and exposes its
// domain methods.
//
// Basic usage:
//
//	svc := codex.NewService(cfg,
//	    codex.WithLogger(logger),
//	    codex.WithApprovalHandler(approval.AutoApprove()),
//	)
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop()
//
//	client, _ := svc.Client()
//	thread, err := client.StartThread(ctx, codex.ThreadStartParams{Model: "gpt-5-codex"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Registry().Register(thread.ID, "gpt-5-codex", cwd)
//	if _, err := client.SendText(ctx, thread.ID, "What is 2+2?"); err != nil {
//	    log.Fatal(err)
//	}
//	for ev := range svc.Events() {
//	    if _, done := ev.(codexprotocol.TaskComplete); done {
//	        break
//	    }
//	}
package codex
