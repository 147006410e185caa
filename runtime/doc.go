// Package runtime brokers assistant CLI sessions for many conversation
// threads.
//
// A Service owns one shared agentcli.Client and a per-thread session
// registry. Every event a session produces is handed to live subscribers
// and then projected into the transcript store. Failures that mean the
// CLI stream was destroyed are retried once: client-level operations
// rebuild the shared client, sends drop only the affected thread's
// session.
//
// Basic usage:
//
//	svc := runtime.New(st, resolver, runtime.WithLogger(logger))
//	defer svc.Close()
//
//	unsubscribe := svc.OnEvent(func(ev event.Event) {
//	    fmt.Println(ev.Kind)
//	})
//	defer unsubscribe()
//
//	thread, err := svc.CreateThread(ctx, workspaceID, "")
//	err = svc.SendMessage(ctx, runtime.SendInput{ThreadID: thread.ID, Prompt: "hello"})
package runtime
