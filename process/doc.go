// Package process supervises one long-running assistant CLI process.
//
// A Supervisor moves through NotStarted, Starting and Running, and ends in
// either Exited (the process went away on its own) or Disposed (the owner
// tore it down). It never restarts itself; restart policy belongs to the
// caller.
//
// Output from stdout and stderr is merged into one line channel fed by two
// reader goroutines, so diagnostics on stderr are treated as protocol input:
//
//	sup := process.New("copilot", process.WithArgs("chat", "--json"))
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Dispose()
//
//	_ = sup.WritePrompt(ctx, "hello")
//	line, err := sup.ReadLine(ctx, 2*time.Minute)
//
// WritePrompt does not serialize concurrent writers. Callers hold their own
// turn lock.
package process
