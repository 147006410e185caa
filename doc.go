// Package threadrelay brokers sessions with a line-oriented assistant CLI on
// behalf of many concurrent conversation threads.
//
// The subpackages build on each other bottom-up:
//
//   - relaycontract: wire constants of the CLI protocol and event names
//   - linecodec: decodes one CLI output line into a text, done or error chunk
//   - process: supervises one CLI process with merged output lines
//   - event: canonical typed events and their JSON envelope
//   - fault: error classes and the stream-destroyed classifier
//   - store: SQLite persistence of workspaces, threads, messages and settings
//   - workspace: thread folders, skill directories and SKILL.md listing
//   - agentcli: the CLI-backed client, its sessions and a scripted fake
//   - runtime: session registry, event dispatch, transcripts and recovery
//   - config: YAML/TOML file and RELAY_* environment settings
//
// # Quick Start
//
//	st, _ := store.Open("relay.db")
//	resolver := workspace.NewResolver(st)
//	svc := runtime.New(st, resolver)
//	defer svc.Close()
//
//	ws, _ := resolver.Add(ctx, ".")
//	thread, _ := svc.CreateThread(ctx, ws.ID, "")
//	svc.OnThreadEvent(thread.ID, func(ev event.Event) { ... })
//	err := svc.SendMessage(ctx, runtime.SendInput{ThreadID: thread.ID, Prompt: "hi"})
//
// The relay command in cmd/relay exposes the same operations from a
// terminal.
package threadrelay
