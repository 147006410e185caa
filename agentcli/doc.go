// Package agentcli talks to the external assistant CLI.
//
// A Client is the shared connection to the CLI: it is started once, lists
// models, reports authentication and opens sessions. A Session is one live
// conversation backed by its own CLI process. Its read loop turns output
// lines into canonical events and hands them to the Handler from
// SessionConfig, which is installed before the process starts so no early
// output is lost.
//
// Two clients are provided. CLI runs the real binary; Fake replays a
// fixed event script and is meant for demos and tests.
package agentcli
