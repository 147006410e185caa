// Package relaycontract is the single source of truth for every string the
// relay shares with the external assistant CLI: structured-record field names,
// terminal type markers, the prose completion sentinel, canonical event kind
// names, CLI flags, skill directory names and the error texts that mark a
// destroyed stream.
//
// # Package Contents
//
//   - fields.go: structured line record fields and terminal markers
//   - events.go: canonical event kind names
//   - flags.go: CLI flag names and default argument vectors
//   - paths.go: skill directory and file names, settings keys
//   - transport.go: stream-destroyed error texts
//
// When the CLI changes its wire format only this package needs to change.
package relaycontract
