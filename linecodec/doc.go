// Package linecodec decodes single output lines of the assistant CLI into
// protocol chunks.
//
// Two modes are supported. The structured mode reads JSON line records:
//
//	{"delta":"Hel"}            -> Text "Hel"
//	{"type":"done"}            -> Done
//	{"error":"rate limited"}   -> Err "rate limited"
//	not json at all            -> Text "not json at all"
//
// The prose mode treats every non-blank line as text and waits for a
// sentinel line (default "--done") to complete the turn.
//
// Decoding never fails: unrecognized output always degrades to verbatim
// text so the read loop keeps making progress.
package linecodec
