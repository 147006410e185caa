package linecodec

import (
	"encoding/json"
	"strings"

	"github.com/randalmurphal/threadrelay/relaycontract"
)

// Chunk is one decoded output line. Text and Err are nil when absent.
type Chunk struct {
	Text *string
	Done bool
	Err  *string
}

// Empty reports whether the chunk carries nothing.
func (c Chunk) Empty() bool {
	return c.Text == nil && !c.Done && c.Err == nil
}

// Decoder turns one output line into a chunk. The bool is false when the
// line was skipped (blank).
type Decoder interface {
	Decode(line string) (Chunk, bool)
}

// JSONDecoder decodes structured JSON line records.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(line string) (Chunk, bool) {
	return Decode(line)
}

// Decode parses one structured record.
//
// Completion is signalled by "done": true or by a terminal "type" marker.
// Text is taken from "delta", then "text", then "message.content"; the first
// string field found wins. "error" is surfaced alongside either. A line that
// is not a JSON object is returned verbatim as text. That includes valid JSON
// scalars and arrays, since only objects carry protocol fields.
func Decode(line string) (Chunk, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Chunk{}, false
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil || record == nil {
		return Chunk{Text: ptr(line)}, true
	}

	var chunk Chunk
	if raw, ok := record[relaycontract.FieldError]; ok {
		chunk.Err = errorText(raw)
	}

	if b, ok := boolField(record, relaycontract.FieldDone); ok && b {
		chunk.Done = true
	} else if t, ok := stringField(record, relaycontract.FieldType); ok && relaycontract.IsTerminalType(t) {
		chunk.Done = true
	}

	if s, ok := stringField(record, relaycontract.FieldDelta); ok {
		chunk.Text = ptr(s)
		return chunk, true
	}
	if s, ok := stringField(record, relaycontract.FieldText); ok {
		chunk.Text = ptr(s)
		return chunk, true
	}
	if raw, ok := record[relaycontract.FieldMessage]; ok {
		var msg map[string]json.RawMessage
		if json.Unmarshal(raw, &msg) == nil && msg != nil {
			if s, ok := stringField(msg, relaycontract.FieldContent); ok {
				chunk.Text = ptr(s)
			}
		}
	}
	return chunk, true
}

// ProseDecoder decodes unstructured prose output. Every non-blank line is
// text with its newline restored; a line equal to Sentinel completes the turn.
type ProseDecoder struct {
	// Sentinel is matched case-insensitively after trimming.
	// Empty means relaycontract.DefaultDoneSentinel.
	Sentinel string
}

// Decode implements Decoder.
func (d ProseDecoder) Decode(line string) (Chunk, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Chunk{}, false
	}
	if strings.EqualFold(trimmed, d.sentinel()) {
		return Chunk{Done: true}, true
	}
	return Chunk{Text: ptr(line + "\n")}, true
}

func (d ProseDecoder) sentinel() string {
	if d.Sentinel == "" {
		return relaycontract.DefaultDoneSentinel
	}
	return d.Sentinel
}

func stringField(record map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := record[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func boolField(record map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := record[key]
	if !ok || isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// errorText renders the error field. Strings are unquoted; any other value
// is kept as compact JSON. null means no error.
func errorText(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ptr(s)
	}
	return ptr(strings.TrimSpace(string(raw)))
}

func isNull(raw json.RawMessage) bool {
	text := strings.TrimSpace(string(raw))
	return text == "" || text == "null"
}

func ptr(s string) *string {
	return &s
}
