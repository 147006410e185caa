package relaycontract

import "strings"

// Structured line record fields.
const (
	// FieldDone is an explicit completion flag ({"done": true}).
	FieldDone = "done"

	// FieldType carries the record type; terminal markers complete the turn.
	FieldType = "type"

	// FieldDelta is an incremental text fragment.
	FieldDelta = "delta"

	// FieldText is a full or partial text fragment.
	FieldText = "text"

	// FieldMessage holds a nested message object.
	FieldMessage = "message"

	// FieldContent is the text field inside FieldMessage.
	FieldContent = "content"

	// FieldError carries an error reported by the CLI.
	FieldError = "error"
)

// Terminal type markers. A record whose type matches one of these
// (case-insensitively) completes the current turn.
const (
	TypeDone                = "done"
	TypeFinal               = "final"
	TypeAssistantMessageEnd = "assistant_message_end"
	TypeStop                = "stop"
)

var terminalTypes = []string{TypeDone, TypeFinal, TypeAssistantMessageEnd, TypeStop}

// IsTerminalType reports whether t is a terminal type marker.
func IsTerminalType(t string) bool {
	for _, marker := range terminalTypes {
		if strings.EqualFold(t, marker) {
			return true
		}
	}
	return false
}

// DefaultDoneSentinel is the literal line that ends a turn in prose mode.
const DefaultDoneSentinel = "--done"

// ProseInstruction is appended to prompts in prose mode so the CLI emits the
// sentinel once the answer is complete. %s is the sentinel.
const ProseInstruction = "IMPORTANT: After you have finished your complete response, type exactly '%s' on a new line by itself."
