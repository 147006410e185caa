package event

import "github.com/randalmurphal/threadrelay/relaycontract"

// Kind identifies an event variant.
type Kind string

const (
	KindUserMessage      Kind = relaycontract.EventUserMessage
	KindAssistantMessage Kind = relaycontract.EventAssistantMessage
	KindAssistantDelta   Kind = relaycontract.EventAssistantDelta
	KindToolStart        Kind = relaycontract.EventToolStart
	KindToolProgress     Kind = relaycontract.EventToolProgress
	KindToolComplete     Kind = relaycontract.EventToolComplete
	KindSessionIdle      Kind = relaycontract.EventSessionIdle
	KindSessionError     Kind = relaycontract.EventSessionError
	KindModelChange      Kind = relaycontract.EventModelChange
	KindAbort            Kind = relaycontract.EventAbort
)

// Kinds lists every known kind.
func Kinds() []Kind {
	return []Kind{
		KindUserMessage, KindAssistantMessage, KindAssistantDelta,
		KindToolStart, KindToolProgress, KindToolComplete,
		KindSessionIdle, KindSessionError, KindModelChange, KindAbort,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, err := newPayload(k)
	return err == nil
}

// IsTool reports whether k is part of the tool lifecycle.
func (k Kind) IsTool() bool {
	return k == KindToolStart || k == KindToolProgress || k == KindToolComplete
}

// EndsTurn reports whether k finishes an in-flight turn.
func (k Kind) EndsTurn() bool {
	return k == KindSessionIdle || k == KindSessionError || k == KindAbort
}
