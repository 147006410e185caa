// Package event defines the canonical event delivered to subscribers and
// projected into the transcript.
//
// Every event carries a Kind and a payload whose Go type is fixed by that
// kind. The JSON form is an envelope:
//
//	{"threadId":"t1","type":"assistant.message_delta","timestamp":"...",
//	 "id":"...","parentId":"...","data":{"messageId":"m1","deltaContent":"Hel"}}
//
// Decoding an envelope with an unknown type fails with ErrUnknownKind.
package event
