package event

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the event envelope. The schema of each
// payload variant is listed under $defs keyed by its kind.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	s := r.Reflect(&envelope{})
	s.Title = "Canonical event"
	s.Definitions = jsonschema.Definitions{}
	for _, k := range Kinds() {
		p, _ := newPayload(k)
		ps := r.Reflect(p)
		ps.Version = ""
		ps.Title = string(k)
		s.Definitions[string(k)] = ps
	}
	return s
}
