package google

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"google.golang.org/api/calendar/v3"
)

//go:embed event.schema.json
var eventSchemaJSON []byte

const eventSchemaURL = "event.schema.json"

// eventValidator checks provider payloads before conversion. Events failing
// validation are skipped rather than coerced.
type eventValidator struct {
	schema *jsonschema.Schema
}

func newEventValidator() (*eventValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add event schema: %w", err)
	}

	schema, err := compiler.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}

	return &eventValidator{schema: schema}, nil
}

func (v *eventValidator) validate(item *calendar.Event) error {
	raw, err := item.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("event %q failed validation: %w", item.Id, err)
	}
	return nil
}
