package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON contract for a structured completion.
type Schema struct {
	name       string
	definition *jsonschema.Schema
	document   []byte
	loader     gojsonschema.JSONLoader
}

// SchemaFor infers a schema from T. Every field without omitempty is
// required and unknown properties are rejected.
func SchemaFor[T any](name string) (*Schema, error) {
	definition, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer %s schema: %w", name, err)
	}
	document, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	return &Schema{
		name:       name,
		definition: definition,
		document:   document,
		loader:     gojsonschema.NewBytesLoader(document),
	}, nil
}

// MustSchemaFor is SchemaFor for package-level schemas.
func MustSchemaFor[T any](name string) *Schema {
	schema, err := SchemaFor[T](name)
	if err != nil {
		panic(err)
	}
	return schema
}

func (s *Schema) Name() string { return s.name }

func (s *Schema) Definition() *jsonschema.Schema { return s.definition }

func (s *Schema) Document() []byte { return s.document }

// Instructions is the system text for backends without native schema support.
func (s *Schema) Instructions() string {
	return "Respond with a single JSON object and nothing else. " +
		"It must validate against this JSON schema:\n" + string(s.document)
}

// Decode validates raw model output against the schema and unmarshals it.
func (s *Schema) Decode(raw string, out any) error {
	payload := stripMarkdownJSON(raw)
	if payload == "" {
		return fmt.Errorf("%s output is empty", s.name)
	}
	result, err := gojsonschema.Validate(s.loader, gojsonschema.NewStringLoader(payload))
	if err != nil {
		return fmt.Errorf("validate %s output: %w", s.name, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%s output does not match schema: %s", s.name, strings.Join(problems, "; "))
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("decode %s output: %w", s.name, err)
	}
	return nil
}

func stripMarkdownJSON(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
