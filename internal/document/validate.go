package document

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed coverage.schema.json
var coverageSchemaJSON []byte

//go:embed aggregate.schema.json
var aggregateSchemaJSON []byte

var (
	coverageSchema  = mustCompile("coverage-v1.schema.json", coverageSchemaJSON)
	aggregateSchema = mustCompile("aggregate-v1.schema.json", aggregateSchemaJSON)
)

func mustCompile(name string, data []byte) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("document: add schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("document: compile schema %s: %v", name, err))
	}
	return s
}

// ValidateCoverage checks raw bytes against the coverage document schema.
func ValidateCoverage(data []byte) error {
	return validate(coverageSchema, data)
}

// ValidateAggregate checks raw bytes against the aggregate document schema.
func ValidateAggregate(data []byte) error {
	return validate(aggregateSchema, data)
}

func validate(schema *jsonschema.Schema, data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("document: not valid json: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("document: schema validation: %w", err)
	}
	return nil
}
