// Package schema implements the validate(kind, value) -> ok | errors
// predicate spec.md §1 treats as an external collaborator. Unlike the
// teacher's bespoke graph linter (internal/attractor/validate, a
// hand-rolled set of lint rules over a DOT graph), Arbiter's records
// are validated against real JSON Schema documents compiled once at
// startup with github.com/santhosh-tekuri/jsonschema/v5 — a teacher
// dependency that had no Go call site before this.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names the record kinds the writer validates.
type Kind string

const (
	PlanEntry         Kind = "plan_entry"
	TrialRecord       Kind = "trial_record"
	ParsedOutput      Kind = "parsed_output"
	EmbeddingRecord   Kind = "embedding_record"
	ClusterAssignment Kind = "cluster_assignment"
	MonitoringRecord  Kind = "monitoring_record"
	Manifest          Kind = "manifest"
)

var allKinds = []Kind{PlanEntry, TrialRecord, ParsedOutput, EmbeddingRecord, ClusterAssignment, MonitoringRecord, Manifest}

var (
	once       sync.Once
	compiled   map[Kind]*jsonschema.Schema
	compileErr error
)

func compileAll() {
	once.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, k := range allKinds {
			name := string(k) + ".json"
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("schema: read %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
				compileErr = fmt.Errorf("schema: add resource %s: %w", name, err)
				return
			}
		}
		compiled = make(map[Kind]*jsonschema.Schema, len(allKinds))
		for _, k := range allKinds {
			name := string(k) + ".json"
			s, err := compiler.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("schema: compile %s: %w", name, err)
				return
			}
			compiled[k] = s
		}
	})
}

// ValidationError reports a schema validation failure for one record,
// including the pointer paths the underlying jsonschema error names.
type ValidationError struct {
	Kind Kind
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %s failed validation: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks value (any JSON-marshalable Go value) against the
// compiled schema for kind. A validation failure returns *ValidationError,
// never panics, and never mutates value.
func Validate(kind Kind, value any) error {
	compileAll()
	if compileErr != nil {
		return fmt.Errorf("schema: compilation failed: %w", compileErr)
	}
	s, ok := compiled[kind]
	if !ok {
		return fmt.Errorf("schema: unknown kind %q", kind)
	}
	asJSON, err := toJSONValue(value)
	if err != nil {
		return fmt.Errorf("schema: %s: %w", kind, err)
	}
	if err := s.Validate(asJSON); err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	return nil
}

// toJSONValue round-trips value through encoding/json so jsonschema
// sees plain map[string]any/[]any/string/float64/bool/nil, which is
// what it validates against.
func toJSONValue(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
