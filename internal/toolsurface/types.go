// Package toolsurface implements the Tool-Protocol Surface (spec.md §4.9,
// §6): a line-delimited JSON request/response loop over stdio, a typed
// schema registry validating every tool's input before dispatch and
// filtering its output afterward, and the per-tool handlers composing the
// store/scheduler/authqueue primitives built by the rest of the module.
//
// Grounded on the teacher's internal/tools/types.go Tool/ToolSchema shape
// and internal/mcp/transport_stdio.go's line-oriented stdio idiom, adapted
// from the teacher's client role (driving a subprocess) to veritas's
// server role (being driven by a client over its own stdin/stdout).
package toolsurface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"veritas/internal/apierr"
)

// Errors a Tool or Registry can raise at registration time.
var (
	ErrToolNameEmpty        = errors.New("tool name cannot be empty")
	ErrToolHandlerNil       = errors.New("tool handler cannot be nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNotFound         = errors.New("tool not found")
)

// PropertyItems describes the schema of an array property's elements.
// Only scalar item types are supported (spec.md §6: no union combinators,
// no nested object schemas beyond the top level).
type PropertyItems struct {
	Type string `json:"type"`
}

// Property describes one field of a Schema. Type is one of "string",
// "integer", "number", "boolean", "array", "object".
type Property struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
	Items       *PropertyItems `json:"items,omitempty"`
}

// Schema is a flat, closed JSON-Schema-lite object schema: every property
// the caller may send must be declared, every required property must be
// present, and no additional properties are tolerated (spec.md §6/§4.9
// "inputs are validated against schema before dispatch").
type Schema struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// field reports whether name is declared, and its Property if so.
func (s Schema) field(name string) (Property, bool) {
	p, ok := s.Properties[name]
	return p, ok
}

// ValidateInput checks raw (a JSON object) against s: every required
// field present, every present field declared and type-matched, no
// additional fields. Returns a structured apierr on the first violation —
// validation never has side effects (spec.md §7).
func (s Schema) ValidateInput(raw json.RawMessage) (map[string]any, *apierr.Error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, apierr.FieldError("", "object", "params must be a JSON object: "+err.Error())
	}
	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			return nil, apierr.FieldError(req, s.Properties[req].Type, fmt.Sprintf("missing required field %q", req))
		}
	}
	for name, val := range obj {
		prop, declared := s.field(name)
		if !declared {
			return nil, apierr.FieldError(name, "", fmt.Sprintf("unexpected field %q", name))
		}
		if val == nil {
			continue
		}
		if err := validateType(name, prop, val); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func validateType(field string, prop Property, val any) *apierr.Error {
	switch prop.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return apierr.FieldError(field, "string", fmt.Sprintf("field %q must be a string", field))
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, s) {
			return apierr.FieldError(field, "string", fmt.Sprintf("field %q must be one of %v", field, prop.Enum))
		}
	case "integer":
		n, ok := val.(float64)
		if !ok || n != float64(int64(n)) {
			return apierr.FieldError(field, "integer", fmt.Sprintf("field %q must be an integer", field))
		}
	case "number":
		if _, ok := val.(float64); !ok {
			return apierr.FieldError(field, "number", fmt.Sprintf("field %q must be a number", field))
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return apierr.FieldError(field, "boolean", fmt.Sprintf("field %q must be a boolean", field))
		}
	case "array":
		arr, ok := val.([]any)
		if !ok {
			return apierr.FieldError(field, "array", fmt.Sprintf("field %q must be an array", field))
		}
		if prop.Items != nil {
			for i, elem := range arr {
				if err := validateType(fmt.Sprintf("%s[%d]", field, i), Property{Type: prop.Items.Type}, elem); err != nil {
					return err
				}
			}
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return apierr.FieldError(field, "object", fmt.Sprintf("field %q must be an object", field))
		}
	}
	return nil
}

func containsString(enum []string, s string) bool {
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}

// SanitizeOutput filters a handler's result down to only the fields
// declared in s, by round-tripping through JSON (spec.md §4.9 "outputs
// are filtered by an allowlist schema that strips fields not declared").
// A nil schema (no Properties declared) passes the value through
// unfiltered, used by tools whose output is inherently tabular
// (query_sql, query_view).
func SanitizeOutput(s Schema, result any) (any, error) {
	if len(s.Properties) == 0 {
		return result, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: marshal result: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("toolsurface: result is not a JSON object: %w", err)
	}
	out := make(map[string]any, len(s.Properties))
	for name := range s.Properties {
		if v, ok := obj[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// HandlerFunc executes one tool call against already-validated params.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, *apierr.Error)

// Tool is one dispatchable tool-surface entry point.
type Tool struct {
	Name         string
	Description  string
	InputSchema  Schema
	OutputSchema Schema
	Handler      HandlerFunc
}

func (t *Tool) validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Handler == nil {
		return ErrToolHandlerNil
	}
	return nil
}

// Request is one line of client input: {id, tool, params} (spec.md §6).
type Request struct {
	ID     json.RawMessage `json:"id"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Response is one line of server output: {id, ok, result?|error?}.
type Response struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  *apierr.Error   `json:"error,omitempty"`
}
