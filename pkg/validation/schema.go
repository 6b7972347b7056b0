// Package validation checks model output against the structured response
// contract: strict JSON schema (including the citation object schema),
// evidence-claim citation gating, a deterministic alignment score, and
// protected-region integrity. All checks are pure.
package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Closed enums for citation metadata.
var (
	SourceTypes = []string{
		"randomized_trial",
		"meta_analysis",
		"systematic_review",
		"clinical_guideline",
		"observational_study",
		"technical_standard",
		"institutional_report",
		"textbook_reference",
		"general_background",
	}
	EvidenceStrengths = []string{
		"strong_consensus",
		"moderate_evidence",
		"emerging_evidence",
		"contested",
		"contextual_reference",
	}
	VerificationStatuses = []string{
		"verified_reference",
		"probable_reference",
		"unverified_model_recall",
		"citation_not_retrieved",
	}
)

const responseSchemaURL = "https://tek.schemas.local/response.schema.json"

// responseSchema is the output contract. Top-level keys are closed; only
// text is required. The citation object is closed over its eight fields.
func responseSchema() string {
	enum := func(vals []string) string {
		b, _ := json.Marshal(vals)
		return string(b)
	}
	return fmt.Sprintf(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["text"],
  "properties": {
    "text": {"type": "string", "minLength": 1},
    "disclosure": {"type": ["string", "null"]},
    "assumptions": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    },
    "citations": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["title", "authors_or_org", "year", "source_type", "evidence_strength", "verification_status"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "authors_or_org": {"type": "string", "minLength": 1},
          "year": {"oneOf": [{"type": "integer"}, {"const": "unknown"}]},
          "source_type": {"enum": %s},
          "evidence_strength": {"enum": %s},
          "verification_status": {"enum": %s},
          "identifier": {"type": ["string", "null"]},
          "notes": {"type": ["string", "null"]}
        }
      }
    }
  }
}`, enum(SourceTypes), enum(EvidenceStrengths), enum(VerificationStatuses))
}

var responseCompiled = mustCompileResponseSchema()

func mustCompileResponseSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, strings.NewReader(responseSchema())); err != nil {
		panic(fmt.Sprintf("validation: schema load: %v", err))
	}
	s, err := c.Compile(responseSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("validation: schema compile: %v", err))
	}
	return s
}

// CheckSchema parses raw output and validates it against the response
// contract. The reason string is stable for a given failure shape.
func CheckSchema(raw string) (bool, map[string]any, string) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return false, nil, "json_error:" + err.Error()
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return false, nil, "not_object"
	}
	if err := responseCompiled.Validate(v); err != nil {
		return false, nil, schemaReason(obj, err)
	}
	return true, obj, "pass"
}

// schemaReason maps a jsonschema error onto the reason vocabulary used in
// evidence records, keeping the most common failures human-readable.
func schemaReason(obj map[string]any, err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "schema_violation"
	}
	leaf := deepest(ve)
	loc := leaf.InstanceLocation

	switch {
	case loc == "" && strings.Contains(leaf.Message, "additionalProperties"):
		return "extra_keys:" + extraKeys(obj)
	case loc == "/text" || (loc == "" && strings.Contains(leaf.Message, "'text'")):
		return "missing_or_empty_text"
	case loc == "/disclosure":
		return "disclosure_not_string"
	case strings.HasPrefix(loc, "/assumptions"):
		return "assumptions_invalid"
	case strings.HasPrefix(loc, "/citations"):
		return "citations_invalid:" + loc
	}
	return "schema_violation:" + loc
}

func deepest(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func extraKeys(obj map[string]any) string {
	allowed := map[string]bool{"text": true, "disclosure": true, "citations": true, "assumptions": true}
	var extra []string
	for k := range obj {
		if !allowed[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return strings.Join(extra, ",")
}
