package governance

import (
	"fmt"
	"sort"
)

// SchemaVersion is the interoperability standard version.
const SchemaVersion = "1.0.0"

// SchemaFamily prefixes every schema name in the registry.
const SchemaFamily = "beaconwise-governance"

// FieldSpec describes one field of an interoperability schema.
type FieldSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Schema is a versioned interoperability schema object.
type Schema struct {
	Schema  string               `json:"schema"`
	Version string               `json:"version"`
	Fields  map[string]FieldSpec `json:"fields"`
}

// EpackSchema describes the sealed evidence record format.
var EpackSchema = Schema{
	Schema:  SchemaFamily + "/epack",
	Version: SchemaVersion,
	Fields: map[string]FieldSpec{
		"seq":       {Type: "integer", Required: true, Description: "Monotonic sequence number"},
		"ts":        {Type: "float", Required: true, Description: "Unix timestamp"},
		"prev_hash": {Type: "string", Required: true, Description: "Hash of previous record (GENESIS for first)"},
		"payload_hash": {
			Type:        "string",
			Required:    true,
			Description: "Commitment hash (Decision canonical sha256) when available; otherwise payload-derived hash",
		},
		"hash":    {Type: "string", Required: true, Description: "Chain hash over header + payload + payload_hash"},
		"payload": {Type: "object", Required: true, Description: "Replayable payload (may include decision_hash + decision_object)"},
	},
}

// TelemetrySchema describes the governance dashboard payload.
var TelemetrySchema = Schema{
	Schema:  SchemaFamily + "/telemetry",
	Version: SchemaVersion,
	Fields: map[string]FieldSpec{
		"governance_version":   {Type: "string", Required: true, Description: "Dashboard format version"},
		"total_interactions":   {Type: "integer", Required: true, Description: "Governed interaction count"},
		"audit_completeness":   {Type: "float", Required: true, Description: "EPACKs per interaction; 1.0 when complete"},
		"safety_block_rate":    {Type: "float", Required: true, Description: "Fraction of turns routed BOUND"},
		"validation_pass_rate": {Type: "float", Required: true, Description: "Fraction of validated outputs that passed"},
		"routing_distribution": {Type: "object", Required: true, Description: "Per-route counters"},
		"latency":              {Type: "object", Required: false, Description: "avg_ms and p95_ms over the bounded window"},
	},
}

// RoutingProofSchema describes the deterministic routing proof.
var RoutingProofSchema = Schema{
	Schema:  SchemaFamily + "/routing-proof",
	Version: SchemaVersion,
	Fields: map[string]FieldSpec{
		"input_hash":          {Type: "string", Required: true, Description: "SHA-256 of the governed input"},
		"route_sequence":      {Type: "array", Required: true, Description: "Routes taken in order"},
		"route_reason":        {Type: "string", Required: true, Description: "Why this route was chosen"},
		"safety_stage1_ok":    {Type: "boolean", Required: true, Description: "Stage 1 pattern screen verdict"},
		"safety_stage2_ok":    {Type: "boolean", Required: true, Description: "Stage 2 semantic screen verdict"},
		"safety_stage2_score": {Type: "float", Required: true, Description: "Stage 2 similarity score"},
		"domain":              {Type: "string", Required: true, Description: "Input domain classification"},
		"complexity":          {Type: "integer", Required: true, Description: "Complexity band"},
		"profile":             {Type: "string", Required: true, Description: "Session assurance profile"},
		"timestamp":           {Type: "float", Required: true, Description: "Unix timestamp"},
	},
}

// ReceiptSchema describes the signed governance receipt.
var ReceiptSchema = Schema{
	Schema:  SchemaFamily + "/receipt",
	Version: SchemaVersion,
	Fields: map[string]FieldSpec{
		"receipt_id":          {Type: "string", Required: true, Description: "16-hex receipt identifier"},
		"epack_hash":          {Type: "string", Required: true, Description: "Hash of the sealed EPACK"},
		"routing_proof_hash":  {Type: "string", Required: true, Description: "Seal hash of the routing proof"},
		"manifest_hash":       {Type: "string", Required: true, Description: "Build manifest seal hash"},
		"tsv_snapshot_hash":   {Type: "string", Required: false, Description: "Hash of belief state at decision time"},
		"scope_gate_decision": {Type: "string", Required: true, Description: "PASS / REWRITE / REFUSE / N/A"},
		"profile":             {Type: "string", Required: true, Description: "Session assurance profile"},
		"mode":                {Type: "string", Required: true, Description: "Proof mode"},
		"timestamp":           {Type: "float", Required: true, Description: "Unix timestamp"},
		"signature":           {Type: "string", Required: true, Description: "HMAC-SHA256 over every other field"},
	},
}

// DecisionSchema describes the canonical Decision Object envelope.
var DecisionSchema = Schema{
	Schema:  SchemaFamily + "/decision",
	Version: SchemaVersion,
	Fields: map[string]FieldSpec{
		"context":   {Type: "object", Required: true, Description: "Session, interaction, profile, kernel version"},
		"input":     {Type: "object", Required: true, Description: "Input hash and derived vector"},
		"routing":   {Type: "object", Required: true, Description: "Route sequence and reason"},
		"policy":    {Type: "object", Required: true, Description: "Pinned policy snapshot"},
		"output":    {Type: "object", Required: true, Description: "Status, validation verdicts, output hash"},
		"integrity": {Type: "object", Required: true, Description: "Chain linkage and self-seal"},
		"build":     {Type: "object", Required: true, Description: "Provenance manifest reference"},
	},
}

var registry = map[string]Schema{
	"epack":         EpackSchema,
	"telemetry":     TelemetrySchema,
	"routing-proof": RoutingProofSchema,
	"receipt":       ReceiptSchema,
	"decision":      DecisionSchema,
}

// Schemas returns every registered schema keyed by short name, in sorted
// order for deterministic API responses.
func Schemas() []Schema {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Schema, 0, len(names))
	for _, name := range names {
		out = append(out, registry[name])
	}
	return out
}

// SchemaByName looks up a schema by short name ("epack") or full name
// ("beaconwise-governance/epack").
func SchemaByName(name string) (Schema, bool) {
	if s, ok := registry[name]; ok {
		return s, true
	}
	for _, s := range registry {
		if s.Schema == name {
			return s, true
		}
	}
	return Schema{}, false
}

// ValidateRecord checks a decoded record against a schema's required
// fields. Returns a list of error strings; empty means valid.
func ValidateRecord(s Schema, rec map[string]any) []string {
	var errs []string
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.Fields[name].Required {
			if _, ok := rec[name]; !ok {
				errs = append(errs, fmt.Sprintf("missing required field: %s", name))
			}
		}
	}
	return errs
}
