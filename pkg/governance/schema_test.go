package governance

import "testing"

func TestSchemaRegistry(t *testing.T) {
	schemas := Schemas()
	if len(schemas) != 5 {
		t.Fatalf("schema count = %d, want 5", len(schemas))
	}
	// Sorted by short name: decision, epack, receipt, routing-proof, telemetry.
	if schemas[0].Schema != "beaconwise-governance/decision" {
		t.Fatalf("first schema = %s", schemas[0].Schema)
	}
	for _, s := range schemas {
		if s.Version != SchemaVersion {
			t.Fatalf("%s version = %s", s.Schema, s.Version)
		}
	}
}

func TestSchemaByName(t *testing.T) {
	if _, ok := SchemaByName("epack"); !ok {
		t.Fatal("short name lookup failed")
	}
	s, ok := SchemaByName("beaconwise-governance/receipt")
	if !ok || s.Schema != "beaconwise-governance/receipt" {
		t.Fatal("full name lookup failed")
	}
	if _, ok := SchemaByName("no-such-schema"); ok {
		t.Fatal("unknown schema should miss")
	}
}

func TestValidateRecordRequiredFields(t *testing.T) {
	rec := map[string]any{
		"seq":          0,
		"ts":           1700000000.0,
		"prev_hash":    "GENESIS",
		"payload_hash": "abc",
		"hash":         "def",
		"payload":      map[string]any{},
	}
	if errs := ValidateRecord(EpackSchema, rec); len(errs) != 0 {
		t.Fatalf("complete record should validate: %v", errs)
	}

	delete(rec, "payload_hash")
	delete(rec, "hash")
	errs := ValidateRecord(EpackSchema, rec)
	if len(errs) != 2 {
		t.Fatalf("errors = %v", errs)
	}
	// Deterministic order: sorted field names.
	if errs[0] != "missing required field: hash" || errs[1] != "missing required field: payload_hash" {
		t.Fatalf("errors = %v", errs)
	}
}
