package validation

import (
	"strings"
	"testing"
)

func validResponse(text string) string {
	return `{"text": "` + text + `"}`
}

func TestSchemaAcceptsMinimalResponse(t *testing.T) {
	ok, obj, reason := CheckSchema(validResponse("hello"))
	if !ok {
		t.Fatalf("reason = %s", reason)
	}
	if obj["text"] != "hello" {
		t.Fatalf("text = %v", obj["text"])
	}
}

func TestSchemaRejectsMalformedJSON(t *testing.T) {
	ok, _, reason := CheckSchema(`{"text": `)
	if ok {
		t.Fatal("malformed JSON should fail")
	}
	if !strings.HasPrefix(reason, "json_error:") {
		t.Fatalf("reason = %s", reason)
	}
}

func TestSchemaRejectsNonObject(t *testing.T) {
	ok, _, reason := CheckSchema(`["text"]`)
	if ok || reason != "not_object" {
		t.Fatalf("ok=%t reason=%s", ok, reason)
	}
}

func TestSchemaRejectsExtraKeys(t *testing.T) {
	ok, _, reason := CheckSchema(`{"text": "hi", "confidence": 0.9}`)
	if ok {
		t.Fatal("extra key should fail")
	}
	if !strings.Contains(reason, "confidence") && !strings.HasPrefix(reason, "extra_keys") && !strings.HasPrefix(reason, "schema_violation") {
		t.Fatalf("reason = %s", reason)
	}
}

func TestSchemaRejectsEmptyText(t *testing.T) {
	for _, raw := range []string{`{}`, `{"text": ""}`, `{"text": 3}`} {
		if ok, _, _ := CheckSchema(raw); ok {
			t.Fatalf("raw %s should fail", raw)
		}
	}
}

func TestCitationSchema(t *testing.T) {
	good := `{"text": "ok", "citations": [{
		"title": "Deterministic Governance",
		"authors_or_org": "BeaconWise Labs",
		"year": 2024,
		"source_type": "technical_standard",
		"evidence_strength": "moderate_evidence",
		"verification_status": "verified_reference",
		"identifier": "doi:10/xyz"
	}]}`
	if ok, _, reason := CheckSchema(good); !ok {
		t.Fatalf("valid citation rejected: %s", reason)
	}

	cases := map[string]string{
		"missing field":     `{"text":"ok","citations":[{"title":"t","authors_or_org":"a","year":2024,"source_type":"technical_standard","evidence_strength":"moderate_evidence"}]}`,
		"bad source_type":   `{"text":"ok","citations":[{"title":"t","authors_or_org":"a","year":2024,"source_type":"blog_post","evidence_strength":"moderate_evidence","verification_status":"verified_reference"}]}`,
		"bad year":          `{"text":"ok","citations":[{"title":"t","authors_or_org":"a","year":"2024","source_type":"technical_standard","evidence_strength":"moderate_evidence","verification_status":"verified_reference"}]}`,
		"extra field":       `{"text":"ok","citations":[{"title":"t","authors_or_org":"a","year":2024,"source_type":"technical_standard","evidence_strength":"moderate_evidence","verification_status":"verified_reference","url":"x"}]}`,
		"citation not obj":  `{"text":"ok","citations":["ref"]}`,
		"citations not arr": `{"text":"ok","citations":"ref"}`,
	}
	for name, raw := range cases {
		if ok, _, _ := CheckSchema(raw); ok {
			t.Fatalf("%s should fail", name)
		}
	}

	// year "unknown" is the one permitted non-integer value.
	unknown := `{"text":"ok","citations":[{"title":"t","authors_or_org":"a","year":"unknown","source_type":"general_background","evidence_strength":"contextual_reference","verification_status":"citation_not_retrieved"}]}`
	if ok, _, reason := CheckSchema(unknown); !ok {
		t.Fatalf("year unknown rejected: %s", reason)
	}

	// null citations list is acceptable.
	if ok, _, reason := CheckSchema(`{"text":"ok","citations":null}`); !ok {
		t.Fatalf("null citations rejected: %s", reason)
	}
}

func TestEvidenceClaimRequiresCitations(t *testing.T) {
	raw := `{"text": "Studies show this works well."}`
	attempts := ValidateOutput(DefaultConfig(), "does it work?", raw, 0.85)
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want stop at evidence gate", len(attempts))
	}
	if attempts[1].OK || attempts[1].Reason != "evidence_claim_requires_citations" {
		t.Fatalf("attempt 2 = %+v", attempts[1])
	}
}

func TestEvidenceClaimWithCitationsPasses(t *testing.T) {
	raw := `{"text": "Studies show this works.", "citations": [{
		"title": "t", "authors_or_org": "a", "year": 2023,
		"source_type": "systematic_review",
		"evidence_strength": "strong_consensus",
		"verification_status": "probable_reference"
	}]}`
	attempts := ValidateOutput(DefaultConfig(), "does it work?", raw, 0.85)
	if len(attempts) != 4 {
		t.Fatalf("attempts = %d, want full pipeline", len(attempts))
	}
	for _, a := range attempts {
		if !a.OK {
			t.Fatalf("attempt %d failed: %s", a.Attempt, a.Reason)
		}
	}
}

func TestEvidenceGateSkipsPlainText(t *testing.T) {
	attempts := ValidateOutput(DefaultConfig(), "hi", validResponse("plain answer"), 0.85)
	if attempts[1].Reason != "evidence_claim_gate_skipped" {
		t.Fatalf("attempt 2 = %+v", attempts[1])
	}
}

func TestAlignmentScoreByLength(t *testing.T) {
	if got := AlignmentScore("short"); got != 0.92 {
		t.Fatalf("short = %v", got)
	}
	if got := AlignmentScore(strings.Repeat("x", 200)); got != 0.88 {
		t.Fatalf("long = %v", got)
	}
}

func TestAlignmentBelowThresholdFails(t *testing.T) {
	long := strings.Repeat("x", 250)
	attempts := ValidateOutput(DefaultConfig(), long, validResponse("answer"), 0.90)
	if attempts[2].OK {
		t.Fatal("0.88 should fail a 0.90 threshold")
	}
	if attempts[2].Score != 0.88 {
		t.Fatalf("score = %v", attempts[2].Score)
	}
}

func TestProtectedRegionsDetectCodeFenceChange(t *testing.T) {
	user := "keep this:\n```go\nfmt.Println(1)\n```\nthanks"
	same := `{"text": "done:\n` + "```go\\nfmt.Println(1)\\n```" + `"}`
	changed := `{"text": "done:\n` + "```go\\nfmt.Println(2)\\n```" + `"}`

	a1 := ValidateOutput(DefaultConfig(), user, same, 0.85)
	if !a1[3].OK {
		t.Fatal("unchanged fence should pass")
	}
	a2 := ValidateOutput(DefaultConfig(), user, changed, 0.85)
	if a2[3].OK {
		t.Fatal("altered fence should fail")
	}
}

func TestProtectedRegionsHashStable(t *testing.T) {
	h1 := ProtectedRegionsHash("a {\"k\": 1} b")
	h2 := ProtectedRegionsHash("a {\"k\": 1} b")
	if h1 != h2 || len(h1) != 16 {
		t.Fatalf("h1=%s h2=%s", h1, h2)
	}
	if h1 == ProtectedRegionsHash("a {\"k\": 2} b") {
		t.Fatal("different JSON block should change hash")
	}
}

func TestValidatorVerdict(t *testing.T) {
	v := NewValidator(DefaultConfig())

	good := v.Validate("hi", validResponse("answer"), 0.85)
	if !good.OK {
		t.Fatalf("verdict = %+v", good)
	}
	if good.Score != 0.92 {
		t.Fatalf("score = %v, want lowest attempt score", good.Score)
	}

	bad := v.Validate("hi", `{"oops": true}`, 0.85)
	if bad.OK {
		t.Fatal("schema failure should fail verdict")
	}
}
