package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

const uploadSchema = `{"type":"object","properties":{"transaction_id":{"type":"string"}},"required":["transaction_id"]}`

func TestValidateSchema(t *testing.T) {
	if err := ValidateSchema("test", []byte(uploadSchema), map[string]any{"transaction_id": "ok"}); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}
	if err := ValidateSchema("test", []byte(uploadSchema), map[string]any{"nope": "bad"}); err == nil {
		t.Fatalf("expected schema validation error")
	}
	if err := ValidateSchema("empty", nil, map[string]any{}); err == nil {
		t.Fatalf("expected empty schema error")
	}
}

func TestCompiledValidatorRawJSON(t *testing.T) {
	v := MustCompile("upload", []byte(uploadSchema))
	if err := v.Validate([]byte(`{"transaction_id":"abc"}`)); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	err := v.Validate(json.RawMessage(`{"transaction_id":5}`))
	if err == nil || !strings.Contains(err.Error(), "upload") {
		t.Fatalf("expected validation error naming schema, got %v", err)
	}
	if err := v.Validate([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCompileInvalidSchema(t *testing.T) {
	if _, err := Compile("bad", []byte(`{"type": 5}`)); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestNormalizeValue(t *testing.T) {
	val, err := normalizeValue(json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("normalize raw: %v", err)
	}
	m, ok := val.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("unexpected normalized value: %#v", val)
	}
	if val, _ := normalizeValue(nil); val != nil {
		t.Fatalf("expected nil")
	}
}

func TestSchemaID(t *testing.T) {
	if schemaID("") != "inmemory://schema" || schemaID("x") != "inmemory://x" {
		t.Fatalf("unexpected schema ids")
	}
}
