package template

import (
	"encoding/json"
	"testing"
)

func TestStripForValidation(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"token inside string", `{"id": "{{$uuid}}"}`},
		{"token as bare value", `{"count": {{$randomInt}}}`},
		{"multiple tokens", `{"a": "{{id}}", "b": {{$randomBool}}, "c": "x-{{request.method}}-y"}`},
		{"no tokens", `{"plain": 1}`},
		{"escaped quote before token", `{"a": "he said \" {{id}}"}`},
		{"nested object", `{"user": {"name": "{{request.body.name}}", "tags": ["{{id}}"]}}`},
	}
	for _, tt := range tests {
		out := StripForValidation(tt.in)
		if !json.Valid([]byte(out)) {
			t.Errorf("%s: stripped form is not valid JSON: %q", tt.name, out)
		}
	}
}

func TestStripForValidationInvalidStaysInvalid(t *testing.T) {
	// A structurally broken document must not be rescued by stripping.
	in := `{"a": {{$randomInt}}`
	if json.Valid([]byte(StripForValidation(in))) {
		t.Fatal("unbalanced document validated after stripping")
	}
}

func TestStripForValidationUnterminatedToken(t *testing.T) {
	// An unterminated token is not rewritten.
	in := `{"a": "{{id"}`
	out := StripForValidation(in)
	if out != in {
		t.Fatalf("unterminated token must pass through, got %q", out)
	}
}
