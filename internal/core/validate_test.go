package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateEnqueueRequest_Valid(t *testing.T) {
	req := &EnqueueRequest{
		TenantID: "acme",
		Type:     "cost.ingest",
		Payload:  json.RawMessage(`{"source":"aws"}`),
	}
	if err := ValidateEnqueueRequest(req); err != nil {
		t.Errorf("ValidateEnqueueRequest() unexpected error: %v", err)
	}
}

func TestValidateEnqueueRequest_MissingTenant(t *testing.T) {
	req := &EnqueueRequest{
		Type: "cost.ingest",
	}
	err := ValidateEnqueueRequest(req)
	if err == nil {
		t.Fatal("ValidateEnqueueRequest() expected error for missing tenant_id")
	}
	if err.Code != ErrCodeInvalidRequest {
		t.Errorf("error code = %q, want %q", err.Code, ErrCodeInvalidRequest)
	}
}

func TestValidateEnqueueRequest_MissingType(t *testing.T) {
	req := &EnqueueRequest{
		TenantID: "acme",
	}
	err := ValidateEnqueueRequest(req)
	if err == nil {
		t.Fatal("ValidateEnqueueRequest() expected error for missing job_type")
	}
	if err.Code != ErrCodeInvalidRequest {
		t.Errorf("error code = %q, want %q", err.Code, ErrCodeInvalidRequest)
	}
}

func TestValidateEnqueueRequest_InvalidTypeFormat(t *testing.T) {
	tests := []string{
		"UPPERCASE",
		"123start",
		"has spaces",
		"special!chars",
		".leading-dot",
		"trailing.",
	}
	for _, typ := range tests {
		req := &EnqueueRequest{
			TenantID: "acme",
			Type:     typ,
		}
		if err := ValidateEnqueueRequest(req); err == nil {
			t.Errorf("ValidateEnqueueRequest(job_type=%q) expected error", typ)
		}
	}
}

func TestValidateEnqueueRequest_ValidTypes(t *testing.T) {
	tests := []string{
		"ingest",
		"cost.ingest",
		"attribution.rollup",
		"carbon.compute",
		"remediation.apply",
		"my-job.sub-type",
		"a1.b2.c3",
	}
	for _, typ := range tests {
		req := &EnqueueRequest{
			TenantID: "acme",
			Type:     typ,
		}
		if err := ValidateEnqueueRequest(req); err != nil {
			t.Errorf("ValidateEnqueueRequest(job_type=%q) unexpected error: %v", typ, err)
		}
	}
}

func TestValidateEnqueueRequest_TenantWithWhitespace(t *testing.T) {
	req := &EnqueueRequest{
		TenantID: "acme corp",
		Type:     "cost.ingest",
	}
	if err := ValidateEnqueueRequest(req); err == nil {
		t.Fatal("expected error for tenant_id containing whitespace")
	}
}

func TestValidateEnqueueRequest_TenantTooLong(t *testing.T) {
	req := &EnqueueRequest{
		TenantID: strings.Repeat("a", maxTenantIDLength+1),
		Type:     "cost.ingest",
	}
	if err := ValidateEnqueueRequest(req); err == nil {
		t.Fatal("expected error for oversized tenant_id")
	}
}

func TestValidateEnqueueRequest_DedupKeyTooLong(t *testing.T) {
	req := &EnqueueRequest{
		TenantID: "acme",
		Type:     "cost.ingest",
		DedupKey: strings.Repeat("k", maxDedupKeyLength+1),
	}
	if err := ValidateEnqueueRequest(req); err == nil {
		t.Fatal("expected error for oversized dedup_key")
	}
}

func TestValidateEnqueueRequest_NonObjectPayload(t *testing.T) {
	tests := []json.RawMessage{
		json.RawMessage(`[1, 2]`),
		json.RawMessage(`"text"`),
		json.RawMessage(`42`),
		json.RawMessage(`null`),
	}
	for _, payload := range tests {
		req := &EnqueueRequest{
			TenantID: "acme",
			Type:     "cost.ingest",
			Payload:  payload,
		}
		if err := ValidateEnqueueRequest(req); err == nil {
			t.Errorf("ValidateEnqueueRequest(payload=%s) expected error", payload)
		}
	}
}

func TestValidateEnqueueRequest_EmptyPayloadAllowed(t *testing.T) {
	req := &EnqueueRequest{
		TenantID: "acme",
		Type:     "cost.ingest",
	}
	if err := ValidateEnqueueRequest(req); err != nil {
		t.Errorf("empty payload should be allowed, got: %v", err)
	}
}

func TestValidateEnqueueRequest_MaxAttemptsRange(t *testing.T) {
	valid := []int{0, 1, 5, maxAttemptsLimit}
	for _, n := range valid {
		req := &EnqueueRequest{
			TenantID:    "acme",
			Type:        "cost.ingest",
			MaxAttempts: n,
		}
		if err := ValidateEnqueueRequest(req); err != nil {
			t.Errorf("unexpected error for max_attempts=%d: %v", n, err)
		}
	}

	invalid := []int{-1, maxAttemptsLimit + 1, 100}
	for _, n := range invalid {
		req := &EnqueueRequest{
			TenantID:    "acme",
			Type:        "cost.ingest",
			MaxAttempts: n,
		}
		if err := ValidateEnqueueRequest(req); err == nil {
			t.Errorf("expected error for max_attempts=%d", n)
		}
	}
}

func TestDetectJSONType(t *testing.T) {
	tests := []struct {
		input json.RawMessage
		want  string
	}{
		{json.RawMessage(`"hello"`), "string"},
		{json.RawMessage(`42`), "number"},
		{json.RawMessage(`true`), "boolean"},
		{json.RawMessage(`false`), "boolean"},
		{json.RawMessage(`null`), "null"},
		{json.RawMessage(`{}`), "object"},
		{json.RawMessage(`[]`), "array"},
		{json.RawMessage(``), "empty"},
	}

	for _, tt := range tests {
		got := detectJSONType(tt.input)
		if got != tt.want {
			t.Errorf("detectJSONType(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
