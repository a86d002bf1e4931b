package core

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	maxTenantIDLength = 128
	maxDedupKeyLength = 512
	maxAttemptsLimit  = 20
)

// Job type names are lowercase dotted identifiers: "cost.ingest",
// "carbon.compute", "remediation.apply".
var jobTypeRe = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z0-9-]+)*$`)

// ValidJobType reports whether name is a well-formed job type name.
func ValidJobType(name string) bool {
	return jobTypeRe.MatchString(name)
}

// ValidateEnqueueRequest applies semantic checks to a parsed enqueue
// request. It returns nil when the request is acceptable.
func ValidateEnqueueRequest(req *EnqueueRequest) *EngineError {
	if req.TenantID == "" {
		return NewInvalidRequestError("tenant_id is required", nil)
	}
	if len(req.TenantID) > maxTenantIDLength {
		return NewValidationError("tenant_id exceeds maximum length", map[string]any{
			"max_length": maxTenantIDLength,
		})
	}
	if strings.ContainsAny(req.TenantID, " \t\n") {
		return NewValidationError("tenant_id must not contain whitespace", nil)
	}

	if req.Type == "" {
		return NewInvalidRequestError("job_type is required", nil)
	}
	if !ValidJobType(req.Type) {
		return NewValidationError("job_type must be a lowercase dotted identifier", map[string]any{
			"job_type": req.Type,
		})
	}

	if len(req.DedupKey) > maxDedupKeyLength {
		return NewValidationError("dedup_key exceeds maximum length", map[string]any{
			"max_length": maxDedupKeyLength,
		})
	}

	if len(req.Payload) > 0 {
		if t := detectJSONType(req.Payload); t != "object" {
			return NewValidationError("payload must be a JSON object", map[string]any{
				"got": t,
			})
		}
	}

	if req.MaxAttempts < 0 || req.MaxAttempts > maxAttemptsLimit {
		return NewValidationError("max_attempts out of range", map[string]any{
			"max": maxAttemptsLimit,
		})
	}

	return nil
}

// detectJSONType names the top-level JSON type of raw for error messages.
func detectJSONType(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "empty"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
