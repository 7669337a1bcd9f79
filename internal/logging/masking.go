// Package logging provides utilities for secure logging with data masking.
package logging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Header names that carry bearer credentials. Their values are logged as
// "****" plus the last four characters, enough to correlate without leaking.
var credentialHeaders = map[string]bool{
	"authorization": true,
	"accesskey":     true,
	"x-api-key":     true,
	"x-access-key":  true,
}

// MaskHeader redacts sensitive header values based on header name.
// Password and secret headers are fully redacted; credential headers keep
// their last four characters. Everything else passes through unchanged.
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") {
		return "[REDACTED]"
	}

	if credentialHeaders[lowerName] {
		return MaskCredential(value)
	}

	return value
}

// MaskCredential formats a credential for logging as "****" plus its last
// four characters. Values shorter than four characters are fully masked.
func MaskCredential(value string) string {
	if len(value) < 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// MaskJSONBody redacts non-allowlisted fields in a JSON body.
//
// A nil allowlist returns the body unchanged. With an allowlist, only the
// named fields keep their values; every other primitive is replaced with
// "[REDACTED]". Bodies that fail to parse come back untouched.
func MaskJSONBody(body []byte, allowlist []string) []byte {
	if allowlist == nil || len(body) == 0 {
		return body
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, field := range allowlist {
		allowed[field] = true
	}

	result, err := json.Marshal(maskJSONValue(data, allowed))
	if err != nil {
		return body
	}
	return result
}

// maskJSONValue recursively masks JSON values based on the allowlist.
// Objects and arrays are always descended into so nested allowed fields
// survive; non-allowlisted primitives are redacted.
func maskJSONValue(value interface{}, allowed map[string]bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			if allowed[key] {
				result[key] = maskJSONValue(val, allowed)
				continue
			}
			switch val.(type) {
			case map[string]interface{}, []interface{}:
				result[key] = maskJSONValue(val, allowed)
			default:
				result[key] = "[REDACTED]"
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = maskJSONValue(item, allowed)
		}
		return result
	default:
		return value
	}
}

// FormatBinaryData formats binary data for logging as a size indicator.
func FormatBinaryData(data []byte) string {
	return fmt.Sprintf("[BINARY: %d bytes]", len(data))
}
