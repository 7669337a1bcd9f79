package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestMaskHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		value    string
		expected string
	}{
		// Password/secret headers (full redaction)
		{"password header", "Password", "secret123", "[REDACTED]"},
		{"x-password", "X-Password", "mypass", "[REDACTED]"},
		{"secret header", "X-Secret", "topsecret", "[REDACTED]"},
		{"private key", "Private-Key", "key123", "[REDACTED]"},
		{"uppercase password", "PASSWORD", "secret", "[REDACTED]"},

		// Credential headers (last 4 chars)
		{"authorization bearer", "Authorization", "Bearer token-value-1234", "****1234"},
		{"x-api-key header", "X-Api-Key", "keygate_live_00ab", "****00ab"},
		{"accesskey header", "AccessKey", "api-key-12345678", "****5678"},
		{"x-access-key header", "X-Access-Key", "mykey123456", "****3456"},
		{"uppercase auth", "AUTHORIZATION", "secret-abcd", "****abcd"},
		{"lowercase auth", "authorization", "mysecret9999", "****9999"},
		{"short token", "Authorization", "abc", "****"},
		{"empty value", "Authorization", "", "****"},

		// Non-sensitive headers (unchanged)
		{"content-type", "Content-Type", "application/json", "application/json"},
		{"user-agent", "User-Agent", "test-client/1.0", "test-client/1.0"},
		{"request id", "X-Request-ID", "abc-123", "abc-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := MaskHeader(tt.header, tt.value)
			if result != tt.expected {
				t.Errorf("MaskHeader(%q, %q) = %q, want %q", tt.header, tt.value, result, tt.expected)
			}
		})
	}
}

func TestMaskCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value    string
		expected string
	}{
		{"keygate_live_0123456789abcdef", "****cdef"},
		{"1234", "****1234"},
		{"123", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		if got := MaskCredential(tt.value); got != tt.expected {
			t.Errorf("MaskCredential(%q) = %q, want %q", tt.value, got, tt.expected)
		}
	}
}

func TestMaskJSONBody(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		allowlist []string
		wantJSON  string
	}{
		{
			name:      "nil allowlist returns unchanged",
			body:      `{"email":"alice@example.com","password":"secret"}`,
			allowlist: nil,
			wantJSON:  `{"email":"alice@example.com","password":"secret"}`,
		},
		{
			name:      "login body hides the password",
			body:      `{"email":"alice@example.com","password":"hunter2"}`,
			allowlist: []string{"email"},
			wantJSON:  `{"email":"alice@example.com","password":"[REDACTED]"}`,
		},
		{
			name:      "key creation response hides the plaintext",
			body:      `{"id":"k-1","name":"ci-deploy","key":"keygate_live_ff"}`,
			allowlist: []string{"id", "name"},
			wantJSON:  `{"id":"k-1","name":"ci-deploy","key":"[REDACTED]"}`,
		},
		{
			name:      "empty allowlist redacts all primitives",
			body:      `{"user":"alice","token":"secret"}`,
			allowlist: []string{},
			wantJSON:  `{"user":"[REDACTED]","token":"[REDACTED]"}`,
		},
		{
			name:      "nested objects are descended into",
			body:      `{"user":"alice","session":{"token":"secret","expires_at":1234}}`,
			allowlist: []string{"user", "expires_at"},
			wantJSON:  `{"user":"alice","session":{"token":"[REDACTED]","expires_at":1234}}`,
		},
		{
			name:      "arrays keep structure",
			body:      `[{"id":"a","key":"s1"},{"id":"b","key":"s2"}]`,
			allowlist: []string{"id"},
			wantJSON:  `[{"id":"a","key":"[REDACTED]"},{"id":"b","key":"[REDACTED]"}]`,
		},
		{
			name:      "null values survive",
			body:      `{"id":1,"revoked_at":null}`,
			allowlist: []string{"id", "revoked_at"},
			wantJSON:  `{"id":1,"revoked_at":null}`,
		},
		{
			name:      "invalid json returns unchanged",
			body:      `not valid json`,
			allowlist: []string{"field"},
			wantJSON:  `not valid json`,
		},
		{
			name:      "empty body",
			body:      ``,
			allowlist: []string{"field"},
			wantJSON:  ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := MaskJSONBody([]byte(tt.body), tt.allowlist)

			// Compare as JSON to ignore key ordering and whitespace
			if !jsonEqual(result, []byte(tt.wantJSON)) {
				t.Errorf("MaskJSONBody(...) = %s, want %s", string(result), tt.wantJSON)
			}
		})
	}
}

func TestFormatBinaryData(t *testing.T) {
	t.Parallel()

	if got := FormatBinaryData([]byte{0x00, 0x01, 0x02}); got != "[BINARY: 3 bytes]" {
		t.Errorf("FormatBinaryData = %q", got)
	}
	if got := FormatBinaryData(nil); got != "[BINARY: 0 bytes]" {
		t.Errorf("FormatBinaryData(nil) = %q", got)
	}
}

// jsonEqual compares two JSON documents structurally; non-JSON inputs are
// compared byte for byte.
func jsonEqual(a, b []byte) bool {
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return bytes.Equal(a, b)
	}
	na, err := json.Marshal(va)
	if err != nil {
		return false
	}
	nb, err := json.Marshal(vb)
	if err != nil {
		return false
	}
	return bytes.Equal(na, nb)
}
