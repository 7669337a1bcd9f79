package apikey

// Scope is a named capability an API key is authorized for.
type Scope string

const (
	// ScopeRead allows read-only access.
	ScopeRead Scope = "read"
	// ScopeWrite allows create and update access.
	ScopeWrite Scope = "write"
	// ScopeDelete allows delete access.
	ScopeDelete Scope = "delete"
	// ScopeAdmin allows administrative operations.
	ScopeAdmin Scope = "admin"
	// ScopeWildcard grants every capability.
	ScopeWildcard Scope = "*"
)

// ValidScope reports whether a string names a known scope.
func ValidScope(s string) bool {
	switch Scope(s) {
	case ScopeRead, ScopeWrite, ScopeDelete, ScopeAdmin, ScopeWildcard:
		return true
	}
	return false
}

// hasScope reports whether the scope list contains the scope or the wildcard.
func hasScope(scopes []string, scope Scope) bool {
	for _, s := range scopes {
		if s == string(scope) || s == string(ScopeWildcard) {
			return true
		}
	}
	return false
}
