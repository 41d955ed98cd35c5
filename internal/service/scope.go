package service

import "strings"

// ValidateRequestedScope checks every space-separated token in scope
// against the client's allow-list.  An empty scope string is itself an
// error: the authorize endpoint requires an explicit scope.
func ValidateRequestedScope(scope string, allowed []string) error {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return Validation("invalid_scope", "scope is required")
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowedSet[s]; !ok {
			return Validation("invalid_scope", "scope not allowed for this client: "+s)
		}
	}
	return nil
}

// EnforceScopeSubset resolves the effective scope of a token request.  When
// requested is empty the authorized scope is used verbatim.  When present,
// every requested token must be a member of the authorized set: token
// requests may narrow but never widen scope relative to the original grant.
func EnforceScopeSubset(authorized, requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return authorized, nil
	}
	authorizedSet := make(map[string]struct{})
	for _, s := range strings.Fields(authorized) {
		authorizedSet[s] = struct{}{}
	}
	for _, s := range strings.Fields(requested) {
		if _, ok := authorizedSet[s]; !ok {
			return "", Validation("invalid_scope", "requested scope exceeds the authorized grant")
		}
	}
	return requested, nil
}

// ScopeContains reports whether a space-separated scope string contains
// the given member.
func ScopeContains(scope, member string) bool {
	for _, s := range strings.Fields(scope) {
		if s == member {
			return true
		}
	}
	return false
}
