// Package credential implements secret issuance, rotation, and the scope
// set algebra shared by the credential and delegation-token services.
package credential

import (
	"sort"
	"strings"

	"github.com/agenthub/aicp/internal/apierrors"
)

const wildcardScope = "*"

// SplitScopes parses the stored comma-separated scope string into a slice.
func SplitScopes(scopes string) []string {
	if scopes == "" {
		return nil
	}
	return strings.Split(scopes, ",")
}

// JoinScopes renders a scope slice into the stored comma-separated form,
// sorted and deduplicated.
func JoinScopes(scopes []string) string {
	return strings.Join(Dedup(scopes), ",")
}

// Dedup sorts and deduplicates a scope slice.
func Dedup(scopes []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Has reports whether granted permits required, honoring the wildcard.
func Has(granted []string, required string) bool {
	for _, g := range granted {
		if g == wildcardScope || g == required {
			return true
		}
	}
	return false
}

// Attenuate narrows requested against parent, honoring a wildcard parent.
// It fails with INVALID_ARGUMENT if requested is not a subset of parent.
func Attenuate(parent, requested []string) ([]string, error) {
	if Has(parent, wildcardScope) {
		return Dedup(requested), nil
	}

	granted := map[string]bool{}
	for _, p := range parent {
		granted[p] = true
	}
	for _, r := range requested {
		if !granted[r] {
			return nil, apierrors.Newf(apierrors.InvalidArgument,
				"scope escalation: %q is not granted by parent scopes", r)
		}
	}
	return Dedup(requested), nil
}
