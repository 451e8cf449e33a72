package domain

import "strings"

// =============================================================================
// Project Names
// =============================================================================

// DefaultProjectName is used when normalization leaves nothing.
const DefaultProjectName = "default"

// NormalizeProjectName converts a name into a valid compose project name.
//
// The transformation rules are:
//   - Lowercase letters, digits, hyphens and underscores are kept
//   - Uppercase letters are converted to lowercase
//   - All other characters are removed
//   - Leading hyphens and underscores are trimmed
//
// This is a pure function with no side effects.
//
// Example:
//
//	NormalizeProjectName("School App")  // returns "schoolapp"
//	NormalizeProjectName("_stack-2.0")  // returns "stack-20"
func NormalizeProjectName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32) // convert to lowercase
		}
		// All other characters are dropped
	}
	out := strings.TrimLeft(b.String(), "-_")
	if out == "" {
		return DefaultProjectName
	}
	return out
}
