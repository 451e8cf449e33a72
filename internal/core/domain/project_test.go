package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// NormalizeProjectName Tests
// =============================================================================

func TestNormalizeProjectName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", "school-stack", "school-stack"},
		{"uppercase", "SCHOOL", "school"},
		{"spaces removed", "School App", "schoolapp"},
		{"underscores kept", "school_ops", "school_ops"},
		{"punctuation removed", "my.stack!", "mystack"},
		{"leading separators trimmed", "__-stack", "stack"},
		{"digits kept", "stack2026", "stack2026"},
		{"empty", "", DefaultProjectName},
		{"only special chars", "!@#$%", DefaultProjectName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeProjectName(tt.in))
		})
	}
}
