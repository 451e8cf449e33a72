package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcile(t *testing.T) {
	tests := []struct {
		name        string
		labels      map[string]string
		wantProject string
		wantService string
	}{
		{
			name:        "docker only",
			labels:      map[string]string{"com.docker.compose.project": "demo", "com.docker.compose.service": "db"},
			wantProject: "demo",
			wantService: "db",
		},
		{
			name:        "podman only",
			labels:      map[string]string{"io.podman.compose.project": "demo", "io.podman.compose.service": "db"},
			wantProject: "demo",
			wantService: "db",
		},
		{
			name: "docker empty falls through to podman",
			labels: map[string]string{
				"com.docker.compose.project": "",
				"io.podman.compose.project":  "demo",
				"io.podman.compose.service":  "db",
			},
			wantProject: "demo",
			wantService: "db",
		},
		{
			name: "docker preferred when both set",
			labels: map[string]string{
				"com.docker.compose.project": "a",
				"io.podman.compose.project":  "b",
			},
			wantProject: "a",
		},
		{
			name:   "no labels",
			labels: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantProject, Project(tt.labels))
			assert.Equal(t, tt.wantService, Service(tt.labels))
		})
	}
}

func TestMatches(t *testing.T) {
	l := map[string]string{"io.podman.compose.project": "demo", "io.podman.compose.service": "db"}

	assert.True(t, Matches(l, "demo", ""))
	assert.True(t, Matches(l, "demo", "db"))
	assert.False(t, Matches(l, "demo", "web"))
	assert.False(t, Matches(l, "other", ""))
	assert.False(t, Matches(l, "", ""))
}

func TestFilters(t *testing.T) {
	assert.Equal(t, "com.docker.compose.project=demo", ProjectFilter(Docker, "demo"))
	assert.Equal(t, "io.podman.compose.service=db", ServiceFilter(Podman, "db"))
	assert.Len(t, All(), 2)
}

func TestIsOneOff(t *testing.T) {
	assert.True(t, IsOneOff(map[string]string{OneOffKey: "True"}))
	assert.True(t, IsOneOff(map[string]string{OneOffKey: "true"}))
	assert.False(t, IsOneOff(map[string]string{OneOffKey: "False"}))
	assert.False(t, IsOneOff(nil))
}
