package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host          string
		containerized bool
		want          string
	}{
		{"localhost", false, "localhost"},
		{"localhost", true, "host.docker.internal"},
		{"127.0.0.1", true, "host.docker.internal"},
		{"::1", true, "host.docker.internal"},
		{"sql.example.com", true, "sql.example.com"},
		{"192.168.1.100", true, "192.168.1.100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveHost(tt.host, tt.containerized), "host=%s containerized=%v", tt.host, tt.containerized)
	}
}

func TestResolveHostForDocker_RemoteHostUnchanged(t *testing.T) {
	assert.Equal(t, "sql.example.com", ResolveHostForDocker("sql.example.com"))
}
