package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/adapters/driven/auth"
	"github.com/custodia-labs/tutor-core/internal/config"
)

func TestTokenCmd(t *testing.T) {
	t.Setenv("TUTOR_AUTH_JWT_SECRET", "test-secret")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "owner-1", "--name", "Ada", "--log-format", "text"})
	require.NoError(t, cmd.Execute())

	token := strings.TrimSpace(out.String())
	claims, err := auth.NewAdapter("test-secret", "tutor-core").ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.Subject)
	assert.Equal(t, "Ada", claims.Name)
}

func TestTokenCmd_NoSecret(t *testing.T) {
	t.Setenv("TUTOR_AUTH_JWT_SECRET", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "owner-1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Setenv("TUTOR_WORKER_CONCURRENCY", "0")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "owner-1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.concurrency")
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "all", "migrate", "token"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "debug", Format: "text"})
	assert.True(t, logger.Enabled(t.Context(), -4))

	logger = newLogger(config.LogConfig{Level: "nonsense", Format: "json"})
	assert.False(t, logger.Enabled(t.Context(), -4))
}
