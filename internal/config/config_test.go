// Copyright 2025 James Ross
package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDumpYAMLRedactsSecrets(t *testing.T) {
	cfg := defaultConfig()
	cfg.Redis.Password = "hunter2"
	cfg.ModelAPIKey = "sk-test-key"
	cfg.ControlPlane.EnqueueToken = "enqueue-secret"
	cfg.ControlPlane.WorkerToken = "worker-secret"
	cfg.ControlPlane.AdminToken = "admin-secret"

	out, err := DumpYAML(cfg)
	require.NoError(t, err)

	text := string(out)
	require.NotContains(t, text, "hunter2")
	require.NotContains(t, text, "sk-test-key")
	require.NotContains(t, text, "enqueue-secret")
	require.NotContains(t, text, "worker-secret")
	require.NotContains(t, text, "admin-secret")
	require.True(t, strings.Count(text, "[redacted]") >= 5)

	var roundTripped map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &roundTripped))

	require.Equal(t, "hunter2", cfg.Redis.Password, "DumpYAML must not mutate the source config")
}

func TestDumpYAMLOmitsRedactionWhenSecretsUnset(t *testing.T) {
	cfg := defaultConfig()
	out, err := DumpYAML(cfg)
	require.NoError(t, err)
	require.NotContains(t, string(out), "[redacted]")
}
