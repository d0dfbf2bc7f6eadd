package diagnostics

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/aicp/internal/config"
)

func fullValidEnv() Env {
	env := Env{}
	for _, name := range config.RequiredEnvVars {
		env[name] = "x"
	}
	env["AGENTHUB_API_KEYS_JSON"] = `{"key1":"owner-a"}`
	env["AGENTHUB_FEDERATION_DOMAIN_TOKENS_JSON"] = `{"example.com":"secret"}`
	return env
}

func TestEvaluateFailsOnMissingVar(t *testing.T) {
	env := fullValidEnv()
	delete(env, "AGENTHUB_AUTH_TOKEN_SECRET")

	report := Evaluate(env, nil)
	assert.False(t, report.StartupReady)
}

func TestEvaluateFailsOnBadJSON(t *testing.T) {
	env := fullValidEnv()
	env["AGENTHUB_API_KEYS_JSON"] = "{bad-json"

	report := Evaluate(env, nil)
	assert.False(t, report.StartupReady)

	var found bool
	for _, c := range report.Checks {
		if c.Name == "AGENTHUB_API_KEYS_JSON" {
			found = true
			assert.False(t, c.Valid)
			assert.Equal(t, SeverityCritical, c.Severity)
		}
	}
	assert.True(t, found)
}

func TestEvaluateSucceedsWithWritablePath(t *testing.T) {
	env := fullValidEnv()
	dir := t.TempDir()

	report := Evaluate(env, []string{filepath.Join(dir, "identity.db")})
	require.True(t, report.StartupReady)
}
