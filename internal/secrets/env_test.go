package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderGet(t *testing.T) {
	t.Setenv("AGENTHUB_IDENTITY_SIGNING_SECRET", "s3cr3t")

	p := NewEnvProvider()
	value, err := p.Get(IdentitySigning)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)
}

func TestEnvProviderGetMissing(t *testing.T) {
	t.Setenv("AGENTHUB_POLICY_SIGNING_SECRET", "")

	p := NewEnvProvider()
	_, err := p.Get(PolicySigning)
	assert.Error(t, err)
}

func TestEnvProviderGetUnknownName(t *testing.T) {
	p := NewEnvProvider()
	_, err := p.Get(Name("bogus"))
	assert.Error(t, err)
}
