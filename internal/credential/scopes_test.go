package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttenuateWildcardParent(t *testing.T) {
	got, err := Attenuate([]string{"*"}, []string{"write", "read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, got)
}

func TestAttenuateSubset(t *testing.T) {
	got, err := Attenuate([]string{"read", "write", "admin"}, []string{"write", "read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, got)
}

func TestAttenuateEscalationDenied(t *testing.T) {
	_, err := Attenuate([]string{"read"}, []string{"read", "write"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalation")
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, Has([]string{"*"}, "anything"))
	assert.True(t, Has([]string{"read"}, "read"))
	assert.False(t, Has([]string{"read"}, "write"))
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, minTTL, ClampTTL(time.Second))
	assert.Equal(t, maxTTL, ClampTTL(365*24*time.Hour))
}
