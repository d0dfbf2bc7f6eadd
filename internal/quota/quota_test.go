package quota

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuotaConservation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SetQuota(ctx, "agent-1", "api_calls", 5, 60))

	for i := 0; i < 5; i++ {
		ok, err := s.Check(ctx, "agent-1", "api_calls", 1)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := s.Check(ctx, "agent-1", "api_calls", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIPRuleDenyTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.AddIPRule(ctx, "r1", "agent-1", "allow", "10.0.0.0/8"))
	require.NoError(t, s.AddIPRule(ctx, "r2", "agent-1", "deny", "10.0.0.5/32"))

	ok, err := s.CheckIP(ctx, "agent-1", net.ParseIP("10.0.0.5"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CheckIP(ctx, "agent-1", net.ParseIP("10.0.0.9"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNarrowedTokenEscalationDenied(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.IssueNarrowedToken(ctx, "agent-1", []string{"read"}, []string{"read", "write"}, time.Hour)
	require.Error(t, err)
	require.Contains(t, err.Error(), "escalation")
}

func TestJITCredentialRevocationBySandbox(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.IssueJITCredential(ctx, "sandbox-1", "agent-1")
	require.NoError(t, err)

	n, err := s.RevokeJITCredentialsForSandbox(ctx, "sandbox-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
