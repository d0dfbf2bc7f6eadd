package identity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenthub/aicp/internal/secrets"
)

func newAttestationTestService(t *testing.T) (*AttestationService, *Store) {
	t.Helper()
	t.Setenv("AGENTHUB_PROVENANCE_SIGNING_SECRET", "test-provenance-secret")

	store := newTestStore(t)
	return NewAttestationService(store, secrets.NewEnvProvider()), store
}

func TestAttestationIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, store := newAttestationTestService(t)

	require.NoError(t, store.RegisterTrustedDomain(ctx, "partner.example.com"))

	att, err := svc.Issue(ctx, "agent-1", "partner.example.com", time.Hour)
	require.NoError(t, err)

	result, err := svc.Verify(ctx, att.AttestationID)
	require.NoError(t, err)
	require.True(t, result.Valid)
}

func TestAttestationIssueRejectsUntrustedDomain(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttestationTestService(t)

	_, err := svc.Issue(ctx, "agent-1", "unknown.example.com", time.Hour)
	require.Error(t, err)
}

func TestAttestationRevokedDomainInvalidatesOnVerify(t *testing.T) {
	ctx := context.Background()
	svc, store := newAttestationTestService(t)

	require.NoError(t, store.RegisterTrustedDomain(ctx, "partner.example.com"))
	att, err := svc.Issue(ctx, "agent-1", "partner.example.com", time.Hour)
	require.NoError(t, err)

	result, err := svc.Verify(ctx, att.AttestationID)
	require.NoError(t, err)
	require.True(t, result.Valid)

	require.NoError(t, store.RevokeTrustedDomain(ctx, "partner.example.com"))

	result, err = svc.Verify(ctx, att.AttestationID)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "domain_revoked", result.Reason)
}

func TestAttestationVerifyExpired(t *testing.T) {
	ctx := context.Background()
	svc, store := newAttestationTestService(t)
	require.NoError(t, store.RegisterTrustedDomain(ctx, "partner.example.com"))

	att, err := svc.Issue(ctx, "agent-1", "partner.example.com", -time.Minute)
	require.NoError(t, err)

	result, err := svc.Verify(ctx, att.AttestationID)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "expired", result.Reason)
}
