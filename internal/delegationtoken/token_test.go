package delegationtoken

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenthub/aicp/internal/identity"
	"github.com/agenthub/aicp/internal/secrets"
)

func newTestService(t *testing.T) (*Service, *identity.Store) {
	t.Helper()
	t.Setenv("AGENTHUB_IDENTITY_SIGNING_SECRET", "test-signing-secret")

	store, err := identity.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewService(store, secrets.NewEnvProvider()), store
}

func seedAgent(t *testing.T, store *identity.Store, agentID, owner string, scopes []string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: agentID, Owner: owner})
	require.NoError(t, err)
	if scopes != nil {
		_, err = store.InsertCredential(ctx, identity.AgentCredential{
			AgentID: agentID, CredentialHash: "h-" + agentID,
			Scopes: join(scopes), ExpiresAt: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
	}
}

func join(scopes []string) string {
	out := scopes[0]
	for _, s := range scopes[1:] {
		out += "," + s
	}
	return out
}

func TestIssueRootAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedAgent(t, store, "A", "owner-a", []string{"read", "write"})
	seedAgent(t, store, "B", "owner-a", nil)

	issued, err := svc.Issue(ctx, IssueRequest{
		IssuerAgentID: "A", SubjectAgentID: "B",
		RequestedScopes: []string{"read"}, RequestedTTL: time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, 0, issued.Token.ChainDepth)

	result, err := svc.Verify(ctx, issued.Wire)
	require.NoError(t, err)
	require.True(t, result.Valid)
}

func TestIssueChainDepthExceeded(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedAgent(t, store, "A0", "owner-a", []string{"*"})
	for i := 1; i <= 7; i++ {
		seedAgent(t, store, agentName(i), "owner-a", nil)
	}

	prevIssuer := "A0"
	var parentID *string
	// Depths 0..5 must succeed (<=MaxDepth); depth 6 must fail.
	for i := 1; i <= 7; i++ {
		issued, err := svc.Issue(ctx, IssueRequest{
			IssuerAgentID: prevIssuer, SubjectAgentID: agentName(i),
			RequestedScopes: []string{"read"}, RequestedTTL: time.Hour, ParentTokenID: parentID,
		})
		if i == 7 {
			require.Error(t, err)
			return
		}
		require.NoError(t, err)
		parentID = &issued.Token.TokenID
		prevIssuer = agentName(i)
	}
}

func agentName(i int) string {
	return string(rune('A' + i))
}

func TestRevokeCascadeInvalidatesDescendant(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedAgent(t, store, "P1", "owner-a", []string{"read", "write"})
	seedAgent(t, store, "P2", "owner-a", nil)
	seedAgent(t, store, "P3", "owner-a", nil)

	root, err := svc.Issue(ctx, IssueRequest{
		IssuerAgentID: "P1", SubjectAgentID: "P2",
		RequestedScopes: []string{"read", "write"}, RequestedTTL: time.Hour,
	})
	require.NoError(t, err)

	child, err := svc.Issue(ctx, IssueRequest{
		IssuerAgentID: "P2", SubjectAgentID: "P3",
		RequestedScopes: []string{"read"}, RequestedTTL: time.Hour,
		ParentTokenID: &root.Token.TokenID,
	})
	require.NoError(t, err)

	n, err := svc.Revoke(ctx, root.Token.TokenID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	result, err := svc.Verify(ctx, child.Wire)
	require.NoError(t, err)
	require.False(t, result.Valid)
}
