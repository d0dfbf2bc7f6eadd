package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLeasePromoteHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	l, err := s.CreateLease(ctx, "owner-a", "agent-1", "gpu.run", time.Hour)
	require.NoError(t, err)

	install, err := s.PromoteLease(ctx, PromoteRequest{
		LeaseID: l.LeaseID, CallerOwner: "owner-a",
		PolicyApproved: true, ApprovalTicket: "APR-123",
		CompatibilityVerified: true, AttestationHash: l.AttestationHash,
		Signature: ExpectedSignature(l.AttestationHash, "owner-a"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, install.InstallID)

	// Second identical promote is a no-op replay.
	install2, err := s.PromoteLease(ctx, PromoteRequest{
		LeaseID: l.LeaseID, CallerOwner: "owner-a",
		PolicyApproved: true, ApprovalTicket: "APR-123",
		CompatibilityVerified: true, AttestationHash: l.AttestationHash,
		Signature: ExpectedSignature(l.AttestationHash, "owner-a"),
	})
	require.NoError(t, err)
	require.Equal(t, install.InstallID, install2.InstallID)
}

func TestLeasePromoteRejectsTamperedHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	l, err := s.CreateLease(ctx, "owner-a", "agent-1", "gpu.run", time.Hour)
	require.NoError(t, err)

	_, err = s.PromoteLease(ctx, PromoteRequest{
		LeaseID: l.LeaseID, CallerOwner: "owner-a",
		PolicyApproved: true, ApprovalTicket: "APR-123",
		CompatibilityVerified: true, AttestationHash: "tampered",
		Signature: ExpectedSignature("tampered", "owner-a"),
	})
	require.Error(t, err)
}

func TestLeasePromoteRejectsBadApprovalTicket(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	l, err := s.CreateLease(ctx, "owner-a", "agent-1", "gpu.run", time.Hour)
	require.NoError(t, err)

	_, err = s.PromoteLease(ctx, PromoteRequest{
		LeaseID: l.LeaseID, CallerOwner: "owner-a",
		PolicyApproved: true, ApprovalTicket: "NOPE-1",
		CompatibilityVerified: true, AttestationHash: l.AttestationHash,
		Signature: ExpectedSignature(l.AttestationHash, "owner-a"),
	})
	require.Error(t, err)
}
