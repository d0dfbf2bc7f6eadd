package idempotency

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idempotency.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReserveClaimThenReplay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hash := RequestHash("POST", "/v1/delegations", "", []byte(`{"a":1}`))

	outcome, _, err := s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeClaimed, outcome)

	outcome, _, err = s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeInProgress, outcome)

	require.NoError(t, s.Commit(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", 200, "application/json", "{}", []byte(`{"ok":true}`)))

	outcome, reservation, err := s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, outcome)
	require.Equal(t, []byte(`{"ok":true}`), reservation.Body)
}

func TestReserveMismatchedPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hash1 := RequestHash("POST", "/v1/delegations", "", []byte(`{"a":1}`))
	hash2 := RequestHash("POST", "/v1/delegations", "", []byte(`{"a":2}`))

	_, _, err := s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash1)
	require.NoError(t, err)

	outcome, _, err := s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash2)
	require.NoError(t, err)
	require.Equal(t, OutcomeMismatch, outcome)
}

func TestClearAllowsRetryWithSameKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hash := RequestHash("POST", "/v1/delegations", "", []byte(`{}`))

	_, _, err := s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx, "t1", "actor1", "POST", "/v1/delegations", "K"))

	outcome, _, err := s.Reserve(ctx, "t1", "actor1", "POST", "/v1/delegations", "K", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeClaimed, outcome)
}
