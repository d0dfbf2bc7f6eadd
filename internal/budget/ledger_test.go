package budget

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerDeductAndRefundConserveBalance(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "budget.db"), 100)
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.Deduct(ctx, "agent-1", 10, "escrow"))
	require.NoError(t, ledger.Refund(ctx, "agent-1", 2, "refund"))

	bal, err := ledger.Balance(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, float64(92), bal)

	sum, err := ledger.SumLedger(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, float64(-8), sum)
}

func TestLedgerInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "budget.db"), 5)
	require.NoError(t, err)
	defer ledger.Close()

	err = ledger.Deduct(ctx, "agent-2", 50, "escrow")
	require.Error(t, err)
}

func TestEvaluateStateMachine(t *testing.T) {
	state, ratio := Evaluate(10, 8, false)
	assert.Equal(t, StateSoftAlert, state)
	assert.Equal(t, 0.8, ratio)

	state, _ = Evaluate(20, 25, false)
	assert.Equal(t, StateHardStop, state)

	state, _ = Evaluate(20, 20, false)
	assert.Equal(t, StateReauthorizationRequired, state)

	state, _ = Evaluate(20, 5, false)
	assert.Equal(t, StateOK, state)
}
