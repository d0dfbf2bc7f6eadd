package delegation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/budget"
	"github.com/agenthub/aicp/internal/identity"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *identity.Store) {
	t.Helper()
	idStore, err := identity.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idStore.Close() })

	ledger, err := budget.OpenLedger(filepath.Join(t.TempDir(), "budget.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	records, err := OpenRecordStore(filepath.Join(t.TempDir(), "delegation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	ctx := context.Background()
	_, err = idStore.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: "requester", Owner: "owner-a"})
	require.NoError(t, err)
	_, err = idStore.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: "delegate", Owner: "owner-a"})
	require.NoError(t, err)

	return NewOrchestrator(idStore, ledger, nil, records), idStore
}

func float64Ptr(f float64) *float64 { return &f }

func TestExecuteSoftAlert(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	resp, err := orch.Execute(ctx, Request{
		RequesterAgentID: "requester", DelegateAgentID: "delegate",
		EstimatedCost: 10, MaxBudget: 20, SimulatedActual: float64Ptr(8),
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "soft_alert", resp.BudgetControls.State)
	assert.Equal(t, []string{StageDiscovery, StageNegotiation, StageExecution, StageDelivery, StageSettlement, StageFeedback}, resp.Stages)
	assert.Equal(t, float64(92), resp.RequesterBalance)
}

func TestExecuteHardCeilingRejection(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	_, err := orch.Execute(ctx, Request{
		RequesterAgentID: "requester", DelegateAgentID: "delegate",
		EstimatedCost: 50, MaxBudget: 20,
	})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.BudgetHardCeiling, apiErr.Code)
	assert.Equal(t, 400, apiErr.Code.Status())
}

func TestExecuteHardStop(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	resp, err := orch.Execute(ctx, Request{
		RequesterAgentID: "requester", DelegateAgentID: "delegate",
		EstimatedCost: 10, MaxBudget: 20, SimulatedActual: float64Ptr(12.5),
	})
	require.NoError(t, err)
	assert.Equal(t, "failed_hard_stop", resp.Status)
	assert.True(t, resp.BudgetControls.HardStop)
}
