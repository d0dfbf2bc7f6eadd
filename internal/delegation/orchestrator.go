package delegation

import (
	"context"
	"time"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/breaker"
	"github.com/agenthub/aicp/internal/budget"
	"github.com/agenthub/aicp/internal/delegationtoken"
	"github.com/agenthub/aicp/internal/identity"
)

// MetricsRecorder receives delegation telemetry; implementations live in
// internal/metrics. Nil is a valid no-op.
type MetricsRecorder interface {
	RecordDelegation(state string, ratio float64, latency time.Duration)
}

// Orchestrator drives the full delegation lifecycle.
type Orchestrator struct {
	identity  *identity.Store
	ledger    *budget.Ledger
	dashboard *breaker.Dashboard
	tokens    *delegationtoken.Service
	records   *RecordStore
	metrics   MetricsRecorder
	clock     func() time.Time
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithTokenService wires delegation-token chain verification into
// admission. Optional — nil skips token verification.
func WithTokenService(svc *delegationtoken.Service) Option {
	return func(o *Orchestrator) { o.tokens = svc }
}

// WithMetrics wires a telemetry recorder. Optional.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator builds a delegation Orchestrator.
func NewOrchestrator(identityStore *identity.Store, ledger *budget.Ledger, dashboard *breaker.Dashboard, records *RecordStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{identity: identityStore, ledger: ledger, dashboard: dashboard, records: records, clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BreakerOpenError carries the breaker's reasons for refusal.
type BreakerOpenError struct {
	Metrics breaker.Metrics
}

func (e *BreakerOpenError) Error() string { return "delegation admission refused: circuit breaker open" }

// Execute runs the full lifecycle for one delegation request.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Response, error) {
	stages := []string{StageDiscovery, StageNegotiation}

	// 1. Admission.
	if o.dashboard != nil {
		state, metrics := o.dashboard.Evaluate()
		if state == breaker.StateOpen {
			return nil, &BreakerOpenError{Metrics: metrics}
		}
	}

	// 2. Identity verification.
	requester, err := o.identity.GetIdentity(ctx, req.RequesterAgentID)
	if err != nil {
		return nil, err
	}
	if requester.Status != identity.IdentityActive {
		return nil, apierrors.New(apierrors.PermissionDenied, "requester identity is not active")
	}
	delegate, err := o.identity.GetIdentity(ctx, req.DelegateAgentID)
	if err != nil {
		return nil, err
	}
	if delegate.Status != identity.IdentityActive {
		return nil, apierrors.New(apierrors.PermissionDenied, "delegate identity is not active")
	}
	if req.DelegationToken != "" && o.tokens != nil {
		result, err := o.tokens.Verify(ctx, req.DelegationToken)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, apierrors.Newf(apierrors.AuthInvalid, "delegation token invalid: %s", result.Reason)
		}
	}

	// 3. Budget precondition.
	if req.EstimatedCost > req.MaxBudget {
		return nil, apierrors.New(apierrors.BudgetHardCeiling, "estimated cost exceeds max budget")
	}

	// 4. Escrow.
	if err := o.ledger.Deduct(ctx, req.RequesterAgentID, req.EstimatedCost, "delegation_escrow"); err != nil {
		return nil, err
	}
	stages = append(stages, StageExecution)

	// 5. Execution simulation.
	started := o.clock()
	actualCost := req.EstimatedCost
	if req.SimulatedActual != nil {
		actualCost = *req.SimulatedActual
	}
	latency := o.clock().Sub(started)
	stages = append(stages, StageDelivery)

	// 6. Settlement.
	state, ratio := budget.Evaluate(req.EstimatedCost, actualCost, req.AutoReauthorize)
	finalStatus := budget.FinalStatus(state)
	stages = append(stages, StageSettlement)

	// 7. Escrow refund.
	refund := req.EstimatedCost - actualCost
	if refund < 0 {
		refund = 0
	}
	if err := o.ledger.Refund(ctx, req.RequesterAgentID, refund, "delegation_refund"); err != nil {
		return nil, err
	}

	// 8. Telemetry.
	stages = append(stages, StageFeedback)
	if o.dashboard != nil {
		o.dashboard.Record(breaker.Sample{
			Success:         state != budget.StateHardStop,
			HardStop:        state == budget.StateHardStop,
			DeliveryLatency: latency,
		})
	}
	if o.metrics != nil {
		o.metrics.RecordDelegation(string(state), ratio, latency)
	}

	balance, err := o.ledger.Balance(ctx, req.RequesterAgentID)
	if err != nil {
		return nil, err
	}

	// 9. Persistence.
	stagesCSV := joinStages(stages)
	rec, err := o.records.Insert(ctx, Record{
		RequesterAgentID:  req.RequesterAgentID,
		DelegateAgentID:   req.DelegateAgentID,
		EstimatedCost:     req.EstimatedCost,
		ActualCost:        actualCost,
		Status:            finalStatus,
		BudgetState:        string(state),
		Ratio:             ratio,
		Stages:            stagesCSV,
		RefundAmount:      refund,
		DeliveryLatencyMS: latency.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		DelegationID: rec.DelegationID,
		Status:       finalStatus,
		BudgetControls: BudgetControls{
			State:    string(state),
			Ratio:    ratio,
			HardStop: state == budget.StateHardStop,
		},
		Stages:           stages,
		RequesterBalance: balance,
	}, nil
}

func joinStages(stages []string) string {
	out := stages[0]
	for _, s := range stages[1:] {
		out += "," + s
	}
	return out
}
