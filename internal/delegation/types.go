// Package delegation implements the delegation orchestrator: the stateful
// admission → escrow → execution → settlement → refund flow described in
// spec §4.6.
package delegation

import "time"

// Stage names, emitted in order into Record.Stages.
const (
	StageDiscovery   = "discovery"
	StageNegotiation = "negotiation"
	StageExecution   = "execution"
	StageDelivery    = "delivery"
	StageSettlement  = "settlement"
	StageFeedback    = "feedback"
)

// Request is the caller-supplied payload for POST /v1/delegations.
type Request struct {
	RequesterAgentID string
	DelegateAgentID  string
	EstimatedCost    float64
	MaxBudget        float64
	SimulatedActual  *float64
	AutoReauthorize  bool
	DelegationToken  string
}

// BudgetControls reports the settlement outcome.
type BudgetControls struct {
	State    string  `json:"state"`
	Ratio    float64 `json:"ratio"`
	HardStop bool    `json:"hard_stop"`
}

// Record is the full persisted lifecycle + audit trail for one delegation.
type Record struct {
	DelegationID     string         `db:"delegation_id" json:"delegation_id"`
	RequesterAgentID string         `db:"requester_agent_id" json:"requester_agent_id"`
	DelegateAgentID  string         `db:"delegate_agent_id" json:"delegate_agent_id"`
	EstimatedCost    float64        `db:"estimated_cost" json:"estimated_cost"`
	ActualCost       float64        `db:"actual_cost" json:"actual_cost"`
	Status           string         `db:"status" json:"status"`
	BudgetState      string         `db:"budget_state" json:"budget_state"`
	Ratio            float64        `db:"ratio" json:"ratio"`
	Stages           string         `db:"stages" json:"-"`
	RefundAmount     float64        `db:"refund_amount" json:"refund_amount"`
	DeliveryLatencyMS int64         `db:"delivery_latency_ms" json:"delivery_latency_ms"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// Response is the JSON body returned to the client.
type Response struct {
	DelegationID    string         `json:"delegation_id"`
	Status          string         `json:"status"`
	BudgetControls  BudgetControls `json:"budget_controls"`
	Stages          []string       `json:"stages"`
	RequesterBalance float64       `json:"requester_balance"`
}
