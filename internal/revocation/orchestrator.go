// Package revocation implements the kill-switch: cascading revocation of
// an agent's credentials and delegation tokens, with an always-executed
// terminal status transition.
package revocation

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/identity"
)

// LeaseRevoker is the optional external collaborator invoked during
// cascade revocation; lease management lives outside this package.
type LeaseRevoker interface {
	RevokeLeasesForAgent(ctx context.Context, agentID, reason string) (int, error)
}

// Orchestrator runs the multi-step revocation sequence described in
// spec §4.5.
type Orchestrator struct {
	store  *identity.Store
	leases LeaseRevoker
	log    *logrus.Logger
}

// NewOrchestrator builds a revocation Orchestrator. leases may be nil.
func NewOrchestrator(store *identity.Store, leases LeaseRevoker, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{store: store, leases: leases, log: log}
}

// Result reports the aggregate effect of a revoke_agent call.
type Result struct {
	AgentID         string
	RevokedCredentials int
	RevokedTokens   int
	RevokedLeases   int
}

// RevokeAgent runs the full cascade. Step 5 (terminal status transition)
// always executes, even if earlier steps partially fail, so the agent is
// never left partially revoked.
func (o *Orchestrator) RevokeAgent(ctx context.Context, agentID, actor, reason string) (*Result, error) {
	id, err := o.store.GetIdentity(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if id.Owner != actor {
		return nil, apierrors.New(apierrors.PermissionDenied, "actor does not own this identity")
	}

	result := &Result{AgentID: agentID}
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := o.store.RevokeAllCredentials(ctx, agentID, reason)
	result.RevokedCredentials = n
	note(err)

	n, err = o.store.RevokeTokensForAgent(ctx, agentID)
	result.RevokedTokens = n
	note(err)

	if o.leases != nil {
		n, err = o.leases.RevokeLeasesForAgent(ctx, agentID, reason)
		result.RevokedLeases = n
		note(err)
	}

	// Step 5 always executes.
	if err := o.store.UpdateStatus(ctx, agentID, identity.IdentityRevoked); err != nil {
		note(err)
	}

	cascade := result.RevokedCredentials + result.RevokedTokens + result.RevokedLeases
	if _, err := o.store.AppendRevocationEvent(ctx, identity.RevocationEvent{
		RevokedType:  "agent_identity",
		RevokedID:    agentID,
		AgentID:      agentID,
		Reason:       reason,
		Actor:        actor,
		CascadeCount: cascade,
	}); err != nil {
		o.log.WithError(err).WithField("agent_id", agentID).Error("failed to append revocation event")
		note(err)
	}

	if firstErr != nil {
		return result, firstErr
	}
	return result, nil
}

// BulkResult is one agent's outcome within a BulkRevoke call.
type BulkResult struct {
	AgentID string
	Result  *Result
	Err     error
}

// BulkRevoke repeats RevokeAgent over a list of agents, recording
// per-agent success/failure without aborting the batch on an error.
func (o *Orchestrator) BulkRevoke(ctx context.Context, agentIDs []string, actor, reason string) []BulkResult {
	out := make([]BulkResult, 0, len(agentIDs))
	for _, id := range agentIDs {
		res, err := o.RevokeAgent(ctx, id, actor, reason)
		out = append(out, BulkResult{AgentID: id, Result: res, Err: err})
	}
	return out
}
