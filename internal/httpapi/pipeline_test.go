package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/aicp/internal/breaker"
	"github.com/agenthub/aicp/internal/budget"
	"github.com/agenthub/aicp/internal/credential"
	"github.com/agenthub/aicp/internal/delegation"
	"github.com/agenthub/aicp/internal/delegationtoken"
	"github.com/agenthub/aicp/internal/idempotency"
	"github.com/agenthub/aicp/internal/identity"
	"github.com/agenthub/aicp/internal/lease"
	"github.com/agenthub/aicp/internal/metrics"
	"github.com/agenthub/aicp/internal/quota"
	"github.com/agenthub/aicp/internal/revocation"
	"github.com/agenthub/aicp/internal/secrets"
)

// staticSecrets is a fixed-value secrets.Provider for tests, standing in
// for the env/vault providers wired in cmd/aicpd.
type staticSecrets struct{ value string }

func (s staticSecrets) Get(secrets.Name) (string, error) { return s.value, nil }

// newTestRouter wires a full in-process Deps against tempdir-backed
// sqlite stores, mirroring cmd/aicpd's wiring so the pipeline test
// exercises the real middleware chain end to end.
func newTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	identityStore, err := identity.Open(filepath.Join(dir, "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { identityStore.Close() })

	ledger, err := budget.OpenLedger(filepath.Join(dir, "delegation.db.ledger"), 1000)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	records, err := delegation.OpenRecordStore(filepath.Join(dir, "delegation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	leaseStore, err := lease.Open(filepath.Join(dir, "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { leaseStore.Close() })

	quotaStore, err := quota.Open(filepath.Join(dir, "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { quotaStore.Close() })

	idemStore, err := idempotency.Open(filepath.Join(dir, "idempotency.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idemStore.Close() })

	secretProvider := staticSecrets{value: "test-signing-secret"}
	credentialSvc := credential.NewService(identityStore, secretProvider)
	tokenSvc := delegationtoken.NewService(identityStore, secretProvider)
	attestationSvc := identity.NewAttestationService(identityStore, secretProvider)
	dashboard := breaker.NewDashboard(50, 10, 1500*time.Millisecond, 0.99)
	metricsRegistry := metrics.New()
	delegationOrch := delegation.NewOrchestrator(identityStore, ledger, dashboard, records,
		delegation.WithTokenService(tokenSvc),
		delegation.WithMetrics(metricsRegistry),
	)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	revocationOrch := revocation.NewOrchestrator(identityStore, leaseStore, logger)

	cfg := viper.New()
	cfg.SetDefault("access.enforcement_mode", "enforce")
	cfg.SetDefault("request.timeout_seconds", 30)
	cfg.SetDefault("rate_limit.default", 1000)
	cfg.SetDefault("cors.origins", "*")

	deps, err := NewDeps(cfg, logger)
	require.NoError(t, err)
	deps.ownerAPIKeys = map[string]string{"test-api-key": "owner-1"}
	deps.Secrets = secretProvider
	deps.Identity = identityStore
	deps.Attestations = attestationSvc
	deps.Credential = credentialSvc
	deps.Tokens = tokenSvc
	deps.Revocation = revocationOrch
	deps.Budget = ledger
	deps.Breaker = dashboard
	deps.Delegation = delegationOrch
	deps.DelegationRecords = records
	deps.Lease = leaseStore
	deps.Quota = quotaStore
	deps.Idempotent = idemStore
	deps.Metrics = metricsRegistry

	return NewRouter(deps), "test-api-key"
}

func doJSON(t *testing.T, router *gin.Engine, method, path, apiKey, idemKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerAgent(t *testing.T, router *gin.Engine, apiKey, agentID string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/identities", apiKey, "reg-"+agentID, map[string]interface{}{
		"agent_id":        agentID,
		"credential_type": "api_key",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// TestDelegationLifecycleSoftAlert covers scenario S1.
func TestDelegationLifecycleSoftAlert(t *testing.T) {
	router, apiKey := newTestRouter(t)
	registerAgent(t, router, apiKey, "agent-requester")
	registerAgent(t, router, apiKey, "agent-delegate")

	rec := doJSON(t, router, http.MethodPost, "/v1/delegations", apiKey, "deleg-s1", map[string]interface{}{
		"requester_agent_id": "agent-requester",
		"delegate_agent_id":  "agent-delegate",
		"estimated_cost":     10.0,
		"max_budget":         20.0,
		"simulated_actual":   8.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp delegation.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "completed", resp.Status)
	require.Equal(t, "soft_alert", resp.BudgetControls.State)
	require.InDelta(t, 0.8, resp.BudgetControls.Ratio, 0.001)
	require.Equal(t, []string{
		delegation.StageDiscovery, delegation.StageNegotiation, delegation.StageExecution,
		delegation.StageDelivery, delegation.StageSettlement, delegation.StageFeedback,
	}, resp.Stages)
}

// TestDelegationHardCeiling covers scenario S2.
func TestDelegationHardCeiling(t *testing.T) {
	router, apiKey := newTestRouter(t)
	registerAgent(t, router, apiKey, "agent-requester")
	registerAgent(t, router, apiKey, "agent-delegate")

	rec := doJSON(t, router, http.MethodPost, "/v1/delegations", apiKey, "deleg-s2", map[string]interface{}{
		"requester_agent_id": "agent-requester",
		"delegate_agent_id":  "agent-delegate",
		"estimated_cost":     50.0,
		"max_budget":         20.0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "budget.hard_ceiling")
}

// TestDelegationHardStop covers scenario S3.
func TestDelegationHardStop(t *testing.T) {
	router, apiKey := newTestRouter(t)
	registerAgent(t, router, apiKey, "agent-requester")
	registerAgent(t, router, apiKey, "agent-delegate")

	rec := doJSON(t, router, http.MethodPost, "/v1/delegations", apiKey, "deleg-s3", map[string]interface{}{
		"requester_agent_id": "agent-requester",
		"delegate_agent_id":  "agent-delegate",
		"estimated_cost":     10.0,
		"max_budget":         20.0,
		"simulated_actual":   12.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp delegation.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "failed_hard_stop", resp.Status)
	require.True(t, resp.BudgetControls.HardStop)
}

// TestIdempotencyReplayAndMismatch covers scenario S4.
func TestIdempotencyReplayAndMismatch(t *testing.T) {
	router, apiKey := newTestRouter(t)

	first := doJSON(t, router, http.MethodPost, "/v1/identities", apiKey, "idem-key-1", map[string]interface{}{
		"agent_id":        "agent-idem",
		"credential_type": "api_key",
	})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := doJSON(t, router, http.MethodPost, "/v1/identities", apiKey, "idem-key-1", map[string]interface{}{
		"agent_id":        "agent-idem",
		"credential_type": "api_key",
	})
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, first.Body.String(), replay.Body.String())
	require.Equal(t, "true", replay.Header().Get("X-AgentHub-Idempotent-Replay"))

	mismatch := doJSON(t, router, http.MethodPost, "/v1/identities", apiKey, "idem-key-1", map[string]interface{}{
		"agent_id":        "agent-idem-different",
		"credential_type": "api_key",
	})
	require.Equal(t, http.StatusConflict, mismatch.Code)
	require.Contains(t, mismatch.Body.String(), "idempotency.key_reused_with_different_payload")
}

// TestCascadeRevoke covers scenario S5.
func TestCascadeRevoke(t *testing.T) {
	router, apiKey := newTestRouter(t)
	registerAgent(t, router, apiKey, "agent-a")
	registerAgent(t, router, apiKey, "agent-b")
	registerAgent(t, router, apiKey, "agent-c")

	credRec := doJSON(t, router, http.MethodPost, "/v1/identities/agent-a/credentials", apiKey, "cred-a", map[string]interface{}{
		"scopes":      []string{"read", "write"},
		"ttl_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, credRec.Code, credRec.Body.String())

	tokAB := doJSON(t, router, http.MethodPost, "/v1/delegation-tokens", apiKey, "tok-ab", map[string]interface{}{
		"issuer_agent_id":  "agent-a",
		"subject_agent_id": "agent-b",
		"scopes":           []string{"read", "write"},
		"ttl_seconds":      3600,
	})
	require.Equal(t, http.StatusCreated, tokAB.Code, tokAB.Body.String())
	var tokABResp struct {
		TokenID string `json:"token_id"`
		Wire    string `json:"wire"`
	}
	require.NoError(t, json.Unmarshal(tokAB.Body.Bytes(), &tokABResp))

	tokBC := doJSON(t, router, http.MethodPost, "/v1/delegation-tokens", apiKey, "tok-bc", map[string]interface{}{
		"issuer_agent_id":  "agent-b",
		"subject_agent_id": "agent-c",
		"scopes":           []string{"read"},
		"ttl_seconds":      3600,
		"parent_token_id":  tokABResp.TokenID,
	})
	require.Equal(t, http.StatusCreated, tokBC.Code, tokBC.Body.String())
	var tokBCResp struct {
		Wire string `json:"wire"`
	}
	require.NoError(t, json.Unmarshal(tokBC.Body.Bytes(), &tokBCResp))

	revokeRec := doJSON(t, router, http.MethodPost, "/v1/agents/agent-a/revoke", apiKey, "revoke-a", map[string]interface{}{
		"reason": "compromised",
	})
	require.Equal(t, http.StatusOK, revokeRec.Code, revokeRec.Body.String())
	var revokeResp revocation.Result
	require.NoError(t, json.Unmarshal(revokeRec.Body.Bytes(), &revokeResp))
	require.GreaterOrEqual(t, revokeResp.RevokedTokens, 2)
	require.Equal(t, 1, revokeResp.RevokedCredentials)

	identRec := doJSON(t, router, http.MethodGet, "/v1/identities/agent-a", apiKey, "", nil)
	require.Equal(t, http.StatusOK, identRec.Code)
	var ident identity.AgentIdentity
	require.NoError(t, json.Unmarshal(identRec.Body.Bytes(), &ident))
	require.Equal(t, identity.IdentityRevoked, ident.Status)

	var verifyResp struct {
		Valid  bool   `json:"Valid"`
		Reason string `json:"Reason"`
	}

	verifyAB := doJSON(t, router, http.MethodPost, "/v1/delegation-tokens/verify", apiKey, "verify-ab", map[string]interface{}{
		"wire": tokABResp.Wire,
	})
	require.Equal(t, http.StatusOK, verifyAB.Code)
	require.NoError(t, json.Unmarshal(verifyAB.Body.Bytes(), &verifyResp))
	require.False(t, verifyResp.Valid)

	verifyBC := doJSON(t, router, http.MethodPost, "/v1/delegation-tokens/verify", apiKey, "verify-bc", map[string]interface{}{
		"wire": tokBCResp.Wire,
	})
	require.Equal(t, http.StatusOK, verifyBC.Code)
	require.NoError(t, json.Unmarshal(verifyBC.Body.Bytes(), &verifyResp))
	require.False(t, verifyResp.Valid)
}

// TestScopeEscalationDenied covers scenario S6.
func TestScopeEscalationDenied(t *testing.T) {
	router, apiKey := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/quotas/agent-x/narrowed-tokens", apiKey, "narrow-1", map[string]interface{}{
		"parent_scopes":    []string{"read"},
		"requested_scopes": []string{"read", "write"},
		"ttl_seconds":      60,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "escalation")
}

// TestAuthRequiredForTenantScopedRoute confirms the pipeline fails closed
// without credentials on an authenticated route.
func TestAuthRequiredForTenantScopedRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/delegations", "", "no-auth", map[string]interface{}{
		"requester_agent_id": "a",
		"delegate_agent_id":  "b",
		"estimated_cost":     1.0,
		"max_budget":         2.0,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "auth.required")
}
