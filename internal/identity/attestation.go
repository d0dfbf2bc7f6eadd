package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/secrets"
)

// AttestationService issues and verifies signed attestations binding an
// agent to a trusted domain for a bounded TTL, per spec §3/§4.2.
type AttestationService struct {
	store   *Store
	secrets secrets.Provider
	clock   func() time.Time
}

// NewAttestationService builds an AttestationService backed by store.
func NewAttestationService(store *Store, provider secrets.Provider) *AttestationService {
	return &AttestationService{store: store, secrets: provider, clock: time.Now}
}

func attestationPayload(agentID, domain string, expiresAt time.Time) []byte {
	return []byte(agentID + "|" + domain + "|" + expiresAt.UTC().Format(time.RFC3339))
}

func signAttestation(key string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue binds agentID to domain for ttl, failing if the domain is not a
// registered, non-revoked trusted domain.
func (s *AttestationService) Issue(ctx context.Context, agentID, domain string, ttl time.Duration) (*AgentAttestation, error) {
	trusted, err := s.store.GetTrustedDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if trusted == nil || trusted.Revoked {
		return nil, apierrors.Newf(apierrors.InvalidArgument, "domain %s is not a trusted domain", domain)
	}

	key, err := s.secrets.Get(secrets.ProvenanceSigning)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve provenance signing secret", err)
	}

	expiresAt := s.clock().UTC().Add(ttl)
	signature := signAttestation(key, attestationPayload(agentID, domain, expiresAt))

	return s.store.InsertAttestation(ctx, AgentAttestation{
		AgentID:   agentID,
		Domain:    domain,
		Signature: signature,
		ExpiresAt: expiresAt,
	})
}

// VerifyResult reports the outcome of verifying an attestation.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Verify checks an attestation's signature, expiry, and the live
// revocation status of its bound domain — a domain revoked after
// issuance invalidates the attestation immediately, with no background
// job required.
func (s *AttestationService) Verify(ctx context.Context, attestationID string) (*VerifyResult, error) {
	var att AgentAttestation
	err := s.store.db.GetContext(ctx, &att, `SELECT * FROM agent_attestations WHERE attestation_id = ?`, attestationID)
	if err != nil {
		return &VerifyResult{Valid: false, Reason: "not_found"}, nil
	}

	if s.clock().UTC().After(att.ExpiresAt) {
		return &VerifyResult{Valid: false, Reason: "expired"}, nil
	}

	domain, err := s.store.GetTrustedDomain(ctx, att.Domain)
	if err != nil {
		return nil, err
	}
	if domain == nil || domain.Revoked {
		return &VerifyResult{Valid: false, Reason: "domain_revoked"}, nil
	}

	key, err := s.secrets.Get(secrets.ProvenanceSigning)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve provenance signing secret", err)
	}
	expected := signAttestation(key, attestationPayload(att.AgentID, att.Domain, att.ExpiresAt))
	if !hmac.Equal([]byte(expected), []byte(att.Signature)) {
		return &VerifyResult{Valid: false, Reason: "invalid_signature"}, nil
	}

	return &VerifyResult{Valid: true}, nil
}
