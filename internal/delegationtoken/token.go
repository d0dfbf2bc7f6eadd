// Package delegationtoken issues and verifies signed, parent-chained
// delegation tokens with bounded depth and scope attenuation.
package delegationtoken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/credential"
	"github.com/agenthub/aicp/internal/identity"
	"github.com/agenthub/aicp/internal/secrets"
)

// MaxDepth is the maximum allowed chain_depth for an issued token.
const MaxDepth = 5

// verifyWalkBound guards chain walks against cycles from clock skew or
// manual corruption, per spec note §9.
const verifyWalkBound = MaxDepth + 2

// Service issues and verifies delegation tokens.
type Service struct {
	store   *identity.Store
	secrets secrets.Provider
	clock   func() time.Time
}

// NewService builds a delegation-token Service.
func NewService(store *identity.Store, provider secrets.Provider) *Service {
	return &Service{store: store, secrets: provider, clock: time.Now}
}

// signaturePayload lists the fields signed over a token. The signed bytes
// come from canonicalPayload, which emits them with sorted keys and no
// whitespace.
type signaturePayload struct {
	TID string `json:"tid"`
	SUB string `json:"sub"`
	ISS string `json:"iss"`
	EXP int64  `json:"exp"`
}

func canonicalPayload(tokenID, subject, issuer string, expiresAt time.Time) ([]byte, error) {
	// encoding/json on a struct with this field order already emits keys in
	// declaration order; declare alphabetically so the wire form matches
	// {"exp":...,"iss":...,"sub":...,"tid":...} with sorted keys.
	ordered := struct {
		Exp int64  `json:"exp"`
		Iss string `json:"iss"`
		Sub string `json:"sub"`
		Tid string `json:"tid"`
	}{Exp: expiresAt.UTC().Unix(), Iss: issuer, Sub: subject, Tid: tokenID}
	return json.Marshal(ordered)
}

func sign(signingKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// WireFormat renders the issued token as <token_id>.<hex_sig>.
func WireFormat(tokenID, signature string) string {
	return tokenID + "." + signature
}

// ParseWireFormat splits a presented token into (token_id, signature).
func ParseWireFormat(wire string) (string, string, error) {
	parts := strings.SplitN(wire, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apierrors.New(apierrors.AuthInvalid, "malformed delegation token")
	}
	return parts[0], parts[1], nil
}

// IssueRequest parameterizes delegation-token issuance.
type IssueRequest struct {
	IssuerAgentID  string
	SubjectAgentID string
	RequestedScopes []string
	RequestedTTL    time.Duration
	ParentTokenID   *string
}

// Issued is the result of a successful issuance.
type Issued struct {
	Token *identity.DelegationToken
	Wire  string
}

// Issue issues a new delegation token, enforcing chain-depth, scope
// attenuation, and expiry-bound-by-parent.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	issuer, err := s.store.GetIdentity(ctx, req.IssuerAgentID)
	if err != nil {
		return nil, err
	}
	if issuer.Status != identity.IdentityActive {
		return nil, apierrors.New(apierrors.PermissionDenied, "issuer identity is not active")
	}
	subject, err := s.store.GetIdentity(ctx, req.SubjectAgentID)
	if err != nil {
		return nil, err
	}
	if subject.Status != identity.IdentityActive {
		return nil, apierrors.New(apierrors.PermissionDenied, "subject identity is not active")
	}

	now := s.clock().UTC()
	requestedExpiry := now.Add(req.RequestedTTL)

	var (
		chainDepth int
		scopeCeiling []string
		expiryCeiling time.Time
	)

	if req.ParentTokenID != nil {
		parent, err := s.store.GetDelegationToken(ctx, *req.ParentTokenID)
		if err != nil {
			return nil, err
		}
		if parent.Revoked {
			return nil, apierrors.New(apierrors.InvalidArgument, "parent token is revoked")
		}
		if now.After(parent.ExpiresAt) {
			return nil, apierrors.New(apierrors.InvalidArgument, "parent token is expired")
		}
		chainDepth = parent.ChainDepth + 1
		if chainDepth > MaxDepth {
			return nil, apierrors.Newf(apierrors.InvalidArgument, "chain depth %d exceeds maximum %d", chainDepth, MaxDepth)
		}
		scopeCeiling = credential.SplitScopes(parent.DelegatedScopes)
		expiryCeiling = parent.ExpiresAt
	} else {
		scopeCeiling, err = s.issuerCredentialScopes(ctx, req.IssuerAgentID)
		if err != nil {
			return nil, err
		}
		expiryCeiling = requestedExpiry
	}

	attenuated, err := credential.Attenuate(scopeCeiling, req.RequestedScopes)
	if err != nil {
		return nil, err
	}

	expiresAt := requestedExpiry
	if expiresAt.After(expiryCeiling) {
		expiresAt = expiryCeiling
	}

	token, err := s.store.InsertDelegationToken(ctx, identity.DelegationToken{
		IssuerAgentID:   req.IssuerAgentID,
		SubjectAgentID:  req.SubjectAgentID,
		DelegatedScopes: credential.JoinScopes(attenuated),
		ExpiresAt:       expiresAt,
		ParentTokenID:   req.ParentTokenID,
		ChainDepth:      chainDepth,
	})
	if err != nil {
		return nil, err
	}

	signingKey, err := s.secrets.Get(secrets.IdentitySigning)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve identity signing secret", err)
	}
	payload, err := canonicalPayload(token.TokenID, token.SubjectAgentID, token.IssuerAgentID, token.ExpiresAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "marshal token payload", err)
	}
	signature := sign(signingKey, payload)

	return &Issued{Token: token, Wire: WireFormat(token.TokenID, signature)}, nil
}

func (s *Service) issuerCredentialScopes(ctx context.Context, agentID string) ([]string, error) {
	// Root issuance attenuates against the union of the issuer's active
	// credential scopes; a signing-secret-less agent with no credentials
	// yet may only issue the empty scope set.
	scopes, err := s.store.ActiveCredentialScopeUnion(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return scopes, nil
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid  bool
	Reason string
	Token  *identity.DelegationToken
}

// Verify checks a presented wire token: signature integrity, then walks
// the parent chain (bounded) rejecting on any revoked/expired intermediary.
func (s *Service) Verify(ctx context.Context, wire string) (*VerifyResult, error) {
	tokenID, sig, err := ParseWireFormat(wire)
	if err != nil {
		return nil, err
	}

	token, err := s.store.GetDelegationToken(ctx, tokenID)
	if err != nil {
		if apiErr, ok := apierrors.As(err); ok && apiErr.Code == apierrors.NotFound {
			return &VerifyResult{Valid: false, Reason: "not_found"}, nil
		}
		return nil, err
	}

	signingKey, err := s.secrets.Get(secrets.IdentitySigning)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve identity signing secret", err)
	}
	payload, err := canonicalPayload(token.TokenID, token.SubjectAgentID, token.IssuerAgentID, token.ExpiresAt)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "marshal token payload", err)
	}
	expected := sign(signingKey, payload)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return &VerifyResult{Valid: false, Reason: "invalid_signature"}, nil
	}

	now := s.clock().UTC()
	current := token
	for depth := 0; depth <= verifyWalkBound; depth++ {
		if current.Revoked {
			return &VerifyResult{Valid: false, Reason: "revoked"}, nil
		}
		if now.After(current.ExpiresAt) {
			return &VerifyResult{Valid: false, Reason: "expired"}, nil
		}
		if current.ParentTokenID == nil {
			return &VerifyResult{Valid: true, Token: token}, nil
		}
		parent, err := s.store.GetDelegationToken(ctx, *current.ParentTokenID)
		if err != nil {
			if apiErr, ok := apierrors.As(err); ok && apiErr.Code == apierrors.NotFound {
				return &VerifyResult{Valid: false, Reason: "not_found"}, nil
			}
			return nil, err
		}
		current = parent
	}
	return &VerifyResult{Valid: false, Reason: "chain_too_deep"}, fmt.Errorf("delegationtoken: chain walk exceeded bound for %s", tokenID)
}

// Revoke revokes a token and cascades to every descendant.
func (s *Service) Revoke(ctx context.Context, tokenID string) (int, error) {
	return s.store.RevokeTokenCascade(ctx, tokenID)
}
