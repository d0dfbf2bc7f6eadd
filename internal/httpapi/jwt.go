package httpapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/secrets"
)

// bearerClaims is the claim set AICP mints and accepts for bearer-token
// authentication, carrying the owning agent and its effective scopes.
type bearerClaims struct {
	Owner  string   `json:"owner"`
	Tenant string   `json:"tenant,omitempty"`
	Scopes []string `json:"scopes"`
	Admin  bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// IssueBearerToken mints a signed bearer token for owner in the form that
// bearer-token authentication accepts. No route in server.go calls it.
func (d *Deps) IssueBearerToken(owner, tenant string, scopes []string, admin bool, ttl time.Duration) (string, error) {
	key, err := d.Secrets.Get(secrets.AuthToken)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Internal, "resolve auth token secret", err)
	}

	claims := bearerClaims{
		Owner:  owner,
		Tenant: tenant,
		Scopes: scopes,
		Admin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(ttl)),
			Subject:   owner,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		return "", apierrors.Wrap(apierrors.Internal, "sign bearer token", err)
	}
	return signed, nil
}

// verifyBearer validates a bearer token's signature and expiry and
// resolves it to an AuthState.
func (d *Deps) verifyBearer(raw string) (*AuthState, error) {
	key, err := d.Secrets.Get(secrets.AuthToken)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve auth token secret", err)
	}

	claims := &bearerClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(key), nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.AuthInvalid, "bearer token invalid", err)
	}

	return &AuthState{
		Owner:           claims.Owner,
		TenantID:        claims.Tenant,
		Method:          AuthMethodBearer,
		EffectiveScopes: claims.Scopes,
		IsAdmin:         claims.Admin,
	}, nil
}
