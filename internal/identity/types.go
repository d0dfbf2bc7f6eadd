// Package identity implements the Identity Store: agent identities,
// per-agent credentials, delegation tokens, the trusted-domain registry,
// attestations, and the revocation event log.
package identity

import "time"

// CredentialType enumerates how an agent proves itself to the control
// plane out of band of the bearer-credential lifecycle below.
type CredentialType string

const (
	CredentialTypeAPIKey CredentialType = "api_key"
	CredentialTypeX509   CredentialType = "x509"
	CredentialTypeSPIFFE CredentialType = "spiffe"
)

// IdentityStatus is the lifecycle status of an AgentIdentity.
type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentitySuspended IdentityStatus = "suspended"
	IdentityRevoked   IdentityStatus = "revoked"
)

// AgentIdentity is an agent's root record.
type AgentIdentity struct {
	AgentID                string         `db:"agent_id" json:"agent_id"`
	Owner                  string         `db:"owner" json:"owner"`
	CredentialType         CredentialType `db:"credential_type" json:"credential_type"`
	Status                 IdentityStatus `db:"status" json:"status"`
	HumanPrincipalID       *string        `db:"human_principal_id" json:"human_principal_id,omitempty"`
	ConfigurationChecksum  *string        `db:"configuration_checksum" json:"configuration_checksum,omitempty"`
	PublicKeyPEM           *string        `db:"public_key_pem" json:"public_key_pem,omitempty"`
	Metadata               string         `db:"metadata" json:"metadata"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`
}

// CredentialStatus is the lifecycle status of an AgentCredential.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRotated CredentialStatus = "rotated"
	CredentialRevoked CredentialStatus = "revoked"
)

// AgentCredential is a bearer secret; the secret itself is never stored,
// only its HMAC under a process signing key.
type AgentCredential struct {
	CredentialID     string           `db:"credential_id" json:"credential_id"`
	AgentID          string           `db:"agent_id" json:"agent_id"`
	CredentialHash   string           `db:"credential_hash" json:"-"`
	Scopes           string           `db:"scopes" json:"scopes"`
	IssuedAt         time.Time        `db:"issued_at" json:"issued_at"`
	ExpiresAt        time.Time        `db:"expires_at" json:"expires_at"`
	RotationParentID *string          `db:"rotation_parent_id" json:"rotation_parent_id,omitempty"`
	Status           CredentialStatus `db:"status" json:"status"`
	RevokedAt        *time.Time       `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason *string          `db:"revocation_reason" json:"revocation_reason,omitempty"`
}

// DelegationToken is a signed, parented delegation edge.
type DelegationToken struct {
	TokenID        string     `db:"token_id" json:"token_id"`
	IssuerAgentID  string     `db:"issuer_agent_id" json:"issuer_agent_id"`
	SubjectAgentID string     `db:"subject_agent_id" json:"subject_agent_id"`
	DelegatedScopes string    `db:"delegated_scopes" json:"delegated_scopes"`
	IssuedAt       time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	ParentTokenID  *string    `db:"parent_token_id" json:"parent_token_id,omitempty"`
	ChainDepth     int        `db:"chain_depth" json:"chain_depth"`
	Revoked        bool       `db:"revoked" json:"revoked"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// TrustedDomain is a federation trust registry entry.
type TrustedDomain struct {
	Domain    string    `db:"domain" json:"domain"`
	Revoked   bool      `db:"revoked" json:"revoked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AgentAttestation binds an agent to a trusted domain for a TTL.
type AgentAttestation struct {
	AttestationID string    `db:"attestation_id" json:"attestation_id"`
	AgentID       string    `db:"agent_id" json:"agent_id"`
	Domain        string    `db:"domain" json:"domain"`
	Signature     string    `db:"signature" json:"signature"`
	IssuedAt      time.Time `db:"issued_at" json:"issued_at"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
}

// RevocationEvent is an append-only audit record.
type RevocationEvent struct {
	EventID       string    `db:"event_id" json:"event_id"`
	RevokedType   string    `db:"revoked_type" json:"revoked_type"`
	RevokedID     string    `db:"revoked_id" json:"revoked_id"`
	AgentID       string    `db:"agent_id" json:"agent_id"`
	Reason        string    `db:"reason" json:"reason"`
	Actor         string    `db:"actor" json:"actor"`
	CascadeCount  int       `db:"cascade_count" json:"cascade_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
