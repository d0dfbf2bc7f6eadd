// Package secrets abstracts the process signing-secret material behind a
// Provider, generalizing the ad hoc config.GetString secret reads the
// teacher's demo backend does directly.
package secrets

// Name identifies one of the process's four signing secrets.
type Name string

const (
	AuthToken        Name = "auth_token"
	IdentitySigning  Name = "identity_signing"
	ProvenanceSigning Name = "provenance_signing"
	PolicySigning    Name = "policy_signing"
)

// Provider resolves signing-secret material by name.
type Provider interface {
	// Get returns the current secret value for name, or an error if it is
	// unset or the backend is unreachable.
	Get(name Name) (string, error)
}

// envVar maps each Name to the environment variable that carries it.
var envVar = map[Name]string{
	AuthToken:         "AGENTHUB_AUTH_TOKEN_SECRET",
	IdentitySigning:   "AGENTHUB_IDENTITY_SIGNING_SECRET",
	ProvenanceSigning: "AGENTHUB_PROVENANCE_SIGNING_SECRET",
	PolicySigning:     "AGENTHUB_POLICY_SIGNING_SECRET",
}
