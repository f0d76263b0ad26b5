package pasuki

import "github.com/kadowaki/pasuki-webauthn/pasuki/metadata"

// RegistrationResponse is the inbound browser JSON envelope for a
// registration ceremony (spec.md §6), bytes fields base64url without
// required padding.
type RegistrationResponse struct {
	ID                     string                 `json:"id"`
	RawID                  string                 `json:"rawId"`
	Type                   string                 `json:"type"`
	ClientExtensionResults map[string]any         `json:"clientExtensionResults"`
	Response               struct {
		ClientDataJSON    string   `json:"clientDataJSON"`
		AttestationObject string   `json:"attestationObject"`
		Transports        []string `json:"transports,omitempty"`
	} `json:"response"`
}

// AuthenticationResponse is the inbound browser JSON envelope for an
// authentication ceremony (spec.md §6).
type AuthenticationResponse struct {
	ID                     string         `json:"id"`
	RawID                  string         `json:"rawId"`
	Type                   string         `json:"type"`
	ClientExtensionResults map[string]any `json:"clientExtensionResults"`
	Response               struct {
		ClientDataJSON    string `json:"clientDataJSON"`
		AuthenticatorData string `json:"authenticatorData"`
		Signature         string `json:"signature"`
		UserHandle        string `json:"userHandle,omitempty"`
	} `json:"response"`
}

// CredentialEntry is the record the relying party stores per credential
// (spec.md §3), extended with the persistence-facing fields SPEC_FULL.md
// §4 adds (mirroring the teacher's ent.Passkey column set).
type CredentialEntry struct {
	ID                string
	UserID            string
	CredentialID       []byte
	UserHandle         []byte
	RawPublicKeyBytes  []byte
	SignCount          uint32
	Origin             string
	AttestationFormat  string
	AuthenticatorID    metadata.Identifier
	BackupEligible     bool
	BackedUp           bool
	Transports         []string
}
