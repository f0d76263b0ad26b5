package formats

import "github.com/kadowaki/pasuki-webauthn/pasuki/cose"

// None implements the "none" attestation statement format: no attestation
// is asserted and attStmt must be empty.
type None struct{}

func (None) Identifier() string { return "none" }

func (None) Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error) {
	if len(attStmt) != 0 {
		return Chain{}, &Error{Format: "none", Reason: "attStmt must be empty"}
	}
	return Chain{Kind: KindUncertain}, nil
}
