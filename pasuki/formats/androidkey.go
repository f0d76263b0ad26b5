package formats

import (
	"bytes"
	"encoding/asn1"

	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// androidKeyAttestationExtensionOID is the OID of the Android key attestation
// extension carried by the leaf certificate, whose attestationChallenge
// field must equal the WebAuthn clientDataHash.
var androidKeyAttestationExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

// keyDescription is a reduced ASN.1 shape of the Android KeyDescription
// structure — only the fields this verifier needs.
type keyDescription struct {
	AttestationVersion int
	AttestationSecurityLevel asn1.RawValue
	KeymasterVersion int
	KeymasterSecurityLevel asn1.RawValue
	AttestationChallenge []byte
	UniqueID []byte
	SoftwareEnforced asn1.RawValue
	TeeEnforced asn1.RawValue
}

// AndroidKey implements the "android-key" attestation statement format:
// an x5c chain whose leaf certificate carries a key-attestation extension
// binding the statement to clientDataHash.
type AndroidKey struct{}

func (AndroidKey) Identifier() string { return "android-key" }

func (AndroidKey) Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error) {
	algRaw, ok := attStmt["alg"]
	if !ok {
		return Chain{}, &Error{Format: "android-key", Reason: "missing alg"}
	}
	alg, err := toAlgorithm(algRaw)
	if err != nil {
		return Chain{}, &Error{Format: "android-key", Reason: err.Error()}
	}
	sig, ok := toByteSlice(attStmt["sig"])
	if !ok {
		return Chain{}, &Error{Format: "android-key", Reason: "missing sig"}
	}
	x5cRaw, ok := attStmt["x5c"]
	if !ok {
		return Chain{}, &Error{Format: "android-key", Reason: "missing x5c"}
	}
	rawCerts, err := toByteSliceSlice(x5cRaw)
	if err != nil {
		return Chain{}, &Error{Format: "android-key", Reason: err.Error()}
	}
	chain, err := decodeX5C(rawCerts)
	if err != nil {
		return Chain{}, &Error{Format: "android-key", Reason: err.Error()}
	}
	if err := verifyChainLinkage(chain); err != nil {
		return Chain{}, &Error{Format: "android-key", Reason: err.Error()}
	}

	leaf := chain[0]

	var extRaw []byte
	for _, ext := range leaf.Extensions {
		if ext.Id.Equal(androidKeyAttestationExtensionOID) {
			extRaw = ext.Value
			break
		}
	}
	if extRaw == nil {
		return Chain{}, &Error{Format: "android-key", Reason: "leaf certificate missing key attestation extension"}
	}

	var desc keyDescription
	if _, err := asn1.Unmarshal(extRaw, &desc); err != nil {
		return Chain{}, &Error{Format: "android-key", Reason: "could not parse key attestation extension: " + err.Error()}
	}
	if !bytes.Equal(desc.AttestationChallenge, clientDataHash) {
		return Chain{}, &Error{Format: "android-key", Reason: "attestationChallenge does not match clientDataHash"}
	}

	message := signedBytes(rawAuthData, clientDataHash)
	verified, err := cose.VerifyCertificateSignature(leaf, alg, message, sig)
	if err != nil {
		return Chain{}, &Error{Format: "android-key", Reason: err.Error()}
	}
	if !verified {
		return Chain{}, &Error{Format: "android-key", Reason: "attestation signature invalid"}
	}

	return Chain{Kind: KindBasicX5C, Certificates: chain}, nil
}
