package formats

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"encoding/asn1"

	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// appleNonceExtensionOID is the OID Apple's anonymous attestation uses to
// carry the nonce binding the leaf certificate to the WebAuthn ceremony.
var appleNonceExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

// appleNonceExtension is the ASN.1 SEQUENCE wrapping the nonce OCTET STRING
// inside the leaf certificate's extension value.
type appleNonceExtension struct {
	Nonce []byte `asn1:"tag:1,explicit"`
}

// Apple implements the "apple" anonymous attestation statement format: no
// signature field, trust rests entirely on a nonce extension in the leaf
// certificate matching SHA-256(rawAuthData||clientDataHash), and on the
// leaf's public key matching the credential key.
type Apple struct{}

func (Apple) Identifier() string { return "apple" }

func (Apple) Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error) {
	x5cRaw, ok := attStmt["x5c"]
	if !ok {
		return Chain{}, &Error{Format: "apple", Reason: "missing x5c"}
	}
	rawCerts, err := toByteSliceSlice(x5cRaw)
	if err != nil {
		return Chain{}, &Error{Format: "apple", Reason: err.Error()}
	}
	chain, err := decodeX5C(rawCerts)
	if err != nil {
		return Chain{}, &Error{Format: "apple", Reason: err.Error()}
	}
	if err := verifyChainLinkage(chain); err != nil {
		return Chain{}, &Error{Format: "apple", Reason: err.Error()}
	}

	leaf := chain[0]
	var extRaw []byte
	for _, ext := range leaf.Extensions {
		if ext.Id.Equal(appleNonceExtensionOID) {
			extRaw = ext.Value
			break
		}
	}
	if extRaw == nil {
		return Chain{}, &Error{Format: "apple", Reason: "leaf certificate missing nonce extension"}
	}

	var nonceExt appleNonceExtension
	if _, err := asn1.Unmarshal(extRaw, &nonceExt); err != nil {
		return Chain{}, &Error{Format: "apple", Reason: "could not parse nonce extension: " + err.Error()}
	}

	expected := sha256.Sum256(signedBytes(rawAuthData, clientDataHash))
	if !bytes.Equal(nonceExt.Nonce, expected[:]) {
		return Chain{}, &Error{Format: "apple", Reason: "nonce extension does not match authData/clientDataHash digest"}
	}

	equaler, ok := leaf.PublicKey.(interface{ Equal(x crypto.PublicKey) bool })
	if !ok || !equaler.Equal(credentialKey.Std()) {
		return Chain{}, &Error{Format: "apple", Reason: "leaf certificate public key does not match credential public key"}
	}

	return Chain{Kind: KindAnonCA, Certificates: chain}, nil
}
