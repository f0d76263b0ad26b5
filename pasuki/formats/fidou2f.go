package formats

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/binary"

	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// FidoU2F implements the legacy "fido-u2f" attestation statement format:
// a single x5c certificate, signature over a fixed byte concatenation
// specific to U2F registration, P-256 only.
//
// Grounded on classic U2F registration-response verification: the signed
// message is 0x00 || rpIdHash || clientDataHash || credentialId ||
// publicKeyU2F, where publicKeyU2F is the uncompressed EC point
// 0x04 || x || y for the credential's P-256 key.
type FidoU2F struct{}

func (FidoU2F) Identifier() string { return "fido-u2f" }

func (FidoU2F) Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error) {
	x5cRaw, ok := attStmt["x5c"]
	if !ok {
		return Chain{}, &Error{Format: "fido-u2f", Reason: "missing x5c"}
	}
	sig, ok := toByteSlice(attStmt["sig"])
	if !ok {
		return Chain{}, &Error{Format: "fido-u2f", Reason: "missing sig"}
	}

	rawCerts, err := toByteSliceSlice(x5cRaw)
	if err != nil {
		return Chain{}, &Error{Format: "fido-u2f", Reason: err.Error()}
	}
	if len(rawCerts) != 1 {
		return Chain{}, &Error{Format: "fido-u2f", Reason: "x5c must contain exactly one certificate"}
	}
	chain, err := decodeX5C(rawCerts)
	if err != nil {
		return Chain{}, &Error{Format: "fido-u2f", Reason: err.Error()}
	}

	point, err := uncompressedPoint(credentialKey)
	if err != nil {
		return Chain{}, &Error{Format: "fido-u2f", Reason: err.Error()}
	}

	rpIDHash, credentialID, err := u2fContext(rawAuthData)
	if err != nil {
		return Chain{}, &Error{Format: "fido-u2f", Reason: err.Error()}
	}

	message := make([]byte, 0, 1+len(rpIDHash)+len(clientDataHash)+len(credentialID)+len(point))
	message = append(message, 0x00)
	message = append(message, rpIDHash...)
	message = append(message, clientDataHash...)
	message = append(message, credentialID...)
	message = append(message, point...)

	leaf := chain[0]
	verified, err := cose.VerifyCertificateSignature(leaf, cose.ES256, message, sig)
	if err != nil {
		return Chain{}, &Error{Format: "fido-u2f", Reason: err.Error()}
	}
	if !verified {
		return Chain{}, &Error{Format: "fido-u2f", Reason: "u2f attestation signature invalid"}
	}

	return Chain{Kind: KindBasicX5C, Certificates: chain}, nil
}

// uncompressedPoint renders an ECDSA COSE key as the U2F uncompressed point
// encoding 0x04||x||y, padding each coordinate to the curve's byte size.
func uncompressedPoint(key cose.PublicKey) ([]byte, error) {
	pub, ok := key.Std().(*ecdsa.PublicKey)
	if !ok {
		return nil, &Error{Format: "fido-u2f", Reason: "credential key is not an ecdsa key"}
	}
	if pub.Curve != elliptic.P256() {
		return nil, &Error{Format: "fido-u2f", Reason: "credential key is not a P-256 key"}
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+2*size)
	out[0] = 0x04
	pub.X.FillBytes(out[1 : 1+size])
	pub.Y.FillBytes(out[1+size:])
	return out, nil
}

// u2fContext extracts rpIdHash and the credentialId from raw authenticator
// data without depending on the root package's full decoder, keeping this
// package's only dependency on the COSE key model.
func u2fContext(rawAuthData []byte) (rpIDHash, credentialID []byte, err error) {
	const (
		rpIDHashLen  = 32
		flagsLen     = 1
		signCountLen = 4
		aaguidLen    = 16
		credIDLenLen = 2
	)
	minLen := rpIDHashLen + flagsLen + signCountLen + aaguidLen + credIDLenLen
	if len(rawAuthData) < minLen {
		return nil, nil, &Error{Format: "fido-u2f", Reason: "authenticator data too short"}
	}
	rpIDHash = rawAuthData[:rpIDHashLen]
	p := rpIDHashLen + flagsLen + signCountLen + aaguidLen
	credIDLen := int(binary.BigEndian.Uint16(rawAuthData[p : p+credIDLenLen]))
	p += credIDLenLen
	if len(rawAuthData) < p+credIDLen {
		return nil, nil, &Error{Format: "fido-u2f", Reason: "authenticator data too short for credential id"}
	}
	credentialID = rawAuthData[p : p+credIDLen]
	return rpIDHash, credentialID, nil
}
