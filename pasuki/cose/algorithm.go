// Package cose implements the subset of RFC 8152 (CBOR Object Signing and
// Encryption) that WebAuthn relying parties need: decoding a COSE_Key map
// into a typed public key, structurally validating it, and verifying
// signatures produced by the matching private key.
package cose

import (
	"crypto"
	"fmt"
)

// Algorithm is a COSE signature algorithm identifier, as registered in the
// IANA COSE Algorithms registry. It carries both a signature scheme and a
// hash function.
//
// https://www.iana.org/assignments/cose/cose.xhtml#algorithms
type Algorithm int64

const (
	EdDSA Algorithm = -8
	ES256 Algorithm = -7
	ES384 Algorithm = -35
	ES512 Algorithm = -36
	PS256 Algorithm = -37
	PS384 Algorithm = -38
	PS512 Algorithm = -39
	RS256 Algorithm = -257
	RS384 Algorithm = -258
	RS512 Algorithm = -259
)

var algorithmNames = map[Algorithm]string{
	EdDSA: "EdDSA",
	ES256: "ES256",
	ES384: "ES384",
	ES512: "ES512",
	PS256: "PS256",
	PS384: "PS384",
	PS512: "PS512",
	RS256: "RS256",
	RS384: "RS384",
	RS512: "RS512",
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int64(a))
}

// Known reports whether a is one of the algorithms this package can verify.
func (a Algorithm) Known() bool {
	_, ok := algorithmNames[a]
	return ok
}

// hash returns the hash function associated with the algorithm.
func (a Algorithm) hash() (crypto.Hash, error) {
	switch a {
	case ES256, RS256, PS256:
		return crypto.SHA256, nil
	case ES384, RS384, PS384:
		return crypto.SHA384, nil
	case ES512, RS512, PS512:
		return crypto.SHA512, nil
	case EdDSA:
		// Ed25519 hashes internally (SHA-512) as part of the signing
		// equation; callers must not pre-hash the message.
		return crypto.Hash(0), nil
	default:
		return 0, fmt.Errorf("cose: unsupported algorithm %s", a)
	}
}

// isRSAPSS reports whether the algorithm uses RSASSA-PSS rather than
// RSASSA-PKCS1-v1_5.
func (a Algorithm) isRSAPSS() bool {
	switch a {
	case PS256, PS384, PS512:
		return true
	default:
		return false
	}
}
