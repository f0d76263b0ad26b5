package cose

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE_Key map labels used by this package. RSA reuses the -1/-2 labels of
// OKP/EC2 under a different key type; the label only has meaning alongside
// kty.
const (
	labelKty = 1
	labelAlg = 3

	labelOKPCrv = -1
	labelOKPX   = -2

	labelEC2Crv = -1
	labelEC2X   = -2
	labelEC2Y   = -3

	labelRSAN = -1
	labelRSAE = -2
)

// Key types (kty).
const (
	ktyOKP = 1
	ktyEC2 = 2
	ktyRSA = 3
)

// EC2/OKP curve identifiers (crv).
const (
	crvP256    = 1
	crvP384    = 2
	crvP521    = 3
	crvEd25519 = 6
)

// KeyType identifies which variant an UncheckedKey holds.
type KeyType int

const (
	KeyTypeEdDSA KeyType = iota
	KeyTypeECDSA
	KeyTypeRSA
)

// UncheckedKey is the COSE_Key as decoded from CBOR, before structural
// validation. Only a [PublicKey] obtained from [UncheckedKey.Check] may be
// used for signature verification.
type UncheckedKey struct {
	Type      KeyType
	Algorithm Algorithm

	// EdDSA
	EdDSACurve string // always "Ed25519" once decoded
	X          []byte // EdDSA public key bytes, or ECDSA X coordinate

	// ECDSA
	ECDSACurve elliptic.Curve
	Y          []byte // ECDSA Y coordinate

	// RSA
	N []byte
	E []byte
}

// PublicKey is an UncheckedKey that has passed [UncheckedKey.Check]. Only
// values of this type may be passed to [PublicKey.Verify].
type PublicKey struct {
	key       UncheckedKey
	publicKey any // *ecdsa.PublicKey | ed25519.PublicKey | *rsa.PublicKey
}

// ErrInvalidKeyShape is returned by Check when the key's structural
// invariants do not hold.
type ErrInvalidKeyShape struct {
	Reason string
}

func (e *ErrInvalidKeyShape) Error() string {
	return fmt.Sprintf("cose: invalid key shape: %s", e.Reason)
}

// Decode parses a COSE_Key CBOR map into an UncheckedKey.
func Decode(raw []byte) (UncheckedKey, error) {
	var m map[int]any
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return UncheckedKey{}, fmt.Errorf("cose: decoding key: %w", err)
	}

	ktyRaw, ok := m[labelKty]
	if !ok {
		return UncheckedKey{}, errors.New("cose: missing kty")
	}
	kty, err := toInt64(ktyRaw)
	if err != nil {
		return UncheckedKey{}, fmt.Errorf("cose: kty: %w", err)
	}

	algRaw, ok := m[labelAlg]
	if !ok {
		return UncheckedKey{}, errors.New("cose: missing alg")
	}
	algInt, err := toInt64(algRaw)
	if err != nil {
		return UncheckedKey{}, fmt.Errorf("cose: alg: %w", err)
	}
	alg := Algorithm(algInt)
	if !alg.Known() {
		return UncheckedKey{}, fmt.Errorf("cose: unsupported algorithm %d", algInt)
	}

	switch kty {
	case ktyOKP:
		return decodeOKP(m, alg)
	case ktyEC2:
		return decodeEC2(m, alg)
	case ktyRSA:
		return decodeRSA(m, alg)
	default:
		return UncheckedKey{}, fmt.Errorf("cose: unsupported kty %d", kty)
	}
}

func decodeOKP(m map[int]any, alg Algorithm) (UncheckedKey, error) {
	crvRaw, ok := m[labelOKPCrv]
	if !ok {
		return UncheckedKey{}, errors.New("cose: okp key missing crv")
	}
	crv, err := toInt64(crvRaw)
	if err != nil {
		return UncheckedKey{}, fmt.Errorf("cose: crv: %w", err)
	}
	if crv != crvEd25519 {
		return UncheckedKey{}, fmt.Errorf("cose: unsupported okp curve %d", crv)
	}
	x, ok := toBytes(m[labelOKPX])
	if !ok {
		return UncheckedKey{}, errors.New("cose: okp key missing x")
	}
	return UncheckedKey{
		Type:       KeyTypeEdDSA,
		Algorithm:  alg,
		EdDSACurve: "Ed25519",
		X:          x,
	}, nil
}

func decodeEC2(m map[int]any, alg Algorithm) (UncheckedKey, error) {
	crvRaw, ok := m[labelEC2Crv]
	if !ok {
		return UncheckedKey{}, errors.New("cose: ec2 key missing crv")
	}
	crv, err := toInt64(crvRaw)
	if err != nil {
		return UncheckedKey{}, fmt.Errorf("cose: crv: %w", err)
	}
	var curve elliptic.Curve
	switch crv {
	case crvP256:
		curve = elliptic.P256()
	case crvP384:
		curve = elliptic.P384()
	case crvP521:
		curve = elliptic.P521()
	default:
		return UncheckedKey{}, fmt.Errorf("cose: unsupported ec2 curve %d", crv)
	}
	x, ok := toBytes(m[labelEC2X])
	if !ok {
		return UncheckedKey{}, errors.New("cose: ec2 key missing x")
	}
	y, ok := toBytes(m[labelEC2Y])
	if !ok {
		return UncheckedKey{}, errors.New("cose: ec2 key missing y")
	}
	return UncheckedKey{
		Type:       KeyTypeECDSA,
		Algorithm:  alg,
		ECDSACurve: curve,
		X:          x,
		Y:          y,
	}, nil
}

func decodeRSA(m map[int]any, alg Algorithm) (UncheckedKey, error) {
	n, ok := toBytes(m[labelRSAN])
	if !ok {
		return UncheckedKey{}, errors.New("cose: rsa key missing n")
	}
	e, ok := toBytes(m[labelRSAE])
	if !ok {
		return UncheckedKey{}, errors.New("cose: rsa key missing e")
	}
	return UncheckedKey{
		Type:      KeyTypeRSA,
		Algorithm: alg,
		N:         n,
		E:         e,
	}, nil
}

// Check validates the structural invariants of the key (RFC 8152 plus the
// minimum sizes WebAuthn relying parties are expected to enforce) and
// returns a PublicKey usable for verification.
func (k UncheckedKey) Check() (PublicKey, error) {
	switch k.Type {
	case KeyTypeEdDSA:
		if len(k.X) != ed25519.PublicKeySize {
			return PublicKey{}, &ErrInvalidKeyShape{Reason: fmt.Sprintf(
				"ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(k.X))}
		}
		return PublicKey{key: k, publicKey: ed25519.PublicKey(k.X)}, nil

	case KeyTypeECDSA:
		x := new(big.Int).SetBytes(k.X)
		y := new(big.Int).SetBytes(k.Y)
		if !k.ECDSACurve.IsOnCurve(x, y) {
			return PublicKey{}, &ErrInvalidKeyShape{Reason: "ecdsa point is not on the named curve"}
		}
		pub := &ecdsa.PublicKey{Curve: k.ECDSACurve, X: x, Y: y}
		return PublicKey{key: k, publicKey: pub}, nil

	case KeyTypeRSA:
		n := new(big.Int).SetBytes(k.N)
		e := new(big.Int).SetBytes(k.E)
		if n.BitLen() < 2048 {
			return PublicKey{}, &ErrInvalidKeyShape{Reason: fmt.Sprintf(
				"rsa modulus must be at least 2048 bits, got %d", n.BitLen())}
		}
		eInt := e.Int64()
		if eInt <= 1 || eInt%2 == 0 {
			return PublicKey{}, &ErrInvalidKeyShape{Reason: "rsa public exponent must be odd and greater than 1"}
		}
		pub := &rsa.PublicKey{N: n, E: int(eInt)}
		return PublicKey{key: k, publicKey: pub}, nil

	default:
		return PublicKey{}, &ErrInvalidKeyShape{Reason: "unknown key type"}
	}
}

// Algorithm returns the algorithm the key was declared to use.
func (p PublicKey) Algorithm() Algorithm { return p.key.Algorithm }

// Std returns the standard-library public key value underlying p:
// *ecdsa.PublicKey, ed25519.PublicKey, or *rsa.PublicKey.
func (p PublicKey) Std() any { return p.publicKey }

// derECDSASignature is the ASN.1 SEQUENCE(r, s) shape used by WebAuthn
// signatures (fido-u2f and packed's ECDSA case).
type derECDSASignature struct {
	R, S *big.Int
}

// Verify checks that signature is a valid signature over message under the
// algorithm declared in the key. It never panics on malformed input; a
// signature that does not verify, including an ECDSA signature that is not
// valid DER, is reported as (false, nil), while an algorithm that cannot be
// used with the key type or a non-mismatch RSA failure is (false, err).
func (p PublicKey) Verify(message, signature []byte) (bool, error) {
	hashFn, err := p.key.Algorithm.hash()
	if err != nil {
		return false, err
	}
	if _, isEd25519 := p.publicKey.(ed25519.PublicKey); !isEd25519 && !hashFn.Available() {
		return false, fmt.Errorf("cose: algorithm %d cannot be used with this key type", p.key.Algorithm)
	}

	switch pub := p.publicKey.(type) {
	case ed25519.PublicKey:
		return ed25519.Verify(pub, message, signature), nil

	case *ecdsa.PublicKey:
		var sig derECDSASignature
		if _, err := asn1.Unmarshal(signature, &sig); err != nil {
			return false, nil
		}
		if sig.R == nil || sig.S == nil {
			return false, nil
		}
		digest := hashFn.New()
		digest.Write(message)
		return ecdsa.Verify(pub, digest.Sum(nil), sig.R, sig.S), nil

	case *rsa.PublicKey:
		digest := hashFn.New()
		digest.Write(message)
		sum := digest.Sum(nil)
		if p.key.Algorithm.isRSAPSS() {
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: hashFn}
			if err := rsa.VerifyPSS(pub, hashFn, sum, signature, opts); err != nil {
				if errors.Is(err, rsa.ErrVerification) {
					return false, nil
				}
				return false, err
			}
			return true, nil
		}
		if err := rsa.VerifyPKCS1v15(pub, hashFn, sum, signature); err != nil {
			if errors.Is(err, rsa.ErrVerification) {
				return false, nil
			}
			return false, err
		}
		return true, nil

	default:
		return false, fmt.Errorf("cose: unsupported public key type %T", pub)
	}
}

// VerifyCertificateSignature verifies signature as produced by a leaf
// certificate's private key, for attestation formats that sign with an
// x509 certificate rather than a bare COSE key (packed x5c, android-key,
// fido-u2f). alg selects the hash the way Verify does.
func VerifyCertificateSignature(cert *x509.Certificate, alg Algorithm, message, signature []byte) (bool, error) {
	uk, err := fromStdPublicKey(cert.PublicKey, alg)
	if err != nil {
		return false, err
	}
	pk, err := uk.Check()
	if err != nil {
		return false, err
	}
	return pk.Verify(message, signature)
}

func fromStdPublicKey(pub any, alg Algorithm) (UncheckedKey, error) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		curveSize := (key.Curve.Params().BitSize + 7) / 8
		return UncheckedKey{
			Type:       KeyTypeECDSA,
			Algorithm:  alg,
			ECDSACurve: key.Curve,
			X:          padTo(key.X.Bytes(), curveSize),
			Y:          padTo(key.Y.Bytes(), curveSize),
		}, nil
	case ed25519.PublicKey:
		return UncheckedKey{Type: KeyTypeEdDSA, Algorithm: alg, EdDSACurve: "Ed25519", X: key}, nil
	case *rsa.PublicKey:
		return UncheckedKey{
			Type:      KeyTypeRSA,
			Algorithm: alg,
			N:         key.N.Bytes(),
			E:         big.NewInt(int64(key.E)).Bytes(),
		}, nil
	default:
		return UncheckedKey{}, fmt.Errorf("cose: unsupported certificate public key type %T", pub)
	}
}

func padTo(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toBytes(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}
