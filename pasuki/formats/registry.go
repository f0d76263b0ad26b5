// Package formats implements the pluggable attestation-statement verifiers
// dispatched by an attestation object's fmt identifier.
package formats

import (
	"crypto/x509"
	"fmt"

	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// ChainKind classifies the trust path a format's Verify produced.
type ChainKind int

const (
	KindSelfAttestation ChainKind = iota
	KindBasicX5C
	KindAttCAX5C
	KindAnonCA
	KindUncertain
)

func (k ChainKind) String() string {
	switch k {
	case KindSelfAttestation:
		return "SelfAttestation"
	case KindBasicX5C:
		return "BasicX5C"
	case KindAttCAX5C:
		return "AttCAX5C"
	case KindAnonCA:
		return "AnonCA"
	case KindUncertain:
		return "Uncertain"
	default:
		return fmt.Sprintf("ChainKind(%d)", int(k))
	}
}

// Chain is the trust path produced by verifying an attestation statement.
// Certificates, when present, are ordered leaf-first.
type Chain struct {
	Kind         ChainKind
	Certificates []*x509.Certificate
}

// Error is the single parameterized error variant attestation formats
// report through, carrying the format identifier and a format-specific
// reason (spec §7 "Attestation-format-specific" taxonomy entry).
type Error struct {
	Format string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("attestation format %q: %s", e.Format, e.Reason)
}

// Format verifies one attestation statement shape, keyed by the fmt string
// carried in the attestation object.
type Format interface {
	Identifier() string
	Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error)
}

// SupportedFormats is an immutable set of formats looked up by identifier.
// Constructed once at startup and passed into the registration verifier —
// never mutated globally (spec §9).
type SupportedFormats struct {
	byID map[string]Format
}

// NewSupportedFormats builds a SupportedFormats value from the given
// formats. Later entries with a duplicate Identifier overwrite earlier ones.
func NewSupportedFormats(fs ...Format) SupportedFormats {
	byID := make(map[string]Format, len(fs))
	for _, f := range fs {
		byID[f.Identifier()] = f
	}
	return SupportedFormats{byID: byID}
}

// Default returns the full set of formats spec.md §4.3 names.
func Default() SupportedFormats {
	return NewSupportedFormats(
		Packed{},
		FidoU2F{},
		AndroidKey{},
		AndroidSafetyNet{},
		TPM{},
		Apple{},
		None{},
	)
}

// Lookup returns the format registered under id.
func (s SupportedFormats) Lookup(id string) (Format, bool) {
	f, ok := s.byID[id]
	return f, ok
}

func signedBytes(rawAuthData, clientDataHash []byte) []byte {
	out := make([]byte, 0, len(rawAuthData)+len(clientDataHash))
	out = append(out, rawAuthData...)
	out = append(out, clientDataHash...)
	return out
}
