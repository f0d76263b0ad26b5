// Package metadata decodes the FIDO Metadata Service (MDS) blob into a
// trust-anchor registry keyed by authenticator identifier.
package metadata

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IdentifierKind distinguishes the two ways an authenticator is named in
// the MDS: FIDO2 authenticators by AAGUID, FIDO-U2F authenticators by the
// SHA-1 SubjectKeyIdentifier of their attestation certificate.
type IdentifierKind int

const (
	IdentifierAAGUID IdentifierKind = iota
	IdentifierSubjectKeyIdentifier
)

// Identifier is a comparable tagged union: exactly one of aaguid or
// subjectKeyID is meaningful, selected by Kind. Safe to use as a map key.
type Identifier struct {
	Kind         IdentifierKind
	aaguid       [16]byte
	subjectKeyID [20]byte
}

// NewAAGUIDIdentifier builds an Identifier from a 16-byte AAGUID.
func NewAAGUIDIdentifier(b [16]byte) Identifier {
	return Identifier{Kind: IdentifierAAGUID, aaguid: b}
}

// NewSubjectKeyIdentifier builds an Identifier from a 20-byte SHA-1 subject
// key identifier.
func NewSubjectKeyIdentifier(b [20]byte) Identifier {
	return Identifier{Kind: IdentifierSubjectKeyIdentifier, subjectKeyID: b}
}

// AAGUID returns the identifier's AAGUID bytes; only meaningful when Kind
// is IdentifierAAGUID.
func (id Identifier) AAGUID() [16]byte { return id.aaguid }

// SubjectKeyID returns the identifier's SHA-1 digest bytes; only meaningful
// when Kind is IdentifierSubjectKeyIdentifier.
func (id Identifier) SubjectKeyID() [20]byte { return id.subjectKeyID }

func (id Identifier) String() string {
	switch id.Kind {
	case IdentifierAAGUID:
		return uuid.UUID(id.aaguid).String()
	case IdentifierSubjectKeyIdentifier:
		return hex.EncodeToString(id.subjectKeyID[:])
	default:
		return fmt.Sprintf("Identifier(kind=%d)", id.Kind)
	}
}

// ParseAAGUID parses a canonical UUID string (with dashes) into an
// Identifier, per spec.md §3 "Authenticator identifier".
func ParseAAGUID(s string) (Identifier, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Identifier{}, fmt.Errorf("metadata: invalid aaguid %q: %w", s, err)
	}
	return NewAAGUIDIdentifier([16]byte(u)), nil
}

// ParseIdentifier parses whatever String() produced: a canonical UUID for
// an AAGUID identifier, or a hex-encoded digest for a subject key
// identifier. Used by callers that round-trip an Identifier through a
// plain string column without separately recording its kind.
func ParseIdentifier(s string) (Identifier, error) {
	if id, err := ParseAAGUID(s); err == nil {
		return id, nil
	}
	return ParseSubjectKeyIdentifierHex(s)
}

// ParseSubjectKeyIdentifierHex parses a hex-encoded SHA-1 digest, tolerating
// colon separators as sometimes emitted by tooling.
func ParseSubjectKeyIdentifierHex(s string) (Identifier, error) {
	clean := strings.ReplaceAll(s, ":", "")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Identifier{}, fmt.Errorf("metadata: invalid subject key identifier %q: %w", s, err)
	}
	if len(raw) != 20 {
		return Identifier{}, fmt.Errorf("metadata: subject key identifier must be 20 bytes, got %d", len(raw))
	}
	var b [20]byte
	copy(b[:], raw)
	return NewSubjectKeyIdentifier(b), nil
}
