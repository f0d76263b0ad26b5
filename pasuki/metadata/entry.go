package metadata

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
)

// AttestationType is the subset of MDS AuthenticatorAttestationType values
// that are usable as WebAuthn trust anchors (spec.md §3).
type AttestationType string

const (
	AttestationBasicFull AttestationType = "basic_full"
	AttestationAttCA      AttestationType = "attca"
)

var webauthnCompatibleAttestationTypes = map[string]AttestationType{
	"basic_full":         AttestationBasicFull,
	"tag_fido_basic_full": AttestationBasicFull,
	"attca":               AttestationAttCA,
	"tag_fido_attca":       AttestationAttCA,
}

// StatusReport mirrors one element of an MDS entry's StatusReports array.
type StatusReport struct {
	Status        string
	EffectiveDate string
}

// Entry is the decoded, WebAuthn-relevant projection of one
// MetadataBLOBPayloadEntry (spec.md §4.6 / C6).
type Entry struct {
	Identifier                 Identifier
	Description                string
	Icon                        []byte
	AttestationRootCertificates []*x509.Certificate
	AttestationTypes           []AttestationType
	UserVerificationDetails    []string
	KeyProtection               []string
	MatcherProtection           []string
	StatusReports               []StatusReport
}

// payloadEntry is the wire shape of a single MDS v3 BLOB payload entry,
// trimmed to the fields this verifier consumes.
type payloadEntry struct {
	AaGUID                                string   `json:"aaguid"`
	AttestationCertificateKeyIdentifiers []string `json:"attestationCertificateKeyIdentifiers"`
	StatusReports                        []struct {
		Status        string `json:"status"`
		EffectiveDate string `json:"effectiveDate"`
	} `json:"statusReports"`
	MetadataStatement struct {
		Description                string   `json:"description"`
		Schema                      int      `json:"schema"`
		AttestationTypes            []string `json:"attestationTypes"`
		UserVerificationDetails     []any    `json:"userVerificationDetails"`
		KeyProtection               []string `json:"keyProtection"`
		MatcherProtection           []string `json:"matcherProtection"`
		AttestationRootCertificates []string `json:"attestationRootCertificates"`
		Icon                        string   `json:"icon"`
	} `json:"metadataStatement"`
}

// decodeEntry implements C6: a partial function returning (entry, nil) on
// success, (nil, nil) to signal "skip, not error" (no WebAuthn-compatible
// attestation type present), or (nil, err) on a hard decode failure.
func decodeEntry(raw payloadEntry, strict bool) (*Entry, error) {
	if raw.MetadataStatement.Schema != 3 {
		return nil, fmt.Errorf("metadata: unsupported schema version %d", raw.MetadataStatement.Schema)
	}

	var types []AttestationType
	for _, t := range raw.MetadataStatement.AttestationTypes {
		if mapped, ok := webauthnCompatibleAttestationTypes[strings.ToLower(t)]; ok {
			types = append(types, mapped)
		}
	}
	if len(types) == 0 {
		return nil, nil // skip: no WebAuthn-compatible attestation type
	}

	identifier, err := decodeIdentifier(raw)
	if err != nil {
		return nil, err
	}

	roots := make([]*x509.Certificate, 0, len(raw.MetadataStatement.AttestationRootCertificates))
	for i, encoded := range raw.MetadataStatement.AttestationRootCertificates {
		der, err := decodeLenientBase64(encoded, strict)
		if err != nil {
			return nil, fmt.Errorf("metadata: root certificate %d: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("metadata: root certificate %d: %w", i, err)
		}
		roots = append(roots, cert)
	}

	statusReports := make([]StatusReport, 0, len(raw.StatusReports))
	for _, sr := range raw.StatusReports {
		statusReports = append(statusReports, StatusReport{Status: sr.Status, EffectiveDate: sr.EffectiveDate})
	}

	icon, err := decodeIcon(raw.MetadataStatement.Icon, strict)
	if err != nil {
		return nil, fmt.Errorf("metadata: icon: %w", err)
	}

	return &Entry{
		Identifier:                  identifier,
		Description:                 raw.MetadataStatement.Description,
		Icon:                        icon,
		AttestationRootCertificates: roots,
		AttestationTypes:            types,
		KeyProtection:               raw.MetadataStatement.KeyProtection,
		MatcherProtection:           raw.MetadataStatement.MatcherProtection,
		StatusReports:               statusReports,
	}, nil
}

// iconDataURLPrefix is the only prefix the MDS is documented to emit for
// the icon field (spec.md §4.6); anything else is a hard decode error.
const iconDataURLPrefix = "data:image/png;base64,"

// decodeIcon strips the data URL prefix and lenient-base64-decodes the
// payload, the same leniency decodeLenientBase64 already gives root
// certificates (spec.md §9's documented MDS base64 violation). An empty
// icon field is not an error: not every entry carries one.
func decodeIcon(s string, strict bool) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	payload, ok := strings.CutPrefix(s, iconDataURLPrefix)
	if !ok {
		return nil, fmt.Errorf("icon missing %q prefix", iconDataURLPrefix)
	}
	return decodeLenientBase64(payload, strict)
}

func decodeIdentifier(raw payloadEntry) (Identifier, error) {
	if raw.AaGUID != "" {
		return ParseAAGUID(raw.AaGUID)
	}
	if len(raw.AttestationCertificateKeyIdentifiers) > 0 {
		return ParseSubjectKeyIdentifierHex(raw.AttestationCertificateKeyIdentifiers[0])
	}
	return Identifier{}, fmt.Errorf("metadata: entry has neither aaguid nor attestationCertificateKeyIdentifiers")
}

// decodeLenientBase64 decodes either standard or raw-url base64, with or
// without padding, trimming surrounding whitespace. The MDS has a documented
// history of emitting non-canonical base64 for icons and root certificates
// (spec.md §4.6, §9 open question); strict rejects anything but standard
// padded base64.
func decodeLenientBase64(s string, strict bool) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if strict {
		return base64.StdEncoding.DecodeString(trimmed)
	}
	if b, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(trimmed)
}
