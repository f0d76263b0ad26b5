package pasuki

import (
	"crypto/sha1"
	"crypto/x509"

	"github.com/kadowaki/pasuki-webauthn/pasuki/formats"
	"github.com/kadowaki/pasuki-webauthn/pasuki/metadata"
)

// TrustKind classifies the outcome of resolving an attestation chain
// against the metadata registry (spec.md §4.4 step 9).
type TrustKind int

const (
	TrustNoTrustworthy TrustKind = iota
	TrustTrusted
	TrustUnknown
)

func (k TrustKind) String() string {
	switch k {
	case TrustNoTrustworthy:
		return "NoTrustworthy"
	case TrustTrusted:
		return "Trusted"
	case TrustUnknown:
		return "UnknownTrust"
	default:
		return "Unknown"
	}
}

// Trust is the result of step 9's classification.
type Trust struct {
	Kind          TrustKind
	MetadataEntry *metadata.Entry
}

// classifyTrust implements spec.md §4.4 step 9: SelfAttestation/Uncertain
// chains are never trustworthy; x5c-bearing chains resolve their root
// against the metadata registry, keyed by the identifier extracted from
// authData (AAGUID for FIDO2) or the leaf certificate (SHA-1 SKI for U2F).
func classifyTrust(chain formats.Chain, attested *AttestedCredentialData, registry *metadata.Registry) (Trust, error) {
	switch chain.Kind {
	case formats.KindSelfAttestation, formats.KindUncertain:
		return Trust{Kind: TrustNoTrustworthy}, nil
	}

	id, err := identifierFor(chain.Certificates, attested)
	if err != nil {
		return Trust{}, err
	}

	entry, ok := registry.Lookup(id)
	if !ok {
		return Trust{Kind: TrustUnknown}, nil
	}

	root := chain.Certificates[len(chain.Certificates)-1]
	for _, candidate := range entry.AttestationRootCertificates {
		if candidate.Equal(root) {
			return Trust{Kind: TrustTrusted, MetadataEntry: &entry}, nil
		}
	}
	return Trust{Kind: TrustUnknown}, nil
}

// identifierFor derives the authenticator identifier that the metadata
// registry is keyed by: the AAGUID carried in authData when non-zero
// (FIDO2 authenticators), otherwise the SHA-1 SubjectKeyIdentifier of the
// leaf certificate (FIDO-U2F authenticators, which carry no AAGUID).
func identifierFor(chain []*x509.Certificate, attested *AttestedCredentialData) (metadata.Identifier, error) {
	if attested != nil && attested.AAGUID != [16]byte{} {
		return metadata.NewAAGUIDIdentifier(attested.AAGUID), nil
	}
	if len(chain) == 0 {
		return metadata.Identifier{}, &CertificateChainInvalid{Reason: "no certificate to derive an identifier from"}
	}
	leaf := chain[0]
	if len(leaf.SubjectKeyId) == 20 {
		var b [20]byte
		copy(b[:], leaf.SubjectKeyId)
		return metadata.NewSubjectKeyIdentifier(b), nil
	}
	sum := sha1.Sum(leaf.RawSubjectPublicKeyInfo)
	return metadata.NewSubjectKeyIdentifier(sum), nil
}
