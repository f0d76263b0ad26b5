package formats

import (
	"bytes"
	"crypto/x509"
	"fmt"
)

// decodeX5C decodes a CBOR-decoded x5c array (each element a DER cert) into
// parsed certificates, leaf first.
func decodeX5C(raw [][]byte) ([]*x509.Certificate, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("x5c chain is empty")
	}
	certs := make([]*x509.Certificate, len(raw))
	for i, der := range raw {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parsing x5c[%d]: %w", i, err)
		}
		certs[i] = cert
	}
	return certs, nil
}

// verifyChainLinkage walks a leaf-to-root ordered certificate slice,
// checking that each certificate is signed by the next, without requiring a
// pinned root — root-matching against the MDS registry happens one layer up
// in the registration verifier (spec §4.4 step 9).
func verifyChainLinkage(chain []*x509.Certificate) error {
	for i := 0; i < len(chain)-1; i++ {
		child, parent := chain[i], chain[i+1]
		if !bytes.Equal(parent.RawSubject, child.RawIssuer) {
			return fmt.Errorf("certificate at index %d: issuer does not match parent subject at index %d", i, i+1)
		}
		if err := child.CheckSignatureFrom(parent); err != nil {
			return fmt.Errorf("certificate at index %d not signed by parent at index %d: %w", i, i+1, err)
		}
	}
	return nil
}
