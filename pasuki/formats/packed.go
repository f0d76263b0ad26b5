package formats

import (
	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// Packed implements the "packed" attestation statement format: a plain
// signature over rawAuthData||clientDataHash, either self-attested with the
// credential key or chained through an x5c certificate.
type Packed struct{}

func (Packed) Identifier() string { return "packed" }

func (p Packed) Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error) {
	algRaw, ok := attStmt["alg"]
	if !ok {
		return Chain{}, &Error{Format: "packed", Reason: "missing alg"}
	}
	alg, err := toAlgorithm(algRaw)
	if err != nil {
		return Chain{}, &Error{Format: "packed", Reason: err.Error()}
	}

	sig, ok := toByteSlice(attStmt["sig"])
	if !ok {
		return Chain{}, &Error{Format: "packed", Reason: "missing sig"}
	}

	message := signedBytes(rawAuthData, clientDataHash)

	x5cRaw, hasX5C := attStmt["x5c"]
	if !hasX5C {
		if alg != credentialKey.Algorithm() {
			return Chain{}, &Error{Format: "packed", Reason: "attStmt alg does not match credential key algorithm"}
		}
		ok, err := credentialKey.Verify(message, sig)
		if err != nil {
			return Chain{}, &Error{Format: "packed", Reason: err.Error()}
		}
		if !ok {
			return Chain{}, &Error{Format: "packed", Reason: "self attestation signature invalid"}
		}
		return Chain{Kind: KindSelfAttestation}, nil
	}

	rawCerts, err := toByteSliceSlice(x5cRaw)
	if err != nil {
		return Chain{}, &Error{Format: "packed", Reason: err.Error()}
	}
	chain, err := decodeX5C(rawCerts)
	if err != nil {
		return Chain{}, &Error{Format: "packed", Reason: err.Error()}
	}
	if err := verifyChainLinkage(chain); err != nil {
		return Chain{}, &Error{Format: "packed", Reason: err.Error()}
	}

	leaf := chain[0]
	ok, err = cose.VerifyCertificateSignature(leaf, alg, message, sig)
	if err != nil {
		return Chain{}, &Error{Format: "packed", Reason: err.Error()}
	}
	if !ok {
		return Chain{}, &Error{Format: "packed", Reason: "x5c attestation signature invalid"}
	}

	return Chain{Kind: KindBasicX5C, Certificates: chain}, nil
}

func toAlgorithm(v any) (cose.Algorithm, error) {
	n, err := toInt64Any(v)
	if err != nil {
		return 0, err
	}
	return cose.Algorithm(n), nil
}

func toInt64Any(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, &Error{Format: "", Reason: "alg is not an integer"}
	}
}

func toByteSlice(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

func toByteSliceSlice(v any) ([][]byte, error) {
	items, ok := v.([]any)
	if !ok {
		if raw, ok := v.([][]byte); ok {
			return raw, nil
		}
		return nil, &Error{Format: "", Reason: "x5c is not an array"}
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		b, ok := item.([]byte)
		if !ok {
			return nil, &Error{Format: "", Reason: "x5c entry is not a byte string"}
		}
		out[i] = b
	}
	return out, nil
}
