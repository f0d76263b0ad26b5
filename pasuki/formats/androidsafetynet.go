package formats

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"

	"github.com/golang-jwt/jwt/v4"
	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// safetyNetClaims is the subset of the SafetyNet attestation JWS payload
// this verifier needs.
type safetyNetClaims struct {
	jwt.RegisteredClaims
	Nonce            string `json:"nonce"`
	CtsProfileMatch  bool   `json:"ctsProfileMatch"`
	BasicIntegrity   bool   `json:"basicIntegrity"`
}

// AndroidSafetyNet implements the "android-safetynet" attestation statement
// format: a SafetyNet JWS response whose nonce binds rawAuthData and
// clientDataHash.
type AndroidSafetyNet struct{}

func (AndroidSafetyNet) Identifier() string { return "android-safetynet" }

func (AndroidSafetyNet) Verify(attStmt map[string]any, rawAuthData, clientDataHash []byte, credentialKey cose.PublicKey) (Chain, error) {
	response, ok := toByteSlice(attStmt["response"])
	if !ok {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "missing response"}
	}

	var leaf *x509.Certificate
	claims := &safetyNetClaims{}
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(string(response), claims)
	if err != nil {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "could not parse jws payload: " + err.Error()}
	}

	token, err := parser.Parse(string(response), func(t *jwt.Token) (any, error) {
		x5c, ok := t.Header["x5c"].([]any)
		if !ok || len(x5c) == 0 {
			return nil, &Error{Format: "android-safetynet", Reason: "jws header missing x5c"}
		}
		der, err := base64.StdEncoding.DecodeString(x5c[0].(string))
		if err != nil {
			return nil, &Error{Format: "android-safetynet", Reason: "could not decode x5c leaf: " + err.Error()}
		}
		leaf, err = x509.ParseCertificate(der)
		if err != nil {
			return nil, &Error{Format: "android-safetynet", Reason: "could not parse x5c leaf: " + err.Error()}
		}
		return leaf.PublicKey, nil
	})
	if err != nil {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "jws signature invalid: " + err.Error()}
	}
	if !token.Valid {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "jws signature invalid"}
	}

	expectedNonce := sha256.Sum256(signedBytes(rawAuthData, clientDataHash))
	gotNonce, err := base64.StdEncoding.DecodeString(claims.Nonce)
	if err != nil {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "could not decode nonce: " + err.Error()}
	}
	if string(gotNonce) != string(expectedNonce[:]) {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "nonce does not bind authData/clientDataHash"}
	}

	if !claims.CtsProfileMatch {
		return Chain{}, &Error{Format: "android-safetynet", Reason: "ctsProfileMatch is false"}
	}

	return Chain{Kind: KindBasicX5C, Certificates: []*x509.Certificate{leaf}}, nil
}
