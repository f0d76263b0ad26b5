package formats

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

func ecdsaCredentialKey(t *testing.T, priv *ecdsa.PrivateKey, alg cose.Algorithm) cose.PublicKey {
	t.Helper()
	size := (priv.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	priv.X.FillBytes(x)
	priv.Y.FillBytes(y)
	raw, err := cbor.Marshal(map[int]any{
		1:  int64(2), // kty: EC2
		3:  int64(alg),
		-1: int64(1), // crv: P-256
		-2: x,
		-3: y,
	})
	if err != nil {
		t.Fatalf("marshal cose key: %v", err)
	}
	uk, err := cose.Decode(raw)
	if err != nil {
		t.Fatalf("decode cose key: %v", err)
	}
	pk, err := uk.Check()
	if err != nil {
		t.Fatalf("check cose key: %v", err)
	}
	return pk
}

func signASN1(t *testing.T, priv *ecdsa.PrivateKey, message []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	if err != nil {
		t.Fatalf("marshal sig: %v", err)
	}
	return sig
}

func TestNoneFormat(t *testing.T) {
	t.Run("accepts empty attStmt", func(t *testing.T) {
		chain, err := None{}.Verify(map[string]any{}, nil, nil, cose.PublicKey{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if chain.Kind != KindUncertain {
			t.Errorf("expected Uncertain, got %v", chain.Kind)
		}
	})

	t.Run("rejects non-empty attStmt", func(t *testing.T) {
		_, err := None{}.Verify(map[string]any{"sig": []byte{1}}, nil, nil, cose.PublicKey{})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestPackedFormatSelfAttestation(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credentialKey := ecdsaCredentialKey(t, priv, cose.ES256)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256.Sum256([]byte("client-data"))
	message := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	sig := signASN1(t, priv, message)

	t.Run("valid self attestation", func(t *testing.T) {
		attStmt := map[string]any{"alg": int64(cose.ES256), "sig": sig}
		chain, err := Packed{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if chain.Kind != KindSelfAttestation {
			t.Errorf("expected SelfAttestation, got %v", chain.Kind)
		}
	})

	t.Run("algorithm mismatch fails", func(t *testing.T) {
		attStmt := map[string]any{"alg": int64(cose.ES384), "sig": sig}
		_, err := Packed{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for mismatched algorithm, got nil")
		}
	})

	t.Run("tampered signature fails", func(t *testing.T) {
		tampered := append([]byte{}, sig...)
		tampered[len(tampered)-1] ^= 0xff
		attStmt := map[string]any{"alg": int64(cose.ES256), "sig": tampered}
		_, err := Packed{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for tampered signature, got nil")
		}
	})
}

func selfSignedCert(t *testing.T, priv *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	return selfSignedCertWithExtensions(t, priv, nil)
}

func selfSignedCertWithExtensions(t *testing.T, priv *ecdsa.PrivateKey, exts []pkix.Extension) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:    big.NewInt(1),
		Subject:         pkix.Name{CommonName: "test leaf"},
		NotBefore:       time.Now().Add(-time.Hour),
		NotAfter:        time.Now().Add(time.Hour),
		ExtraExtensions: exts,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func TestFidoU2FFormat(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert := selfSignedCert(t, priv)
	credentialKey := ecdsaCredentialKey(t, priv, cose.ES256)

	rpIDHash := sha256.Sum256([]byte("example.com"))
	credentialID := []byte("credential-id-bytes")
	authData := make([]byte, 0)
	authData = append(authData, rpIDHash[:]...)
	authData = append(authData, 0x41) // flags: UP | AT
	authData = append(authData, 0, 0, 0, 0)
	authData = append(authData, make([]byte, 16)...) // aaguid
	authData = append(authData, byte(len(credentialID)>>8), byte(len(credentialID)))
	authData = append(authData, credentialID...)

	clientDataHash := sha256.Sum256([]byte("client-data"))

	point, err := uncompressedPoint(credentialKey)
	if err != nil {
		t.Fatalf("uncompressed point: %v", err)
	}
	message := []byte{0x00}
	message = append(message, rpIDHash[:]...)
	message = append(message, clientDataHash[:]...)
	message = append(message, credentialID...)
	message = append(message, point...)
	sig := signASN1(t, priv, message)

	attStmt := map[string]any{
		"x5c": []any{cert.Raw},
		"sig": sig,
	}

	chain, err := FidoU2F{}.Verify(attStmt, authData, clientDataHash[:], credentialKey)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if chain.Kind != KindBasicX5C {
		t.Errorf("expected BasicX5C, got %v", chain.Kind)
	}
}

func TestAndroidKeyFormat(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credentialKey := ecdsaCredentialKey(t, priv, cose.ES256)
	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256.Sum256([]byte("client-data"))

	descBytes, err := asn1.Marshal(keyDescription{
		AttestationVersion:   3,
		KeymasterVersion:     3,
		AttestationChallenge: clientDataHash[:],
	})
	if err != nil {
		t.Fatalf("marshal key description: %v", err)
	}
	cert := selfSignedCertWithExtensions(t, priv, []pkix.Extension{
		{Id: androidKeyAttestationExtensionOID, Value: descBytes},
	})

	message := signedBytes(rawAuthData, clientDataHash[:])
	sig := signASN1(t, priv, message)
	attStmt := map[string]any{
		"alg": int64(cose.ES256),
		"sig": sig,
		"x5c": []any{cert.Raw},
	}

	t.Run("valid android-key attestation", func(t *testing.T) {
		chain, err := AndroidKey{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if chain.Kind != KindBasicX5C {
			t.Errorf("expected BasicX5C, got %v", chain.Kind)
		}
	})

	t.Run("attestationChallenge mismatch fails", func(t *testing.T) {
		wrongHash := sha256.Sum256([]byte("other-client-data"))
		_, err := AndroidKey{}.Verify(attStmt, rawAuthData, wrongHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for attestationChallenge mismatch, got nil")
		}
	})

	t.Run("tampered signature fails", func(t *testing.T) {
		tampered := append([]byte{}, sig...)
		tampered[len(tampered)-1] ^= 0xff
		bad := map[string]any{"alg": int64(cose.ES256), "sig": tampered, "x5c": []any{cert.Raw}}
		_, err := AndroidKey{}.Verify(bad, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for tampered signature, got nil")
		}
	})
}

func TestAndroidSafetyNetFormat(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credentialKey := ecdsaCredentialKey(t, priv, cose.ES256)
	cert := selfSignedCert(t, priv)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256.Sum256([]byte("client-data"))
	nonce := sha256.Sum256(signedBytes(rawAuthData, clientDataHash[:]))

	buildResponse := func(t *testing.T, ctsProfileMatch bool) []byte {
		t.Helper()
		claims := &safetyNetClaims{
			Nonce:           base64.StdEncoding.EncodeToString(nonce[:]),
			CtsProfileMatch: ctsProfileMatch,
			BasicIntegrity:  true,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
		token.Header["x5c"] = []string{base64.StdEncoding.EncodeToString(cert.Raw)}
		signed, err := token.SignedString(priv)
		if err != nil {
			t.Fatalf("sign jws: %v", err)
		}
		return []byte(signed)
	}

	t.Run("valid safetynet attestation", func(t *testing.T) {
		attStmt := map[string]any{"response": buildResponse(t, true)}
		chain, err := AndroidSafetyNet{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if chain.Kind != KindBasicX5C {
			t.Errorf("expected BasicX5C, got %v", chain.Kind)
		}
	})

	t.Run("ctsProfileMatch false fails", func(t *testing.T) {
		attStmt := map[string]any{"response": buildResponse(t, false)}
		_, err := AndroidSafetyNet{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for ctsProfileMatch=false, got nil")
		}
	})

	t.Run("nonce mismatch fails", func(t *testing.T) {
		attStmt := map[string]any{"response": buildResponse(t, true)}
		wrongHash := sha256.Sum256([]byte("other-client-data"))
		_, err := AndroidSafetyNet{}.Verify(attStmt, rawAuthData, wrongHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for nonce mismatch, got nil")
		}
	})
}

func TestTPMFormat(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credentialKey := ecdsaCredentialKey(t, priv, cose.ES256)
	cert := selfSignedCert(t, priv)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256.Sum256([]byte("client-data"))

	buildCertInfo := func(extraData []byte) []byte {
		certInfo := make([]byte, 0, 10+len(extraData))
		certInfo = binary.BigEndian.AppendUint32(certInfo, tpmGeneratedValue)
		certInfo = binary.BigEndian.AppendUint16(certInfo, tpmStAttestCertify)
		certInfo = binary.BigEndian.AppendUint16(certInfo, 0) // qualifiedSigner, empty
		certInfo = binary.BigEndian.AppendUint16(certInfo, uint16(len(extraData)))
		certInfo = append(certInfo, extraData...)
		return certInfo
	}

	expectedExtraData := sha256.Sum256(signedBytes(rawAuthData, clientDataHash[:]))
	certInfo := buildCertInfo(expectedExtraData[:])
	sig := signASN1(t, priv, certInfo)

	attStmt := map[string]any{
		"ver":      "2.0",
		"alg":      int64(cose.ES256),
		"sig":      sig,
		"certInfo": certInfo,
		"pubArea":  []byte("pub-area-bytes"),
		"x5c":      []any{cert.Raw},
	}

	t.Run("valid tpm attestation", func(t *testing.T) {
		chain, err := TPM{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if chain.Kind != KindAttCAX5C {
			t.Errorf("expected AttCAX5C, got %v", chain.Kind)
		}
	})

	t.Run("extraData mismatch fails", func(t *testing.T) {
		wrongExtraData := sha256.Sum256([]byte("wrong"))
		badCertInfo := buildCertInfo(wrongExtraData[:])
		badSig := signASN1(t, priv, badCertInfo)
		bad := map[string]any{
			"ver": "2.0", "alg": int64(cose.ES256), "sig": badSig,
			"certInfo": badCertInfo, "pubArea": []byte("pub-area-bytes"), "x5c": []any{cert.Raw},
		}
		_, err := TPM{}.Verify(bad, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for extraData mismatch, got nil")
		}
	})

	t.Run("tampered signature fails", func(t *testing.T) {
		tampered := append([]byte{}, sig...)
		tampered[len(tampered)-1] ^= 0xff
		bad := map[string]any{
			"ver": "2.0", "alg": int64(cose.ES256), "sig": tampered,
			"certInfo": certInfo, "pubArea": []byte("pub-area-bytes"), "x5c": []any{cert.Raw},
		}
		_, err := TPM{}.Verify(bad, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for tampered signature, got nil")
		}
	})
}

func TestAppleFormat(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credentialKey := ecdsaCredentialKey(t, priv, cose.ES256)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256.Sum256([]byte("client-data"))
	expected := sha256.Sum256(signedBytes(rawAuthData, clientDataHash[:]))

	buildCert := func(t *testing.T, pub *ecdsa.PrivateKey, nonce [32]byte) *x509.Certificate {
		extRaw, err := asn1.Marshal(appleNonceExtension{Nonce: nonce[:]})
		if err != nil {
			t.Fatalf("marshal nonce extension: %v", err)
		}
		return selfSignedCertWithExtensions(t, pub, []pkix.Extension{
			{Id: appleNonceExtensionOID, Value: extRaw},
		})
	}

	t.Run("valid apple attestation", func(t *testing.T) {
		cert := buildCert(t, priv, expected)
		attStmt := map[string]any{"x5c": []any{cert.Raw}}
		chain, err := Apple{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if chain.Kind != KindAnonCA {
			t.Errorf("expected AnonCA, got %v", chain.Kind)
		}
	})

	t.Run("nonce mismatch fails", func(t *testing.T) {
		wrong := sha256.Sum256([]byte("not-the-expected-nonce"))
		cert := buildCert(t, priv, wrong)
		attStmt := map[string]any{"x5c": []any{cert.Raw}}
		_, err := Apple{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for nonce mismatch, got nil")
		}
	})

	t.Run("leaf public key mismatch fails", func(t *testing.T) {
		otherPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		// leaf certificate's key doesn't match credentialKey, even though
		// the nonce extension is valid for this ceremony.
		cert := buildCert(t, otherPriv, expected)
		attStmt := map[string]any{"x5c": []any{cert.Raw}}
		_, err = Apple{}.Verify(attStmt, rawAuthData, clientDataHash[:], credentialKey)
		if err == nil {
			t.Fatal("expected error for leaf public key not matching credential key, got nil")
		}
	})
}
