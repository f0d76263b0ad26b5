package pasuki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/kadowaki/pasuki-webauthn/pasuki/formats"
	"github.com/kadowaki/pasuki-webauthn/pasuki/metadata"
)

func ecdsaCOSEKeyBytes(t *testing.T, priv *ecdsa.PrivateKey) []byte {
	t.Helper()
	size := (priv.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	priv.X.FillBytes(x)
	priv.Y.FillBytes(y)
	raw, err := cbor.Marshal(map[int]any{
		1:  int64(2), // kty: EC2
		3:  int64(-7), // alg: ES256
		-1: int64(1),  // crv: P-256
		-2: x,
		-3: y,
	})
	if err != nil {
		t.Fatalf("marshal cose key: %v", err)
	}
	return raw
}

func buildAuthData(t *testing.T, rpIDHash []byte, flags byte, signCount uint32, credentialID, coseKey []byte) []byte {
	t.Helper()
	out := append([]byte{}, rpIDHash...)
	out = append(out, flags)
	sc := make([]byte, 4)
	binary.BigEndian.PutUint32(sc, signCount)
	out = append(out, sc...)
	if flags&flagAttestedCredentialData != 0 {
		out = append(out, make([]byte, 16)...) // aaguid, zero
		out = append(out, byte(len(credentialID)>>8), byte(len(credentialID)))
		out = append(out, credentialID...)
		out = append(out, coseKey...)
	}
	return out
}

func buildRegistrationResponse(t *testing.T, rpID, origin, challenge string, priv *ecdsa.PrivateKey, credentialID []byte) *RegistrationResponse {
	t.Helper()
	rpIDHash := sha256.Sum256([]byte(rpID))
	coseKey := ecdsaCOSEKeyBytes(t, priv)
	authData := buildAuthData(t, rpIDHash[:], flagUserPresent|flagAttestedCredentialData, 0, credentialID, coseKey)

	attObj, err := cbor.Marshal(map[string]any{
		"authData": authData,
		"fmt":      "none",
		"attStmt":  map[string]any{},
	})
	if err != nil {
		t.Fatalf("marshal attestation object: %v", err)
	}

	clientData, err := json.Marshal(map[string]any{
		"type":      ClientDataTypeCreate,
		"challenge": challenge,
		"origin":    origin,
	})
	if err != nil {
		t.Fatalf("marshal client data: %v", err)
	}

	resp := &RegistrationResponse{
		ID:    base64.RawURLEncoding.EncodeToString(credentialID),
		RawID: base64.RawURLEncoding.EncodeToString(credentialID),
		Type:  PublicKeyCredentialType,
	}
	resp.Response.ClientDataJSON = base64.RawURLEncoding.EncodeToString(clientData)
	resp.Response.AttestationObject = base64.RawURLEncoding.EncodeToString(attObj)
	return resp
}

func TestFinishRegistration(t *testing.T) {
	const (
		rpID   = "example.com"
		origin = "https://example.com"
	)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credentialID := []byte("credential-id")
	rpIDHash := rpIDHashOf(rpID)
	registry := &metadata.Registry{}
	supported := formats.Default()

	opts, err := BeginRegistration(RelyingParty{Name: "Example", ID: rpID}, User{ID: "dXNlcg", Name: "user"}, false, nil)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	t.Run("valid none-format registration", func(t *testing.T) {
		resp := buildRegistrationResponse(t, rpID, origin, opts.Challenge, priv, credentialID)
		result, err := FinishRegistration(opts, origin, rpIDHash, registry, supported, resp)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Trust.Kind != TrustNoTrustworthy {
			t.Errorf("expected NoTrustworthy trust for none format, got %v", result.Trust.Kind)
		}
		if string(result.CredentialEntry.CredentialID) != string(credentialID) {
			t.Errorf("unexpected credential id %q", result.CredentialEntry.CredentialID)
		}
	})

	t.Run("challenge mismatch fails", func(t *testing.T) {
		resp := buildRegistrationResponse(t, rpID, origin, "wrong-challenge", priv, credentialID)
		_, err := FinishRegistration(opts, origin, rpIDHash, registry, supported, resp)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("origin mismatch fails", func(t *testing.T) {
		resp := buildRegistrationResponse(t, rpID, "https://evil.example", opts.Challenge, priv, credentialID)
		_, err := FinishRegistration(opts, origin, rpIDHash, registry, supported, resp)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("rpIdHash mismatch fails", func(t *testing.T) {
		resp := buildRegistrationResponse(t, "other.example", origin, opts.Challenge, priv, credentialID)
		_, err := FinishRegistration(opts, origin, rpIDHash, registry, supported, resp)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
