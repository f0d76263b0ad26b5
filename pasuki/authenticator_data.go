package pasuki

import (
	"bytes"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

// AuthenticatorData flag bits (spec.md §3).
const (
	flagUserPresent            = 1 << 0
	flagUserVerified           = 1 << 2
	flagBackupEligible         = 1 << 3
	flagBackedUp               = 1 << 4
	flagAttestedCredentialData = 1 << 6
	flagExtensionData          = 1 << 7
)

const (
	rpIDHashLen    = 32
	flagsLen       = 1
	signCountLen   = 4
	aaguidLen      = 16
	credIDLenBytes = 2

	minAuthDataLen = rpIDHashLen + flagsLen + signCountLen
)

// AttestedCredentialData is present only on registration (spec.md §3).
// CredentialPublicKey retains the exact CBOR bytes as received, required
// so the stored bytes can be re-verified byte-for-byte later.
type AttestedCredentialData struct {
	AAGUID              [16]byte
	CredentialID        []byte
	CredentialPublicKey []byte
}

// AuthenticatorData is the decoded authenticator-data byte layout
// (spec.md §3/§4.2), with the raw byte span retained for signing.
type AuthenticatorData struct {
	RpIDHash    []byte
	Flags       byte
	SignCount   uint32
	Attested    *AttestedCredentialData
	Extensions  map[string]any
	Raw         []byte
}

func (a *AuthenticatorData) UserPresent() bool    { return a.Flags&flagUserPresent != 0 }
func (a *AuthenticatorData) UserVerified() bool   { return a.Flags&flagUserVerified != 0 }
func (a *AuthenticatorData) BackupEligible() bool { return a.Flags&flagBackupEligible != 0 }
func (a *AuthenticatorData) BackedUp() bool       { return a.Flags&flagBackedUp != 0 }
func (a *AuthenticatorData) HasAttestedCredentialData() bool {
	return a.Flags&flagAttestedCredentialData != 0
}
func (a *AuthenticatorData) HasExtensionData() bool { return a.Flags&flagExtensionData != 0 }

// DecodeAuthenticatorData parses the 37+-byte authenticator data layout
// (spec.md §4.2), capturing the attested credential public key's exact
// CBOR byte span.
func DecodeAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < minAuthDataLen {
		return nil, &AuthenticatorDataDecodeError{Reason: "shorter than the minimum 37 bytes"}
	}

	p := 0
	rpIDHash := raw[p : p+rpIDHashLen]
	p += rpIDHashLen

	flags := raw[p]
	p += flagsLen

	signCount := binary.BigEndian.Uint32(raw[p : p+signCountLen])
	p += signCountLen

	a := &AuthenticatorData{RpIDHash: rpIDHash, Flags: flags, SignCount: signCount}

	if flags&flagAttestedCredentialData != 0 {
		if len(raw) < p+aaguidLen+credIDLenBytes {
			return nil, &AuthenticatorDataDecodeError{Reason: "truncated attested credential data header"}
		}
		var aaguid [16]byte
		copy(aaguid[:], raw[p:p+aaguidLen])
		p += aaguidLen

		credIDLen := int(binary.BigEndian.Uint16(raw[p : p+credIDLenBytes]))
		p += credIDLenBytes
		if credIDLen > 1023 {
			return nil, &AuthenticatorDataDecodeError{Reason: "credentialId exceeds 1023 bytes"}
		}
		if len(raw) < p+credIDLen {
			return nil, &AuthenticatorDataDecodeError{Reason: "truncated credentialId"}
		}
		credentialID := raw[p : p+credIDLen]
		p += credIDLen

		var rawKey cbor.RawMessage
		n, err := decodeOneCBORItem(raw[p:], &rawKey)
		if err != nil {
			return nil, &AuthenticatorDataDecodeError{Reason: "credentialPublicKey: " + err.Error()}
		}
		p += n

		a.Attested = &AttestedCredentialData{
			AAGUID:              aaguid,
			CredentialID:        credentialID,
			CredentialPublicKey: []byte(rawKey),
		}
	}

	if flags&flagExtensionData != 0 {
		if p >= len(raw) {
			return nil, &AuthenticatorDataDecodeError{Reason: "extension data bit set but no bytes remain"}
		}
		var rawExt cbor.RawMessage
		n, err := decodeOneCBORItem(raw[p:], &rawExt)
		if err != nil {
			return nil, &AuthenticatorDataDecodeError{Reason: "extensions: " + err.Error()}
		}
		p += n

		var ext map[string]any
		if err := cbor.Unmarshal(rawExt, &ext); err != nil {
			return nil, &AuthenticatorDataDecodeError{Reason: "extensions: " + err.Error()}
		}
		a.Extensions = ext
	}

	if p != len(raw) {
		return nil, &AuthenticatorDataDecodeError{Reason: "trailing bytes after decoding authenticator data"}
	}

	a.Raw = raw
	return a, nil
}

// decodeOneCBORItem decodes exactly one CBOR data item from the front of
// buf and reports how many bytes it consumed, so the caller can continue
// parsing the surrounding byte layout.
func decodeOneCBORItem(buf []byte, out any) (int, error) {
	dec := cbor.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(out); err != nil {
		return 0, err
	}
	return int(dec.NumBytesRead()), nil
}
