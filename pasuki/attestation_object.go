package pasuki

import (
	"github.com/fxamacker/cbor/v2"
)

// attestationObjectCBOR is the wire shape of the CBOR-encoded attestation
// object (spec.md §3/§4.2): authData, fmt, attStmt, all three required.
type attestationObjectCBOR struct {
	AuthData []byte         `cbor:"authData"`
	Fmt      string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
}

// AttestationObject is the decoded attestation object, with authData
// further decoded into an AuthenticatorData.
type AttestationObject struct {
	Fmt            string
	AttStmt        map[string]any
	AuthenticatorData *AuthenticatorData
	RawAuthData    []byte
}

// DecodeAttestationObject strictly decodes raw CBOR into an
// AttestationObject: all three top-level keys are required, and authData
// is decoded as authenticator data (spec.md §4.2).
func DecodeAttestationObject(raw []byte) (*AttestationObject, error) {
	var obj attestationObjectCBOR
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return nil, &AttestationObjectDecodeError{Reason: err.Error()}
	}
	if obj.Fmt == "" {
		return nil, &AttestationObjectDecodeError{Reason: "missing fmt"}
	}
	if obj.AuthData == nil {
		return nil, &AttestationObjectDecodeError{Reason: "missing authData"}
	}
	if obj.AttStmt == nil {
		return nil, &AttestationObjectDecodeError{Reason: "missing attStmt"}
	}

	authData, err := DecodeAuthenticatorData(obj.AuthData)
	if err != nil {
		return nil, err
	}

	return &AttestationObject{
		Fmt:               obj.Fmt,
		AttStmt:           obj.AttStmt,
		AuthenticatorData: authData,
		RawAuthData:       obj.AuthData,
	}, nil
}
