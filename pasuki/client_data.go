package pasuki

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
)

// Ceremony-type strings carried in CollectedClientData.Type.
const (
	ClientDataTypeCreate = "webauthn.create"
	ClientDataTypeGet    = "webauthn.get"
)

// ClientData is the decoded CollectedClientData (spec.md §3), paired with
// the exact raw bytes the browser produced — the raw bytes, not any
// re-encoding, are what gets hashed and signed.
type ClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
	Raw         []byte `json:"-"`
}

// DecodeClientData parses raw client-data JSON, retaining raw for hashing.
func DecodeClientData(raw []byte) (*ClientData, error) {
	cd := &ClientData{}
	if err := json.Unmarshal(raw, cd); err != nil {
		return nil, &ClientDataDecodeError{Reason: err.Error()}
	}
	cd.Raw = raw
	return cd, nil
}

// Hash returns SHA-256(cd.Raw), the clientDataHash spec.md §4.4 step 4 and
// §4.5 step 7 both compute.
func (cd *ClientData) Hash() []byte {
	sum := sha256.Sum256(cd.Raw)
	return sum[:]
}

func verifyClientData(cd *ClientData, wantType, origin, wantChallenge string, errs *Errors) {
	if cd.Type != wantType {
		errs.Add(&ClientDataDecodeError{Reason: "unexpected client data type " + cd.Type})
	}
	if cd.Origin != origin {
		errs.Add(&OriginMismatch{Got: cd.Origin, Want: origin})
	}
	if subtle.ConstantTimeEq(int32(len(cd.Challenge)), int32(len(wantChallenge))) == 0 ||
		subtle.ConstantTimeCompare([]byte(cd.Challenge), []byte(wantChallenge)) == 0 {
		errs.Add(&ChallengeMismatch{})
	}
}
