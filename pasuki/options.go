package pasuki

// Default timeout and attestation preference, carried over from the
// teacher's constants and generalized per spec.md §6.
const (
	DefaultTimeoutMillis = 180000
	AttestationNone      = "none"
	UserVerificationRequired    = "required"
	UserVerificationPreferred   = "preferred"
	UserVerificationDiscouraged = "discouraged"
	PublicKeyCredentialType     = "public-key"
)

type RelyingParty struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type User struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

type PublicKeyCredentialParam struct {
	Type string `json:"type"`
	Alg  int64  `json:"alg"`
}

// Credential appears in excludeCredentials/allowCredentials.
type Credential struct {
	ID         []byte   `json:"id"`
	Type       string   `json:"type"`
	Transports []string `json:"transports,omitempty"`
}

type AuthenticatorSelection struct {
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
	ResidentKey             string `json:"residentKey,omitempty"`
	RequireResidentKey      bool   `json:"requireResidentKey,omitempty"`
	UserVerification        string `json:"userVerification"`
}

// RegistrationOptions mirrors W3C PublicKeyCredentialCreationOptions
// (spec.md §6). Defaults are applied by NewRegistrationOptions, not left
// to the JSON encoder, so the in-memory value matches what was actually
// stored under the pending challenge.
type RegistrationOptions struct {
	Challenge              string                      `json:"challenge"`
	Rp                     RelyingParty                `json:"rp"`
	User                   User                        `json:"user"`
	PubKeyCredParams       []PublicKeyCredentialParam  `json:"pubKeyCredParams"`
	Timeout                uint                        `json:"timeout"`
	Attestation            string                      `json:"attestation"`
	AuthenticatorSelection AuthenticatorSelection       `json:"authenticatorSelection"`
	ExcludeCredentials     []Credential                `json:"excludeCredentials"`
}

// VerifyOptions mirrors W3C PublicKeyCredentialRequestOptions.
type VerifyOptions struct {
	Challenge        string       `json:"challenge"`
	Timeout          uint         `json:"timeout"`
	UserVerification string       `json:"userVerification"`
	AllowCredentials []Credential `json:"allowCredentials"`
}

// DefaultAlgorithms is the set this RP will accept, matching the COSE
// algorithms pasuki/cose knows how to verify.
var DefaultAlgorithms = []int64{-7, -8, -35, -36, -257, -258, -259, -37, -38, -39}

// NewRegistrationOptions builds a RegistrationOptions with the §6 defaults
// applied: excludeCredentials = [], attestation = "none",
// userVerification = "preferred", residentKey tracks requireResidentKey.
func NewRegistrationOptions(challenge string, rp RelyingParty, user User, requireResidentKey bool, exclude []Credential) *RegistrationOptions {
	params := make([]PublicKeyCredentialParam, len(DefaultAlgorithms))
	for i, alg := range DefaultAlgorithms {
		params[i] = PublicKeyCredentialParam{Type: PublicKeyCredentialType, Alg: alg}
	}

	residentKey := "discouraged"
	if requireResidentKey {
		residentKey = "required"
	}

	if exclude == nil {
		exclude = []Credential{}
	}

	return &RegistrationOptions{
		Challenge:        challenge,
		Rp:               rp,
		User:             user,
		PubKeyCredParams: params,
		Timeout:          DefaultTimeoutMillis,
		Attestation:      AttestationNone,
		AuthenticatorSelection: AuthenticatorSelection{
			ResidentKey:        residentKey,
			RequireResidentKey: requireResidentKey,
			UserVerification:   UserVerificationPreferred,
		},
		ExcludeCredentials: exclude,
	}
}

// NewVerifyOptions builds a VerifyOptions with the §6 defaults applied:
// allowCredentials = [], userVerification = "preferred".
func NewVerifyOptions(challenge string, allow []Credential) *VerifyOptions {
	if allow == nil {
		allow = []Credential{}
	}
	return &VerifyOptions{
		Challenge:        challenge,
		Timeout:          DefaultTimeoutMillis,
		UserVerification: UserVerificationPreferred,
		AllowCredentials: allow,
	}
}

// allowsAlgorithm reports whether alg is among the options' accepted
// public-key-credential algorithms.
func (o *RegistrationOptions) allowsAlgorithm(alg int64) bool {
	for _, p := range o.PubKeyCredParams {
		if p.Alg == alg {
			return true
		}
	}
	return false
}
