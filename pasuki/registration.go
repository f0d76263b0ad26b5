package pasuki

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
	"github.com/kadowaki/pasuki-webauthn/pasuki/formats"
	"github.com/kadowaki/pasuki-webauthn/pasuki/metadata"
)

// AttestationResult is what FinishRegistration produces on success: the
// record to persist plus the trust classification attestation earned
// (spec.md §4.4 step 9).
type AttestationResult struct {
	CredentialEntry CredentialEntry
	Trust           Trust
}

// BeginRegistration generates a fresh challenge and builds the
// registration options to send to the client (spec.md §4.1).
func BeginRegistration(rp RelyingParty, user User, requireResidentKey bool, exclude []Credential) (*RegistrationOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(challenge)
	return NewRegistrationOptions(encoded, rp, user, requireResidentKey, exclude), nil
}

// FinishRegistration verifies a registration response against the options
// that were issued for it, implementing spec.md §4.4's ordered checks.
// Every violation found is accumulated rather than short-circuiting; a
// non-nil error is always an Errors value (possibly wrapping exactly one
// failure). rpIDHash is SHA-256 of the relying party ID the options were
// issued for.
func FinishRegistration(
	opts *RegistrationOptions,
	origin string,
	rpIDHash []byte,
	registry *metadata.Registry,
	supported formats.SupportedFormats,
	resp *RegistrationResponse,
) (*AttestationResult, error) {
	var errs Errors

	clientDataRaw, err := base64.RawURLEncoding.DecodeString(resp.Response.ClientDataJSON)
	if err != nil {
		errs.Add(&ClientDataDecodeError{Reason: err.Error()})
		return nil, errs.AsError()
	}
	clientData, err := DecodeClientData(clientDataRaw)
	if err != nil {
		errs.Add(err)
		return nil, errs.AsError()
	}

	attestationObjectRaw, err := base64.RawURLEncoding.DecodeString(resp.Response.AttestationObject)
	if err != nil {
		errs.Add(&AttestationObjectDecodeError{Reason: err.Error()})
		return nil, errs.AsError()
	}
	attestationObject, err := DecodeAttestationObject(attestationObjectRaw)
	if err != nil {
		errs.Add(err)
		return nil, errs.AsError()
	}

	// Steps 1-3: client data type, challenge, origin.
	verifyClientData(clientData, ClientDataTypeCreate, origin, opts.Challenge, &errs)

	// Step 4: clientDataHash, used in the attestation statement's signed
	// bytes.
	clientDataHash := clientData.Hash()

	authData := attestationObject.AuthenticatorData

	// Step 5: rpIdHash.
	if !bytesEqual(authData.RpIDHash, rpIDHash) {
		errs.Add(&RpIdHashMismatch{})
	}

	// Step 6: user presence, and verification if required.
	if !authData.UserPresent() {
		errs.Add(&UserNotPresent{})
	}
	if opts.AuthenticatorSelection.UserVerification == UserVerificationRequired && !authData.UserVerified() {
		errs.Add(&UserNotVerified{})
	}

	if !authData.HasAttestedCredentialData() {
		errs.Add(&AuthenticatorDataDecodeError{Reason: "missing attested credential data on registration"})
		return nil, errs.AsError()
	}
	attested := authData.Attested

	// Step 7: credential public key must decode, pass structural checks,
	// and use an algorithm the options actually offered.
	unchecked, err := cose.Decode(attested.CredentialPublicKey)
	if err != nil {
		errs.Add(&CoseKeyDecodeError{Reason: err.Error()})
		return nil, errs.AsError()
	}
	credentialKey, err := unchecked.Check()
	if err != nil {
		errs.Add(&KeyShapeInvalid{Reason: err.Error()})
		return nil, errs.AsError()
	}
	if !opts.allowsAlgorithm(int64(credentialKey.Algorithm())) {
		errs.Add(&AlgorithmNotAllowed{Algorithm: int64(credentialKey.Algorithm())})
	}

	// Step 8: dispatch to the named attestation format.
	format, ok := supported.Lookup(attestationObject.Fmt)
	if !ok {
		errs.Add(&AttestationStatementError{Format: attestationObject.Fmt, Reason: "unsupported format"})
		return nil, errs.AsError()
	}
	chain, err := format.Verify(attestationObject.AttStmt, attestationObject.RawAuthData, clientDataHash, credentialKey)
	if err != nil {
		errs.Add(&AttestationStatementError{Format: attestationObject.Fmt, Reason: err.Error()})
		return nil, errs.AsError()
	}

	if err := errs.AsError(); err != nil {
		return nil, err
	}

	// Step 9: resolve trust against the metadata registry.
	trust, err := classifyTrust(chain, attested, registry)
	if err != nil {
		errs.Add(err)
		return nil, errs.AsError()
	}

	// Step 10: assemble the record to persist.
	userHandle, err := base64.RawURLEncoding.DecodeString(opts.User.ID)
	if err != nil {
		userHandle = []byte(opts.User.ID)
	}

	entry := CredentialEntry{
		UserID:            opts.User.ID,
		CredentialID:      attested.CredentialID,
		UserHandle:        userHandle,
		RawPublicKeyBytes: attested.CredentialPublicKey,
		SignCount:         authData.SignCount,
		Origin:            origin,
		AttestationFormat: attestationObject.Fmt,
		BackupEligible:    authData.BackupEligible(),
		BackedUp:          authData.BackedUp(),
		Transports:        resp.Response.Transports,
	}
	if id, idErr := identifierFor(chain.Certificates, attested); idErr == nil {
		entry.AuthenticatorID = id
	}

	return &AttestationResult{CredentialEntry: entry, Trust: trust}, nil
}

// rpIDHashOf returns SHA-256(rpID), the form authData.RpIDHash is compared
// against (spec.md §3).
func rpIDHashOf(rpID string) []byte {
	sum := sha256.Sum256([]byte(rpID))
	return sum[:]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
