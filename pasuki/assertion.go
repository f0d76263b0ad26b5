package pasuki

import (
	"encoding/base64"

	"github.com/kadowaki/pasuki-webauthn/pasuki/cose"
)

// BeginAssertion generates a fresh challenge and builds the authentication
// options to send to the client (spec.md §4.1/§6).
func BeginAssertion(allow []Credential) (*VerifyOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(challenge)
	return NewVerifyOptions(encoded, allow), nil
}

// SignCountOutcome classifies how a received signature counter compares to
// the one stored for the credential (spec.md §4.5 step 8, §9).
type SignCountOutcome int

const (
	// SignCountZero means the authenticator does not implement a counter
	// (stored == 0 and received == 0); callers should not treat this as
	// suspicious.
	SignCountZero SignCountOutcome = iota
	// SignCountUpdated means received > stored, the ordinary case.
	SignCountUpdated
	// SignCountPotentiallyCloned means received <= stored with the two not
	// both zero (a zero received against a nonzero stored counter lands here),
	// which the spec leaves as a caller policy decision rather than a
	// hard failure (spec.md §9 Open Questions).
	SignCountPotentiallyCloned
)

func (o SignCountOutcome) String() string {
	switch o {
	case SignCountZero:
		return "Zero"
	case SignCountUpdated:
		return "Updated"
	case SignCountPotentiallyCloned:
		return "PotentiallyCloned"
	default:
		return "Unknown"
	}
}

// SignCountResult is the data-only classification FinishAssertion returns;
// it is never itself an error, so policy (reject, alert, ignore) stays with
// the caller.
type SignCountResult struct {
	Outcome  SignCountOutcome
	Received uint32
}

func classifySignCount(stored, received uint32) SignCountResult {
	if stored == 0 && received == 0 {
		return SignCountResult{Outcome: SignCountZero, Received: received}
	}
	if received > stored {
		return SignCountResult{Outcome: SignCountUpdated, Received: received}
	}
	return SignCountResult{Outcome: SignCountPotentiallyCloned, Received: received}
}

// AssertionResult is what FinishAssertion produces on a successful
// authentication ceremony.
type AssertionResult struct {
	SignCount SignCountResult
}

// FinishAssertion verifies an authentication response against the options
// issued for it and the credential record stored for the asserted
// credential ID, implementing spec.md §4.5's ordered checks. identifiedUser
// is the user handle the caller already knows the subject to be (e.g. from
// a login form), or nil for a discoverable-credential (usernameless) flow.
// stored is the CredentialEntry FinishRegistration produced for this
// credential. All violations found are accumulated; a non-nil error is
// always an Errors value.
func FinishAssertion(
	opts *VerifyOptions,
	origin string,
	rpIDHash []byte,
	stored CredentialEntry,
	identifiedUser []byte,
	resp *AuthenticationResponse,
) (*AssertionResult, error) {
	var errs Errors

	rawID, err := base64.RawURLEncoding.DecodeString(resp.RawID)
	if err != nil {
		errs.Add(&ClientDataDecodeError{Reason: err.Error()})
		return nil, errs.AsError()
	}
	if !bytesEqual(rawID, stored.CredentialID) {
		errs.Add(&DisallowedCredential{CredentialID: rawID})
		return nil, errs.AsError()
	}

	// Step 1: the asserted credential must be allowed, when the caller
	// restricted the ceremony to a specific set.
	if len(opts.AllowCredentials) > 0 {
		allowed := false
		for _, c := range opts.AllowCredentials {
			if bytesEqual(c.ID, rawID) {
				allowed = true
				break
			}
		}
		if !allowed {
			errs.Add(&DisallowedCredential{CredentialID: rawID})
		}
	}

	// Step 2: user-handle reconciliation across the caller's already-
	// identified user, the response's own userHandle, and the handle the
	// credential was registered under.
	var responseUserHandle []byte
	if resp.Response.UserHandle != "" {
		responseUserHandle, err = base64.RawURLEncoding.DecodeString(resp.Response.UserHandle)
		if err != nil {
			errs.Add(&ClientDataDecodeError{Reason: err.Error()})
			return nil, errs.AsError()
		}
	}
	// Each side of the reconciliation is only checked when both the
	// caller/response actually supplied a handle and the stored
	// credential has one to compare against; a non-discoverable
	// credential flow where neither is present is not an error on its
	// own, since the RP already knows the subject from its login
	// context (CannotVerifyUserHandle is reserved for callers that
	// require a discoverable-credential flow and choose to check for it
	// themselves before calling FinishAssertion).
	if len(identifiedUser) > 0 && len(stored.UserHandle) > 0 && !bytesEqual(identifiedUser, stored.UserHandle) {
		errs.Add(&IdentifiedUserHandleMismatch{})
	}
	if len(responseUserHandle) > 0 && len(stored.UserHandle) > 0 && !bytesEqual(responseUserHandle, stored.UserHandle) {
		errs.Add(&CredentialUserHandleMismatch{})
	}

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

	authDataRaw, err := base64.RawURLEncoding.DecodeString(resp.Response.AuthenticatorData)
	if err != nil {
		errs.Add(&AuthenticatorDataDecodeError{Reason: err.Error()})
		return nil, errs.AsError()
	}
	authData, err := DecodeAuthenticatorData(authDataRaw)
	if err != nil {
		errs.Add(err)
		return nil, errs.AsError()
	}

	signature, err := base64.RawURLEncoding.DecodeString(resp.Response.Signature)
	if err != nil {
		errs.Add(&SignatureInvalid{})
		return nil, errs.AsError()
	}

	// Steps 3-5: client data type, challenge, origin.
	verifyClientData(clientData, ClientDataTypeGet, origin, opts.Challenge, &errs)

	// Step 6: rpIdHash.
	if !bytesEqual(authData.RpIDHash, rpIDHash) {
		errs.Add(&RpIdHashMismatch{})
	}

	// Step 7: user presence, and verification if required.
	if !authData.UserPresent() {
		errs.Add(&UserNotPresent{})
	}
	if opts.UserVerification == UserVerificationRequired && !authData.UserVerified() {
		errs.Add(&UserNotVerified{})
	}

	// Step 8: verify the signature over authenticatorData || clientDataHash
	// using the credential's stored public key.
	unchecked, err := cose.Decode(stored.RawPublicKeyBytes)
	if err != nil {
		errs.Add(&CoseKeyDecodeError{Reason: err.Error()})
		return nil, errs.AsError()
	}
	credentialKey, err := unchecked.Check()
	if err != nil {
		errs.Add(&KeyShapeInvalid{Reason: err.Error()})
		return nil, errs.AsError()
	}

	message := make([]byte, 0, len(authDataRaw)+32)
	message = append(message, authDataRaw...)
	message = append(message, clientData.Hash()...)
	ok, err := credentialKey.Verify(message, signature)
	if err != nil {
		errs.Add(&SignatureInvalid{Key: stored.RawPublicKeyBytes, Message: message, Signature: signature})
		return nil, errs.AsError()
	}
	if !ok {
		errs.Add(&SignatureInvalid{Key: stored.RawPublicKeyBytes, Message: message, Signature: signature})
	}

	if err := errs.AsError(); err != nil {
		return nil, err
	}

	// Step 9: signature counter classification, left as data for the
	// caller to act on.
	return &AssertionResult{SignCount: classifySignCount(stored.SignCount, authData.SignCount)}, nil
}
