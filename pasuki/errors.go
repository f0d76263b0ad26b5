// Package pasuki is a WebAuthn Level 2 relying-party verification core:
// option-record construction for the registration and authentication
// ceremonies, and verification of the cryptographic responses the client
// returns, including attestation statements and metadata-backed trust
// classification.
package pasuki

import "strings"

// Decoding errors (spec.md §7).
type ClientDataDecodeError struct{ Reason string }
type AuthenticatorDataDecodeError struct{ Reason string }
type AttestationObjectDecodeError struct{ Reason string }
type CoseKeyDecodeError struct{ Reason string }
type MetadataDecodeError struct{ Reason string }

func (e *ClientDataDecodeError) Error() string        { return "client data: " + e.Reason }
func (e *AuthenticatorDataDecodeError) Error() string  { return "authenticator data: " + e.Reason }
func (e *AttestationObjectDecodeError) Error() string  { return "attestation object: " + e.Reason }
func (e *CoseKeyDecodeError) Error() string            { return "cose key: " + e.Reason }
func (e *MetadataDecodeError) Error() string           { return "metadata: " + e.Reason }

// Policy errors (spec.md §7).
type ChallengeMismatch struct{}
type OriginMismatch struct{ Got, Want string }
type RpIdHashMismatch struct{}
type UserNotPresent struct{}
type UserNotVerified struct{}
type DisallowedCredential struct{ CredentialID []byte }
type IdentifiedUserHandleMismatch struct{}
type CredentialUserHandleMismatch struct{}
type CannotVerifyUserHandle struct{}
type AlgorithmNotAllowed struct{ Algorithm int64 }

func (e *ChallengeMismatch) Error() string      { return "challenge does not match" }
func (e *OriginMismatch) Error() string         { return "origin mismatch: got " + e.Got + ", want " + e.Want }
func (e *RpIdHashMismatch) Error() string       { return "rpIdHash mismatch" }
func (e *UserNotPresent) Error() string         { return "user presence flag not set" }
func (e *UserNotVerified) Error() string        { return "user verification flag not set" }
func (e *DisallowedCredential) Error() string   { return "credential id not in allowCredentials" }
func (e *IdentifiedUserHandleMismatch) Error() string {
	return "identified user handle does not match stored credential"
}
func (e *CredentialUserHandleMismatch) Error() string {
	return "response user handle does not match stored credential"
}
func (e *CannotVerifyUserHandle) Error() string { return "no user handle available to verify against" }
func (e *AlgorithmNotAllowed) Error() string    { return "credential algorithm not allowed by options" }

// Cryptographic errors (spec.md §7).
type SignatureInvalid struct{ Key, Message, Signature []byte }
type CertificateChainInvalid struct{ Reason string }
type KeyShapeInvalid struct{ Reason string }

func (e *SignatureInvalid) Error() string         { return "signature invalid" }
func (e *CertificateChainInvalid) Error() string  { return "certificate chain invalid: " + e.Reason }
func (e *KeyShapeInvalid) Error() string          { return "key shape invalid: " + e.Reason }

// AttestationStatementError is the single parameterized variant for
// format-specific attestation failures (spec.md §7), carrying the message
// of the underlying pasuki/formats.Error as Reason.
type AttestationStatementError struct {
	Format string
	Reason string
}

func (e *AttestationStatementError) Error() string {
	return "attestation statement (" + e.Format + "): " + e.Reason
}

// Metadata processing errors (spec.md §7).
type JwsSignatureInvalid struct{ Reason string }
type PayloadSchemaMismatch struct{ Reason string }
type PartialDecodeErrors struct{ Errors []error }

func (e *JwsSignatureInvalid) Error() string  { return "jws signature invalid: " + e.Reason }
func (e *PayloadSchemaMismatch) Error() string { return "payload schema mismatch: " + e.Reason }
func (e *PartialDecodeErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "partial decode errors: " + strings.Join(parts, "; ")
}

// Errors accumulates every violation found during a single verification
// pass instead of short-circuiting on the first (spec.md §7, §9
// "Validation accumulation"). A zero-length Errors is not a failure; use
// AsError to get a nil error in that case.
type Errors []error

// Add appends err if it is non-nil.
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// AsError returns nil if e is empty, otherwise e itself as an error.
func (e Errors) AsError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
