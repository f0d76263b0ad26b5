package metadata

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/gommon/log"
)

// blobPayload is the decoded MetadataBLOBPayload (spec.md §4.7 step 2).
type blobPayload struct {
	LegalHeader string         `json:"legalHeader,omitempty"`
	No          int            `json:"no"`
	NextUpdate  string         `json:"nextUpdate"`
	Entries     []payloadEntry `json:"entries"`
}

// Valid satisfies jwt.Claims; the JWS library's own validity checks
// (expiry, issuer, ...) don't apply to an MDS BLOB payload, so this is a
// no-op — schema and field checks happen in decodeEntry/Process.
func (blobPayload) Valid() error { return nil }

// ProcessResult is the three-state outcome of processing one MDS payload
// (spec.md §4.7 step 3 / §9 "MDS partial-success value"): Errors-only,
// Registry-only, or both.
type ProcessResult struct {
	Errors     []error
	Registry   *Registry
	NextUpdate time.Time
}

// JwsSignatureInvalid is returned when the MDS blob's JWS envelope does not
// verify against the pinned root.
type JwsSignatureInvalid struct {
	Reason string
}

func (e *JwsSignatureInvalid) Error() string {
	return fmt.Sprintf("metadata: jws signature invalid: %s", e.Reason)
}

// PayloadSchemaMismatch is returned when the JWS payload does not decode
// into a MetadataBLOBPayload shape at all.
type PayloadSchemaMismatch struct {
	Reason string
}

func (e *PayloadSchemaMismatch) Error() string {
	return fmt.Sprintf("metadata: payload schema mismatch: %s", e.Reason)
}

// Service verifies and refreshes the MDS blob, publishing a Registry for
// the registration verifier (C4) to consult read-only (spec.md §5, §4.7).
type Service struct {
	url             string
	roots           *x509.CertPool
	expectedCN      string
	httpClient      *http.Client
	refreshInterval time.Duration
	strict          bool
	logger          *log.Logger

	registry atomic.Pointer[Registry]
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the client used to fetch the blob.
func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.httpClient = c } }

// WithRefreshInterval overrides the default refresh cadence (spec.md §5:
// 1 hour for testing, nextUpdate-derived for production, capped at 1 month).
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) { s.refreshInterval = d }
}

// WithStrictBase64 rejects non-canonical base64 in MDS entries instead of
// the lenient default (spec.md §9 open question).
func WithStrictBase64() Option { return func(s *Service) { s.strict = true } }

// WithLogger overrides the service's gommon logger.
func WithLogger(l *log.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService constructs a Service that verifies MDS blobs against roots,
// fetched from url, requiring the x5c chain to verify up to roots and to
// name expectedCN ("mds.fidoalliance.org" in production): either the leaf
// or the last x5c certificate has expectedCN as its subject common name,
// or the leaf is valid for expectedCN as a host name.
func NewService(url string, roots *x509.CertPool, expectedCN string, opts ...Option) *Service {
	s := &Service{
		url:             url,
		roots:           roots,
		expectedCN:      expectedCN,
		httpClient:      http.DefaultClient,
		refreshInterval: time.Hour,
		logger:          log.New("mds"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the most recently published registry, or an empty,
// always-miss registry before the first successful fetch.
func (s *Service) Registry() *Registry {
	if r := s.registry.Load(); r != nil {
		return r
	}
	return &Registry{entries: map[Identifier]Entry{}}
}

// Process implements C7 steps 1-4 against an already-fetched JWS blob. now
// is the instant certificate validity is checked against (spec.md §9:
// verifiers that consult certificate validity take `now` as a parameter
// rather than reading the system clock, so tests can pin it).
func (s *Service) Process(jws []byte, now time.Time) (ProcessResult, error) {
	var payload blobPayload
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "ES256"}))
	token, err := parser.ParseWithClaims(string(jws), &payload, func(t *jwt.Token) (any, error) {
		chain, err := leafChainFromHeader(t.Header)
		if err != nil {
			return nil, err
		}
		if err := verifyMDSChain(chain, s.roots, s.expectedCN, now); err != nil {
			return nil, err
		}
		return chain[0].PublicKey, nil
	})
	if err != nil {
		return ProcessResult{}, &JwsSignatureInvalid{Reason: err.Error()}
	}
	if !token.Valid {
		return ProcessResult{}, &JwsSignatureInvalid{Reason: "token not valid"}
	}

	nextUpdate, err := time.Parse("2006-01-02", payload.NextUpdate)
	if err != nil {
		return ProcessResult{}, &PayloadSchemaMismatch{Reason: "nextUpdate: " + err.Error()}
	}

	builder := newRegistryBuilder()
	var errs []error
	for i, raw := range payload.Entries {
		entry, err := decodeEntry(raw, s.strict)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if entry == nil {
			continue // skip: no WebAuthn-compatible attestation type
		}
		builder.add(*entry)
	}

	registry, duplicates := builder.build()
	for _, id := range duplicates {
		s.logger.Warnf("metadata: duplicate identifier %s, last entry wins", id)
	}

	if len(payload.Entries) > 0 && len(errs) == len(payload.Entries) {
		return ProcessResult{Errors: errs, NextUpdate: nextUpdate}, nil
	}

	return ProcessResult{Errors: errs, Registry: registry, NextUpdate: nextUpdate}, nil
}

// Run fetches and refreshes the MDS blob until ctx is cancelled, publishing
// each successfully processed registry atomically (spec.md §5). A failed
// fetch retries with exponential backoff capped at the refresh interval;
// the previously published registry stays live.
func (s *Service) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		result, fetchErr := s.fetchAndProcess(ctx, time.Now())
		switch {
		case fetchErr != nil:
			s.logger.Errorf("metadata: fetch failed: %v", fetchErr)
		case result.Registry == nil:
			s.logger.Errorf("metadata: all %d entries failed to decode", len(result.Errors))
		default:
			if len(result.Errors) > 0 {
				s.logger.Warnf("metadata: %d of %d entries failed to decode", len(result.Errors), len(result.Errors)+result.Registry.Len())
			}
			s.registry.Store(result.Registry)
			backoff = time.Second
		}

		wait := s.refreshInterval
		if fetchErr == nil && result.Registry != nil {
			if until := time.Until(result.NextUpdate); until > 0 {
				wait = until
			}
			if wait > 30*24*time.Hour {
				wait = 30 * 24 * time.Hour
			}
		} else {
			wait = backoff
			if backoff < s.refreshInterval {
				backoff *= 2
			} else {
				backoff = s.refreshInterval
			}
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) fetchAndProcess(ctx context.Context, now time.Time) (ProcessResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return ProcessResult{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ProcessResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ProcessResult{}, fmt.Errorf("metadata: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.Process(body, now)
}

func leafChainFromHeader(header map[string]any) ([]*x509.Certificate, error) {
	raw, ok := header["x5c"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("jws header missing x5c")
	}
	chain := make([]*x509.Certificate, len(raw))
	for i, item := range raw {
		encoded, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		chain[i] = cert
	}
	return chain, nil
}

func verifyMDSChain(chain []*x509.Certificate, roots *x509.CertPool, expectedCN string, now time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty certificate chain")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	top := chain[len(chain)-1]
	if expectedCN != "" && top.Subject.CommonName != expectedCN && chain[0].Subject.CommonName != expectedCN {
		if err := chain[0].VerifyHostname(expectedCN); err != nil {
			return fmt.Errorf("leaf does not satisfy name constraint %q: %w", expectedCN, err)
		}
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		CurrentTime:   now,
	})
	return err
}
