package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/kadowaki/pasuki-webauthn/form"
	"github.com/kadowaki/pasuki-webauthn/pasuki"
	"github.com/kadowaki/pasuki-webauthn/pasuki/formats"
	"github.com/kadowaki/pasuki-webauthn/pasuki/metadata"
	"github.com/kadowaki/pasuki-webauthn/storage"

	_ "github.com/go-sql-driver/mysql"
)

func newRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

const (
	sessionCookieName = "session_id"

	registrationChallengeKeyPrefix = "registration"
	assertionChallengeKeyPrefix    = "assertion"

	challengeTTL = time.Duration(pasuki.DefaultTimeoutMillis) * time.Millisecond
)

type App struct {
	store        *storage.Store
	challenges   *storage.ChallengeStore
	validator    *validator.Validate
	metadataSvc  *metadata.Service
	supported    formats.SupportedFormats
	origin       string
	relyingParty string
	rpIdHash     []byte
}

// NewApp constructs the App from environment configuration only (don't
// inject anything other than env, to keep sensitive values out of code
// paths that might get logged or tested against real secrets).
func NewApp() (*App, error) {
	mysqlUri := os.Getenv("MYSQL_URI")
	if len(mysqlUri) == 0 {
		return nil, errors.New("could not find env for mysql uri")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if len(redisAddr) == 0 {
		return nil, errors.New("could not find env for redis addr")
	}
	origin := os.Getenv("ORIGIN")
	if len(origin) == 0 {
		return nil, errors.New("could not find env for origin")
	}
	relyingParty := os.Getenv("RELYING_PARTY_ID")
	if len(relyingParty) == 0 {
		return nil, errors.New("could not find env for relying party id")
	}

	store, err := storage.Open("mysql", mysqlUri)
	if err != nil {
		return nil, err
	}

	redisClient := newRedisClient(redisAddr)
	challenges := storage.NewChallengeStore(redisClient)

	rpIdHash := sha256.Sum256([]byte(relyingParty))

	a := &App{
		store:        store,
		challenges:   challenges,
		validator:    validator.New(),
		supported:    formats.Default(),
		origin:       origin,
		relyingParty: relyingParty,
		rpIdHash:     rpIdHash[:],
	}

	if mdsURL := os.Getenv("MDS_URL"); mdsURL != "" {
		svc, err := newMetadataService(mdsURL)
		if err != nil {
			return nil, err
		}
		a.metadataSvc = svc
	}

	return a, nil
}

// newMetadataService wires up the MDS3 refresh loop (spec.md §4.7/§5) from
// environment configuration. The pinned root certificate is loaded from a
// file path rather than embedded, per DESIGN.md's "pinned MDS3 root" note.
func newMetadataService(mdsURL string) (*metadata.Service, error) {
	rootPath := os.Getenv("MDS_ROOT_CERT_PATH")
	if rootPath == "" {
		return nil, errors.New("MDS_URL is set but MDS_ROOT_CERT_PATH is not")
	}
	pem, err := os.ReadFile(rootPath)
	if err != nil {
		return nil, fmt.Errorf("reading mds root cert: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", rootPath)
	}
	expectedCN := os.Getenv("MDS_EXPECTED_CN")
	if expectedCN == "" {
		expectedCN = "mds.fidoalliance.org"
	}
	return metadata.NewService(mdsURL, roots, expectedCN), nil
}

// RunMetadataService runs the MDS refresh loop until ctx is cancelled. It
// returns immediately if no metadata service was configured, so callers
// can unconditionally run it in a background goroutine.
func (a *App) RunMetadataService(ctx context.Context) error {
	if a.metadataSvc == nil {
		return nil
	}
	return a.metadataSvc.Run(ctx)
}

func (a *App) bind(ctx echo.Context, target any) error {
	if err := ctx.Bind(target); err != nil {
		return err
	}
	if err := a.validator.Struct(target); err != nil {
		return err
	}
	return nil
}

// registry returns the current metadata registry, or an empty one if no
// metadata service is configured (spec.md §4.4 step 9 still needs a
// registry to consult even when MDS integration is turned off).
func (a *App) registry() *metadata.Registry {
	if a.metadataSvc == nil {
		return &metadata.Registry{}
	}
	return a.metadataSvc.Registry()
}

// sessionID returns the opaque per-browser session id carried in a cookie,
// minting and setting one if the request doesn't have it yet. This is the
// concrete replacement for the teacher's __SESSION_PLACEHOLDER stub.
func (a *App) sessionID(ctx echo.Context) (string, error) {
	if cookie, err := ctx.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	id := base64.RawURLEncoding.EncodeToString(raw)
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	return id, nil
}

func registrationChallengeKey(email string) string {
	return fmt.Sprintf("%s:%s", registrationChallengeKeyPrefix, email)
}

func assertionChallengeKey(session string) string {
	return fmt.Sprintf("%s:%s", assertionChallengeKeyPrefix, session)
}

// userHandle deterministically derives a WebAuthn user handle from our
// internal user id, so registration and assertion always agree on it
// without having to store a separate column for it.
func userHandle(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

func (a *App) RegisterStart(ctx echo.Context) error {
	req := form.RegisterStartRequest{}
	if err := a.bind(ctx, &req); err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	c := ctx.Request().Context()
	u, err := a.store.UserByEmail(c, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		ctx.Logger().Warn("could not find user email")
		return echo.ErrBadRequest
	} else if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	opts, err := pasuki.BeginRegistration(
		pasuki.RelyingParty{Name: a.relyingParty, ID: a.relyingParty},
		pasuki.User{ID: userHandle(u.ID), Name: u.Name, DisplayName: u.Name},
		false,
		nil,
	)
	if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	if err := a.challenges.Begin(c, registrationChallengeKey(req.Email), opts.Challenge, challengeTTL); err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	return ctx.JSON(http.StatusOK, opts)
}

func (a *App) RegisterFinish(ctx echo.Context) error {
	req := form.RegisterFinishRequest{}
	if err := a.bind(ctx, &req); err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	c := ctx.Request().Context()

	challenge, err := a.challenges.Take(c, registrationChallengeKey(req.Email))
	if err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	u, err := a.store.UserByEmail(c, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		ctx.Logger().Warn("could not find user email")
		return echo.ErrBadRequest
	} else if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	opts := pasuki.NewRegistrationOptions(
		challenge,
		pasuki.RelyingParty{Name: a.relyingParty, ID: a.relyingParty},
		pasuki.User{ID: userHandle(u.ID), Name: u.Name, DisplayName: u.Name},
		false,
		nil,
	)

	resp := &pasuki.RegistrationResponse{ID: req.ID, RawID: req.ID, Type: req.Type}
	resp.Response.ClientDataJSON = req.ClientDataJson
	resp.Response.AttestationObject = req.AttestationObject
	resp.Response.Transports = req.Transports

	result, err := pasuki.FinishRegistration(opts, a.origin, a.rpIdHash, a.registry(), a.supported, resp)
	if err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	authenticatorID := ""
	if result.CredentialEntry.AuthenticatorID != (metadata.Identifier{}) {
		authenticatorID = result.CredentialEntry.AuthenticatorID.String()
	}

	if _, err := a.store.CreateCredential(c, storage.Credential{
		UserID:            u.ID,
		CredentialID:      result.CredentialEntry.CredentialID,
		PublicKey:         result.CredentialEntry.RawPublicKeyBytes,
		SignCount:         result.CredentialEntry.SignCount,
		Origin:            result.CredentialEntry.Origin,
		AttestationFormat: result.CredentialEntry.AttestationFormat,
		AuthenticatorID:   authenticatorID,
		BackupEligible:    result.CredentialEntry.BackupEligible,
		BackedUp:          result.CredentialEntry.BackedUp,
		Transports:        result.CredentialEntry.Transports,
	}); err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	if err := a.store.SetUserLoginMethod(c, u.ID, storage.LoginMethodPasskey); err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	return ctx.NoContent(http.StatusOK)
}

func (a *App) VerifyStart(ctx echo.Context) error {
	session, err := a.sessionID(ctx)
	if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	opts, err := pasuki.BeginAssertion(nil)
	if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	c := ctx.Request().Context()
	if err := a.challenges.Begin(c, assertionChallengeKey(session), opts.Challenge, challengeTTL); err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	return ctx.JSON(http.StatusOK, opts)
}

func (a *App) VerifyFinish(ctx echo.Context) error {
	req := form.VerifyFinishRequest{}
	if err := a.bind(ctx, &req); err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	session, err := a.sessionID(ctx)
	if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	c := ctx.Request().Context()

	challenge, err := a.challenges.Take(c, assertionChallengeKey(session))
	if err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	credentialID, err := base64.RawURLEncoding.DecodeString(req.ID)
	if err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	stored, err := a.store.CredentialByID(c, credentialID)
	if errors.Is(err, storage.ErrNotFound) {
		ctx.Logger().Warn("could not find credential")
		return echo.ErrBadRequest
	} else if err != nil {
		ctx.Logger().Error(err)
		return echo.ErrInternalServerError
	}

	var authenticatorID metadata.Identifier
	if stored.AuthenticatorID != "" {
		if parsed, err := metadata.ParseIdentifier(stored.AuthenticatorID); err == nil {
			authenticatorID = parsed
		}
	}

	entry := pasuki.CredentialEntry{
		UserID:            stored.UserID,
		UserHandle:        []byte(stored.UserID),
		CredentialID:      stored.CredentialID,
		RawPublicKeyBytes: stored.PublicKey,
		SignCount:         stored.SignCount,
		Origin:            stored.Origin,
		AttestationFormat: stored.AttestationFormat,
		AuthenticatorID:   authenticatorID,
		BackupEligible:    stored.BackupEligible,
		BackedUp:          stored.BackedUp,
		Transports:        stored.Transports,
	}
	opts := pasuki.NewVerifyOptions(challenge, nil)

	resp := &pasuki.AuthenticationResponse{ID: req.ID, RawID: req.ID, Type: req.Type}
	resp.Response.ClientDataJSON = req.ClientDataJson
	resp.Response.AuthenticatorData = req.AuthenticatorData
	resp.Response.Signature = req.Signature
	resp.Response.UserHandle = req.UserHandle

	result, err := pasuki.FinishAssertion(opts, a.origin, a.rpIdHash, entry, nil, resp)
	if err != nil {
		ctx.Logger().Warn(err)
		return echo.ErrBadRequest
	}

	switch result.SignCount.Outcome {
	case pasuki.SignCountUpdated:
		if err := a.store.UpdateSignCount(c, stored.CredentialID, result.SignCount.Received); err != nil {
			ctx.Logger().Error(err)
			return echo.ErrInternalServerError
		}
	case pasuki.SignCountPotentiallyCloned:
		ctx.Logger().Warnf("potentially cloned authenticator for credential %s",
			base64.RawURLEncoding.EncodeToString(stored.CredentialID))
	}

	return ctx.NoContent(http.StatusOK)
}
