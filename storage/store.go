package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that found no matching row.
var ErrNotFound = errors.New("storage: not found")

// LoginMethod mirrors the teacher's ent/schema user.LoginMethod enum.
type LoginMethod string

const (
	LoginMethodPassword LoginMethod = "password"
	LoginMethodPasskey  LoginMethod = "passkey"
)

// User mirrors the teacher's ent/schema User fields this module actually
// touches.
type User struct {
	ID          string
	Email       string
	Name        string
	LoginMethod LoginMethod
}

// Credential is the persistence shape for a registered WebAuthn
// credential, column-for-column the teacher's ent.Passkey schema
// (ent/schema/passkey.go), translated out of ent's generated builders
// into hand-written queries since entgo.io/ent itself was dropped (see
// DESIGN.md). Transports is stored comma-joined; everything else maps
// directly onto pasuki.CredentialEntry, which app.go is responsible for
// translating to and from.
type Credential struct {
	ID                string
	UserID            string
	CredentialID      []byte
	PublicKey         []byte
	SignCount         uint32
	Origin            string
	AttestationFormat string
	AuthenticatorID   string // metadata.Identifier.String(), or "" if unknown
	BackupEligible    bool
	BackedUp          bool
	Transports        []string
}

// Store wraps database/sql with the mysql driver in production and the
// sqlite3 driver in tests (spec.md §3's credential/user lifecycle, now
// concrete storage rather than an abstract collaborator).
type Store struct {
	db *sql.DB
}

// Open opens a Store against the given driver/DSN. Callers are
// responsible for importing the driver package for its side effect
// (blank import), the way app.go already does for "github.com/go-sql-driver/mysql".
func Open(driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateSchema creates the tables this store needs if they do not already
// exist. Production deployments are expected to run real migrations; this
// exists mainly so tests can stand up an in-memory sqlite database the way
// app_test.go's setupTestApp does.
func (s *Store) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			login_method TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			credential_id BLOB NOT NULL UNIQUE,
			public_key BLOB NOT NULL,
			sign_count INTEGER NOT NULL,
			origin TEXT NOT NULL,
			attestation_format TEXT NOT NULL,
			authenticator_id TEXT NOT NULL,
			backup_eligible INTEGER NOT NULL,
			backed_up INTEGER NOT NULL,
			transports TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, email, name string) (User, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, login_method) VALUES (?, ?, ?, ?)`,
		id, email, name, string(LoginMethodPassword))
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Email: email, Name: name, LoginMethod: LoginMethodPassword}, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, login_method FROM users WHERE email = ?`, email)
	var u User
	var method string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &method); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.LoginMethod = LoginMethod(method)
	return u, nil
}

func (s *Store) SetUserLoginMethod(ctx context.Context, userID string, method LoginMethod) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET login_method = ? WHERE id = ?`, string(method), userID)
	return err
}

func (s *Store) CreateCredential(ctx context.Context, c Credential) (Credential, error) {
	c.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials
			(id, user_id, credential_id, public_key, sign_count, origin,
			 attestation_format, authenticator_id, backup_eligible, backed_up, transports)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.CredentialID, c.PublicKey, c.SignCount, c.Origin,
		c.AttestationFormat, c.AuthenticatorID, boolToInt(c.BackupEligible), boolToInt(c.BackedUp),
		strings.Join(c.Transports, ","))
	if err != nil {
		return Credential{}, err
	}
	return c, nil
}

func (s *Store) CredentialByID(ctx context.Context, credentialID []byte) (Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, credential_id, public_key, sign_count, origin,
			attestation_format, authenticator_id, backup_eligible, backed_up, transports
		 FROM credentials WHERE credential_id = ?`, credentialID)

	var c Credential
	var backupEligible, backedUp int
	var transports string
	if err := row.Scan(&c.ID, &c.UserID, &c.CredentialID, &c.PublicKey, &c.SignCount, &c.Origin,
		&c.AttestationFormat, &c.AuthenticatorID, &backupEligible, &backedUp, &transports); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, err
	}
	c.BackupEligible = backupEligible != 0
	c.BackedUp = backedUp != 0
	if transports != "" {
		c.Transports = strings.Split(transports, ",")
	}
	return c, nil
}

func (s *Store) UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ? WHERE credential_id = ?`, signCount, credentialID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
