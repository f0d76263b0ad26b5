package storage

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndLookupUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "user@example.com", "User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.LoginMethod != LoginMethodPassword {
		t.Errorf("expected password login method, got %v", u.LoginMethod)
	}

	got, err := store.UserByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("unexpected user id: got %s, want %s", got.ID, u.ID)
	}

	if _, err := store.UserByEmail(ctx, "nobody@example.com"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetUserLoginMethod(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "passkey@example.com", "Passkey User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.SetUserLoginMethod(ctx, u.ID, LoginMethodPasskey); err != nil {
		t.Fatalf("set login method: %v", err)
	}
	got, err := store.UserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if got.LoginMethod != LoginMethodPasskey {
		t.Errorf("expected passkey login method, got %v", got.LoginMethod)
	}
}

func TestCreateAndLookupCredential(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "cred@example.com", "Cred User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	in := Credential{
		UserID:            u.ID,
		CredentialID:      []byte("credential-id-bytes"),
		PublicKey:         []byte("public-key-bytes"),
		SignCount:         0,
		Origin:            "https://example.com",
		AttestationFormat: "none",
		BackupEligible:    true,
		BackedUp:          false,
		Transports:        []string{"internal", "hybrid"},
	}
	created, err := store.CreateCredential(ctx, in)
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}

	got, err := store.CredentialByID(ctx, in.CredentialID)
	if err != nil {
		t.Fatalf("lookup credential: %v", err)
	}
	if got.UserID != u.ID || !got.BackupEligible || got.BackedUp {
		t.Errorf("unexpected credential: %+v", got)
	}
	if len(got.Transports) != 2 || got.Transports[0] != "internal" {
		t.Errorf("unexpected transports: %v", got.Transports)
	}

	if err := store.UpdateSignCount(ctx, in.CredentialID, 42); err != nil {
		t.Fatalf("update sign count: %v", err)
	}
	got, err = store.CredentialByID(ctx, in.CredentialID)
	if err != nil {
		t.Fatalf("lookup credential: %v", err)
	}
	if got.SignCount != 42 {
		t.Errorf("expected sign count 42, got %d", got.SignCount)
	}

	if _, err := store.CredentialByID(ctx, []byte("no-such-id")); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
