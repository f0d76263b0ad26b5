package storage

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

func TestChallengeStoreBeginAndTake(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewChallengeStore(client)
	ctx := context.Background()

	const key = "registration:user@example.com"
	const challenge = "fixed-challenge-for-testing"
	ttl := 3 * time.Minute

	mock.ExpectSetArgs(key, challenge, redis.SetArgs{Mode: "NX", TTL: ttl}).SetVal("OK")
	if err := store.Begin(ctx, key, challenge, ttl); err != nil {
		t.Fatalf("begin: %v", err)
	}

	mock.ExpectGetDel(key).SetVal(challenge)
	got, err := store.Take(ctx, key)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got != challenge {
		t.Errorf("unexpected challenge: got %q, want %q", got, challenge)
	}
}

func TestChallengeStoreBeginAlreadyPending(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewChallengeStore(client)
	ctx := context.Background()

	const key = "registration:user@example.com"
	ttl := 3 * time.Minute

	mock.ExpectSetArgs(key, "new-challenge", redis.SetArgs{Mode: "NX", TTL: ttl}).SetErr(redis.Nil)
	if err := store.Begin(ctx, key, "new-challenge", ttl); err != ErrChallengePending {
		t.Errorf("expected ErrChallengePending, got %v", err)
	}
}

func TestChallengeStoreTakeUnknown(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewChallengeStore(client)
	ctx := context.Background()

	const key = "assertion:session-abc"
	mock.ExpectGetDel(key).SetErr(redis.Nil)
	if _, err := store.Take(ctx, key); err != ErrUnknownChallenge {
		t.Errorf("expected ErrUnknownChallenge, got %v", err)
	}
}
