// Package storage holds the relying party's two persistence concerns:
// the pending-challenge store (redis) and durable user/credential
// storage (database/sql).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrChallengePending is returned by Begin when a ceremony is already in
// flight for the same key (spec.md §6's insert contract).
var ErrChallengePending = errors.New("storage: challenge already pending for key")

// ErrUnknownChallenge is returned by Take when no pending challenge exists
// for the key, or it already expired (spec.md §6's take contract).
var ErrUnknownChallenge = errors.New("storage: unknown or expired challenge")

// ChallengeStore is the redis-backed pending-challenge collaborator
// spec.md §6 describes abstractly as insert/take. Registration ceremonies
// are keyed by the user's identifying attribute ("registration:<email>");
// authentication ceremonies are keyed by an opaque per-browser session id
// ("assertion:<session>"), since spec.md §6 does not mandate a session
// layer of its own.
type ChallengeStore struct {
	redis *redis.Client
}

func NewChallengeStore(client *redis.Client) *ChallengeStore {
	return &ChallengeStore{redis: client}
}

// Begin stores the base64url-encoded challenge under key with a TTL,
// failing with ErrChallengePending if one is already stored there.
func (c *ChallengeStore) Begin(ctx context.Context, key, challenge string, ttl time.Duration) error {
	_, err := c.redis.SetArgs(ctx, key, challenge, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return ErrChallengePending
	}
	return err
}

// Take atomically reads and deletes the challenge stored under key.
func (c *ChallengeStore) Take(ctx context.Context, key string) (string, error) {
	val, err := c.redis.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownChallenge
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
