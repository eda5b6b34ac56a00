package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vigil/pkg/platform/sentinel"
	"vigil/pkg/secrets"
)

const (
	materialKeyPrefix = "cred:material:"
	idKeyPrefix       = "cred:id:"
)

// RedisBackend implements the credential contract against the shared Redis
// deployment. Only a SHA-256 fingerprint of the material is stored; the
// material itself never reaches the backend.
//
// Validate is a single GET, which doubles as the cheap identity round-trip
// the store's periodic validation needs.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Seed registers externally issued material (e.g. from startup
// configuration) so Validate recognizes it.
func (b *RedisBackend) Seed(ctx context.Context, material string) error {
	if material == "" {
		return nil
	}
	id := uuid.NewString()
	return b.register(ctx, id, material)
}

func (b *RedisBackend) Validate(ctx context.Context, material string) error {
	_, err := b.client.Get(ctx, materialKeyPrefix+fingerprint(material)).Result()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("credential lookup: %w", err)
	}
	return nil
}

func (b *RedisBackend) CreateCredential(ctx context.Context, _ Tier) (string, string, error) {
	material, err := secrets.Generate()
	if err != nil {
		return "", "", err
	}
	id := uuid.NewString()
	if err := b.register(ctx, id, material); err != nil {
		return "", "", err
	}
	return id, material, nil
}

func (b *RedisBackend) RevokeCredential(ctx context.Context, id string) error {
	fp, err := b.client.Get(ctx, idKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("credential lookup: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, materialKeyPrefix+fp)
	pipe.Del(ctx, idKeyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

func (b *RedisBackend) register(ctx context.Context, id, material string) error {
	fp := fingerprint(material)
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, materialKeyPrefix+fp, id, 0)
	pipe.Set(ctx, idKeyPrefix+id, fp, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register credential: %w", err)
	}
	return nil
}

func fingerprint(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
