package credentials

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"vigil/pkg/platform/sentinel"
	"vigil/pkg/secrets"
)

// MemoryBackend is the development default and the test double for the
// external credential service. It accepts any material seeded at
// construction or minted through CreateCredential.
type MemoryBackend struct {
	mu         sync.Mutex
	byMaterial map[string]string // material -> id
	byID       map[string]string // id -> material
}

func NewMemoryBackend(seedMaterials ...string) *MemoryBackend {
	b := &MemoryBackend{
		byMaterial: make(map[string]string),
		byID:       make(map[string]string),
	}
	for _, material := range seedMaterials {
		if material == "" {
			continue
		}
		id := uuid.NewString()
		b.byMaterial[material] = id
		b.byID[id] = material
	}
	return b
}

func (b *MemoryBackend) Validate(_ context.Context, material string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byMaterial[material]; !ok {
		return sentinel.ErrNotFound
	}
	return nil
}

func (b *MemoryBackend) CreateCredential(_ context.Context, _ Tier) (string, string, error) {
	material, err := secrets.Generate()
	if err != nil {
		return "", "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.byMaterial[material] = id
	b.byID[id] = material
	return id, material, nil
}

func (b *MemoryBackend) RevokeCredential(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	material, ok := b.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(b.byID, id)
	delete(b.byMaterial, material)
	return nil
}
