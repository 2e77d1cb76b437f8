package gallery

import (
	"context"
	"sort"
	"sync"

	"paper-showcase/internal/domain/details"
)

// MemoryBackend keeps galleries in process memory. It backs whole-record
// mutations when the durable tier is unavailable.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[Key]map[int]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[Key]map[int]string{}}
}

// Seed loads refs as stored, without renumbering.
func (b *MemoryBackend) Seed(key Key, refs []details.ImageRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := make(map[int]string, len(refs))
	for _, ref := range refs {
		m[ref.Position] = ref.Payload
	}
	b.entries[key] = m
}

func (b *MemoryBackend) List(_ context.Context, key Key) ([]details.ImageRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.entries[key]
	refs := make([]details.ImageRef, 0, len(m))
	for pos, payload := range m {
		refs = append(refs, details.ImageRef{Position: pos, Payload: payload})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Position < refs[j].Position })
	return refs, nil
}

func (b *MemoryBackend) Put(_ context.Context, key Key, position int, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries[key] == nil {
		b.entries[key] = map[int]string{}
	}
	b.entries[key][position] = payload
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key Key, position int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries[key], position)
	return nil
}

func (b *MemoryBackend) Swap(_ context.Context, key Key, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.entries[key]
	m[x], m[y] = m[y], m[x]
	return nil
}

func (b *MemoryBackend) Replace(_ context.Context, key Key, payloads []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := make(map[int]string, len(payloads))
	for i, p := range payloads {
		m[i] = p
	}
	b.entries[key] = m
	return nil
}
