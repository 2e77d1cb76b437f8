// Package gallery keeps the positions of one (item, gallery) pair contiguous
// across append, delete, swap and reorder.
//
// Callers must serialise operations on the same gallery; different galleries
// may be mutated concurrently.
package gallery

import (
	"context"
	"fmt"

	"paper-showcase/internal/domain/details"

	"go.uber.org/zap"
)

type Key struct {
	ItemID  int64
	Gallery details.Gallery
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ItemID, k.Gallery)
}

// Backend stores one entry per (item, gallery, position).
type Backend interface {
	List(ctx context.Context, key Key) ([]details.ImageRef, error)
	Put(ctx context.Context, key Key, position int, payload string) error
	Delete(ctx context.Context, key Key, position int) error
	Swap(ctx context.Context, key Key, a, b int) error
	// Replace deletes every entry of key and writes payloads at 0..n-1.
	Replace(ctx context.Context, key Key, payloads []string) error
}

type Manager struct {
	backend Backend
	log     *zap.Logger
}

func NewManager(backend Backend, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{backend: backend, log: log}
}

// List returns the gallery in position order, repairing it first if the
// stored positions are not exactly 0..n-1.
func (m *Manager) List(ctx context.Context, key Key) ([]details.ImageRef, error) {
	if !key.Gallery.Valid() {
		return nil, details.ErrUnknownGallery
	}
	refs, err := m.backend.List(ctx, key)
	if err != nil {
		return nil, err
	}
	if Contiguous(refs) {
		return refs, nil
	}

	m.log.Warn("gallery positions not contiguous, reindexing",
		zap.Int64("item_id", key.ItemID), zap.String("gallery", string(key.Gallery)), zap.Int("len", len(refs)))
	payloads := make([]string, len(refs))
	for i, ref := range refs {
		payloads[i] = ref.Payload
	}
	if err := m.backend.Replace(ctx, key, payloads); err != nil {
		return nil, err
	}
	return details.RefsFromPayloads(payloads), nil
}

// Append stores payload at the end and returns its position.
func (m *Manager) Append(ctx context.Context, key Key, payload string) (int, error) {
	refs, err := m.List(ctx, key)
	if err != nil {
		return 0, err
	}
	pos := len(refs)
	if err := m.backend.Put(ctx, key, pos, payload); err != nil {
		return 0, err
	}
	return pos, nil
}

// RemoveAt deletes the image at position and shifts later ones down by one.
func (m *Manager) RemoveAt(ctx context.Context, key Key, position int) error {
	refs, err := m.List(ctx, key)
	if err != nil {
		return err
	}
	if position < 0 || position >= len(refs) {
		return fmt.Errorf("%w: remove %d from %s of length %d", details.ErrInvalidIndex, position, key, len(refs))
	}

	if position == len(refs)-1 {
		return m.backend.Delete(ctx, key, position)
	}

	payloads := make([]string, 0, len(refs)-1)
	for _, ref := range refs {
		if ref.Position != position {
			payloads = append(payloads, ref.Payload)
		}
	}
	return m.backend.Replace(ctx, key, payloads)
}

// Swap exchanges the payloads stored at a and b; positions stay put.
func (m *Manager) Swap(ctx context.Context, key Key, a, b int) error {
	refs, err := m.List(ctx, key)
	if err != nil {
		return err
	}
	if a < 0 || a >= len(refs) || b < 0 || b >= len(refs) {
		return fmt.Errorf("%w: swap %d,%d in %s of length %d", details.ErrInvalidIndex, a, b, key, len(refs))
	}
	if a == b {
		return nil
	}
	return m.backend.Swap(ctx, key, a, b)
}

// Reorder rewrites the gallery so that new position i holds the image that
// was at order[i]. order must be a permutation of 0..n-1.
func (m *Manager) Reorder(ctx context.Context, key Key, order []int) error {
	refs, err := m.List(ctx, key)
	if err != nil {
		return err
	}
	if len(order) != len(refs) {
		return fmt.Errorf("%w: reorder of %s needs %d positions, got %d", details.ErrInvalidIndex, key, len(refs), len(order))
	}
	seen := make([]bool, len(refs))
	payloads := make([]string, len(order))
	for i, from := range order {
		if from < 0 || from >= len(refs) || seen[from] {
			return fmt.Errorf("%w: reorder of %s is not a permutation", details.ErrInvalidIndex, key)
		}
		seen[from] = true
		payloads[i] = refs[from].Payload
	}
	return m.ReindexAll(ctx, key, payloads)
}

// ReindexAll replaces the gallery with payloads at positions 0..n-1.
func (m *Manager) ReindexAll(ctx context.Context, key Key, payloads []string) error {
	if !key.Gallery.Valid() {
		return details.ErrUnknownGallery
	}
	return m.backend.Replace(ctx, key, payloads)
}

// Contiguous reports whether refs are ordered with positions exactly 0..n-1.
func Contiguous(refs []details.ImageRef) bool {
	for i, ref := range refs {
		if ref.Position != i {
			return false
		}
	}
	return true
}
