package reconcile

import (
	"context"
	"errors"
	"fmt"

	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/domain/session"
	"paper-showcase/internal/gallery"
	"paper-showcase/internal/infra/imagecodec"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TextPatch carries the fields to change; nil fields are left alone and an
// empty string resets a field to its placeholder.
type TextPatch struct {
	BackgroundContent *string `json:"backgroundContent"`
	MainContent       *string `json:"mainContent"`
	ConclusionContent *string `json:"conclusionContent"`
	LinkContent       *string `json:"linkContent"`
}

func (p TextPatch) apply(r *details.Record) {
	set := func(f details.Field, v *string) {
		if v != nil {
			r.SetText(f, *v)
		}
	}
	set(details.FieldBackground, p.BackgroundContent)
	set(details.FieldMain, p.MainContent)
	set(details.FieldConclusion, p.ConclusionContent)
	set(details.FieldLink, p.LinkContent)
}

// UpdateText applies patch to the current record of id.
func (e *Engine) UpdateText(ctx context.Context, sess session.Session, id int64, patch TextPatch) (details.Record, error) {
	if err := sess.RequireAdmin(); err != nil {
		return details.Record{}, err
	}
	rec, err := e.ResolveRecord(ctx, id)
	if err != nil {
		return details.Record{}, err
	}
	patch.apply(&rec)
	rec.EditedAt = e.now().UnixMilli()
	rec = rec.Normalize()
	if err := e.store(ctx, rec, e.durable.PutText); err != nil {
		return details.Record{}, err
	}
	return rec, nil
}

// UploadImages compresses every blob and appends the results to gallery g in
// the order given. A blob the codec cannot handle is stored as uploaded.
func (e *Engine) UploadImages(ctx context.Context, sess session.Session, id int64, g details.Gallery, blobs [][]byte) (details.Record, error) {
	if err := sess.RequireAdmin(); err != nil {
		return details.Record{}, err
	}
	if !g.Valid() {
		return details.Record{}, fmt.Errorf("%w: %q", details.ErrUnknownGallery, g)
	}

	payloads := make([]string, len(blobs))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for i, blob := range blobs {
		i, blob := i, blob
		eg.Go(func() error {
			p, err := e.codec.Compress(ectx, blob)
			if err != nil {
				if cerr := ectx.Err(); cerr != nil {
					return cerr
				}
				e.log.Warn("image compression failed, storing original",
					zap.Int64("item_id", id), zap.String("gallery", string(g)), zap.Int("size", len(blob)), zap.Error(err))
				p = imagecodec.DataURI(mimetype.Detect(blob).String(), blob)
			}
			payloads[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return details.Record{}, err
	}

	return e.mutateGallery(ctx, sess, id, g, func(ctx context.Context, m *gallery.Manager, key gallery.Key) error {
		for _, p := range payloads {
			if _, err := m.Append(ctx, key, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteImage removes the image at position and closes the gap.
func (e *Engine) DeleteImage(ctx context.Context, sess session.Session, id int64, g details.Gallery, position int) (details.Record, error) {
	return e.mutateGallery(ctx, sess, id, g, func(ctx context.Context, m *gallery.Manager, key gallery.Key) error {
		return m.RemoveAt(ctx, key, position)
	})
}

func (e *Engine) SwapImages(ctx context.Context, sess session.Session, id int64, g details.Gallery, a, b int) (details.Record, error) {
	return e.mutateGallery(ctx, sess, id, g, func(ctx context.Context, m *gallery.Manager, key gallery.Key) error {
		return m.Swap(ctx, key, a, b)
	})
}

// ReorderGallery rearranges gallery g so that the image previously at
// order[i] ends up at position i.
func (e *Engine) ReorderGallery(ctx context.Context, sess session.Session, id int64, g details.Gallery, order []int) (details.Record, error) {
	return e.mutateGallery(ctx, sess, id, g, func(ctx context.Context, m *gallery.Manager, key gallery.Key) error {
		return m.Reorder(ctx, key, order)
	})
}

type galleryOp func(ctx context.Context, m *gallery.Manager, key gallery.Key) error

// mutateGallery resolves the record, runs op against the durable tier and
// stamps the edit. When the durable tier is unavailable op runs against an
// in-memory copy of the gallery and the whole record is persisted instead.
// A rejected op (bad position, unknown gallery) leaves every tier untouched.
func (e *Engine) mutateGallery(ctx context.Context, sess session.Session, id int64, g details.Gallery, op galleryOp) (details.Record, error) {
	if err := sess.RequireAdmin(); err != nil {
		return details.Record{}, err
	}
	if !g.Valid() {
		return details.Record{}, fmt.Errorf("%w: %q", details.ErrUnknownGallery, g)
	}
	rec, err := e.ResolveRecord(ctx, id)
	if err != nil {
		return details.Record{}, err
	}
	key := gallery.Key{ItemID: id, Gallery: g}
	log := e.log.With(zap.Int64("item_id", id), zap.String("gallery", string(g)))

	m := gallery.NewManager(e.durable, log)
	err = op(ctx, m, key)
	var refs []details.ImageRef
	if err == nil {
		refs, err = m.List(ctx, key)
	}
	switch {
	case err == nil:
		rec.Galleries[g] = refs
		rec.EditedAt = e.now().UnixMilli()
		rec = rec.Normalize()
		if err := e.store(ctx, rec, e.durable.PutText); err != nil {
			return details.Record{}, err
		}
		return rec, nil
	case !errors.Is(err, details.ErrTierUnavailable):
		return rec, err
	}

	log.Warn("durable tier unavailable, applying gallery change in memory", zap.String("tier", "durable"), zap.Error(err))
	mem := gallery.NewMemoryBackend()
	mem.Seed(key, rec.Galleries[g])
	m = gallery.NewManager(mem, log)
	if err := op(ctx, m, key); err != nil {
		return rec, err
	}
	refs, err = m.List(ctx, key)
	if err != nil {
		return rec, err
	}
	rec.Galleries[g] = refs
	rec.EditedAt = e.now().UnixMilli()
	rec = rec.Normalize()
	if err := e.PersistRecord(ctx, rec); err != nil {
		return details.Record{}, err
	}
	return rec, nil
}
