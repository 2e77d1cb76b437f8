// Package reconcile decides which tier holds the authoritative detail record
// of an item and keeps the durable tier and the mirror in step.
//
// The engine does not serialise callers: operations on the same
// (item, gallery) must not run concurrently.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/gallery"
	"paper-showcase/internal/infra/imagecodec"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Durable is the primary tier. Its gallery methods address single images.
type Durable interface {
	gallery.Backend
	GetRecord(ctx context.Context, itemID int64) (details.Record, bool, error)
	PutRecord(ctx context.Context, rec details.Record) error
	PutText(ctx context.Context, rec details.Record) error
	ListItemIDs(ctx context.Context) ([]int64, error)
}

// Mirror is the small synchronous tier.
type Mirror interface {
	Save(key string, v any) error
	Load(key string, dst any) bool
	Remove(key string)
	Keys(prefix string) []string
	EvictNonEssential(essential func(key string) bool) int
}

// Remote is the read-only published snapshot.
type Remote interface {
	FetchSnapshot(ctx context.Context, itemID int64) (details.Record, bool)
}

type Compressor interface {
	Compress(ctx context.Context, blob []byte) (string, error)
}

const (
	textPrefix  = "paper-details:"
	imagePrefix = "paper-details-images:"
)

func textKey(id int64) string  { return textPrefix + strconv.FormatInt(id, 10) }
func imageKey(id int64) string { return imagePrefix + strconv.FormatInt(id, 10) }

// Essential reports whether a mirror key survives quota eviction. Record text
// and image backups are never evicted: a backup exists only while the durable
// tier refuses writes, so it is the only copy of those images.
func Essential(key string) bool {
	return strings.HasPrefix(key, textPrefix) || strings.HasPrefix(key, imagePrefix)
}

// mirrorText is the mirror entry of one record.
type mirrorText struct {
	BackgroundContent string `json:"backgroundContent"`
	MainContent       string `json:"mainContent"`
	ConclusionContent string `json:"conclusionContent"`
	LinkContent       string `json:"linkContent"`
	EditedAt          int64  `json:"editedAt,omitempty"`
}

// mirrorImages is written only while the durable tier refuses writes.
type mirrorImages struct {
	HomepageImages []string `json:"homepageImages"`
	KeyImages      []string `json:"keyImages"`
}

func textEntry(r details.Record) mirrorText {
	return mirrorText{
		BackgroundContent: r.Background,
		MainContent:       r.Main,
		ConclusionContent: r.Conclusion,
		LinkContent:       r.Link,
		EditedAt:          r.EditedAt,
	}
}

func (m mirrorText) record(id int64) details.Record {
	return details.Record{
		ItemID:     id,
		Background: m.BackgroundContent,
		Main:       m.MainContent,
		Conclusion: m.ConclusionContent,
		Link:       m.LinkContent,
		EditedAt:   m.EditedAt,
		Galleries:  map[details.Gallery][]details.ImageRef{},
	}
}

func imageEntry(r details.Record) mirrorImages {
	return mirrorImages{
		HomepageImages: r.Payloads(details.GalleryHomepage),
		KeyImages:      r.Payloads(details.GalleryKey),
	}
}

func (m mirrorImages) galleries() map[details.Gallery][]details.ImageRef {
	return map[details.Gallery][]details.ImageRef{
		details.GalleryHomepage: details.RefsFromPayloads(m.HomepageImages),
		details.GalleryKey:      details.RefsFromPayloads(m.KeyImages),
	}
}

type Engine struct {
	durable Durable
	mirror  Mirror
	remote  Remote
	codec   Compressor
	log     *zap.Logger
	now     func() time.Time
	workers int
}

type Option func(*Engine)

// WithRemote enables the snapshot tier. Without it every item resolves from
// local data or defaults.
func WithRemote(r Remote) Option { return func(e *Engine) { e.remote = r } }

func WithCodec(c Compressor) Option { return func(e *Engine) { e.codec = c } }

func WithLogger(log *zap.Logger) Option { return func(e *Engine) { e.log = log } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithWorkers bounds the fan-out of bulk export and multi-image upload.
func WithWorkers(n int) Option { return func(e *Engine) { e.workers = n } }

func New(durable Durable, mirror Mirror, opts ...Option) *Engine {
	e := &Engine{
		durable: durable,
		mirror:  mirror,
		codec:   imagecodec.New(imagecodec.DefaultMaxDimension, imagecodec.DefaultQuality),
		log:     zap.NewNop(),
		now:     time.Now,
		workers: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// local is what the two local tiers know about one item.
type local struct {
	rec    details.Record
	found  bool
	synced bool
}

// loadLocal merges the durable row and the mirror entry. The durable tier
// wins field by field unless the mirror carries a newer edit, which only
// happens when a durable write failed. A mirror image backup has the same
// origin and therefore replaces the durable galleries.
func (e *Engine) loadLocal(ctx context.Context, id int64) local {
	log := e.log.With(zap.Int64("item_id", id))

	drec, dfound, err := e.durable.GetRecord(ctx, id)
	if err != nil {
		log.Warn("durable tier unavailable, using mirror", zap.String("tier", "durable"), zap.Error(err))
		dfound = false
	}

	var text mirrorText
	mfound := e.mirror.Load(textKey(id), &text)
	var images mirrorImages
	bfound := e.mirror.Load(imageKey(id), &images)

	if !dfound && !mfound && !bfound {
		return local{}
	}

	var rec details.Record
	switch {
	case dfound && mfound && text.EditedAt > drec.EditedAt:
		rec = text.record(id)
		rec.Galleries = drec.Galleries
	case dfound:
		rec = drec
		if mfound && !drec.Complete() {
			mrec := text.record(id)
			for _, f := range details.TextFields() {
				if strings.TrimSpace(rec.Text(f)) == "" {
					rec.SetText(f, mrec.Text(f))
				}
			}
		}
	case mfound:
		rec = text.record(id)
	default:
		rec = details.Record{ItemID: id}
	}
	if bfound {
		rec.Galleries = images.galleries()
	}
	rec.ItemID = id

	synced := err == nil && dfound && mfound && !bfound &&
		drec.Complete() && drec.TextEqual(text.record(id))
	for _, g := range details.Galleries {
		if !gallery.Contiguous(drec.Galleries[g]) {
			synced = false
		}
	}

	out := local{rec: rec.Normalize(), found: true}
	out.synced = synced && out.rec.TextEqual(drec)
	return out
}

// ResolveRecord returns the authoritative record of id. Local edits beat the
// remote snapshot; with neither, a default record is synthesised. Whatever is
// returned has been written back to both local tiers unless they already held
// exactly that record. Tier failures are logged, never returned.
func (e *Engine) ResolveRecord(ctx context.Context, id int64) (details.Record, error) {
	if err := ctx.Err(); err != nil {
		return details.Record{}, fmt.Errorf("%w: %v", details.ErrContentUnavailable, err)
	}
	log := e.log.With(zap.Int64("item_id", id))
	loc := e.loadLocal(ctx, id)

	if loc.found && loc.rec.HasLocalEdits() {
		rec := loc.rec
		backfilled := false
		if rec.EditedAt == 0 && rec.HasEmptyGallery() {
			if remote, ok := e.fetchRemote(ctx, id); ok {
				backfilled = rec.BackfillGalleries(remote)
			}
		}
		if !loc.synced || backfilled {
			e.writeBack(ctx, rec)
		}
		return rec, nil
	}

	if remote, ok := e.fetchRemote(ctx, id); ok {
		if !loc.synced || !loc.rec.Equal(remote) {
			e.writeBack(ctx, remote)
		}
		log.Debug("resolved from remote snapshot")
		return remote, nil
	}

	if loc.found {
		if !loc.synced {
			e.writeBack(ctx, loc.rec)
		}
		return loc.rec, nil
	}

	rec := details.Default(id)
	e.writeBack(ctx, rec)
	log.Debug("synthesised default record")
	return rec, nil
}

func (e *Engine) fetchRemote(ctx context.Context, id int64) (details.Record, bool) {
	if e.remote == nil {
		return details.Record{}, false
	}
	rec, ok := e.remote.FetchSnapshot(ctx, id)
	if !ok {
		return details.Record{}, false
	}
	rec.ItemID = id
	rec.EditedAt = 0
	return rec.Normalize(), true
}

// writeBack persists a resolved record; a failure only costs the next read
// its fast path.
func (e *Engine) writeBack(ctx context.Context, rec details.Record) {
	if err := e.PersistRecord(ctx, rec); err != nil {
		e.log.Warn("write-back failed", zap.Int64("item_id", rec.ItemID), zap.Error(err))
	}
}

// PersistRecord writes rec to the mirror (must succeed) and to the durable
// tier (best effort). When the durable write fails the galleries are backed
// up in the mirror as well.
func (e *Engine) PersistRecord(ctx context.Context, rec details.Record) error {
	rec = rec.Normalize()
	return e.store(ctx, rec, e.durable.PutRecord)
}

// store runs the durable write then mirrors rec.
func (e *Engine) store(ctx context.Context, rec details.Record, write func(context.Context, details.Record) error) error {
	log := e.log.With(zap.Int64("item_id", rec.ItemID))

	derr := write(ctx, rec)
	if derr != nil {
		log.Warn("durable write failed, backing up to mirror", zap.String("tier", "durable"), zap.Error(derr))
	}

	if err := e.save(textKey(rec.ItemID), textEntry(rec)); err != nil {
		return fmt.Errorf("save item %d: %w", rec.ItemID, err)
	}

	if derr == nil {
		e.mirror.Remove(imageKey(rec.ItemID))
		return nil
	}
	if err := e.save(imageKey(rec.ItemID), imageEntry(rec)); err != nil {
		return fmt.Errorf("save item %d images: %w", rec.ItemID, multierr.Combine(derr, err))
	}
	return nil
}

// save evicts the non-essential mirror keys and retries once when the quota
// is exceeded.
func (e *Engine) save(key string, v any) error {
	err := e.mirror.Save(key, v)
	if !errors.Is(err, details.ErrQuotaExceeded) {
		return err
	}
	n := e.mirror.EvictNonEssential(Essential)
	e.log.Warn("mirror quota exceeded, evicted non-essential keys",
		zap.String("tier", "mirror"), zap.String("key", key), zap.Int("evicted", n))
	if n == 0 {
		return err
	}
	return e.mirror.Save(key, v)
}
