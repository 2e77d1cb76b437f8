// Package durable is the primary tier: paper text rows plus one row per
// gallery image keyed by (item, gallery, position).
package durable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/domain/media"
	"paper-showcase/internal/gallery"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db  *gorm.DB
	log *zap.Logger

	initOnce sync.Once
	initErr  error
}

// New wraps db; a nil db yields a store whose every call fails with
// details.ErrTierUnavailable.
func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: durable %s: %v", details.ErrTierUnavailable, op, err)
}

// ready migrates the schema on first use only.
func (s *Store) ready(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, unavailable("open", errors.New("database not opened"))
	}
	s.initOnce.Do(func() {
		s.initErr = s.db.AutoMigrate(&details.PaperDetail{}, &media.GalleryImage{})
		if s.initErr != nil {
			s.log.Error("durable schema migration failed", zap.Error(s.initErr))
		}
	})
	if s.initErr != nil {
		return nil, unavailable("migrate", s.initErr)
	}
	return s.db.WithContext(ctx), nil
}

// GetRecord returns the stored record as-is (not normalised). found is false
// when neither a text row nor any image exists for itemID.
func (s *Store) GetRecord(ctx context.Context, itemID int64) (details.Record, bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return details.Record{}, false, err
	}

	var row details.PaperDetail
	rowFound := true
	if err := db.First(&row, "item_id = ?", itemID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return details.Record{}, false, unavailable("get", err)
		}
		rowFound = false
	}

	var imgs []media.GalleryImage
	if err := db.Where("item_id = ?", itemID).Order("gallery, position").Find(&imgs).Error; err != nil {
		return details.Record{}, false, unavailable("get images", err)
	}
	if !rowFound && len(imgs) == 0 {
		return details.Record{}, false, nil
	}

	rec := details.Record{
		ItemID:     itemID,
		Background: row.BackgroundContent,
		Main:       row.MainContent,
		Conclusion: row.ConclusionContent,
		Link:       row.LinkContent,
		EditedAt:   row.EditedAtMs,
		Galleries:  make(map[details.Gallery][]details.ImageRef, len(details.Galleries)),
	}
	for _, g := range details.Galleries {
		rec.Galleries[g] = []details.ImageRef{}
	}
	for _, img := range imgs {
		g := details.Gallery(img.Gallery)
		if !g.Valid() {
			continue
		}
		rec.Galleries[g] = append(rec.Galleries[g], details.ImageRef{Position: img.Position, Payload: img.Payload})
	}
	return rec, true, nil
}

// PutRecord upserts the text row and rewrites both galleries in one transaction.
func (s *Store) PutRecord(ctx context.Context, rec details.Record) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := upsertText(tx, rec); err != nil {
			return err
		}
		for _, g := range details.Galleries {
			if err := replaceGallery(tx, gallery.Key{ItemID: rec.ItemID, Gallery: g}, rec.Payloads(g)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

// PutText upserts the text row only.
func (s *Store) PutText(ctx context.Context, rec details.Record) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := upsertText(db, rec); err != nil {
		return unavailable("put text", err)
	}
	return nil
}

func upsertText(tx *gorm.DB, rec details.Record) error {
	row := details.PaperDetail{
		ItemID:            rec.ItemID,
		BackgroundContent: rec.Background,
		MainContent:       rec.Main,
		ConclusionContent: rec.Conclusion,
		LinkContent:       rec.Link,
		EditedAtMs:        rec.EditedAt,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"background_content", "main_content", "conclusion_content", "link_content", "edited_at_ms", "updated_at",
		}),
	}).Create(&row).Error
}

func replaceGallery(tx *gorm.DB, key gallery.Key, payloads []string) error {
	if err := tx.Where("item_id = ? AND gallery = ?", key.ItemID, string(key.Gallery)).
		Delete(&media.GalleryImage{}).Error; err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}
	rows := make([]media.GalleryImage, len(payloads))
	for i, p := range payloads {
		rows[i] = media.GalleryImage{ItemID: key.ItemID, Gallery: string(key.Gallery), Position: i, Payload: p}
	}
	return tx.CreateInBatches(rows, 20).Error
}

// ListItemIDs returns every item id with a text row or an image, ascending.
func (s *Store) ListItemIDs(ctx context.Context) ([]int64, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	var rowIDs, imgIDs []int64
	if err := db.Model(&details.PaperDetail{}).Pluck("item_id", &rowIDs).Error; err != nil {
		return nil, unavailable("list", err)
	}
	if err := db.Model(&media.GalleryImage{}).Distinct().Pluck("item_id", &imgIDs).Error; err != nil {
		return nil, unavailable("list images", err)
	}

	seen := map[int64]bool{}
	var ids []int64
	for _, id := range append(rowIDs, imgIDs...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ----- gallery.Backend -----

func (s *Store) List(ctx context.Context, key gallery.Key) ([]details.ImageRef, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	var imgs []media.GalleryImage
	if err := db.Where("item_id = ? AND gallery = ?", key.ItemID, string(key.Gallery)).
		Order("position").Find(&imgs).Error; err != nil {
		return nil, unavailable("list gallery", err)
	}
	refs := make([]details.ImageRef, len(imgs))
	for i, img := range imgs {
		refs[i] = details.ImageRef{Position: img.Position, Payload: img.Payload}
	}
	return refs, nil
}

// Get returns the payload stored at (key, position).
func (s *Store) Get(ctx context.Context, key gallery.Key, position int) (string, bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return "", false, err
	}
	var img media.GalleryImage
	err = db.First(&img, "item_id = ? AND gallery = ? AND position = ?", key.ItemID, string(key.Gallery), position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get image", err)
	}
	return img.Payload, true, nil
}

func (s *Store) Put(ctx context.Context, key gallery.Key, position int, payload string) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	img := media.GalleryImage{ItemID: key.ItemID, Gallery: string(key.Gallery), Position: position, Payload: payload}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}, {Name: "gallery"}, {Name: "position"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&img).Error
	if err != nil {
		return unavailable("put image", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key gallery.Key, position int) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := db.Where("item_id = ? AND gallery = ? AND position = ?", key.ItemID, string(key.Gallery), position).
		Delete(&media.GalleryImage{}).Error; err != nil {
		return unavailable("delete image", err)
	}
	return nil
}

// Swap rewrites the payloads of both entries in one transaction.
func (s *Store) Swap(ctx context.Context, key gallery.Key, a, b int) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var imgs []media.GalleryImage
		if err := tx.Where("item_id = ? AND gallery = ? AND position IN ?", key.ItemID, string(key.Gallery), []int{a, b}).
			Find(&imgs).Error; err != nil {
			return err
		}
		if len(imgs) != 2 {
			return fmt.Errorf("expected 2 images at %d,%d, found %d", a, b, len(imgs))
		}
		now := time.Now()
		for i, img := range imgs {
			other := imgs[1-i].Payload
			if err := tx.Model(&media.GalleryImage{}).
				Where("item_id = ? AND gallery = ? AND position = ?", img.ItemID, img.Gallery, img.Position).
				Updates(map[string]interface{}{"payload": other, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("swap images", err)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, key gallery.Key, payloads []string) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return replaceGallery(tx, key, payloads)
	}); err != nil {
		return unavailable("replace gallery", err)
	}
	return nil
}
