package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/infra/snapshot"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IndexFile is the name of the bulk export index.
const IndexFile = "paperDetailsIndex.json"

// ExportFilename is the download name of one exported record.
func ExportFilename(id int64) string {
	return fmt.Sprintf("paperDetails%02d.json", id)
}

// ExportRecord resolves id and returns it in its published shape.
func (e *Engine) ExportRecord(ctx context.Context, id int64) (string, details.RecordJSON, error) {
	rec, err := e.ResolveRecord(ctx, id)
	if err != nil {
		return "", details.RecordJSON{}, err
	}
	return ExportFilename(id), details.ToJSON(rec), nil
}

// Export is a set of record files plus the index that locates them. The
// index keys are item ids.
type Export struct {
	Files map[string]details.RecordJSON  `json:"files"`
	Index map[string]snapshot.IndexEntry `json:"index"`
}

// IndexLookup finds the file holding id the same way the snapshot source
// reads an exported index.
func (x Export) IndexLookup(id int64) (string, bool) {
	return snapshot.Index(x.Index).Locate(id)
}

// ExportAll exports the local state of ids, or of every locally known item
// when ids is empty. Items no tier knows are exported as defaults. Nothing is
// fetched and nothing is written.
func (e *Engine) ExportAll(ctx context.Context, ids []int64) (Export, error) {
	if len(ids) == 0 {
		ids = e.knownIDs(ctx)
	}

	recs := make([]details.Record, len(ids))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			loc := e.loadLocal(ectx, id)
			if loc.found {
				recs[i] = loc.rec
			} else {
				recs[i] = details.Default(id)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Export{}, fmt.Errorf("%w: %v", details.ErrContentUnavailable, err)
	}

	out := Export{
		Files: make(map[string]details.RecordJSON, len(recs)),
		Index: make(map[string]snapshot.IndexEntry, len(recs)),
	}
	for _, rec := range recs {
		name := ExportFilename(rec.ItemID)
		id := rec.ItemID
		out.Files[name] = details.ToJSON(rec)
		out.Index[strconv.FormatInt(id, 10)] = snapshot.IndexEntry{Filename: name, PaperID: &id}
	}
	return out, nil
}

// knownIDs lists the items present in either local tier, ascending.
func (e *Engine) knownIDs(ctx context.Context) []int64 {
	seen := map[int64]bool{}
	ids, err := e.durable.ListItemIDs(ctx)
	if err != nil {
		e.log.Warn("durable tier unavailable, exporting mirror only", zap.String("tier", "durable"), zap.Error(err))
	}
	for _, id := range ids {
		seen[id] = true
	}
	for _, prefix := range []string{textPrefix, imagePrefix} {
		for _, key := range e.mirror.Keys(prefix) {
			id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
			if err == nil {
				seen[id] = true
			}
		}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
