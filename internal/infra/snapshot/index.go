package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"

	"paper-showcase/internal/domain/details"
)

// IndexEntry describes one page file. Either PaperIDs or Range is set; the
// export index form ({"7": {"filename": ..., "paperId": 7}}) sets Filename.
type IndexEntry struct {
	PaperIDs []int64 `json:"paperIds,omitempty"`
	Range    []int64 `json:"range,omitempty"`
	Filename string  `json:"filename,omitempty"`
	PaperID  *int64  `json:"paperId,omitempty"`
}

// Index maps a file name (or, in export form, an item id) to its entry.
type Index map[string]IndexEntry

func ParseIndex(doc document) (Index, error) {
	idx := make(Index, len(doc))
	for name, raw := range doc {
		var e IndexEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: index entry %s: %v", details.ErrMalformedSnapshot, name, err)
		}
		idx[name] = e
	}
	return idx, nil
}

// Locate finds the file for itemID. Explicit ids are checked before ranges;
// names are visited in sorted order so the answer is deterministic.
func (idx Index) Locate(itemID int64) (string, bool) {
	names := make([]string, 0, len(idx))
	for name := range idx {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := idx[name]
		if e.Filename != "" && e.PaperID != nil && *e.PaperID == itemID {
			return e.Filename, true
		}
		for _, id := range e.PaperIDs {
			if id == itemID {
				return name, true
			}
		}
	}
	for _, name := range names {
		r := idx[name].Range
		if len(r) == 2 && itemID >= r[0] && itemID <= r[1] {
			return name, true
		}
	}
	return "", false
}
