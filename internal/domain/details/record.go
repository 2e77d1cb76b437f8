package details

import "strings"

type Gallery string

const (
	GalleryHomepage Gallery = "homepage"
	GalleryKey      Gallery = "key"
)

// Galleries is the closed set of gallery names, in display order.
var Galleries = []Gallery{GalleryHomepage, GalleryKey}

func (g Gallery) Valid() bool {
	return g == GalleryHomepage || g == GalleryKey
}

func ParseGallery(s string) (Gallery, error) {
	g := Gallery(strings.TrimSuffix(strings.TrimSpace(s), "Images"))
	if !g.Valid() {
		return "", ErrUnknownGallery
	}
	return g, nil
}

// Sentinel placeholders stored in place of an absent text field.
const (
	BackgroundPlaceholder = "请添加研究背景信息"
	MainPlaceholder       = "请添加研究内容信息"
	ConclusionPlaceholder = "请添加研究结论信息"
	LinkPlaceholder       = "暂无全文链接"
)

// Older exports wrote these instead of the sentinels.
var legacyPlaceholders = map[string]string{
	"暂无研究背景信息": BackgroundPlaceholder,
	"暂无研究内容信息": MainPlaceholder,
	"暂无研究结论信息": ConclusionPlaceholder,
	"请添加全文链接":  LinkPlaceholder,
}

type Field string

const (
	FieldBackground Field = "backgroundContent"
	FieldMain       Field = "mainContent"
	FieldConclusion Field = "conclusionContent"
	FieldLink       Field = "linkContent"
)

// Placeholder returns the sentinel for f.
func (f Field) Placeholder() string {
	switch f {
	case FieldBackground:
		return BackgroundPlaceholder
	case FieldMain:
		return MainPlaceholder
	case FieldConclusion:
		return ConclusionPlaceholder
	case FieldLink:
		return LinkPlaceholder
	}
	return ""
}

type ImageRef struct {
	Position int    `json:"position"`
	Payload  string `json:"payload"`
}

// Record is the detail content of one paper. EditedAt is unix milliseconds of
// the last local mutation, zero when the item was never edited here.
type Record struct {
	ItemID     int64
	Background string
	Main       string
	Conclusion string
	Link       string
	Galleries  map[Gallery][]ImageRef
	EditedAt   int64
}

// Default is the record synthesised for an item no tier knows about.
func Default(itemID int64) Record {
	return Record{ItemID: itemID}.Normalize()
}

// Text returns the value of f.
func (r Record) Text(f Field) string {
	switch f {
	case FieldBackground:
		return r.Background
	case FieldMain:
		return r.Main
	case FieldConclusion:
		return r.Conclusion
	case FieldLink:
		return r.Link
	}
	return ""
}

func (r *Record) SetText(f Field, v string) {
	switch f {
	case FieldBackground:
		r.Background = v
	case FieldMain:
		r.Main = v
	case FieldConclusion:
		r.Conclusion = v
	case FieldLink:
		r.Link = v
	}
}

var textFields = []Field{FieldBackground, FieldMain, FieldConclusion, FieldLink}

// TextFields lists the text fields in display order.
func TextFields() []Field { return append([]Field(nil), textFields...) }

// Complete reports whether every text field is present. Galleries are always
// considered present; an absent one is the same as an empty one.
func (r Record) Complete() bool {
	for _, f := range textFields {
		if strings.TrimSpace(r.Text(f)) == "" {
			return false
		}
	}
	return true
}

// Normalize fills absent fields with their placeholders, canonicalises legacy
// placeholders and renumbers both galleries 0..n-1. It never aliases r's slices.
func (r Record) Normalize() Record {
	for _, f := range textFields {
		v := r.Text(f)
		if canon, ok := legacyPlaceholders[strings.TrimSpace(v)]; ok && canon == f.Placeholder() {
			v = canon
		}
		if strings.TrimSpace(v) == "" {
			v = f.Placeholder()
		}
		r.SetText(f, v)
	}

	galleries := make(map[Gallery][]ImageRef, len(Galleries))
	for _, g := range Galleries {
		src := r.Galleries[g]
		refs := make([]ImageRef, 0, len(src))
		for _, ref := range src {
			if ref.Payload == "" {
				continue
			}
			refs = append(refs, ImageRef{Position: len(refs), Payload: ref.Payload})
		}
		galleries[g] = refs
	}
	r.Galleries = galleries
	return r
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Galleries = make(map[Gallery][]ImageRef, len(r.Galleries))
	for g, refs := range r.Galleries {
		out.Galleries[g] = append([]ImageRef(nil), refs...)
	}
	return out
}

// IsPlaceholder reports whether v is the sentinel (or a legacy alias) of f.
func IsPlaceholder(f Field, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || v == f.Placeholder() {
		return true
	}
	canon, ok := legacyPlaceholders[v]
	return ok && canon == f.Placeholder()
}

// HasLocalEdits reports whether a person customised the record locally.
func (r Record) HasLocalEdits() bool {
	if r.EditedAt != 0 {
		return true
	}
	for _, f := range textFields {
		if !IsPlaceholder(f, r.Text(f)) {
			return true
		}
	}
	return false
}

// TextEqual compares the text fields and the edit stamp only.
func (r Record) TextEqual(o Record) bool {
	for _, f := range textFields {
		if r.Text(f) != o.Text(f) {
			return false
		}
	}
	return r.EditedAt == o.EditedAt
}

func (r Record) Equal(o Record) bool {
	if r.ItemID != o.ItemID || !r.TextEqual(o) {
		return false
	}
	for _, g := range Galleries {
		a, b := r.Galleries[g], o.Galleries[g]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

func (r Record) HasEmptyGallery() bool {
	for _, g := range Galleries {
		if len(r.Galleries[g]) == 0 {
			return true
		}
	}
	return false
}

// BackfillGalleries copies src's galleries into the empty galleries of r.
// Non-empty galleries are never touched. It reports whether anything changed.
func (r *Record) BackfillGalleries(src Record) bool {
	changed := false
	if r.Galleries == nil {
		r.Galleries = map[Gallery][]ImageRef{}
	}
	for _, g := range Galleries {
		if len(r.Galleries[g]) > 0 || len(src.Galleries[g]) == 0 {
			continue
		}
		r.Galleries[g] = append([]ImageRef(nil), src.Galleries[g]...)
		changed = true
	}
	return changed
}

// Payloads returns the payloads of gallery g in position order.
func (r Record) Payloads(g Gallery) []string {
	refs := r.Galleries[g]
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.Payload
	}
	return out
}

// RefsFromPayloads numbers payloads 0..n-1.
func RefsFromPayloads(payloads []string) []ImageRef {
	refs := make([]ImageRef, 0, len(payloads))
	for _, p := range payloads {
		refs = append(refs, ImageRef{Position: len(refs), Payload: p})
	}
	return refs
}
