package details

import (
	"encoding/json"
	"fmt"
)

// RecordJSON is the published / exported shape of a record.
type RecordJSON struct {
	PaperID           *int64   `json:"paperId,omitempty"`
	BackgroundContent string   `json:"backgroundContent"`
	MainContent       string   `json:"mainContent"`
	ConclusionContent string   `json:"conclusionContent"`
	LinkContent       string   `json:"linkContent"`
	HomepageImages    []string `json:"homepageImages"`
	KeyImages         []string `json:"keyImages"`
}

func ToJSON(r Record) RecordJSON {
	r = r.Normalize()
	id := r.ItemID
	return RecordJSON{
		PaperID:           &id,
		BackgroundContent: r.Background,
		MainContent:       r.Main,
		ConclusionContent: r.Conclusion,
		LinkContent:       r.Link,
		HomepageImages:    r.Payloads(GalleryHomepage),
		KeyImages:         r.Payloads(GalleryKey),
	}
}

// FromJSON builds a normalised record; missing fields become placeholders.
func FromJSON(itemID int64, j RecordJSON) Record {
	return Record{
		ItemID:     itemID,
		Background: j.BackgroundContent,
		Main:       j.MainContent,
		Conclusion: j.ConclusionContent,
		Link:       j.LinkContent,
		Galleries: map[Gallery][]ImageRef{
			GalleryHomepage: RefsFromPayloads(j.HomepageImages),
			GalleryKey:      RefsFromPayloads(j.KeyImages),
		},
	}.Normalize()
}

// DecodeRecord parses one RecordJSON object. Anything that is not an object
// of the expected shape is reported as ErrMalformedSnapshot.
func DecodeRecord(itemID int64, raw json.RawMessage) (Record, error) {
	var j RecordJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return Record{}, fmt.Errorf("%w: item %d: %v", ErrMalformedSnapshot, itemID, err)
	}
	return FromJSON(itemID, j), nil
}
