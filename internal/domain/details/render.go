package details

import (
	"net/url"
	"strings"
)

const (
	NoContentPlaceholder = "暂无内容"
	NoImagesPlaceholder  = "暂无图片"
)

type LinkView struct {
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

type GalleryView struct {
	Images      []ImageRef `json:"images"`
	Placeholder string     `json:"placeholder,omitempty"`
}

// View is what the page shell needs to draw a record.
type View struct {
	Background []string                `json:"background"`
	Main       []string                `json:"main"`
	Conclusion []string                `json:"conclusion"`
	Link       LinkView                `json:"link"`
	Galleries  map[Gallery]GalleryView `json:"galleries"`
}

func Render(r Record) View {
	r = r.Normalize()
	v := View{
		Background: Paragraphs(FieldBackground, r.Background),
		Main:       Paragraphs(FieldMain, r.Main),
		Conclusion: Paragraphs(FieldConclusion, r.Conclusion),
		Link:       FormatLink(r.Link),
		Galleries:  make(map[Gallery]GalleryView, len(Galleries)),
	}
	for _, g := range Galleries {
		gv := GalleryView{Images: r.Galleries[g]}
		if len(gv.Images) == 0 {
			gv.Placeholder = NoImagesPlaceholder
		}
		v.Galleries[g] = gv
	}
	return v
}

// Paragraphs splits text on newlines into trimmed, non-empty paragraphs.
// A placeholder renders as the single "no content" paragraph.
func Paragraphs(f Field, text string) []string {
	if IsPlaceholder(f, text) {
		return []string{NoContentPlaceholder}
	}
	var out []string
	for _, p := range strings.Split(text, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{NoContentPlaceholder}
	}
	return out
}

// FormatLink returns an href only for absolute http(s) URLs; a bare "www."
// prefix is upgraded to https.
func FormatLink(text string) LinkView {
	text = strings.TrimSpace(text)
	if IsPlaceholder(FieldLink, text) {
		return LinkView{Text: LinkPlaceholder}
	}

	candidate := text
	if strings.HasPrefix(strings.ToLower(candidate), "www.") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" || strings.ContainsAny(candidate, " \t\n") {
		return LinkView{Text: text}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return LinkView{Text: text}
	}
	return LinkView{Text: text, Href: u.String()}
}
