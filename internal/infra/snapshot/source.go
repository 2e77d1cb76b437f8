// Package snapshot reads the published, read-only detail records. Documents
// are fetched at most once per TTL and never written.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"paper-showcase/internal/domain/details"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Mode string

const (
	// ModeSingle: one object keyed by item id for the whole dataset.
	ModeSingle Mode = "single"
	// ModePaged: page files addressed by ceil(id/pageSize), optionally via an index.
	ModePaged Mode = "paged"
	// ModeLegacy: the old single file only.
	ModeLegacy Mode = "legacy"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSingle, ModePaged, ModeLegacy:
		return m, nil
	case "":
		return ModePaged, nil
	}
	return "", fmt.Errorf("unknown snapshot mode %q", s)
}

type Config struct {
	// BaseURL is an http(s) URL or a local directory.
	BaseURL  string
	Mode     Mode
	PageSize int
	Timeout  time.Duration
	CacheTTL time.Duration

	SingleFile      string
	IndexFile       string
	LegacyFile      string
	PageFilePattern string
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePaged
	}
	if c.PageSize <= 0 {
		c.PageSize = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.SingleFile == "" {
		c.SingleFile = "paperDetails.json"
	}
	if c.IndexFile == "" {
		c.IndexFile = "paperIndex.json"
	}
	if c.LegacyFile == "" {
		c.LegacyFile = "paperDetails.json"
	}
	if c.PageFilePattern == "" {
		c.PageFilePattern = "paperDetails%02d.json"
	}
}

type document map[string]json.RawMessage

type cached struct {
	doc       document
	fetchedAt time.Time
}

type Source struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	log    *zap.Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cached
}

// New builds a source. A BaseURL without a scheme is served from the local
// filesystem.
func New(cfg Config, log *zap.Logger) (*Source, error) {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	base, client, err := resolveBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:    cfg,
		base:   base,
		client: client,
		log:    log,
		now:    time.Now,
		cache:  map[string]cached{},
	}, nil
}

func resolveBase(raw string) (*url.URL, *http.Client, error) {
	if raw == "" {
		return nil, nil, errors.New("snapshot base URL is empty")
	}
	u, err := url.Parse(raw)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		return u, &http.Client{}, nil
	}

	t := &http.Transport{}
	t.RegisterProtocol("file", http.NewFileTransport(http.Dir(raw)))
	return &url.URL{Scheme: "file", Path: "/"}, &http.Client{Transport: t}, nil
}

// FetchSnapshot returns the published record for itemID. Every failure
// (timeout, transport error, missing file, malformed JSON) is reported as
// absent; the reason is logged.
func (s *Source) FetchSnapshot(ctx context.Context, itemID int64) (details.Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	rec, err := s.fetch(ctx, itemID)
	if err != nil {
		s.log.Warn("remote snapshot absent",
			zap.Int64("item_id", itemID), zap.String("mode", string(s.cfg.Mode)), zap.Error(err))
		return details.Record{}, false
	}
	return rec, true
}

var (
	errNotPublished = errors.New("item not published")
	errMissing      = errors.New("file not published")
)

func (s *Source) fetch(ctx context.Context, itemID int64) (details.Record, error) {
	switch s.cfg.Mode {
	case ModeSingle:
		return s.lookup(ctx, s.cfg.SingleFile, itemID)
	case ModeLegacy:
		return s.lookup(ctx, s.cfg.LegacyFile, itemID)
	}

	// A page that answers is authoritative, even with a 404. Only a page
	// that could not be read or parsed sends the lookup to the legacy file.
	file := s.pageFile(ctx, itemID)
	rec, err := s.lookup(ctx, file, itemID)
	if err == nil || errors.Is(err, errNotPublished) || errors.Is(err, errMissing) {
		return rec, err
	}
	s.log.Info("page file unreadable, trying legacy file",
		zap.String("file", file), zap.Int64("item_id", itemID), zap.Error(err))
	return s.lookup(ctx, s.cfg.LegacyFile, itemID)
}

// pageFile resolves the page holding itemID: an explicit id list in the
// index wins over a range, and a range wins over the computed page.
func (s *Source) pageFile(ctx context.Context, itemID int64) string {
	if idx, err := s.index(ctx); err != nil {
		s.log.Debug("snapshot index unavailable", zap.Error(err))
	} else if file, ok := idx.Locate(itemID); ok {
		return file
	}
	return fmt.Sprintf(s.cfg.PageFilePattern, PageNumber(itemID, s.cfg.PageSize))
}

// PageNumber is ceil(itemID / pageSize).
func PageNumber(itemID int64, pageSize int) int64 {
	n := int64(pageSize)
	return (itemID + n - 1) / n
}

func (s *Source) index(ctx context.Context) (Index, error) {
	doc, err := s.document(ctx, s.cfg.IndexFile)
	if err != nil {
		return nil, err
	}
	return ParseIndex(doc)
}

func (s *Source) lookup(ctx context.Context, file string, itemID int64) (details.Record, error) {
	doc, err := s.document(ctx, file)
	if err != nil {
		return details.Record{}, err
	}
	raw, ok := doc[strconv.FormatInt(itemID, 10)]
	if !ok {
		// an exported single-record file: {"paperId": N, ...}
		if id, has := doc["paperId"]; has && string(id) == strconv.FormatInt(itemID, 10) {
			raw, _ = json.Marshal(doc)
			ok = true
		}
	}
	if !ok {
		return details.Record{}, fmt.Errorf("%w: %d not in %s", errNotPublished, itemID, file)
	}
	return details.DecodeRecord(itemID, raw)
}

// document returns the parsed file, fetching it at most once per TTL even
// under concurrent callers.
func (s *Source) document(ctx context.Context, file string) (document, error) {
	s.mu.Lock()
	c, ok := s.cache[file]
	s.mu.Unlock()
	if ok && s.now().Sub(c.fetchedAt) < s.cfg.CacheTTL {
		return c.doc, nil
	}

	// The shared fetch is bounded by its own timeout, not by the first
	// caller's context: callers that joined later still get the result.
	ch := s.group.DoChan(file, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		doc, err := s.get(fetchCtx, file)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[file] = cached{doc: doc, fetchedAt: s.now()}
		s.mu.Unlock()
		return doc, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", details.ErrRemoteUnavailable, file, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(document), nil
	}
}

func (s *Source) get(ctx context.Context, file string) (document, error) {
	u := s.base.ResolveReference(&url.URL{Path: file})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", details.ErrRemoteUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", details.ErrRemoteUnavailable, file, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w: %s: status %d", details.ErrRemoteUnavailable, errMissing, file, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", details.ErrRemoteUnavailable, file, err)
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", details.ErrMalformedSnapshot, file, err)
	}
	return doc, nil
}
