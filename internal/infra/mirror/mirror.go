// Package mirror is the synchronous, size-limited key-value tier. Values are
// JSON documents; the quota counts the bytes of keys plus values.
package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"paper-showcase/internal/domain/details"

	"go.uber.org/zap"
)

const DefaultQuota = 5 << 20

type Store struct {
	mu      sync.Mutex
	quota   int
	used    int
	entries map[string]string

	path string
	log  *zap.Logger
}

type Option func(*Store)

// WithFile persists every change to path and loads it on open.
func WithFile(path string) Option {
	return func(s *Store) { s.path = path }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

func New(quota int, opts ...Option) (*Store, error) {
	if quota <= 0 {
		quota = DefaultQuota
	}
	s := &Store{quota: quota, entries: map[string]string{}, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.path == "" {
		return s, nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mirror file: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		s.log.Warn("mirror file unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		s.entries = map[string]string{}
	}
	for k, v := range s.entries {
		s.used += len(k) + len(v)
	}
	return s, nil
}

// Save stores v as JSON under key. It fails with details.ErrQuotaExceeded
// when the result would not fit, leaving the previous value in place.
func (s *Store) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, had := s.entries[key]
	next := s.used + len(key) + len(data)
	if had {
		next -= len(key) + len(old)
	}
	if next > s.quota {
		return fmt.Errorf("%w: %s needs %d bytes, quota %d", details.ErrQuotaExceeded, key, next, s.quota)
	}
	s.entries[key] = string(data)
	s.used = next
	s.flushLocked()
	return nil
}

// Load decodes the value under key into dst and reports whether it existed
// and decoded cleanly.
func (s *Store) Load(key string, dst any) bool {
	s.mu.Lock()
	raw, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Warn("mirror entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// LoadOr returns the value under key, or def when absent.
func LoadOr[T any](s *Store, key string, def T) T {
	var v T
	if s.Load(key, &v) {
		return v
	}
	return def
}

func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.entries, key)
		s.flushLocked()
	}
}

// Keys returns the keys starting with prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// EvictNonEssential drops every key for which essential returns false and
// returns how many were removed.
func (s *Store) EvictNonEssential(essential func(key string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.entries {
		if essential(k) {
			continue
		}
		s.used -= len(k) + len(v)
		delete(s.entries, k)
		n++
	}
	if n > 0 {
		s.flushLocked()
	}
	return n
}

func (s *Store) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Store) Quota() int { return s.quota }

func (s *Store) flushLocked() {
	if s.path == "" {
		return
	}
	data, err := json.Marshal(s.entries)
	if err != nil {
		s.log.Warn("mirror flush encode failed", zap.Error(err))
		return
	}
	tmp := filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.log.Warn("mirror flush failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("mirror flush rename failed", zap.String("path", s.path), zap.Error(err))
	}
}
