package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "patchbell/pkg/logx"
)

// fileStore keeps the whole state in memory and rewrites one JSON document
// on every mutation:
//
//	{"subscriptions": {"<subscriber>": ["cs2", ...]}, "last_updates": {"cs2": "<identity>"}}
//
// A single mutex serializes readers and writers.
type fileStore struct {
	log  logx.Logger
	path string

	mu       sync.Mutex
	closed   bool
	subs     map[string]map[string]struct{} // subscriber -> keys
	bySource map[string]map[string]struct{} // key -> subscribers
	last     map[string]string
}

type document struct {
	Subscriptions map[string][]string `json:"subscriptions"`
	LastUpdates   map[string]string   `json:"last_updates"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:      log,
		path:     path,
		subs:     map[string]map[string]struct{}{},
		bySource: map[string]map[string]struct{}{},
		last:     map[string]string{},
	}
	doc, err := loadDocument(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("state file not found; starting empty", logx.String("path", path))
	case err != nil:
		log.Warn("state file unreadable; starting empty", logx.String("path", path), logx.Err(err))
	default:
		s.restore(doc)
		log.Info("state loaded", logx.String("path", path), logx.Int("subscribers", len(s.subs)), logx.Int("last_seen", len(s.last)))
	}
	return s, nil
}

func loadDocument(path string) (document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func (s *fileStore) restore(doc document) {
	for sub, keys := range doc.Subscriptions {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				s.addLocked(sub, k)
			}
		}
	}
	for k, v := range doc.LastUpdates {
		s.last[k] = v
	}
}

func (s *fileStore) addLocked(sub, key string) bool {
	set := s.subs[sub]
	if set == nil {
		set = map[string]struct{}{}
		s.subs[sub] = set
	}
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	idx := s.bySource[key]
	if idx == nil {
		idx = map[string]struct{}{}
		s.bySource[key] = idx
	}
	idx[sub] = struct{}{}
	return true
}

func (s *fileStore) removeLocked(sub, key string) bool {
	set := s.subs[sub]
	if _, ok := set[key]; !ok {
		return false
	}
	delete(set, key)
	if len(set) == 0 {
		delete(s.subs, sub)
	}
	if idx := s.bySource[key]; idx != nil {
		delete(idx, sub)
		if len(idx) == 0 {
			delete(s.bySource, key)
		}
	}
	return true
}

func (s *fileStore) AddSubscription(ctx context.Context, subscriberID, sourceKey string) (AddResult, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if !s.addLocked(subscriberID, sourceKey) {
		return AlreadyExists, nil
	}
	if err := s.persistLocked(); err != nil {
		s.removeLocked(subscriberID, sourceKey)
		return 0, err
	}
	return Added, nil
}

func (s *fileStore) RemoveSubscription(ctx context.Context, subscriberID, sourceKey string) (RemoveResult, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if !s.removeLocked(subscriberID, sourceKey) {
		return NotFound, nil
	}
	if err := s.persistLocked(); err != nil {
		s.addLocked(subscriberID, sourceKey)
		return 0, err
	}
	return Removed, nil
}

func (s *fileStore) ListSubscriptions(ctx context.Context, subscriberID string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedKeys(s.subs[subscriberID]), nil
}

func (s *fileStore) ListSubscribers(ctx context.Context, sourceKey string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedKeys(s.bySource[sourceKey]), nil
}

func (s *fileStore) GetLastSeen(ctx context.Context, sourceKey string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.last[sourceKey]
	return v, ok, nil
}

func (s *fileStore) SetLastSeen(ctx context.Context, sourceKey, identity string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.last[sourceKey]
	s.last[sourceKey] = identity
	if err := s.persistLocked(); err != nil {
		if had {
			s.last[sourceKey] = prev
		} else {
			delete(s.last, sourceKey)
		}
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// persistLocked rewrites the document atomically (tmp + fsync + rename).
// Callers undo their in-memory mutation when it fails.
func (s *fileStore) persistLocked() error {
	doc := document{
		Subscriptions: make(map[string][]string, len(s.subs)),
		LastUpdates:   make(map[string]string, len(s.last)),
	}
	for sub, set := range s.subs {
		doc.Subscriptions[sub] = sortedKeys(set)
	}
	for k, v := range s.last {
		doc.LastUpdates[k] = v
	}

	err := writeFileAtomic(s.path, doc)
	if err != nil {
		s.log.Error("state write failed; mutation rolled back", logx.String("path", s.path), logx.Err(err))
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
