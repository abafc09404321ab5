package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"matchwatch/internal/watch"
	logx "matchwatch/pkg/logx"
)

// fileStore keeps everything in memory and snapshots to a single JSON
// file on every mutation (atomic tmp+rename). State is a handful of
// groups and a few hundred notified ids, so snapshot-per-write is
// cheaper than it looks.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	// group id -> its single subscription
	groups map[int64]watch.Subscription
	// match id -> event id it was recorded under
	starts  map[string]string
	results map[string]string
}

type fileDoc struct {
	Groups  []fileGroup     `json:"groups"`
	Starts  []notifiedEntry `json:"notified_starts"`
	Results []notifiedEntry `json:"notified_results"`
}

type fileGroup struct {
	GroupID   int64  `json:"group_id"`
	EventID   string `json:"event_id"`
	Title     string `json:"title"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type notifiedEntry struct {
	MatchID string `json:"match_id"`
	EventID string `json:"event_id,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (watch.Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:     log,
		path:    cfg.Path,
		groups:  map[int64]watch.Subscription{},
		starts:  map[string]string{},
		results: map[string]string{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	for _, g := range doc.Groups {
		s.groups[g.GroupID] = watch.Subscription{
			EventID:   g.EventID,
			Title:     g.Title,
			StartDate: g.StartDate,
			EndDate:   g.EndDate,
		}
	}
	for _, e := range doc.Starts {
		s.starts[e.MatchID] = e.EventID
	}
	for _, e := range doc.Results {
		s.results[e.MatchID] = e.EventID
	}
	return nil
}

// saveLocked writes the snapshot; callers hold mu.
func (s *fileStore) saveLocked() error {
	doc := fileDoc{
		Groups:  make([]fileGroup, 0, len(s.groups)),
		Starts:  make([]notifiedEntry, 0, len(s.starts)),
		Results: make([]notifiedEntry, 0, len(s.results)),
	}
	for gid, sub := range s.groups {
		doc.Groups = append(doc.Groups, fileGroup{
			GroupID:   gid,
			EventID:   sub.EventID,
			Title:     sub.Title,
			StartDate: sub.StartDate,
			EndDate:   sub.EndDate,
		})
	}
	for id, ev := range s.starts {
		doc.Starts = append(doc.Starts, notifiedEntry{MatchID: id, EventID: ev})
	}
	for id, ev := range s.results {
		doc.Results = append(doc.Results, notifiedEntry{MatchID: id, EventID: ev})
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) ReplaceSubscription(ctx context.Context, groupID int64, sub watch.Subscription) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var replaced []string
	if old, ok := s.groups[groupID]; ok {
		replaced = append(replaced, old.EventID)
	}
	s.groups[groupID] = sub
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *fileStore) RemoveSubscription(ctx context.Context, groupID int64, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.groups[groupID]
	if !ok || old.EventID != eventID {
		return false, nil
	}
	delete(s.groups, groupID)
	if err := s.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Subscriptions(ctx context.Context) (map[string]watch.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]watch.Subscription, len(s.groups))
	for _, sub := range s.groups {
		// Prefer a subscription that carries dates when groups disagree.
		if cur, ok := out[sub.EventID]; ok && cur.StartDate != "" && sub.StartDate == "" {
			continue
		}
		out[sub.EventID] = sub
	}
	return out, nil
}

func (s *fileStore) GroupsByEvent(ctx context.Context, eventID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []int64
	for gid, sub := range s.groups {
		if sub.EventID == eventID {
			groups = append(groups, gid)
		}
	}
	return groups, nil
}

func (s *fileStore) setFor(kind watch.NotifyKind) map[string]string {
	if kind == watch.NotifyResult {
		return s.results
	}
	return s.starts
}

func (s *fileStore) IsNotified(ctx context.Context, kind watch.NotifyKind, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.setFor(kind)[matchID]
	return ok, nil
}

func (s *fileStore) MarkNotified(ctx context.Context, kind watch.NotifyKind, matchID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFor(kind)[matchID] = eventID
	return s.saveLocked()
}

func (s *fileStore) ClearEventNotified(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ev := range s.starts {
		if ev == eventID {
			delete(s.starts, id)
		}
	}
	for id, ev := range s.results {
		if ev == eventID {
			delete(s.results, id)
		}
	}
	return s.saveLocked()
}

func (s *fileStore) CleanNotified(ctx context.Context, valid map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.starts {
		if _, ok := valid[id]; !ok {
			delete(s.starts, id)
			removed++
		}
	}
	for id := range s.results {
		if _, ok := valid[id]; !ok {
			delete(s.results, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

func (s *fileStore) Close() error { return nil }
