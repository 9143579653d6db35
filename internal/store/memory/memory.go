// Package memory implements store.Store over an in-process slice of
// resources. It is the base that file.FileStore embeds.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
)

// Config mirrors the "uniqueResourceId"/"onDuplicateUpdate" options common to
// every in-memory-backed store variant.
type Config struct {
	UniqueResourceID bool
	OnDuplicateUpdate bool
}

// record is one slot in the resources slice. Key is the slice index —
// stable for the lifetime of the process because entries are never
// removed, only appended or mutated in place.
type record struct {
	id     any
	status resource.Status
	info   map[string]any
}

// Store is an in-memory resource inventory: a slice of records plus one
// index collection per status. AVAILABLE is kept as an ordered slice of
// indices so Select hands resources out FIFO.
//
// All public methods are serialized by mu, giving callers an atomic
// select-then-transition guarantee without needing any locking at the
// handler layer.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	records []record
	ids     map[any]int // id -> index, only populated when UniqueResourceID

	available []int
	inProgress map[int]struct{}
	failed     map[int]struct{}
	errored    map[int]struct{}
	succeeded  int
}

// New creates an empty in-memory store.
func New(cfg Config) *Store {
	return &Store{
		cfg:        cfg,
		ids:        make(map[any]int),
		inProgress: make(map[int]struct{}),
		failed:     make(map[int]struct{}),
		errored:    make(map[int]struct{}),
	}
}

// Seed loads an initial resource list (used directly by tests, and by
// file.FileStore after parsing a resources file). It must be called
// before the store is shared with any connection.
func (s *Store) Seed(resources []resource.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range resources {
		if err := s.appendLocked(r.ID, r.Status, r.Info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendLocked(id any, status resource.Status, info map[string]any) error {
	if s.cfg.UniqueResourceID {
		if _, exists := s.ids[id]; exists {
			return fmt.Errorf("memory: duplicate id found while loading resources: %v", id)
		}
	}

	idx := len(s.records)
	s.records = append(s.records, record{id: id, status: status, info: info})

	switch status {
	case resource.Succeeded:
		s.succeeded++
	case resource.InProgress:
		s.inProgress[idx] = struct{}{}
	case resource.Failed:
		s.failed[idx] = struct{}{}
	case resource.Error:
		s.errored[idx] = struct{}{}
	default:
		s.available = append(s.available, idx)
	}

	if s.cfg.UniqueResourceID {
		s.ids[id] = idx
	}
	return nil
}

func (s *Store) Setup(ctx context.Context) error  { return nil }
func (s *Store) Finish(ctx context.Context) error { return nil }

func (s *Store) Select(ctx context.Context) (resource.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.available) == 0 {
		return resource.Record{}, nil
	}

	idx := s.available[0]
	s.available = s.available[1:]
	s.inProgress[idx] = struct{}{}
	s.records[idx].status = resource.InProgress

	return resource.Record{
		Key:    idx,
		ID:     s.records[idx].id,
		Status: resource.InProgress,
		Info:   copyInfo(s.records[idx].info),
	}, nil
}

func (s *Store) Update(ctx context.Context, key any, status resource.Status, info map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := key.(int)
	if !ok || idx < 0 || idx >= len(s.records) {
		return fmt.Errorf("memory: update: invalid key %v", key)
	}

	s.removeFromIndexLocked(idx, s.records[idx].status)
	s.records[idx].status = status
	if len(info) > 0 {
		if s.records[idx].info == nil {
			s.records[idx].info = make(map[string]any, len(info))
		}
		for k, v := range info {
			s.records[idx].info[k] = v
		}
	}
	s.addToIndexLocked(idx, status)
	return nil
}

func (s *Store) removeFromIndexLocked(idx int, status resource.Status) {
	switch status {
	case resource.Succeeded:
		s.succeeded--
	case resource.InProgress:
		delete(s.inProgress, idx)
	case resource.Failed:
		delete(s.failed, idx)
	case resource.Error:
		delete(s.errored, idx)
	case resource.Available:
		for i, v := range s.available {
			if v == idx {
				s.available = append(s.available[:i], s.available[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) addToIndexLocked(idx int, status resource.Status) {
	switch status {
	case resource.Succeeded:
		s.succeeded++
	case resource.InProgress:
		s.inProgress[idx] = struct{}{}
	case resource.Failed:
		s.failed[idx] = struct{}{}
	case resource.Error:
		s.errored[idx] = struct{}{}
	case resource.Available:
		s.available = append(s.available, idx)
	}
}

func (s *Store) Insert(ctx context.Context, resources []store.NewResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range resources {
		if s.cfg.UniqueResourceID {
			if idx, exists := s.ids[r.ID]; exists {
				if !s.cfg.OnDuplicateUpdate {
					return fmt.Errorf("%w: %v", store.ErrDuplicateResourceID, r.ID)
				}
				if s.records[idx].info == nil {
					s.records[idx].info = make(map[string]any, len(r.Info))
				}
				for k, v := range r.Info {
					s.records[idx].info[k] = v
				}
				continue
			}
		}
		if err := s.appendLocked(r.ID, resource.Available, r.Info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (resource.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return resource.Counts{
		Total:      len(s.records),
		Succeeded:  s.succeeded,
		InProgress: len(s.inProgress),
		Available:  len(s.available),
		Failed:     len(s.failed),
		Error:      len(s.errored),
	}, nil
}

func (s *Store) Reset(ctx context.Context, status resource.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var indices []int
	switch status {
	case resource.InProgress:
		indices = keysOf(s.inProgress)
	case resource.Failed:
		indices = keysOf(s.failed)
	case resource.Error:
		indices = keysOf(s.errored)
	case resource.Succeeded:
		for i, r := range s.records {
			if r.status == resource.Succeeded {
				indices = append(indices, i)
			}
		}
	default:
		return 0, fmt.Errorf("memory: reset: unsupported status %s", status)
	}

	for _, idx := range indices {
		s.removeFromIndexLocked(idx, s.records[idx].status)
		s.records[idx].status = resource.Available
		s.addToIndexLocked(idx, resource.Available)
	}
	return len(indices), nil
}

func (s *Store) Shutdown(ctx context.Context) error { return nil }

// Snapshot returns a defensive copy of every resource currently held,
// ordered by insertion index. Used by file.FileStore to dump to disk.
func (s *Store) Snapshot() []resource.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]resource.Record, len(s.records))
	for i, r := range s.records {
		out[i] = resource.Record{Key: i, ID: r.id, Status: r.status, Info: copyInfo(r.info)}
	}
	return out
}

func keysOf(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func copyInfo(info map[string]any) map[string]any {
	if info == nil {
		return nil
	}
	out := make(map[string]any, len(info))
	for k, v := range info {
		out[k] = v
	}
	return out
}

var _ store.Store = (*Store)(nil)
