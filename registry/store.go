package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is the persisted form of an attached filter.
type Record struct {
	Key         Key
	Expression  string
	Fingerprint string // hex, see compiler/hash
	Bytecode    []byte // serialized bytecode.Program
	AttachedAt  time.Time
}

// Store persists filter records.
type Store interface {
	// Put inserts or replaces the record for r.Key.
	Put(ctx context.Context, r Record) error
	// Delete removes the record for key, or returns ErrNotFound.
	Delete(ctx context.Context, key Key) error
	// All returns every record, ordered by key.
	All(ctx context.Context) ([]Record, error)
	Close() error
}

// MemoryStore is a Store that keeps records in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Bytecode = append([]byte(nil), r.Bytecode...)
	s.records[r.Key] = r
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
