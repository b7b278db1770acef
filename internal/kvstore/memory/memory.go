// Package memory implements the key-value contract on an in-process map.
// It is the reference backend: transactions buffer their writes and apply
// them atomically on Commit, which makes it the strictest environment the
// engine runs against in tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/kvstore"
)

type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	size     int64
	maxBytes int64
}

func New(cfg config.MemoryConfig) *Store {
	return &Store{
		data:     make(map[string][]byte),
		maxBytes: cfg.MaxBytes,
	}
}

// Factory adapts New to the registry signature.
func Factory(_ context.Context, cfg *config.Config) (kvstore.Store, error) {
	return New(cfg.Memory), nil
}

func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Begin(_ context.Context, mode kvstore.Mode) (kvstore.Tx, error) {
	return &tx{
		store:   s,
		mode:    mode,
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)
	s.size = 0
	return nil
}

// get reads directly from the committed state.
func (s *Store) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

type tx struct {
	store   *Store
	mode    kvstore.Mode
	puts    map[string][]byte
	deletes map[string]struct{}
	done    bool
}

func (t *tx) Get(_ context.Context, key string) ([]byte, bool, error) {
	const op = "memory.tx.Get"

	if t.done {
		return nil, false, fserrors.E(fserrors.KindInvalidArgument, op, "", errFinished)
	}

	if value, ok := t.puts[key]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, true, nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, false, nil
	}

	value, ok := t.store.get(key)
	return value, ok, nil
}

func (t *tx) Put(_ context.Context, key string, value []byte, _ bool) error {
	const op = "memory.tx.Put"

	if err := t.writable(op); err != nil {
		return err
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	delete(t.deletes, key)
	t.puts[key] = buf
	return nil
}

func (t *tx) Delete(_ context.Context, key string) error {
	const op = "memory.tx.Delete"

	if err := t.writable(op); err != nil {
		return err
	}

	delete(t.puts, key)
	t.deletes[key] = struct{}{}
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	const op = "memory.tx.Commit"

	if t.done {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errFinished)
	}
	t.done = true

	if t.mode == kvstore.ReadOnly {
		return nil
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Quota check before any write lands so a rejected commit leaves the
	// store untouched.
	if s.maxBytes > 0 {
		newSize := s.size
		for key := range t.deletes {
			newSize -= int64(len(s.data[key]))
		}
		for key, value := range t.puts {
			newSize += int64(len(value)) - int64(len(s.data[key]))
		}
		if newSize > s.maxBytes {
			return fserrors.E(fserrors.KindOutOfSpace, op, "", errQuota)
		}
	}

	for key := range t.deletes {
		s.size -= int64(len(s.data[key]))
		delete(s.data, key)
	}
	for key, value := range t.puts {
		s.size += int64(len(value)) - int64(len(s.data[key]))
		s.data[key] = value
	}

	return nil
}

func (t *tx) Abort(_ context.Context) error {
	t.done = true
	return nil
}

func (t *tx) writable(op string) error {
	if t.done {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errFinished)
	}
	if t.mode == kvstore.ReadOnly {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errReadOnly)
	}
	return nil
}

var (
	errFinished = errors.New("transaction already finished")
	errReadOnly = errors.New("write in read-only transaction")
	errQuota    = errors.New("store quota exceeded")
)
