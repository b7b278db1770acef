package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/pkg/logging"
)

// Factory constructs a backend instance from the loaded configuration.
type Factory func(ctx context.Context, cfg *config.Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory under the given name. It is called once
// per backend during process initialization, explicitly from main; nothing
// mutates the registry after startup.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("kvstore: backend registered twice: " + name)
	}
	registry[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// preflightKey is the probe key written during Open to verify the store is
// reachable and writable before the engine touches it.
const preflightKey = ".keyfs-preflight"

// Open constructs the named backend and verifies connectivity with one
// representative write. A store that fails the probe is reported as
// permission-denied rather than handed to the engine.
func Open(ctx context.Context, name string, cfg *config.Config) (Store, error) {
	const op = "kvstore.Open"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fserrors.E(fserrors.KindInvalidArgument, op, "",
			fmt.Errorf("unknown backend %q (registered: %v)", name, Backends()))
	}

	store, err := factory(ctx, cfg)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	if err := preflight(ctx, store); err != nil {
		return nil, err
	}

	logger.Info("opened key-value store", "backend", store.Name())
	return store, nil
}

func preflight(ctx context.Context, store Store) error {
	const op = "kvstore.preflight"

	// The put commits before the delete runs. Backends that buffer
	// transaction writes would otherwise cancel the put against the
	// delete of the same key and replay nothing.
	tx, err := store.Begin(ctx, ReadWrite)
	if err != nil {
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	}
	if err := tx.Put(ctx, preflightKey, []byte("ok"), true); err != nil {
		_ = tx.Abort(ctx)
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	}

	tx, err = store.Begin(ctx, ReadWrite)
	if err != nil {
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	}
	if err := tx.Delete(ctx, preflightKey); err != nil {
		_ = tx.Abort(ctx)
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	}

	return nil
}
