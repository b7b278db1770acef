// Package engine maps filesystem paths onto a tree of directory and file
// nodes persisted in a key-value store. It is the only component that
// understands the tree structure; backends see opaque keys, callers see
// POSIX-like operations and the fserrors taxonomy.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyfs/keyfs/internal/cache"
	"github.com/keyfs/keyfs/internal/codec"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/gate"
	"github.com/keyfs/keyfs/internal/kvstore"
	"github.com/keyfs/keyfs/internal/models"
	"github.com/keyfs/keyfs/pkg/logging"
	"github.com/keyfs/keyfs/pkg/logging/slogext"
)

const (
	// RootMode is the mode of the root directory created on first use.
	RootMode = 0o777

	// DefaultFileMode and DefaultDirMode are assigned to newly created
	// files and directories.
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)

type Engine struct {
	store kvstore.Store
	cache *cache.Metadata
	gate  *gate.Gate
}

// New builds an engine over the given store and ensures the root directory
// exists. cacheEntries bounds the metadata cache; non-positive disables it.
func New(ctx context.Context, store kvstore.Store, cacheEntries int) (*Engine, error) {
	const op = "engine.New"

	e := &Engine{
		store: store,
		cache: cache.New(cacheEntries),
		gate:  gate.New(),
	}

	if err := e.ensureRoot(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Info("filesystem engine ready",
		slog.String("backend", store.Name()),
		slog.Bool("cache", e.cache.Enabled()),
	)

	return e, nil
}

// ensureRoot creates the root directory node and its empty listing if the
// store has never been used. The write is idempotent: a concurrent or
// previous initialization leaves an identical root in place.
func (e *Engine) ensureRoot(ctx context.Context) error {
	const op = "engine.Engine.ensureRoot"

	tx, err := e.store.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		return fserrors.Wrap(op, err)
	}

	_, found, err := tx.Get(ctx, metaKey(rootNodeID))
	if err != nil {
		_ = tx.Abort(ctx)
		return fserrors.Wrap(op, err)
	}
	if found {
		return tx.Abort(ctx)
	}

	now := time.Now().UTC()
	root := &models.Node{
		ID:    rootNodeID,
		Kind:  models.NodeKindDir,
		Mode:  RootMode,
		Ctime: now,
		Mtime: now,
		Atime: now,
	}

	if err := e.saveNode(ctx, tx, root); err != nil {
		_ = tx.Abort(ctx)
		return fserrors.Wrap(op, err)
	}
	if err := e.saveListing(ctx, tx, rootNodeID, models.Listing{}); err != nil {
		_ = tx.Abort(ctx)
		return fserrors.Wrap(op, err)
	}

	return fserrors.Wrap(op, tx.Commit(ctx))
}

// loadNode reads and decodes a node record. found=false means the record
// is absent, which the caller interprets (missing path segment, stale
// cache entry, or a broken invariant depending on context).
func (e *Engine) loadNode(ctx context.Context, tx kvstore.Tx, id string) (*models.Node, bool, error) {
	const op = "engine.Engine.loadNode"

	raw, found, err := tx.Get(ctx, metaKey(id))
	if err != nil {
		return nil, false, fserrors.Wrap(op, err)
	}
	if !found {
		return nil, false, nil
	}

	var node models.Node
	if err := codec.Unmarshal(raw, &node); err != nil {
		return nil, false, fserrors.E(fserrors.KindIOFailure, op, "", err)
	}
	return &node, true, nil
}

func (e *Engine) saveNode(ctx context.Context, tx kvstore.Tx, node *models.Node) error {
	const op = "engine.Engine.saveNode"

	raw, err := codec.Marshal(node)
	if err != nil {
		return fserrors.E(fserrors.KindIOFailure, op, "", err)
	}
	return fserrors.Wrap(op, tx.Put(ctx, metaKey(node.ID), raw, true))
}

// loadListing reads a directory's name-to-child mapping. An absent listing
// key decodes as an empty directory so a half-initialized directory can
// still be repaired by subsequent writes.
func (e *Engine) loadListing(ctx context.Context, tx kvstore.Tx, dirID string) (models.Listing, error) {
	const op = "engine.Engine.loadListing"

	raw, found, err := tx.Get(ctx, dirKey(dirID))
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	if !found {
		return models.Listing{}, nil
	}

	var listing models.Listing
	if err := codec.Unmarshal(raw, &listing); err != nil {
		return nil, fserrors.E(fserrors.KindIOFailure, op, "", err)
	}
	if listing == nil {
		listing = models.Listing{}
	}
	return listing, nil
}

func (e *Engine) saveListing(ctx context.Context, tx kvstore.Tx, dirID string, listing models.Listing) error {
	const op = "engine.Engine.saveListing"

	raw, err := codec.Marshal(listing)
	if err != nil {
		return fserrors.E(fserrors.KindIOFailure, op, "", err)
	}
	return fserrors.Wrap(op, tx.Put(ctx, dirKey(dirID), raw, true))
}

// mutation tracks one tree-mutating operation: its transaction plus a
// journal of keys that did not exist before the operation. Most backends
// offer no multi-key rollback, so when a mutation fails part-way the
// journal drives a best-effort cleanup of already-written keys.
type mutation struct {
	engine  *Engine
	tx      kvstore.Tx
	created []string
}

func (e *Engine) beginMutation(ctx context.Context) (*mutation, error) {
	tx, err := e.store.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		return nil, err
	}
	return &mutation{engine: e, tx: tx}, nil
}

// putNew writes a key the operation just allocated and records it for
// unwind.
func (m *mutation) putNew(ctx context.Context, key string, value []byte) error {
	if err := m.tx.Put(ctx, key, value, true); err != nil {
		return err
	}
	m.created = append(m.created, key)
	return nil
}

// saveNewNode persists a freshly allocated node record, journaling its key.
func (m *mutation) saveNewNode(ctx context.Context, node *models.Node) error {
	const op = "engine.mutation.saveNewNode"

	raw, err := codec.Marshal(node)
	if err != nil {
		return fserrors.E(fserrors.KindIOFailure, op, "", err)
	}
	return m.putNew(ctx, metaKey(node.ID), raw)
}

// saveNewListing persists a freshly allocated directory listing.
func (m *mutation) saveNewListing(ctx context.Context, dirID string, listing models.Listing) error {
	const op = "engine.mutation.saveNewListing"

	raw, err := codec.Marshal(listing)
	if err != nil {
		return fserrors.E(fserrors.KindIOFailure, op, "", err)
	}
	return m.putNew(ctx, dirKey(dirID), raw)
}

// fail aborts the transaction, unwinds any keys the operation created, and
// returns the original error for the caller to surface.
func (m *mutation) fail(ctx context.Context, err error) error {
	_ = m.tx.Abort(ctx)
	m.unwind(ctx)
	return err
}

// commit finalizes the transaction. If the backend applied some keys
// before failing (emulated transactions apply per key), the journal is
// unwound before the error is reported.
func (m *mutation) commit(ctx context.Context) error {
	if err := m.tx.Commit(ctx); err != nil {
		m.unwind(ctx)
		return err
	}
	return nil
}

// unwind deletes journaled keys in a fresh transaction. Cleanup is
// best-effort: a store that is failing writes is likely to fail deletes
// too, and the error already on its way to the caller takes precedence.
func (m *mutation) unwind(ctx context.Context) {
	const op = "engine.mutation.unwind"

	if len(m.created) == 0 {
		return
	}

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	tx, err := m.engine.store.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		logger.Warn("unwind skipped, cannot begin transaction", slogext.Err(err))
		return
	}
	for _, key := range m.created {
		if err := tx.Delete(ctx, key); err != nil {
			logger.Warn("unwind delete failed", slogext.Err(err), slog.String("key", key))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Warn("unwind commit failed", slogext.Err(err))
	}
}
