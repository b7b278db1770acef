package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/kvstore"
	"github.com/keyfs/keyfs/internal/models"
	"github.com/keyfs/keyfs/pkg/logging"
	"github.com/keyfs/keyfs/pkg/logging/slogext"
)

// Stat resolves path and returns the node's metadata.
func (e *Engine) Stat(ctx context.Context, p string) (*models.NodeMeta, error) {
	const op = "engine.Engine.Stat"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}

	release, err := e.gate.EnterRead(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	// Mutations invalidate affected entries before they finish and hold
	// the gate exclusively while running, so a cache hit observed under
	// the read gate is current.
	if meta, ok := e.cache.Get(cleaned); ok {
		m := meta
		return &m, nil
	}

	tx, err := e.store.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	node, err := e.resolve(ctx, tx, cleaned)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, fserrors.Wrap(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	e.cache.Put(cleaned, node.Meta())

	meta := node.Meta()
	logger.Debug("stat",
		slog.String("path", cleaned),
		slog.String("id", meta.ID),
		slog.String("kind", meta.Kind.String()),
		slog.Int64("size", meta.Size),
	)

	return &meta, nil
}

// ReadDir resolves path to a directory and returns its entries sorted by
// name.
func (e *Engine) ReadDir(ctx context.Context, p string) ([]models.Dirent, error) {
	const op = "engine.Engine.ReadDir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}

	release, err := e.gate.EnterRead(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	tx, err := e.store.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	entries, err := e.readDirTx(ctx, tx, cleaned)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, fserrors.Wrap(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	logger.Debug("readdir", slog.String("path", cleaned), slog.Int("entries", len(entries)))
	return entries, nil
}

func (e *Engine) readDirTx(ctx context.Context, tx kvstore.Tx, cleaned string) ([]models.Dirent, error) {
	const op = "engine.Engine.readDirTx"

	node, err := e.resolve(ctx, tx, cleaned)
	if err != nil {
		return nil, err
	}
	if node.Kind != models.NodeKindDir {
		return nil, fserrors.E(fserrors.KindNotADirectory, op, cleaned)
	}

	listing, err := e.loadListing(ctx, tx, node.ID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.Dirent, 0, len(listing))
	for name, childID := range listing {
		child, found, err := e.loadNode(ctx, tx, childID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fserrors.E(fserrors.KindIOFailure, op, joinChild(cleaned, name),
				errors.New("directory entry references absent node "+childID))
		}
		e.cache.Put(joinChild(cleaned, name), child.Meta())
		entries = append(entries, models.Dirent{
			Name: name,
			ID:   child.ID,
			Kind: child.Kind,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadFile resolves path to a file and returns its full content.
func (e *Engine) ReadFile(ctx context.Context, p string) ([]byte, error) {
	const op = "engine.Engine.ReadFile"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}

	release, err := e.gate.EnterRead(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	tx, err := e.store.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	data, err := e.readFileTx(ctx, tx, cleaned)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, fserrors.Wrap(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	logger.Debug("read file", slog.String("path", cleaned), slog.Int("bytes", len(data)))
	return data, nil
}

func (e *Engine) readFileTx(ctx context.Context, tx kvstore.Tx, cleaned string) ([]byte, error) {
	const op = "engine.Engine.readFileTx"

	node, err := e.resolve(ctx, tx, cleaned)
	if err != nil {
		return nil, err
	}
	switch node.Kind {
	case models.NodeKindDir:
		return nil, fserrors.E(fserrors.KindIsADirectory, op, cleaned)
	case models.NodeKindSymlink:
		return nil, fserrors.E(fserrors.KindInvalidArgument, op, cleaned,
			errors.New("cannot read file content of a symlink"))
	}

	data, found, err := tx.Get(ctx, dataKey(node.ID))
	if err != nil {
		return nil, err
	}
	if !found {
		logger := logging.GetLoggerFromContextWithOp(ctx, op)
		logger.Error("file node has no data record",
			slogext.Err(errors.New("missing data key")), slog.String("path", cleaned))
		return nil, fserrors.E(fserrors.KindIOFailure, op, cleaned,
			errors.New("file node "+node.ID+" has no data record"))
	}
	return data, nil
}

// ReadLink returns the target of a symlink.
func (e *Engine) ReadLink(ctx context.Context, p string) (string, error) {
	const op = "engine.Engine.ReadLink"

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return "", err
	}

	release, err := e.gate.EnterRead(ctx)
	if err != nil {
		return "", fserrors.Wrap(op, err)
	}
	defer release()

	tx, err := e.store.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return "", fserrors.Wrap(op, err)
	}

	node, err := e.resolve(ctx, tx, cleaned)
	if err != nil {
		_ = tx.Abort(ctx)
		return "", fserrors.Wrap(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fserrors.Wrap(op, err)
	}

	if node.Kind != models.NodeKindSymlink {
		return "", fserrors.E(fserrors.KindInvalidArgument, op, cleaned,
			errors.New("not a symlink"))
	}
	return node.SymlinkTarget, nil
}
