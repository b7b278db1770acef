package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/models"
	"github.com/keyfs/keyfs/pkg/logging"
)

// CreateFile creates a file at path with the given content. With exclusive
// set, an existing name fails with AlreadyExists and leaves the original
// untouched. Without it, an existing file is overwritten in place;
// exclusivity is enforced here at the engine level rather than delegated
// to backends with inconsistent overwrite behavior.
func (e *Engine) CreateFile(ctx context.Context, p string, data []byte, exclusive bool) (*models.NodeMeta, error) {
	const op = "engine.Engine.CreateFile"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	parent, name, err := e.resolveParent(ctx, m.tx, cleaned)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing, err := e.loadListing(ctx, m.tx, parent.ID)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	now := time.Now().UTC()

	if existingID, ok := listing[name]; ok {
		if exclusive {
			return nil, fserrors.Wrap(op, m.fail(ctx,
				fserrors.E(fserrors.KindAlreadyExists, op, cleaned)))
		}

		existing, found, err := e.loadNode(ctx, m.tx, existingID)
		if err != nil {
			return nil, fserrors.Wrap(op, m.fail(ctx, err))
		}
		if !found {
			return nil, fserrors.Wrap(op, m.fail(ctx,
				fserrors.E(fserrors.KindIOFailure, op, cleaned,
					errors.New("directory entry references absent node "+existingID))))
		}
		if existing.Kind == models.NodeKindDir {
			return nil, fserrors.Wrap(op, m.fail(ctx,
				fserrors.E(fserrors.KindIsADirectory, op, cleaned)))
		}

		existing.Size = int64(len(data))
		existing.Mtime = now
		if err := m.tx.Put(ctx, dataKey(existing.ID), data, true); err != nil {
			return nil, fserrors.Wrap(op, m.fail(ctx, err))
		}
		if err := e.saveNode(ctx, m.tx, existing); err != nil {
			return nil, fserrors.Wrap(op, m.fail(ctx, err))
		}
		if err := m.commit(ctx); err != nil {
			return nil, fserrors.Wrap(op, err)
		}

		e.cache.InvalidateSubtree(cleaned)

		meta := existing.Meta()
		logger.Debug("file overwritten", slog.String("path", cleaned), slog.String("id", meta.ID))
		return &meta, nil
	}

	node := &models.Node{
		ID:    uuid.NewString(),
		Kind:  models.NodeKindFile,
		Mode:  DefaultFileMode,
		Size:  int64(len(data)),
		Ctime: now,
		Mtime: now,
		Atime: now,
	}

	if err := m.saveNewNode(ctx, node); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}
	if err := m.putNew(ctx, dataKey(node.ID), data); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing[name] = node.ID
	if err := e.saveListing(ctx, m.tx, parent.ID, listing); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	parent.Mtime = now
	if err := e.saveNode(ctx, m.tx, parent); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	if err := m.commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	parentPath, _ := splitParent(cleaned)
	e.cache.Invalidate(parentPath)
	e.cache.InvalidateSubtree(cleaned)

	meta := node.Meta()
	logger.Debug("file created",
		slog.String("path", cleaned),
		slog.String("id", meta.ID),
		slog.Int64("size", meta.Size),
	)
	return &meta, nil
}

// CreateDir creates an empty directory at path.
func (e *Engine) CreateDir(ctx context.Context, p string) (*models.NodeMeta, error) {
	const op = "engine.Engine.CreateDir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	parent, name, err := e.resolveParent(ctx, m.tx, cleaned)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing, err := e.loadListing(ctx, m.tx, parent.ID)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}
	if _, ok := listing[name]; ok {
		return nil, fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindAlreadyExists, op, cleaned)))
	}

	now := time.Now().UTC()
	node := &models.Node{
		ID:    uuid.NewString(),
		Kind:  models.NodeKindDir,
		Mode:  DefaultDirMode,
		Ctime: now,
		Mtime: now,
		Atime: now,
	}

	if err := m.saveNewNode(ctx, node); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}
	if err := m.saveNewListing(ctx, node.ID, models.Listing{}); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing[name] = node.ID
	if err := e.saveListing(ctx, m.tx, parent.ID, listing); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	parent.Mtime = now
	if err := e.saveNode(ctx, m.tx, parent); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	if err := m.commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	parentPath, _ := splitParent(cleaned)
	e.cache.Invalidate(parentPath)
	e.cache.InvalidateSubtree(cleaned)

	meta := node.Meta()
	logger.Debug("directory created", slog.String("path", cleaned), slog.String("id", meta.ID))
	return &meta, nil
}

// Symlink creates a symbolic link at path pointing at target. The target
// is stored verbatim; the engine does not follow symlinks during path
// resolution.
func (e *Engine) Symlink(ctx context.Context, p, target string) (*models.NodeMeta, error) {
	const op = "engine.Engine.Symlink"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, fserrors.E(fserrors.KindInvalidArgument, op, cleaned,
			errors.New("empty symlink target"))
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	parent, name, err := e.resolveParent(ctx, m.tx, cleaned)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing, err := e.loadListing(ctx, m.tx, parent.ID)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}
	if _, ok := listing[name]; ok {
		return nil, fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindAlreadyExists, op, cleaned)))
	}

	now := time.Now().UTC()
	node := &models.Node{
		ID:            uuid.NewString(),
		Kind:          models.NodeKindSymlink,
		Mode:          0o777,
		Size:          int64(len(target)),
		Ctime:         now,
		Mtime:         now,
		Atime:         now,
		SymlinkTarget: target,
	}

	if err := m.saveNewNode(ctx, node); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing[name] = node.ID
	if err := e.saveListing(ctx, m.tx, parent.ID, listing); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	parent.Mtime = now
	if err := e.saveNode(ctx, m.tx, parent); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	if err := m.commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	parentPath, _ := splitParent(cleaned)
	e.cache.Invalidate(parentPath)
	e.cache.InvalidateSubtree(cleaned)

	meta := node.Meta()
	logger.Debug("symlink created",
		slog.String("path", cleaned),
		slog.String("target", target),
	)
	return &meta, nil
}

// WriteFile replaces the content of an existing file. Creating through
// WriteFile is not supported; a missing path fails with NotFound.
func (e *Engine) WriteFile(ctx context.Context, p string, data []byte) (*models.NodeMeta, error) {
	const op = "engine.Engine.WriteFile"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	node, err := e.resolve(ctx, m.tx, cleaned)
	if err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}
	switch node.Kind {
	case models.NodeKindDir:
		return nil, fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindIsADirectory, op, cleaned)))
	case models.NodeKindSymlink:
		return nil, fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindInvalidArgument, op, cleaned,
				errors.New("cannot write file content of a symlink"))))
	}

	if err := m.tx.Put(ctx, dataKey(node.ID), data, true); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	node.Size = int64(len(data))
	node.Mtime = time.Now().UTC()
	if err := e.saveNode(ctx, m.tx, node); err != nil {
		return nil, fserrors.Wrap(op, m.fail(ctx, err))
	}

	if err := m.commit(ctx); err != nil {
		return nil, fserrors.Wrap(op, err)
	}

	e.cache.Invalidate(cleaned)

	meta := node.Meta()
	logger.Debug("file written", slog.String("path", cleaned), slog.Int64("size", meta.Size))
	return &meta, nil
}

// Unlink removes a file or symlink. The node record and data payload are
// deleted in the same operation that drops the directory entry; there is
// no background collector to catch orphans.
func (e *Engine) Unlink(ctx context.Context, p string) error {
	const op = "engine.Engine.Unlink"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return err
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return fserrors.Wrap(op, err)
	}

	parent, name, err := e.resolveParent(ctx, m.tx, cleaned)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing, err := e.loadListing(ctx, m.tx, parent.ID)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	id, ok := listing[name]
	if !ok {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindNotFound, op, cleaned)))
	}

	node, found, err := e.loadNode(ctx, m.tx, id)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if found && node.Kind == models.NodeKindDir {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindIsADirectory, op, cleaned)))
	}

	delete(listing, name)
	if err := e.saveListing(ctx, m.tx, parent.ID, listing); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	if found && node.Kind == models.NodeKindFile {
		if err := m.tx.Delete(ctx, dataKey(id)); err != nil {
			return fserrors.Wrap(op, m.fail(ctx, err))
		}
	}
	if err := m.tx.Delete(ctx, metaKey(id)); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	parent.Mtime = time.Now().UTC()
	if err := e.saveNode(ctx, m.tx, parent); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	if err := m.commit(ctx); err != nil {
		return fserrors.Wrap(op, err)
	}

	parentPath, _ := splitParent(cleaned)
	e.cache.Invalidate(parentPath)
	e.cache.InvalidateSubtree(cleaned)

	logger.Debug("unlinked", slog.String("path", cleaned), slog.String("id", id))
	return nil
}

// RemoveDir removes an empty directory. Removing the root is refused.
func (e *Engine) RemoveDir(ctx context.Context, p string) error {
	const op = "engine.Engine.RemoveDir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	cleaned, err := cleanPath(op, p)
	if err != nil {
		return err
	}
	if cleaned == "/" {
		return fserrors.E(fserrors.KindPermissionDenied, op, cleaned,
			errors.New("cannot remove root directory"))
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return fserrors.Wrap(op, err)
	}

	parent, name, err := e.resolveParent(ctx, m.tx, cleaned)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	listing, err := e.loadListing(ctx, m.tx, parent.ID)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	id, ok := listing[name]
	if !ok {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindNotFound, op, cleaned)))
	}

	node, found, err := e.loadNode(ctx, m.tx, id)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if !found || node.Kind != models.NodeKindDir {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindNotADirectory, op, cleaned)))
	}

	children, err := e.loadListing(ctx, m.tx, id)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if len(children) > 0 {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindNotEmpty, op, cleaned)))
	}

	delete(listing, name)
	if err := e.saveListing(ctx, m.tx, parent.ID, listing); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if err := m.tx.Delete(ctx, dirKey(id)); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if err := m.tx.Delete(ctx, metaKey(id)); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	parent.Mtime = time.Now().UTC()
	if err := e.saveNode(ctx, m.tx, parent); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	if err := m.commit(ctx); err != nil {
		return fserrors.Wrap(op, err)
	}

	parentPath, _ := splitParent(cleaned)
	e.cache.Invalidate(parentPath)
	e.cache.InvalidateSubtree(cleaned)

	logger.Debug("directory removed", slog.String("path", cleaned), slog.String("id", id))
	return nil
}

// Rename moves the object at oldPath to newPath within one serialized
// operation: the entry appears under the new parent and disappears from
// the old one in the same transaction, so no resolution can observe the
// entry in both places or in neither. An existing file at the destination
// is replaced; a non-empty destination directory fails with NotEmpty.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string) error {
	const op = "engine.Engine.Rename"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	oldClean, err := cleanPath(op, oldPath)
	if err != nil {
		return err
	}
	newClean, err := cleanPath(op, newPath)
	if err != nil {
		return err
	}
	if oldClean == "/" || newClean == "/" {
		return fserrors.E(fserrors.KindInvalidArgument, op, oldClean,
			errors.New("cannot rename the root directory"))
	}
	if strings.HasPrefix(newClean, oldClean+"/") {
		return fserrors.E(fserrors.KindInvalidArgument, op, newClean,
			errors.New("cannot move a directory into its own subtree"))
	}

	release, err := e.gate.EnterMutate(ctx)
	if err != nil {
		return fserrors.Wrap(op, err)
	}
	defer release()

	m, err := e.beginMutation(ctx)
	if err != nil {
		return fserrors.Wrap(op, err)
	}

	srcParent, srcName, err := e.resolveParent(ctx, m.tx, oldClean)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	srcListing, err := e.loadListing(ctx, m.tx, srcParent.ID)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	srcID, ok := srcListing[srcName]
	if !ok {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindNotFound, op, oldClean)))
	}
	srcNode, found, err := e.loadNode(ctx, m.tx, srcID)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if !found {
		return fserrors.Wrap(op, m.fail(ctx,
			fserrors.E(fserrors.KindIOFailure, op, oldClean,
				errors.New("directory entry references absent node "+srcID))))
	}

	// A path renamed onto itself is a no-op, but only once the source is
	// known to exist; a missing source must still fail with NotFound.
	if oldClean == newClean {
		_ = m.tx.Abort(ctx)
		return nil
	}

	dstParent, dstName, err := e.resolveParent(ctx, m.tx, newClean)
	if err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}

	sameParent := srcParent.ID == dstParent.ID
	dstListing := srcListing
	if !sameParent {
		dstListing, err = e.loadListing(ctx, m.tx, dstParent.ID)
		if err != nil {
			return fserrors.Wrap(op, m.fail(ctx, err))
		}
	}

	if dstID, exists := dstListing[dstName]; exists {
		if err := e.removeReplaced(ctx, m, newClean, srcNode, dstID); err != nil {
			return fserrors.Wrap(op, m.fail(ctx, err))
		}
	}

	delete(srcListing, srcName)
	dstListing[dstName] = srcID

	now := time.Now().UTC()
	if err := e.saveListing(ctx, m.tx, srcParent.ID, srcListing); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	srcParent.Mtime = now
	if err := e.saveNode(ctx, m.tx, srcParent); err != nil {
		return fserrors.Wrap(op, m.fail(ctx, err))
	}
	if !sameParent {
		if err := e.saveListing(ctx, m.tx, dstParent.ID, dstListing); err != nil {
			return fserrors.Wrap(op, m.fail(ctx, err))
		}
		dstParent.Mtime = now
		if err := e.saveNode(ctx, m.tx, dstParent); err != nil {
			return fserrors.Wrap(op, m.fail(ctx, err))
		}
	}

	if err := m.commit(ctx); err != nil {
		return fserrors.Wrap(op, err)
	}

	srcParentPath, _ := splitParent(oldClean)
	dstParentPath, _ := splitParent(newClean)
	e.cache.Invalidate(srcParentPath)
	e.cache.Invalidate(dstParentPath)
	e.cache.InvalidateSubtree(oldClean)
	e.cache.InvalidateSubtree(newClean)

	logger.Debug("renamed",
		slog.String("from", oldClean),
		slog.String("to", newClean),
		slog.String("id", srcID),
	)
	return nil
}

// removeReplaced deletes the node a rename is about to replace, enforcing
// POSIX replace rules: a directory can only replace an empty directory, a
// file cannot replace a directory and vice versa.
func (e *Engine) removeReplaced(ctx context.Context, m *mutation, dstPath string, srcNode *models.Node, dstID string) error {
	const op = "engine.Engine.removeReplaced"

	dstNode, found, err := e.loadNode(ctx, m.tx, dstID)
	if err != nil {
		return err
	}
	if !found {
		return fserrors.E(fserrors.KindIOFailure, op, dstPath,
			errors.New("directory entry references absent node "+dstID))
	}

	srcIsDir := srcNode.Kind == models.NodeKindDir
	dstIsDir := dstNode.Kind == models.NodeKindDir

	switch {
	case srcIsDir && !dstIsDir:
		return fserrors.E(fserrors.KindNotADirectory, op, dstPath)
	case !srcIsDir && dstIsDir:
		return fserrors.E(fserrors.KindIsADirectory, op, dstPath)
	}

	if dstIsDir {
		children, err := e.loadListing(ctx, m.tx, dstID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fserrors.E(fserrors.KindNotEmpty, op, dstPath)
		}
		if err := m.tx.Delete(ctx, dirKey(dstID)); err != nil {
			return err
		}
	} else if dstNode.Kind == models.NodeKindFile {
		if err := m.tx.Delete(ctx, dataKey(dstID)); err != nil {
			return err
		}
	}

	return m.tx.Delete(ctx, metaKey(dstID))
}
