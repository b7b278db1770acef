package engine

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/kvstore"
	"github.com/keyfs/keyfs/internal/models"
)

// cleanPath normalizes a caller-supplied path to a clean absolute form.
// Paths are the only caller input that reaches key construction, so
// rejecting malformed ones here keeps every later layer simple.
func cleanPath(op, p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", fserrors.E(fserrors.KindInvalidArgument, op, p,
			errors.New("path must be absolute"))
	}
	if strings.Contains(p, "\x00") {
		return "", fserrors.E(fserrors.KindInvalidArgument, op, p,
			errors.New("path contains NUL"))
	}
	return path.Clean(p), nil
}

// segments splits a clean absolute path into its name components. The root
// path yields no segments.
func segments(cleaned string) []string {
	if cleaned == "/" {
		return nil
	}
	return strings.Split(cleaned[1:], "/")
}

func joinChild(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// splitParent returns the clean parent path and the final name component.
func splitParent(cleaned string) (string, string) {
	dir, name := path.Split(cleaned)
	if len(dir) > 1 {
		dir = strings.TrimSuffix(dir, "/")
	}
	return dir, name
}

// resolve walks a clean absolute path to its node, one listing at a time.
// Each resolved segment consults the metadata cache first and populates it
// on a store hit. Resolution stops with NotFound at the first missing
// segment and NotADirectory when a non-terminal segment is not a
// directory.
func (e *Engine) resolve(ctx context.Context, tx kvstore.Tx, cleaned string) (*models.Node, error) {
	const op = "engine.Engine.resolve"

	current, found, err := e.loadNode(ctx, tx, rootNodeID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fserrors.E(fserrors.KindIOFailure, op, "/",
			errors.New("root node record is missing"))
	}

	currentPath := "/"
	for _, name := range segments(cleaned) {
		if current.Kind != models.NodeKindDir {
			return nil, fserrors.E(fserrors.KindNotADirectory, op, currentPath)
		}

		childPath := joinChild(currentPath, name)
		child, err := e.resolveChild(ctx, tx, current, name, childPath)
		if err != nil {
			return nil, err
		}

		current = child
		currentPath = childPath
	}

	return current, nil
}

// resolveChild finds one child of a directory node, preferring the cached
// identity over a listing read. A cached identity whose record has
// vanished means the cache raced an external mutation; the entry is
// dropped and the listing consulted instead.
func (e *Engine) resolveChild(ctx context.Context, tx kvstore.Tx, parent *models.Node, name, childPath string) (*models.Node, error) {
	const op = "engine.Engine.resolveChild"

	if meta, ok := e.cache.Get(childPath); ok {
		child, found, err := e.loadNode(ctx, tx, meta.ID)
		if err != nil {
			return nil, err
		}
		if found {
			return child, nil
		}
		e.cache.Invalidate(childPath)
	}

	listing, err := e.loadListing(ctx, tx, parent.ID)
	if err != nil {
		return nil, err
	}

	childID, ok := listing[name]
	if !ok {
		return nil, fserrors.E(fserrors.KindNotFound, op, childPath)
	}

	child, found, err := e.loadNode(ctx, tx, childID)
	if err != nil {
		return nil, err
	}
	if !found {
		// A listing entry pointing at an absent node breaks the tree
		// invariant; report it as corruption, not as a missing path.
		return nil, fserrors.E(fserrors.KindIOFailure, op, childPath,
			errors.New("directory entry references absent node "+childID))
	}

	e.cache.Put(childPath, child.Meta())
	return child, nil
}

// resolveParent resolves the directory that should contain the final name
// component of cleaned. The root itself has no parent.
func (e *Engine) resolveParent(ctx context.Context, tx kvstore.Tx, cleaned string) (*models.Node, string, error) {
	const op = "engine.Engine.resolveParent"

	if cleaned == "/" {
		return nil, "", fserrors.E(fserrors.KindInvalidArgument, op, cleaned,
			errors.New("root directory has no parent"))
	}

	parentPath, name := splitParent(cleaned)
	parent, err := e.resolve(ctx, tx, parentPath)
	if err != nil {
		return nil, "", err
	}
	if parent.Kind != models.NodeKindDir {
		return nil, "", fserrors.E(fserrors.KindNotADirectory, op, parentPath)
	}

	return parent, name, nil
}
