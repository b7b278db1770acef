package models

import "time"

type NodeKind int16

const (
	NodeKindDir     NodeKind = 0
	NodeKindFile    NodeKind = 1
	NodeKindSymlink NodeKind = 2
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindDir:
		return "directory"
	case NodeKindFile:
		return "file"
	case NodeKindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Node is the persisted metadata record of one filesystem object. It is
// stored under the node's metadata key, separate from file data, so that
// timestamp and size updates never rewrite content.
type Node struct {
	ID    string    `cbor:"1,keyasint"`
	Kind  NodeKind  `cbor:"2,keyasint"`
	Mode  uint32    `cbor:"3,keyasint"`
	Size  int64     `cbor:"4,keyasint"`
	Ctime time.Time `cbor:"5,keyasint"`
	Mtime time.Time `cbor:"6,keyasint"`
	Atime time.Time `cbor:"7,keyasint"`

	// SymlinkTarget is set only for NodeKindSymlink.
	SymlinkTarget string `cbor:"8,keyasint,omitempty"`
}

// NodeMeta is the metadata view returned to callers and held in the
// metadata cache.
type NodeMeta struct {
	ID    string    `json:"id"`
	Kind  NodeKind  `json:"kind"`
	Mode  uint32    `json:"mode"`
	Size  int64     `json:"size"`
	Ctime time.Time `json:"ctime"`
	Mtime time.Time `json:"mtime"`
	Atime time.Time `json:"atime"`
}

// Meta returns the caller-visible view of the node.
func (n *Node) Meta() NodeMeta {
	return NodeMeta{
		ID:    n.ID,
		Kind:  n.Kind,
		Mode:  n.Mode,
		Size:  n.Size,
		Ctime: n.Ctime,
		Mtime: n.Mtime,
		Atime: n.Atime,
	}
}

type Dirent struct {
	Name string   `json:"name"`
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
}

// Listing maps a child name to the child's node ID. It is the payload of a
// directory node; insertion order is irrelevant.
type Listing map[string]string
