// Package kvstore defines the transactional key-value contract every
// storage backend implements, together with the backend registry and the
// key sanitization rule shared by object-store backends.
package kvstore

import "context"

// Mode selects the capabilities of a transaction.
type Mode int

const (
	// ReadOnly transactions permit only Get.
	ReadOnly Mode = iota
	// ReadWrite transactions permit Get, Put and Delete.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

// Store is one configured backend instance.
//
// Backends differ widely in what "transaction" means: the memory and
// postgres backends apply a transaction's writes atomically, while object
// store backends replay them per key on Commit. The filesystem engine does
// not rely on cross-key atomicity from any backend; it serializes mutations
// itself and unwinds partially written keys on failure.
type Store interface {
	// Name returns a diagnostic identifier ("memory", "postgres", ...).
	Name() string

	// Begin starts a transaction in the given mode.
	Begin(ctx context.Context, mode Mode) (Tx, error)

	// Clear removes every key the store holds. A backend may document
	// Clear as a no-op for shared media, but it must still report
	// success so the contract stays uniform.
	Clear(ctx context.Context) error
}

// Tx is a bounded sequence of key-value operations finished by exactly one
// Commit or Abort.
type Tx interface {
	// Get returns the value stored under key. found distinguishes an
	// absent key from an empty value; err reports an actual failure.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put stores value under key. overwrite=false is advisory: the call
	// still succeeds if the key exists, because the engine performs its
	// own existence checks where exclusivity matters.
	Put(ctx context.Context, key string, value []byte, overwrite bool) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}
