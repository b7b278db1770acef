// Package gate serializes tree-mutating filesystem operations. Several
// backends cannot offer cross-key transactional isolation, so the engine
// enforces at the gate that at most one mutation is in flight against the
// shared tree, while read-only operations proceed concurrently with each
// other. This is the coarse global gate; per-subtree locking is a possible
// refinement once a workload needs it.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// readSlots is the number of concurrently admitted readers. A mutation
// acquires every slot, making it exclusive with readers and with other
// mutations.
const readSlots = 64

type Gate struct {
	slots *semaphore.Weighted
}

func New() *Gate {
	return &Gate{slots: semaphore.NewWeighted(readSlots)}
}

// EnterRead admits a read-only operation. It blocks while a mutation holds
// the gate. The returned release function must be called exactly once,
// normally via defer, so a failed operation can never wedge the gate.
func (g *Gate) EnterRead(ctx context.Context) (func(), error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.slots.Release(1) }, nil
}

// EnterMutate admits a tree-mutating operation exclusively.
func (g *Gate) EnterMutate(ctx context.Context) (func(), error) {
	if err := g.slots.Acquire(ctx, readSlots); err != nil {
		return nil, err
	}
	return func() { g.slots.Release(readSlots) }, nil
}
