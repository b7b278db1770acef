package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestReadersRunConcurrently(t *testing.T) {
	ctx := context.Background()
	g := New()

	var inFlight, peak atomic.Int32

	var group errgroup.Group
	for i := 0; i < 8; i++ {
		group.Go(func() error {
			release, err := g.EnterRead(ctx)
			if err != nil {
				return err
			}
			defer release()

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Greater(t, peak.Load(), int32(1), "readers should overlap")
}

func TestMutationIsExclusive(t *testing.T) {
	ctx := context.Background()
	g := New()

	var mutating atomic.Bool
	var violations atomic.Int32

	var group errgroup.Group
	for i := 0; i < 4; i++ {
		group.Go(func() error {
			for j := 0; j < 20; j++ {
				release, err := g.EnterMutate(ctx)
				if err != nil {
					return err
				}
				if !mutating.CompareAndSwap(false, true) {
					violations.Add(1)
				}
				mutating.Store(false)
				release()
			}
			return nil
		})
		group.Go(func() error {
			for j := 0; j < 20; j++ {
				release, err := g.EnterRead(ctx)
				if err != nil {
					return err
				}
				if mutating.Load() {
					violations.Add(1)
				}
				release()
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Zero(t, violations.Load())
}

func TestAcquireHonorsContext(t *testing.T) {
	g := New()

	release, err := g.EnterMutate(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = g.EnterRead(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
