package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/fserrors"
)

// fakeStore is the minimal in-package store used to exercise the registry
// and preflight without importing a backend package (which would cycle).
// It buffers writes like the object-store backends do and records what
// each Commit actually applies.
type fakeStore struct {
	failWrites bool
	applied    []string
}

func (s *fakeStore) Name() string { return "fake" }

func (s *fakeStore) Begin(context.Context, Mode) (Tx, error) {
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) Clear(context.Context) error { return nil }

type fakeTx struct {
	store *fakeStore
	ops   []string
}

func (t *fakeTx) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (t *fakeTx) Put(_ context.Context, key string, _ []byte, _ bool) error {
	if t.store.failWrites {
		return errors.New("write refused")
	}
	t.ops = append(t.ops, "put:"+key)
	return nil
}

func (t *fakeTx) Delete(_ context.Context, key string) error {
	t.ops = append(t.ops, "delete:"+key)
	return nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.store.applied = append(t.store.applied, t.ops...)
	return nil
}

func (t *fakeTx) Abort(context.Context) error { return nil }

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "no-such-backend", &config.Config{})
	require.Error(t, err)
	assert.Equal(t, fserrors.KindInvalidArgument, fserrors.KindOf(err))
}

func TestOpenRunsPreflight(t *testing.T) {
	fake := &fakeStore{}
	Register("registry-test-ok", func(context.Context, *config.Config) (Store, error) {
		return fake, nil
	})

	store, err := Open(context.Background(), "registry-test-ok", &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "fake", store.Name())

	// The probe write must commit before its cleanup so backends that
	// buffer transactions replay a real put against the store.
	assert.Equal(t, []string{"put:" + preflightKey, "delete:" + preflightKey}, fake.applied)
}

func TestOpenSurfacesPreflightFailure(t *testing.T) {
	Register("registry-test-denied", func(context.Context, *config.Config) (Store, error) {
		return &fakeStore{failWrites: true}, nil
	})

	_, err := Open(context.Background(), "registry-test-denied", &config.Config{})
	require.Error(t, err)
	assert.Equal(t, fserrors.KindPermissionDenied, fserrors.KindOf(err))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	Register("registry-test-dup", func(context.Context, *config.Config) (Store, error) {
		return &fakeStore{}, nil
	})

	assert.Panics(t, func() {
		Register("registry-test-dup", func(context.Context, *config.Config) (Store, error) {
			return &fakeStore{}, nil
		})
	})
}
