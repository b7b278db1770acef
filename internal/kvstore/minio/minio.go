// Package minio implements the key-value contract on S3-compatible object
// storage, one object per key. Object stores have no cross-key
// transactions: a read-write transaction here buffers its mutations and
// replays them per key on Commit. The engine's serialization gate and
// unwind logic compensate for the missing atomicity.
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/kvstore"
	"github.com/keyfs/keyfs/pkg/logging"
	"github.com/keyfs/keyfs/pkg/logging/slogext"
)

type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func Open(ctx context.Context, cfg config.MinioConfig) (*Store, error) {
	const op = "minio.Open"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	if err := cfg.Validate(); err != nil {
		return nil, fserrors.E(fserrors.KindInvalidArgument, op, "", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Error("Failed to create minio client", slogext.Err(err))
		return nil, translate(op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		logger.Error("Failed to check bucket", slogext.Err(err))
		return nil, translate(op, err)
	}
	if !exists {
		return nil, fserrors.E(fserrors.KindNotFound, op, "",
			errors.New("bucket does not exist: "+cfg.Bucket))
	}

	logger.Info("Connected to object store", "bucket", cfg.Bucket)
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Factory adapts Open to the registry signature.
func Factory(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	return Open(ctx, cfg.Minio)
}

func (s *Store) Name() string {
	return "minio"
}

// objectKey maps a logical key onto an object name under the configured
// prefix. Keys with a trailing separator are not representable as object
// names and get the reserved suffix marker.
func (s *Store) objectKey(key string) string {
	return s.prefix + kvstore.SanitizeKey(key)
}

func (s *Store) Begin(_ context.Context, mode kvstore.Mode) (kvstore.Tx, error) {
	return &tx{
		store:   s,
		mode:    mode,
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

// Clear removes every object under the configured prefix.
func (s *Store) Clear(ctx context.Context) error {
	const op = "minio.Store.Clear"

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return translate(op, object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return translate(op, err)
		}
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	const op = "minio.Store.get"

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, translate(op, err)
	}
	defer obj.Close()

	value, err := io.ReadAll(obj)
	if err != nil {
		if isAbsent(err) {
			return nil, false, nil
		}
		return nil, false, translate(op, err)
	}
	return value, true, nil
}

type tx struct {
	store   *Store
	mode    kvstore.Mode
	puts    map[string][]byte
	deletes map[string]struct{}
	done    bool
}

func (t *tx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const op = "minio.tx.Get"

	if t.done {
		return nil, false, fserrors.E(fserrors.KindInvalidArgument, op, "", errFinished)
	}

	if value, ok := t.puts[key]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, true, nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, false, nil
	}

	return t.store.get(ctx, key)
}

func (t *tx) Put(_ context.Context, key string, value []byte, _ bool) error {
	const op = "minio.tx.Put"

	if err := t.writable(op); err != nil {
		return err
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	delete(t.deletes, key)
	t.puts[key] = buf
	return nil
}

func (t *tx) Delete(_ context.Context, key string) error {
	const op = "minio.tx.Delete"

	if err := t.writable(op); err != nil {
		return err
	}

	delete(t.puts, key)
	t.deletes[key] = struct{}{}
	return nil
}

// Commit replays the buffered mutations against the object store one key
// at a time. A failure part-way leaves earlier keys applied; the error is
// surfaced so the caller can unwind.
func (t *tx) Commit(ctx context.Context) error {
	const op = "minio.tx.Commit"

	if t.done {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errFinished)
	}
	t.done = true

	if t.mode == kvstore.ReadOnly {
		return nil
	}

	s := t.store
	for key := range t.deletes {
		err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{})
		if err != nil && !isAbsent(err) {
			return translate(op, err)
		}
	}
	for key, value := range t.puts {
		_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(key),
			bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{})
		if err != nil {
			return translate(op, err)
		}
	}

	return nil
}

func (t *tx) Abort(_ context.Context) error {
	t.done = true
	t.puts = nil
	t.deletes = nil
	return nil
}

func (t *tx) writable(op string) error {
	if t.done {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errFinished)
	}
	if t.mode == kvstore.ReadOnly {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errReadOnly)
	}
	return nil
}

var (
	errFinished = errors.New("transaction already finished")
	errReadOnly = errors.New("write in read-only transaction")
)

func isAbsent(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}

// translate maps object-store failures onto the filesystem taxonomy. The
// transport reports most failures as bare request errors, which map to
// IOFailure rather than a guessed cause.
func translate(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fserrors.E(fserrors.KindNotFound, op, "", err)
	case "AccessDenied":
		return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
	case "QuotaExceeded":
		return fserrors.E(fserrors.KindOutOfSpace, op, "", err)
	}
	return fserrors.E(fserrors.KindIOFailure, op, "", err)
}
