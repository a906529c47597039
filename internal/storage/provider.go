package storage

import (
	"context"
	"io"
)

const (
	UploadsBucket = "uploads"
	ModelsBucket  = "models"
)

type Object struct {
	Name string
	Size int64
}

type Provider interface {
	// PutObject stores data under bucket/key and returns the stable path of
	// the stored object. A failed write leaves nothing behind.
	PutObject(ctx context.Context, bucket, key string, data io.Reader) (string, error)

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	// DeleteObjects recursively removes everything under bucket/prefix. An
	// empty prefix removes the bucket.
	DeleteObjects(ctx context.Context, bucket, prefix string) error
}
