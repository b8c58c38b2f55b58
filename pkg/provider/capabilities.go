package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces, detected with type assertions.

// ObjectPutter can create or overwrite objects. Archiving requires it.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// Store is a provider that supports every operation the archive uses.
type Store interface {
	Provider
	ObjectPutter
	ObjectGetter
}
