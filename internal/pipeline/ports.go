package pipeline

import (
	"context"
	"io"

	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/storage"
)

// Publisher is the asynchronous half of the bus used by the stages.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg bus.Message) *bus.PublishResult
}

type ObjectReader interface {
	Get(ctx context.Context, bucket, name string) ([]byte, error)
	Open(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	URI(bucket, name string) string
}

type ObjectWriter interface {
	Put(ctx context.Context, bucket, name string, data []byte, meta storage.Metadata) error
}

type ObjectStore interface {
	ObjectReader
	ObjectWriter
}

var (
	_ Publisher   = (*bus.Bus)(nil)
	_ ObjectStore = (*storage.FS)(nil)
)
