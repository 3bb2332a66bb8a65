package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fmueller/voxlate/internal/bus"
)

// Fanout collects in-flight publishes and joins on all of them.
type Fanout struct {
	keys    []string
	pending []*bus.PublishResult
}

// Add registers a publish that was already issued.
func (f *Fanout) Add(key string, result *bus.PublishResult) {
	f.keys = append(f.keys, key)
	f.pending = append(f.pending, result)
}

func (f *Fanout) Len() int {
	return len(f.pending)
}

// Wait blocks until every publish has completed. It returns the message id
// per key and, when any publish failed, the joined failures.
func (f *Fanout) Wait(ctx context.Context) (map[string]string, error) {
	ids := make(map[string]string, len(f.pending))
	var errs []error
	for i, result := range f.pending {
		id, err := result.Get(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.keys[i], err))
			continue
		}
		ids[f.keys[i]] = id
	}
	return ids, errors.Join(errs...)
}
