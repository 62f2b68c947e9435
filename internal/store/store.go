// Package store persists datasets. A dataset is one durable unit (a file or a
// row) holding the JSON array of its Blocks.
package store

import (
	"context"

	"github.com/hpungsan/convoset/internal/dataset"
)

// Store is implemented by every persistence backend.
//
// Names passed to a Store must already satisfy dataset.ValidateName; backends
// check again and fail with INVALID_NAME rather than touch an unsafe path.
type Store interface {
	// List returns all dataset names in ascending order.
	List(ctx context.Context) ([]string, error)
	// Create makes a new dataset holding blocks (nil for an empty one) in a
	// single write. ALREADY_EXISTS when the name is taken; the existing
	// dataset is not touched.
	Create(ctx context.Context, name string, blocks []dataset.Block) error
	Exists(ctx context.Context, name string) (bool, error)
	// Load returns the stored sequence. A dataset that was never created
	// loads as an empty, non-nil slice.
	Load(ctx context.Context, name string) ([]dataset.Block, error)
	// Save replaces the whole stored sequence, creating the dataset if needed.
	Save(ctx context.Context, name string, blocks []dataset.Block) error
	// Update runs load, fn, save for one name. When fn fails nothing is
	// written and its error is returned unchanged.
	Update(ctx context.Context, name string, fn UpdateFunc) ([]dataset.Block, error)
	Close() error
}

// UpdateFunc computes the next sequence from the current one.
type UpdateFunc func(blocks []dataset.Block) ([]dataset.Block, error)
