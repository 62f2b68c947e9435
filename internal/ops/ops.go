// Package ops implements the dataset operations behind every surface (HTTP,
// CLI, MCP). Each operation validates its input completely before touching
// the store.
package ops

import (
	"time"

	"github.com/hpungsan/convoset/internal/dataset"
)

// now is swapped in tests that need fixed timestamps.
var now = time.Now

// RecordsOutput carries a dataset's records in stored form.
type RecordsOutput struct {
	Records []dataset.Block `json:"records"`
}

// MutationOutput is returned by edit, truncate and branch. Records is the
// resulting sequence (for branch, the new dataset's).
type MutationOutput struct {
	Success bool            `json:"success"`
	Records []dataset.Block `json:"records"`
}

func emptyIfNil(blocks []dataset.Block) []dataset.Block {
	if blocks == nil {
		return []dataset.Block{}
	}
	return blocks
}
