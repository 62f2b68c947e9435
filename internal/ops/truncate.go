package ops

import (
	"context"
	"slices"

	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/store"
)

// TruncateInput contains parameters for the Truncate operation.
type TruncateInput struct {
	Name  string
	Index int
}

// Truncate drops the slot at Index and everything after it, keeping [0, Index).
func Truncate(ctx context.Context, st store.Store, input TruncateInput) (*MutationOutput, error) {
	if err := dataset.ValidateName(input.Name); err != nil {
		return nil, err
	}

	blocks, err := st.Update(ctx, input.Name, func(blocks []dataset.Block) ([]dataset.Block, error) {
		if err := dataset.CheckIndex(input.Index, len(blocks)); err != nil {
			return nil, err
		}
		return slices.Clone(blocks[:input.Index]), nil
	})
	if err != nil {
		return nil, err
	}
	return &MutationOutput{Success: true, Records: emptyIfNil(blocks)}, nil
}
