package ops

import (
	"context"
	"slices"

	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/store"
)

// BranchInput contains parameters for the Branch operation.
type BranchInput struct {
	Name    string
	Index   int
	NewName string
}

// Branch copies slots [0, Index] (inclusive, unlike Truncate) of Name into a
// new dataset NewName. The source is not modified.
func Branch(ctx context.Context, st store.Store, input BranchInput) (*MutationOutput, error) {
	if err := dataset.ValidateName(input.Name); err != nil {
		return nil, err
	}

	source, err := st.Load(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	if err := dataset.CheckIndex(input.Index, len(source)); err != nil {
		return nil, err
	}

	if err := dataset.ValidateName(input.NewName); err != nil {
		return nil, err
	}

	records := slices.Clone(source[:input.Index+1])
	if err := st.Create(ctx, input.NewName, records); err != nil {
		return nil, err
	}
	return &MutationOutput{Success: true, Records: records}, nil
}
