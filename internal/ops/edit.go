package ops

import (
	"context"
	"slices"

	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/store"
)

// EditTurnInput contains parameters for the EditTurn operation.
// Nil fields are left unchanged; at least one must be set.
type EditTurnInput struct {
	Name     string
	Index    int
	Prompt   *string
	Response *string
}

// EditTurn rewrites the prompt and/or response of one slot of the flattened
// view. The prompt is the Block's first user Turn and the response its first
// ai Turn; a missing one is added.
func EditTurn(ctx context.Context, st store.Store, input EditTurnInput) (*MutationOutput, error) {
	if err := dataset.ValidateName(input.Name); err != nil {
		return nil, err
	}
	if input.Prompt == nil && input.Response == nil {
		return nil, errors.NewValidation("prompt or response is required")
	}

	blocks, err := st.Update(ctx, input.Name, func(blocks []dataset.Block) ([]dataset.Block, error) {
		if err := dataset.CheckIndex(input.Index, len(blocks)); err != nil {
			return nil, err
		}
		out := slices.Clone(blocks)
		if input.Prompt != nil {
			out[input.Index].SetPrompt(*input.Prompt)
		}
		if input.Response != nil {
			out[input.Index].SetResponse(*input.Response)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return &MutationOutput{Success: true, Records: blocks}, nil
}
