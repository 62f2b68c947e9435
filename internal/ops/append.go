package ops

import (
	"context"

	"github.com/hpungsan/convoset/internal/codec"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/store"
)

// AppendTurnInput contains parameters for the AppendTurn operation.
type AppendTurnInput struct {
	Name    string
	Role    string // "user" or "ai"
	Message string

	// Annotation the turn was entered under. Empty mood/emotion take defaults.
	Traits  dataset.Traits
	Mood    string
	Emotion string
	NSFW    int

	// Passphrase, when set, stores the message as a codec token.
	Passphrase string
}

// AppendTurnOutput contains the result of the AppendTurn operation.
type AppendTurnOutput struct {
	OK               bool            `json:"ok"`
	Records          []dataset.Block `json:"records"`
	MatchesLastBlock bool            `json:"matchesLastBlock"`
}

// AppendTurn adds one Turn to a dataset, extending the last Block when its
// annotation matches and starting a new Block otherwise. A dataset that does
// not exist yet is created.
func AppendTurn(ctx context.Context, st store.Store, input AppendTurnInput) (*AppendTurnOutput, error) {
	if err := dataset.ValidateName(input.Name); err != nil {
		return nil, err
	}

	entry := dataset.Entry{
		Role: input.Role,
		Text: input.Message,
		Annotation: dataset.Annotation{
			Traits:  input.Traits,
			Mood:    input.Mood,
			Emotion: input.Emotion,
			NSFW:    input.NSFW,
		},
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	if input.Passphrase != "" {
		token, err := codec.Encrypt(entry.Text, input.Passphrase)
		if err != nil {
			return nil, err
		}
		entry.Text = token
	}

	var merged bool
	ts := now()
	blocks, err := st.Update(ctx, input.Name, func(blocks []dataset.Block) ([]dataset.Block, error) {
		out, m, err := dataset.Coalesce(blocks, entry, ts)
		merged = m
		return out, err
	})
	if err != nil {
		return nil, err
	}

	return &AppendTurnOutput{
		OK:               true,
		Records:          blocks,
		MatchesLastBlock: merged,
	}, nil
}
