package ops

import (
	"context"

	"github.com/hpungsan/convoset/internal/codec"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/store"
)

// ListDatasetsOutput contains the result of the ListDatasets operation.
type ListDatasetsOutput struct {
	Datasets []string `json:"datasets"`
}

// ListDatasets returns all dataset names, sorted.
func ListDatasets(ctx context.Context, st store.Store) (*ListDatasetsOutput, error) {
	names, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return &ListDatasetsOutput{Datasets: names}, nil
}

// CreateDatasetOutput contains the result of the CreateDataset operation.
type CreateDatasetOutput struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
}

// CreateDataset makes a new empty dataset.
func CreateDataset(ctx context.Context, st store.Store, name string) (*CreateDatasetOutput, error) {
	if err := dataset.ValidateName(name); err != nil {
		return nil, err
	}
	if err := st.Create(ctx, name, nil); err != nil {
		return nil, err
	}
	return &CreateDatasetOutput{OK: true, Name: name}, nil
}

// Records returns a dataset's Blocks oldest first. A dataset that was never
// created has no records.
func Records(ctx context.Context, st store.Store, name string) (*RecordsOutput, error) {
	if err := dataset.ValidateName(name); err != nil {
		return nil, err
	}
	blocks, err := st.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return &RecordsOutput{Records: dataset.SortChronological(blocks)}, nil
}

// StatsOutput summarizes a dataset.
type StatsOutput struct {
	Name           string `json:"name"`
	Blocks         int    `json:"blocks"`
	Turns          int    `json:"turns"`
	UserTurns      int    `json:"user_turns"`
	AITurns        int    `json:"ai_turns"`
	EncryptedTurns int    `json:"encrypted_turns"`
	LegacyRecords  int    `json:"legacy_records"`
	FirstCreatedAt string `json:"first_created_at,omitempty"`
	LastCreatedAt  string `json:"last_created_at,omitempty"`
}

// Stats counts Blocks and Turns and reports the createdAt span.
func Stats(ctx context.Context, st store.Store, name string) (*StatsOutput, error) {
	if err := dataset.ValidateName(name); err != nil {
		return nil, err
	}
	blocks, err := st.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	out := &StatsOutput{
		Name:   name,
		Blocks: len(blocks),
		Turns:  dataset.TurnCount(blocks),
	}
	for _, b := range blocks {
		if b.Shape() == dataset.ShapeLegacy {
			out.LegacyRecords++
		}
		for _, t := range b.Conversation {
			switch t.Speaker {
			case dataset.SpeakerUser:
				out.UserTurns++
			case dataset.SpeakerAI:
				out.AITurns++
			}
			if codec.LooksEncrypted(t.Text) {
				out.EncryptedTurns++
			}
		}
	}
	first, last := dataset.Span(blocks)
	if !first.IsZero() {
		out.FirstCreatedAt = first.UTC().Format(dataset.TimeFormat)
		out.LastCreatedAt = last.UTC().Format(dataset.TimeFormat)
	}
	return out, nil
}
