package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func userTurn(blocks []dataset.Block, text string) ([]dataset.Block, error) {
	out, _, err := dataset.Coalesce(blocks, dataset.Entry{Role: "user", Text: text}, time.Now())
	return out, err
}

func TestStore_CreateListExists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Create(ctx, "beta", nil))
	require.NoError(t, s.Create(ctx, "alpha", nil))

	err := s.Create(ctx, "alpha", nil)
	require.True(t, errors.Is(err, errors.ErrAlreadyExists), "got %v", err)

	err = s.Create(ctx, "no/slash", nil)
	require.True(t, errors.Is(err, errors.ErrInvalidName), "got %v", err)

	names, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, names)

	ok, err := s.Exists(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Exists(ctx, "gamma")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_CreateWithBlocks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	blocks, err := userTurn(nil, "seed")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "seeded", blocks))

	other, err := userTurn(nil, "other")
	require.NoError(t, err)
	err = s.Create(ctx, "seeded", other)
	require.True(t, errors.Is(err, errors.ErrAlreadyExists), "got %v", err)

	got, err := s.Load(ctx, "seeded")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "seed", got[0].Prompt())
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	s := openTestStore(t)

	blocks, err := s.Load(context.Background(), "never")
	require.NoError(t, err)
	require.NotNil(t, blocks)
	require.Empty(t, blocks)
}

func TestStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := userTurn(nil, "one")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "demo", first))

	second, err := userTurn(nil, "two")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "demo", second))

	got, err := s.Load(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "two", got[0].Prompt())
}

func TestStore_UpdateCreatesAndAdvancesRevision(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Update(ctx, "demo", func(b []dataset.Block) ([]dataset.Block, error) { return userTurn(b, "hi") })
	require.NoError(t, err)

	row, err := GetDataset(ctx, s.DB(), "demo")
	require.NoError(t, err)
	require.NotNil(t, row)
	rev := row.Revision

	blocks, err := s.Update(ctx, "demo", func(b []dataset.Block) ([]dataset.Block, error) { return userTurn(b, "again") })
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Conversation, 2)

	row, err = GetDataset(ctx, s.DB(), "demo")
	require.NoError(t, err)
	require.NotEqual(t, rev, row.Revision)
}

func TestStore_UpdateDetectsConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Create(ctx, "demo", nil))

	// Another writer saves between our read and our write.
	_, err := s.Update(ctx, "demo", func(b []dataset.Block) ([]dataset.Block, error) {
		other, err := userTurn(b, "theirs")
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, "demo", other))
		return userTurn(b, "ours")
	})
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	got, err := s.Load(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "theirs", got[0].Prompt())
}

func TestStore_UpdateFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Update(ctx, "demo", func(b []dataset.Block) ([]dataset.Block, error) {
		return nil, errors.NewValidation("nope")
	})
	require.True(t, errors.Is(err, errors.ErrValidation))

	ok, err := s.Exists(ctx, "demo")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_LegacyRowsReadable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, InsertDataset(ctx, s.DB(), &Row{
		Name:        "old",
		RecordsJSON: `[{"prompt":"p","response":"r","traits":{"trust":"0.50"}}]`,
		Revision:    newRevision(),
		CreatedAt:   1,
		UpdatedAt:   1,
	}))

	blocks, err := s.Load(ctx, "old")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, dataset.ShapeLegacy, blocks[0].Shape())
	require.Equal(t, "p", blocks[0].Prompt())
	require.Equal(t, dataset.Score(0.5), blocks[0].Traits.Trust)
}
