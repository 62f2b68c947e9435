package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/store"
)

// Store keeps datasets as rows of the datasets table.
//
// Every write stamps a fresh revision. Update only lands if the revision it
// read is still current, so a writer in another process that raced it fails
// with CONFLICT instead of overwriting.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open initializes the database in dataDir and wraps it.
func Open(dataDir string) (*Store, error) {
	db, err := Init(dataDir)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// DB exposes the underlying handle (pool tuning, tests).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	return ListNames(ctx, s.db)
}

func (s *Store) Create(ctx context.Context, name string, blocks []dataset.Block) error {
	if err := dataset.ValidateName(name); err != nil {
		return err
	}
	data, err := dataset.Encode(blocks)
	if err != nil {
		return errors.NewInternal(err)
	}
	now := s.now().Unix()
	return InsertDataset(ctx, s.db, &Row{
		Name:        name,
		RecordsJSON: string(data),
		Revision:    newRevision(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := dataset.ValidateName(name); err != nil {
		return false, err
	}
	return CheckNameExists(ctx, s.db, name)
}

func (s *Store) Load(ctx context.Context, name string) ([]dataset.Block, error) {
	blocks, _, err := s.load(ctx, name)
	return blocks, err
}

func (s *Store) Save(ctx context.Context, name string, blocks []dataset.Block) error {
	if err := dataset.ValidateName(name); err != nil {
		return err
	}
	data, err := dataset.Encode(blocks)
	if err != nil {
		return errors.NewInternal(err)
	}
	now := s.now().Unix()
	return UpsertDataset(ctx, s.db, &Row{
		Name:        name,
		RecordsJSON: string(data),
		Revision:    newRevision(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Store) Update(ctx context.Context, name string, fn store.UpdateFunc) ([]dataset.Block, error) {
	current, row, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	data, err := dataset.Encode(next)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := s.now().Unix()
	updated := &Row{
		Name:        name,
		RecordsJSON: string(data),
		Revision:    newRevision(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row == nil {
		// First write of a dataset nobody created: a concurrent creator wins.
		if err := InsertDataset(ctx, s.db, updated); err != nil {
			if errors.Is(err, errors.ErrAlreadyExists) {
				return nil, errors.NewConflict("dataset " + name + " was created concurrently; reload and retry")
			}
			return nil, err
		}
		return next, nil
	}
	if err := UpdateIfRevision(ctx, s.db, updated, row.Revision); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) load(ctx context.Context, name string) ([]dataset.Block, *Row, error) {
	if err := dataset.ValidateName(name); err != nil {
		return nil, nil, err
	}
	row, err := GetDataset(ctx, s.db, name)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return []dataset.Block{}, nil, nil
	}
	blocks, err := dataset.Decode([]byte(row.RecordsJSON))
	if err != nil {
		return nil, nil, errors.NewInternal(fmt.Errorf("dataset %s: %w", name, err))
	}
	return blocks, row, nil
}

func newRevision() string {
	return ulid.Make().String()
}
