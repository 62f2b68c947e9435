package store

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
)

const fileExt = ".json"

// FileStore keeps each dataset in <dir>/<name>.json.
//
// Writes to one name are serialized within the process. Separate processes
// sharing a directory are not coordinated: the later save wins.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore opens (and creates if needed) a dataset directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the dataset directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("list")
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		// Skip anything we could not have written (temp files, stray json).
		if dataset.ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *FileStore) Create(ctx context.Context, name string, blocks []dataset.Block) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelled("create")
	}
	data, err := dataset.Encode(blocks)
	if err != nil {
		return errors.NewInternal(err)
	}

	lock := s.lock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := CreateFileExclusive(path, data, 0600); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return errors.NewAlreadyExists(name)
		}
		return errors.NewInternal(err)
	}
	return nil
}

func (s *FileStore) Exists(_ context.Context, name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, errors.NewInternal(err)
}

func (s *FileStore) Load(ctx context.Context, name string) ([]dataset.Block, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("load")
	}
	return s.read(path)
}

func (s *FileStore) Save(ctx context.Context, name string, blocks []dataset.Block) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelled("save")
	}

	lock := s.lock(name)
	lock.Lock()
	defer lock.Unlock()
	return s.write(path, blocks)
}

func (s *FileStore) Update(ctx context.Context, name string, fn UpdateFunc) ([]dataset.Block, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	lock := s.lock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("update")
	}
	current, err := s.read(path)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := s.write(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(name string) (string, error) {
	if err := dataset.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+fileExt), nil
}

func (s *FileStore) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *FileStore) read(path string) ([]dataset.Block, error) {
	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return []dataset.Block{}, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	blocks, err := dataset.Decode(data)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return blocks, nil
}

func (s *FileStore) write(path string, blocks []dataset.Block) error {
	data, err := dataset.Encode(blocks)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := WriteFileAtomic(path, data, 0600); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path,
// so readers see either the old content or the new, never a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tempPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// CreateFileExclusive is WriteFileAtomic for a path that must not exist yet.
// The complete temp file is hard-linked into place, so path either appears
// with all of data or not at all. An existing path fails with fs.ErrExist
// and is left untouched.
func CreateFileExclusive(path string, data []byte, perm os.FileMode) error {
	tempPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)
	if err := os.Link(tempPath, path); err != nil {
		return err
	}
	return nil
}

// writeTemp writes and syncs data to a fresh sibling of path.
func writeTemp(path string, data []byte, perm os.FileMode) (string, error) {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	tempPath := path + "." + strings.ToLower(id.String()) + ".tmp"

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return "", err
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	success = true
	return tempPath, nil
}
