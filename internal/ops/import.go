package ops

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/store"
)

// MaxImportBytes bounds the size of an import file.
const MaxImportBytes = 64 << 20

// ImportMode controls what happens when the target dataset already exists.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail with ALREADY_EXISTS
	ImportModeReplace ImportMode = "replace" // overwrite the existing dataset
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required; .json (Block array) or .jsonl (one record per line)
	Name string     // optional, default: file name without extension
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Name     string `json:"name"`
	Imported int    `json:"imported"`
	Turns    int    `json:"turns"`
}

// Import reads records in either stored shape from a file and saves them as
// a dataset. Elements that are neither shape fail the whole import.
func Import(ctx context.Context, st store.Store, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace")
	}

	ext := strings.ToLower(filepath.Ext(input.Path))
	if ext != ".json" && ext != ".jsonl" {
		return nil, errors.NewInvalidRequest("path must have .json or .jsonl extension")
	}

	name := input.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(input.Path), filepath.Ext(input.Path))
	}
	if err := dataset.ValidateName(name); err != nil {
		return nil, err
	}

	if err := ValidatePath(input.Path, PathCheckRead, filepath.Ext(input.Path), cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImportBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(data) > MaxImportBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("import file exceeds %d bytes", MaxImportBytes))
	}

	var blocks []dataset.Block
	if ext == ".jsonl" {
		blocks, err = decodeLines(data)
	} else {
		blocks, err = dataset.Decode(data)
	}
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("import")
	}
	if input.Mode == ImportModeError {
		err = st.Create(ctx, name, blocks)
	} else {
		err = st.Save(ctx, name, blocks)
	}
	if err != nil {
		return nil, err
	}

	return &ImportOutput{
		Name:     name,
		Imported: len(blocks),
		Turns:    dataset.TurnCount(blocks),
	}, nil
}

// decodeLines parses one record per non-blank line.
func decodeLines(data []byte) ([]dataset.Block, error) {
	blocks := []dataset.Block{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxImportBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var b dataset.Block
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		blocks = append(blocks, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}
