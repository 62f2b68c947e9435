package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/store"
)

// Export formats.
const (
	FormatJSON  = "json"  // Block array, byte-identical to the stored dataset
	FormatJSONL = "jsonl" // one flattened prompt/response pair per line
	FormatYAML  = "yaml"
)

var formatExts = map[string]string{
	FormatJSON:  ".json",
	FormatJSONL: ".jsonl",
	FormatYAML:  ".yaml",
}

var formatContentTypes = map[string]string{
	FormatJSON:  "application/json",
	FormatJSONL: "application/x-ndjson",
	FormatYAML:  "application/yaml",
}

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Name   string
	Path   string // optional, default: <exports_dir>/<name>-<timestamp>.<ext>
	Format string // optional, default: json
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Rendered is an export held in memory, for HTTP downloads.
type Rendered struct {
	Filename    string
	ContentType string
	Body        []byte
	Count       int
}

// NormalizeFormat lowercases a format name and applies the json default.
func NormalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return FormatJSON, nil
	}
	if _, ok := formatExts[format]; !ok {
		return "", errors.NewInvalidRequest(fmt.Sprintf("format must be one of: %s, %s, %s", FormatJSON, FormatJSONL, FormatYAML))
	}
	return format, nil
}

// Render loads a dataset and encodes it in the requested format.
func Render(ctx context.Context, st store.Store, name, format string) (*Rendered, error) {
	if err := dataset.ValidateName(name); err != nil {
		return nil, err
	}
	format, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	blocks, err := st.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	body, err := encodeExport(blocks, format)
	if err != nil {
		return nil, err
	}
	return &Rendered{
		Filename:    name + formatExts[format],
		ContentType: formatContentTypes[format],
		Body:        body,
		Count:       len(blocks),
	}, nil
}

// Export writes a dataset to a file.
func Export(ctx context.Context, st store.Store, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	ts := now()

	rendered, err := Render(ctx, st, input.Name, input.Format)
	if err != nil {
		return nil, err
	}
	format, _ := NormalizeFormat(input.Format)
	ext := formatExts[format]

	exportPath := input.Path
	if exportPath == "" {
		dir, err := exportsDir(cfg)
		if err != nil {
			return nil, err
		}
		exportPath = filepath.Join(dir, fmt.Sprintf("%s-%s%s", input.Name, ts.Format("2006-01-02T150405"), ext))
	}

	// Default paths are checked too: the exports dir may be misconfigured.
	if err := ValidatePath(exportPath, PathCheckWrite, ext, cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	if err := writeExportFile(exportPath, rendered.Body); err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Count:      rendered.Count,
		ExportedAt: ts.Unix(),
	}, nil
}

// writeExportFile writes to a temp file and renames it into place, so a
// failed export leaves any existing file intact.
func writeExportFile(exportPath string, body []byte) error {
	tempPath := exportPath + "." + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(body); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Windows cannot rename an open file.
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted after validation.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}

	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

func encodeExport(blocks []dataset.Block, format string) ([]byte, error) {
	switch format {
	case FormatJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, p := range dataset.Flatten(blocks) {
			if err := enc.Encode(p); err != nil {
				return nil, errors.NewInternal(err)
			}
		}
		return buf.Bytes(), nil
	case FormatYAML:
		docs := make([]yamlRecord, len(blocks))
		for i, b := range blocks {
			docs[i] = toYAMLRecord(b)
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := enc.Close(); err != nil {
			return nil, errors.NewInternal(err)
		}
		return buf.Bytes(), nil
	default:
		data, err := dataset.Encode(blocks)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		return data, nil
	}
}

type yamlTurn struct {
	Speaker string `yaml:"speaker"`
	Text    string `yaml:"text"`
}

type yamlTraits struct {
	Trust     float64 `yaml:"trust"`
	Happiness float64 `yaml:"happiness"`
	Romantic  float64 `yaml:"romantic"`
	Sad       float64 `yaml:"sad"`
	Angry     float64 `yaml:"angry"`
	Lust      float64 `yaml:"lust"`
}

type yamlRecord struct {
	Traits       yamlTraits `yaml:"traits"`
	Mood         string     `yaml:"mood"`
	Emotion      string     `yaml:"emotion"`
	NSFW         int        `yaml:"nsfw"`
	Conversation []yamlTurn `yaml:"conversation"`
	CreatedAt    string     `yaml:"createdAt,omitempty"`
}

func toYAMLRecord(b dataset.Block) yamlRecord {
	r := yamlRecord{
		Traits: yamlTraits{
			Trust:     float64(b.Traits.Trust),
			Happiness: float64(b.Traits.Happiness),
			Romantic:  float64(b.Traits.Romantic),
			Sad:       float64(b.Traits.Sad),
			Angry:     float64(b.Traits.Angry),
			Lust:      float64(b.Traits.Lust),
		},
		Mood:         b.Mood,
		Emotion:      b.Emotion,
		NSFW:         b.NSFW,
		Conversation: make([]yamlTurn, len(b.Conversation)),
	}
	for i, t := range b.Conversation {
		r.Conversation[i] = yamlTurn{Speaker: t.Speaker, Text: t.Text}
	}
	if !b.CreatedAt.IsZero() {
		r.CreatedAt = b.CreatedAt.UTC().Format(dataset.TimeFormat)
	}
	return r
}
