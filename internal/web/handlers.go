package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/ops"
	"github.com/hpungsan/convoset/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 8 << 20

// Handlers contains HTTP route handlers for the API and viewer.
type Handlers struct {
	st       store.Store
	cfg      *config.Config
	renderer *Renderer
}

// flexNumber decodes a JSON number or numeric string. Anything else,
// including non-numeric strings, decodes to 0.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*n = 0
	case bytes.Equal(data, []byte("true")):
		*n = 1
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		*n = flexNumber(v)
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			*n = 0
			return nil
		}
		*n = flexNumber(v)
	}
	return nil
}

type createRequest struct {
	Name string `json:"name"`
}

type appendRequest struct {
	Role    string         `json:"role"`
	Message string         `json:"message"`
	Traits  dataset.Traits `json:"traits"`
	Mood    string         `json:"mood"`
	Emotion string         `json:"emotion"`
	NSFW    flexNumber     `json:"nsfw"`
	Encrypt bool           `json:"encrypt"`
}

type editRequest struct {
	Prompt   *string `json:"prompt"`
	Response *string `json:"response"`
}

type branchRequest struct {
	Index   json.RawMessage `json:"index"`
	NewName string          `json:"newName"`
}

// HandleHealth handles GET /api/healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListDatasets handles GET /api/datasets.
func (h *Handlers) HandleListDatasets(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListDatasets(r.Context(), h.st)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleCreateDataset handles POST /api/datasets.
func (h *Handlers) HandleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := ops.CreateDataset(r.Context(), h.st, req.Name)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleRecords handles GET /api/datasets/{name}/records.
func (h *Handlers) HandleRecords(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Records(r.Context(), h.st, r.PathValue("name"))
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAppend handles POST /api/datasets/{name}/records.
func (h *Handlers) HandleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}

	input := ops.AppendTurnInput{
		Name:    r.PathValue("name"),
		Role:    req.Role,
		Message: req.Message,
		Traits:  req.Traits,
		Mood:    req.Mood,
		Emotion: req.Emotion,
		NSFW:    int(req.NSFW),
	}
	if req.Encrypt {
		if h.cfg.Passphrase == "" {
			renderAPIError(w, errors.NewInvalidRequest("encrypt requested but no passphrase is configured"))
			return
		}
		input.Passphrase = h.cfg.Passphrase
	}

	out, err := ops.AppendTurn(r.Context(), h.st, input)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleEdit handles PUT /api/datasets/{name}/records/{index}.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := ops.EditTurn(r.Context(), h.st, ops.EditTurnInput{
		Name:     r.PathValue("name"),
		Index:    parseIndex(r.PathValue("index")),
		Prompt:   req.Prompt,
		Response: req.Response,
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleTruncate handles DELETE /api/datasets/{name}/records/{index}: the
// record at index and everything after it is removed.
func (h *Handlers) HandleTruncate(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Truncate(r.Context(), h.st, ops.TruncateInput{
		Name:  r.PathValue("name"),
		Index: parseIndex(r.PathValue("index")),
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleBranch handles POST /api/datasets/{name}/branch.
func (h *Handlers) HandleBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := ops.Branch(r.Context(), h.st, ops.BranchInput{
		Name:    r.PathValue("name"),
		Index:   bodyIndex(req.Index),
		NewName: req.NewName,
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleExport handles GET /api/datasets/{name}/export?format= as a download.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	rendered, err := ops.Render(r.Context(), h.st, r.PathValue("name"), r.URL.Query().Get("format"))
	if err != nil {
		renderAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", rendered.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rendered.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered.Body)
}

// HandleStats handles GET /api/datasets/{name}/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Stats(r.Context(), h.st, r.PathValue("name"))
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleDatasetsPage handles GET /datasets.
func (h *Handlers) HandleDatasetsPage(w http.ResponseWriter, r *http.Request) {
	list, err := ops.ListDatasets(r.Context(), h.st)
	if err != nil {
		h.renderer.renderErrorPage(w, err)
		return
	}

	summaries := make([]DatasetSummary, 0, len(list.Datasets))
	for _, name := range list.Datasets {
		recs, err := ops.Records(r.Context(), h.st, name)
		if err != nil {
			h.renderer.renderErrorPage(w, err)
			return
		}
		_, last := dataset.Span(recs.Records)
		summaries = append(summaries, DatasetSummary{
			Name:    name,
			Blocks:  len(recs.Records),
			Turns:   dataset.TurnCount(recs.Records),
			Updated: last,
		})
	}

	h.renderer.renderPage(w, "list", ListPageData{
		PageData: PageData{
			Title:   "Datasets",
			Version: h.renderer.version,
		},
		Datasets: summaries,
	})
}

// HandleTranscriptPage handles GET /datasets/{name}.
func (h *Handlers) HandleTranscriptPage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	exists, err := h.datasetExists(r, name)
	if err != nil {
		h.renderer.renderErrorPage(w, err)
		return
	}
	if !exists {
		h.renderer.renderErrorPage(w, errors.NewFileNotFound(name))
		return
	}

	recs, err := ops.Records(r.Context(), h.st, name)
	if err != nil {
		h.renderer.renderErrorPage(w, err)
		return
	}

	h.renderer.renderPage(w, "transcript", TranscriptPageData{
		PageData: PageData{
			Title:   name,
			Version: h.renderer.version,
		},
		Name:   name,
		Blocks: recs.Records,
		Turns:  dataset.TurnCount(recs.Records),
	})
}

func (h *Handlers) datasetExists(r *http.Request, name string) (bool, error) {
	if err := dataset.ValidateName(name); err != nil {
		return false, err
	}
	return h.st.Exists(r.Context(), name)
}

// decodeBody parses a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.NewInvalidRequest("request body too large or unreadable")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// parseIndex parses a path index the way the browser client's server always
// has: leading digits count, so "2abc" is 2. Input without leading digits maps
// to -1, which the ops layer rejects as out of range.
func parseIndex(s string) int {
	v, ok := leadingInt(s)
	if !ok {
		return -1
	}
	return v
}

// bodyIndex reads an index given as a JSON number or numeric string.
// Numbers truncate toward zero; strings follow parseIndex. Missing or
// unparseable values map to -1.
func bodyIndex(raw json.RawMessage) int {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return -1
		}
		return parseIndex(s)
	}
	if math.IsNaN(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return -1
	}
	return int(v)
}

// leadingInt parses an optionally signed run of decimal digits after leading
// whitespace, ignoring whatever follows. Values outside int32 report false.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(s[:end], 10, 32)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return int(v), true
}
