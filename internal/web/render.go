package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/convoset/internal/codec"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// DatasetSummary is one row of the dataset list page.
type DatasetSummary struct {
	Name    string
	Blocks  int
	Turns   int
	Updated time.Time
}

// ListPageData is the template data for the dataset list page.
type ListPageData struct {
	PageData
	Datasets []DatasetSummary
}

// TranscriptPageData is the template data for the transcript page.
type TranscriptPageData struct {
	PageData
	Name   string
	Blocks []dataset.Block
	Turns  int
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"ago":       formatAgo,
		"stamp":     formatStamp,
		"comma":     func(n int) string { return humanize.Comma(int64(n)) },
		"markdown":  renderMarkdown,
		"encrypted": codec.LooksEncrypted,
		"traits":    formatTraits,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"list":       "list.html",
		"transcript": "transcript.html",
		"error":      "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with HTTP 200.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderErrorPage renders the HTML error page for viewer routes.
func (r *Renderer) renderErrorPage(w http.ResponseWriter, err error) {
	cErr := errors.As(err)
	if cErr.Code == errors.ErrInternal {
		log.Printf("viewer: %v", err)
	}

	r.renderPageStatus(w, cErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", cErr.Status),
			Version: r.version,
		},
		StatusCode: cErr.Status,
		Message:    cErr.Message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// renderAPIError writes {error, code} with the code's HTTP status.
func renderAPIError(w http.ResponseWriter, err error) {
	cErr := errors.As(err)
	if cErr.Code == errors.ErrInternal {
		log.Printf("api: %v", err)
	}
	renderJSON(w, cErr.Status, map[string]any{
		"error": cErr.Message,
		"code":  string(cErr.Code),
	})
}

// renderMarkdown converts markdown text to HTML using goldmark.
// Raw HTML in the source is escaped by goldmark's default renderer.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatAgo renders a timestamp relative to now ("3 minutes ago").
func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// formatStamp formats a timestamp as "2006-01-02 15:04" UTC.
func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// formatTraits lists non-zero trait scores in canonical order.
func formatTraits(t dataset.Traits) string {
	var parts []string
	for _, key := range dataset.TraitKeys {
		v, _ := t.Get(key)
		if v != 0 {
			parts = append(parts, fmt.Sprintf("%s %s", key, humanize.Ftoa(v)))
		}
	}
	if len(parts) == 0 {
		return "no traits"
	}
	return strings.Join(parts, ", ")
}
