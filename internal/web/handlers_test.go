package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/convoset/internal/codec"
	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/store"
)

type testServer struct {
	handler http.Handler
	st      *store.FileStore
	cfg     *config.Config
}

func setupTest(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.DefaultConfig()
	return &testServer{
		handler: NewHandler(st, cfg, "test"),
		st:      st,
		cfg:     cfg,
	}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type recordsBody struct {
	OK               bool            `json:"ok"`
	Success          bool            `json:"success"`
	Records          []dataset.Block `json:"records"`
	MatchesLastBlock bool            `json:"matchesLastBlock"`
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) apiError {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	e := decodeJSON[apiError](t, rec)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
	return e
}

// seedDemo builds the two-block "demo" dataset through the API.
func seedDemo(t *testing.T, s *testServer) {
	t.Helper()
	bodies := []string{
		`{"role":"user","message":"hi","traits":{"trust":0.5}}`,
		`{"role":"ai","message":"**hello**","traits":{"trust":0.5}}`,
		`{"role":"user","message":"bye","mood":"sad"}`,
	}
	for _, b := range bodies {
		if rec := s.do(t, "POST", "/api/datasets/demo/records", b); rec.Code != http.StatusOK {
			t.Fatalf("append %s: status %d: %s", b, rec.Code, rec.Body.String())
		}
	}
}

// --- API ---

func TestHealth(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "GET", "/api/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeJSON[map[string]string](t, rec); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
}

func TestCreateAndList(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, "POST", "/api/datasets", `{"name":"alpha"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON[map[string]any](t, rec)
	if created["ok"] != true || created["name"] != "alpha" {
		t.Errorf("create body = %v", created)
	}

	rec = s.do(t, "GET", "/api/datasets", "")
	list := decodeJSON[map[string][]string](t, rec)
	if len(list["datasets"]) != 1 || list["datasets"][0] != "alpha" {
		t.Errorf("datasets = %v", list["datasets"])
	}

	expectError(t, s.do(t, "POST", "/api/datasets", `{"name":"alpha"}`), http.StatusConflict, "ALREADY_EXISTS")
	expectError(t, s.do(t, "POST", "/api/datasets", `{"name":"no good"}`), http.StatusBadRequest, "INVALID_NAME")
	expectError(t, s.do(t, "POST", "/api/datasets", `{"name":`), http.StatusBadRequest, "INVALID_REQUEST")
}

func TestListEmpty(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "GET", "/api/datasets", "")
	if strings.TrimSpace(rec.Body.String()) != `{"datasets":[]}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAppend_Coalesces(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, "POST", "/api/datasets/demo/records", `{"role":"user","message":"hi","traits":{"trust":0.5}}`)
	first := decodeJSON[recordsBody](t, rec)
	if !first.OK || first.MatchesLastBlock || len(first.Records) != 1 {
		t.Errorf("first append = %+v", first)
	}

	rec = s.do(t, "POST", "/api/datasets/demo/records", `{"role":"ai","message":"hello","traits":{"trust":"0.50"}}`)
	second := decodeJSON[recordsBody](t, rec)
	if !second.MatchesLastBlock || len(second.Records) != 1 || len(second.Records[0].Conversation) != 2 {
		t.Errorf("second append = %+v", second)
	}

	rec = s.do(t, "POST", "/api/datasets/demo/records", `{"role":"user","message":"bye","nsfw":"1"}`)
	third := decodeJSON[recordsBody](t, rec)
	if third.MatchesLastBlock || len(third.Records) != 2 || third.Records[1].NSFW != 1 {
		t.Errorf("third append = %+v", third)
	}
}

func TestAppend_NSFWNonNumericIsZero(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "POST", "/api/datasets/demo/records", `{"role":"user","message":"hi","nsfw":"lots"}`)
	body := decodeJSON[recordsBody](t, rec)
	if len(body.Records) != 1 || body.Records[0].NSFW != 0 {
		t.Errorf("records = %+v", body.Records)
	}
}

func TestAppend_Validation(t *testing.T) {
	s := setupTest(t)

	e := expectError(t, s.do(t, "POST", "/api/datasets/demo/records", `{"role":"user"}`), http.StatusBadRequest, "VALIDATION_ERROR")
	if e.Error != "Both role and message are required" {
		t.Errorf("error = %q", e.Error)
	}
	expectError(t, s.do(t, "POST", "/api/datasets/demo/records", `{"role":"narrator","message":"x"}`), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, s.do(t, "POST", "/api/datasets/bad.name/records", `{"role":"user","message":"x"}`), http.StatusBadRequest, "INVALID_NAME")

	list := decodeJSON[map[string][]string](t, s.do(t, "GET", "/api/datasets", ""))
	if len(list["datasets"]) != 0 {
		t.Errorf("failed appends created datasets: %v", list["datasets"])
	}
}

func TestAppend_Encrypt(t *testing.T) {
	s := setupTest(t)
	body := `{"role":"user","message":"secret","encrypt":true}`

	expectError(t, s.do(t, "POST", "/api/datasets/demo/records", body), http.StatusBadRequest, "INVALID_REQUEST")

	s.cfg.Passphrase = "pw"
	rec := s.do(t, "POST", "/api/datasets/demo/records", body)
	out := decodeJSON[recordsBody](t, rec)
	text := out.Records[0].Conversation[0].Text
	if !codec.LooksEncrypted(text) {
		t.Fatalf("stored text %q is not a token", text)
	}
	plain, err := codec.Decrypt(text, "pw")
	if err != nil || plain != "secret" {
		t.Errorf("Decrypt = %q, %v", plain, err)
	}
}

func TestRecords_MissingDatasetIsEmpty(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "GET", "/api/datasets/nothing/records", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"records":[]}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestEdit(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)

	rec := s.do(t, "PUT", "/api/datasets/demo/records/1", `{"response":"see you"}`)
	out := decodeJSON[recordsBody](t, rec)
	if !out.Success || out.Records[1].Response() != "see you" || out.Records[1].Prompt() != "bye" {
		t.Errorf("edit = %+v", out)
	}

	expectError(t, s.do(t, "PUT", "/api/datasets/demo/records/1", `{}`), http.StatusBadRequest, "VALIDATION_ERROR")

	// Leading digits address the slot, as they always have.
	out = decodeJSON[recordsBody](t, s.do(t, "PUT", "/api/datasets/demo/records/0abc", `{"prompt":"hey"}`))
	if out.Records[0].Prompt() != "hey" {
		t.Errorf("prompt = %q, want hey", out.Records[0].Prompt())
	}
}

func TestIndexErrors(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)

	tests := []struct {
		name, method, target, body string
	}{
		{"edit past end", "PUT", "/api/datasets/demo/records/2", `{"prompt":"x"}`},
		{"edit negative", "PUT", "/api/datasets/demo/records/-1", `{"prompt":"x"}`},
		{"edit not a number", "PUT", "/api/datasets/demo/records/abc", `{"prompt":"x"}`},
		{"edit trailing junk past end", "PUT", "/api/datasets/demo/records/2x", `{"prompt":"x"}`},
		{"truncate past end", "DELETE", "/api/datasets/demo/records/2", ""},
		{"truncate missing dataset", "DELETE", "/api/datasets/ghost/records/0", ""},
		{"branch past end", "POST", "/api/datasets/demo/branch", `{"index":2,"newName":"b"}`},
		{"branch no index", "POST", "/api/datasets/demo/branch", `{"newName":"b"}`},
		{"branch bad string index", "POST", "/api/datasets/demo/branch", `{"index":"x","newName":"b"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := expectError(t, s.do(t, tc.method, tc.target, tc.body), http.StatusBadRequest, "INDEX_OUT_OF_RANGE")
			if e.Error != "Invalid index" {
				t.Errorf("error = %q, want %q", e.Error, "Invalid index")
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)

	out := decodeJSON[recordsBody](t, s.do(t, "DELETE", "/api/datasets/demo/records/1", ""))
	if !out.Success || len(out.Records) != 1 {
		t.Errorf("truncate = %+v", out)
	}
	expectError(t, s.do(t, "DELETE", "/api/datasets/demo/records/1", ""), http.StatusBadRequest, "INDEX_OUT_OF_RANGE")
}

func TestBranch(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)

	out := decodeJSON[recordsBody](t, s.do(t, "POST", "/api/datasets/demo/branch", `{"index":"0","newName":"demo-b"}`))
	if !out.Success || len(out.Records) != 1 {
		t.Fatalf("branch = %+v", out)
	}

	copied := decodeJSON[recordsBody](t, s.do(t, "GET", "/api/datasets/demo-b/records", ""))
	if len(copied.Records) != 1 || copied.Records[0].Prompt() != "hi" {
		t.Errorf("branched records = %+v", copied.Records)
	}
	source := decodeJSON[recordsBody](t, s.do(t, "GET", "/api/datasets/demo/records", ""))
	if len(source.Records) != 2 {
		t.Errorf("source changed: %d records", len(source.Records))
	}

	expectError(t, s.do(t, "POST", "/api/datasets/demo/branch", `{"index":0,"newName":"demo-b"}`), http.StatusConflict, "ALREADY_EXISTS")
	expectError(t, s.do(t, "POST", "/api/datasets/demo/branch", `{"index":0,"newName":"a/b"}`), http.StatusBadRequest, "INVALID_NAME")
}

func TestExport(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)

	rec := s.do(t, "GET", "/api/datasets/demo/export?format=jsonl", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="demo.jsonl"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n"); len(lines) != 2 {
		t.Errorf("got %d lines, want 2", len(lines))
	}

	rec = s.do(t, "GET", "/api/datasets/demo/export", "")
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("default format Content-Type = %q", rec.Header().Get("Content-Type"))
	}

	expectError(t, s.do(t, "GET", "/api/datasets/demo/export?format=csv", ""), http.StatusBadRequest, "INVALID_REQUEST")
}

func TestStats(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)

	stats := decodeJSON[map[string]any](t, s.do(t, "GET", "/api/datasets/demo/stats", ""))
	if stats["blocks"] != float64(2) || stats["turns"] != float64(3) {
		t.Errorf("stats = %v", stats)
	}
}

// --- Viewer ---

func TestViewer_RootRedirects(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "GET", "/", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/datasets" {
		t.Errorf("status = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestViewer_List(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, "GET", "/datasets", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No datasets yet") {
		t.Errorf("empty list: status %d", rec.Code)
	}

	seedDemo(t, s)
	rec = s.do(t, "GET", "/datasets", "")
	body := rec.Body.String()
	if !strings.Contains(body, `href="/datasets/demo"`) {
		t.Error("expected link to demo dataset")
	}
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
}

func TestViewer_Transcript(t *testing.T) {
	s := setupTest(t)
	seedDemo(t, s)
	s.cfg.Passphrase = "pw"
	s.do(t, "POST", "/api/datasets/demo/records", `{"role":"ai","message":"hidden","mood":"sad","encrypt":true}`)

	rec := s.do(t, "GET", "/datasets/demo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>hello</strong>") {
		t.Error("expected markdown-rendered turn text")
	}
	if !strings.Contains(body, "trust 0.5") {
		t.Error("expected trait summary")
	}
	if strings.Contains(body, "hidden") {
		t.Error("encrypted turn text should not be rendered")
	}
	if !strings.Contains(body, `class="text encrypted"`) {
		t.Error("expected encrypted placeholder")
	}
}

func TestViewer_TranscriptMissing(t *testing.T) {
	s := setupTest(t)

	rec := s.do(t, "GET", "/datasets/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected error page")
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "GET", "/api/healthz", "")
	for _, h := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestStaticAssets(t *testing.T) {
	s := setupTest(t)
	rec := s.do(t, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestBodyIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{`2`, 2},
		{`"3"`, 3},
		{`1.9`, 1},
		{`"x"`, -1},
		{`"4abc"`, 4},
		{`" 5"`, 5},
		{`"1.7"`, 1},
		{`"-2"`, -2},
		{`"99999999999"`, -1},
		{`null`, -1},
		{``, -1},
		{`[]`, -1},
	}
	for _, tc := range tests {
		if got := bodyIndex(json.RawMessage(tc.in)); got != tc.want {
			t.Errorf("bodyIndex(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"0", 0},
		{"12", 12},
		{"1abc", 1},
		{"3.9", 3},
		{"-1", -1},
		{"+2", 2},
		{"abc", -1},
		{"", -1},
		{"-", -1},
		{"4294967296", -1},
	}
	for _, tc := range tests {
		if got := parseIndex(tc.in); got != tc.want {
			t.Errorf("parseIndex(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFlexNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`1`, 1},
		{`"2"`, 2},
		{`" 3 "`, 3},
		{`"nope"`, 0},
		{`null`, 0},
		{`true`, 1},
		{`false`, 0},
		{`{}`, 0},
	}
	for _, tc := range tests {
		var n flexNumber
		if err := json.Unmarshal([]byte(tc.in), &n); err != nil {
			t.Errorf("Unmarshal(%s): %v", tc.in, err)
			continue
		}
		if float64(n) != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, n, tc.want)
		}
	}
}
