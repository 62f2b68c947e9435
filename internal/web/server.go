package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the dataset API and transcript viewer.
func NewServer(st store.Store, cfg *config.Config, version string) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:           NewHandler(st, cfg, version),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed handler, wrapped with security headers.
func NewHandler(st store.Store, cfg *config.Config, version string) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		st:       st,
		cfg:      cfg,
		renderer: NewRenderer(templateSub, version),
	}

	mux := http.NewServeMux()

	// JSON API
	mux.HandleFunc("GET /api/healthz", h.HandleHealth)
	mux.HandleFunc("GET /api/datasets", h.HandleListDatasets)
	mux.HandleFunc("POST /api/datasets", h.HandleCreateDataset)
	mux.HandleFunc("GET /api/datasets/{name}/records", h.HandleRecords)
	mux.HandleFunc("POST /api/datasets/{name}/records", h.HandleAppend)
	mux.HandleFunc("PUT /api/datasets/{name}/records/{index}", h.HandleEdit)
	mux.HandleFunc("DELETE /api/datasets/{name}/records/{index}", h.HandleTruncate)
	mux.HandleFunc("POST /api/datasets/{name}/branch", h.HandleBranch)
	mux.HandleFunc("GET /api/datasets/{name}/export", h.HandleExport)
	mux.HandleFunc("GET /api/datasets/{name}/stats", h.HandleStats)

	// Viewer
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/datasets", http.StatusFound)
	})
	mux.HandleFunc("GET /datasets", h.HandleDatasetsPage)
	mux.HandleFunc("GET /datasets/{name}", h.HandleTranscriptPage)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("convoset running at http://%s", srv.Addr)

	if strings.HasPrefix(srv.Addr, "0.0.0.0:") || strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
