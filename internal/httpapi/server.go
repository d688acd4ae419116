// Package httpapi exposes the ingestion stages over HTTP.
//
// Routes:
//
//	POST /api/upload                  → parse + map a file for review
//	POST /api/run                     → full run of a file (optionally dry)
//	POST /api/imports                 → spool a file and enqueue it for workers
//	POST /api/duplicates/check        → clean/duplicate partition of records
//	GET  /api/rules/{stage}           → current rules of a stage
//	POST /api/rules/{stage}/process   → run one stage over records
//	POST /api/commit                  → persist reviewed records
//	GET  /api/batches/{id}            → batch status and progress
//	GET  /healthz                     → liveness
//
// Every response carries "success"; failures add "error" and "details".
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"leadetl/internal/pipeline"
	"leadetl/internal/queue"
	"leadetl/internal/storage"
)

// Enqueuer hands import tasks to workers.
type Enqueuer interface {
	Publish(ctx context.Context, t queue.Task) (queue.Task, error)
}

// Config controls server startup.
type Config struct {
	Addr string
	// MaxUploadBytes caps every request body, multipart uploads and JSON
	// alike.
	MaxUploadBytes int64
	// SpoolDir receives files accepted by /api/imports.
	SpoolDir string
}

// Server serves the API for one configured pipeline.
type Server struct {
	cfg   Config
	p     *pipeline.Pipeline
	store storage.Store
	queue Enqueuer
	mux   *http.ServeMux
}

// NewServer wires the routes. store and q may be nil; the routes that need
// them then answer 503.
func NewServer(cfg Config, p *pipeline.Pipeline, store storage.Store, q Enqueuer) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	s := &Server{cfg: cfg, p: p, store: store, queue: q, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
	s.mux.HandleFunc("POST /api/imports", s.handleImport)
	s.mux.HandleFunc("POST /api/duplicates/check", s.handleDuplicates)
	s.mux.HandleFunc("GET /api/rules/{stage}", s.handleRules)
	s.mux.HandleFunc("POST /api/rules/{stage}/process", s.handleProcess)
	s.mux.HandleFunc("POST /api/commit", s.handleCommit)
	s.mux.HandleFunc("GET /api/batches/{id}", s.handleBatch)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf("http: listening on %s", s.cfg.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ok",
		"store":   s.store != nil,
		"queue":   s.queue != nil,
	})
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := errorBody{Error: msg}
	if err != nil {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeDecodeError answers a failed decodeBody: 413 when the body was cut off
// at the size cap, 400 otherwise.
func writeDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body", err)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("http: %s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(start).Truncate(time.Microsecond))
	})
}
