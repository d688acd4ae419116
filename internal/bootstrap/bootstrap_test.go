package bootstrap

import (
	"bytes"
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"leadetl/internal/config"
	"leadetl/internal/metrics"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pipeline.json")
	if err := os.WriteFile(path, []byte(`{"job":"acme","storage":{"kind":"memory"},"runtime":{"workers":2}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	supplier := fs.String("supplier", "", "")
	var stderr bytes.Buffer
	e, p, err := Load(fs, env(map[string]string{"LEADETL_WORKERS": "6"}), []string{"-config", path, "-supplier", "s1", "in.csv"}, &stderr)
	if err != nil {
		t.Fatalf("Load: %v (%s)", err, stderr.String())
	}
	if p.Job != "acme" || p.Runtime.Workers != 6 || p.Runtime.ChunkSize != 100 {
		t.Fatalf("pipeline = %+v", p)
	}
	if *supplier != "s1" || e.ConfigPath != path || fs.Arg(0) != "in.csv" {
		t.Fatalf("flags: supplier=%q env=%+v args=%v", *supplier, e, fs.Args())
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var stderr bytes.Buffer
	_, _, err := Load(fs, env(nil), []string{"-storage", "postgres"}, &stderr)
	if err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
	if !strings.Contains(stderr.String(), "storage.dsn") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	s, err := OpenStore(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	cfg := config.Default()
	cfg.Storage.Kind = "oracle"
	if _, err := OpenStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

// Metrics swaps the process-wide backend, so this test is not parallel.
func TestMetrics_Prometheus(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Metrics.Backend = "prometheus"
	cfg.Metrics.PushgatewayURL = srv.URL
	flush := Metrics(cfg)
	metrics.RecordStep(cfg.Job, "map", nil, time.Millisecond)
	flush()

	if pushes.Load() != 1 {
		t.Fatalf("pushes = %d, want 1", pushes.Load())
	}
}

func TestMetrics_Disabled(t *testing.T) {
	cfg := config.Default()
	Metrics(cfg)()

	cfg.Metrics.Backend = "prometheus"
	cfg.Metrics.PushgatewayURL = ""
	// Init failure falls back to a no-op flush.
	Metrics(cfg)()
}
