// Package bootstrap holds the startup steps the binaries share: flag and
// file configuration, metrics backend selection and opening the store.
package bootstrap

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"

	"leadetl/internal/config"
	"leadetl/internal/metrics"
	"leadetl/internal/metrics/datadog"
	"leadetl/internal/metrics/prompush"
	"leadetl/internal/storage"

	// register all backends with the storage factory.
	_ "leadetl/internal/storage/all"
)

// Load parses args into fs (callers register their own flags first), loads
// the pipeline file with the flag and env overrides applied, and validates
// it. Issues are written to stderr; an error-severity issue fails the load.
func Load(fs *flag.FlagSet, getenv func(string) string, args []string, stderr io.Writer) (*config.Env, config.Pipeline, error) {
	env, err := config.LoadFromArgs(fs, getenv, args)
	if err != nil {
		return nil, config.Pipeline{}, err
	}
	p, err := env.Pipeline()
	if err != nil {
		return nil, config.Pipeline{}, err
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err := config.FirstError(issues); err != nil {
		return nil, config.Pipeline{}, fmt.Errorf("configuration is invalid: %w", err)
	}
	return env, p, nil
}

// Metrics installs the backend named by cfg.Metrics and returns the function
// that flushes (and closes) it at exit. A backend that fails to start is
// logged and metrics stay disabled.
func Metrics(cfg config.Pipeline) func() {
	var b metrics.Backend
	var err error
	switch cfg.Metrics.Backend {
	case "prometheus":
		b, err = prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.DatadogAddr,
			Namespace:  cfg.Metrics.Namespace,
			GlobalTags: []string{"job:" + cfg.Job},
		})
	default:
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", cfg.Metrics.Backend, err)
		return func() {}
	}

	log.Printf("metrics: backend=%s job=%s", cfg.Metrics.Backend, cfg.Job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("metrics: close error: %v", err)
			}
		}
	}
}

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg config.Pipeline) (storage.Store, error) {
	s, err := storage.New(ctx, storage.Config{
		Kind:        cfg.Storage.Kind,
		DSN:         cfg.Storage.DSN,
		AutoMigrate: cfg.Storage.AutoMigrate,
		MaxConns:    cfg.Storage.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Storage.Kind, err)
	}
	return s, nil
}
