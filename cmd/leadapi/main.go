// Command leadapi serves the ingestion HTTP API. When a queue url is
// configured, POST /api/imports hands files to leadworker instances.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadetl/internal/bootstrap"
	"leadetl/internal/config"
	"leadetl/internal/httpapi"
	"leadetl/internal/pipeline"
	"leadetl/internal/queue"
	"leadetl/internal/storage"
)

// Deps holds the boundaries run needs so tests can swap them.
type Deps struct {
	OpenStore func(ctx context.Context, cfg config.Pipeline) (storage.Store, error)
	Dial      func(cfg queue.Config) (publisher, error)
	Serve     func(ctx context.Context, s *httpapi.Server) error
}

type publisher interface {
	httpapi.Enqueuer
	Close() error
}

func defaultDeps() Deps {
	return Deps{
		OpenStore: bootstrap.OpenStore,
		Dial:      func(cfg queue.Config) (publisher, error) { return queue.Dial(cfg) },
		Serve:     func(ctx context.Context, s *httpapi.Server) error { return s.ListenAndServe(ctx) },
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, deps Deps) error {
	flags := flag.NewFlagSet("leadapi", flag.ContinueOnError)
	env, cfg, err := bootstrap.Load(flags, getenv, args, os.Stderr)
	if err != nil {
		return err
	}
	if env.Validate {
		log.Printf("Configuration is valid: %v", env.ConfigPath)
		return nil
	}

	flush := bootstrap.Metrics(cfg)
	defer flush()

	store, err := deps.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := pipeline.New(cfg, store)
	if err != nil {
		return err
	}

	// A nil publisher must stay a nil interface so the server answers 503.
	var q httpapi.Enqueuer
	if cfg.Queue.URL != "" {
		pub, err := deps.Dial(queue.Config{
			URL:        cfg.Queue.URL,
			Queue:      cfg.Queue.Name,
			Prefetch:   cfg.Queue.Prefetch,
			MaxRetries: cfg.Queue.MaxRetries,
			RetryDelay: time.Duration(cfg.Queue.RetryDelay),
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		q = pub
	}

	srv := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) << 20,
		SpoolDir:       cfg.Queue.SpoolDir,
	}, p, store, q)
	log.Printf("api: job=%s storage=%s queue=%t", cfg.Job, cfg.Storage.Kind, q != nil)
	return deps.Serve(ctx, srv)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Getenv, defaultDeps()); err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Printf("api: %v", err)
		stop()
		os.Exit(1)
	}
}
