// Command leadworker consumes import tasks from the RabbitMQ queue and runs
// each spooled file through the full pipeline.
//
// Files that cannot be read or parsed, and requests the pipeline rejects,
// fail permanently; store and broker hiccups are retried by the queue with
// a linear backoff.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"leadetl/internal/bootstrap"
	"leadetl/internal/commit"
	"leadetl/internal/config"
	"leadetl/internal/fieldmap"
	"leadetl/internal/intake"
	"leadetl/internal/pipeline"
	"leadetl/internal/queue"
	"leadetl/internal/source"
	"leadetl/internal/storage"
)

// worker runs one task at a time for the consumer.
type worker struct {
	p   *pipeline.Pipeline
	src *source.Fetcher
	// keep leaves the spooled file in place after a successful import.
	keep bool
}

func (w *worker) handle(ctx context.Context, t queue.Task) error {
	fetched, data, err := w.src.Fetch(ctx, t.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, source.ErrTooLarge) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("worker: fetch %s: %w", t.FilePath, err)
	}
	name := t.FileName
	if name == "" {
		name = fetched
	}
	f, err := intake.Parse(name, data)
	if err != nil {
		return queue.Permanent(err)
	}

	rep, err := w.p.Run(ctx, f, pipeline.RunRequest{
		SupplierID: t.SupplierID,
		LeadCost:   t.LeadCost,
		FileName:   name,
		Manual:     t.Mapping,
		Tags:       t.Tags,
	})
	switch {
	case errors.Is(err, fieldmap.ErrInvalidOverride),
		errors.Is(err, commit.ErrMissingSupplier),
		errors.Is(err, commit.ErrNoRecords):
		return queue.Permanent(err)
	case err != nil:
		return err
	}

	if c := rep.Commit; c != nil && c.Status != storage.StatusCompleted {
		// A retry resumes the batch and only writes the missing rows.
		return fmt.Errorf("worker: batch %s %s: %s: %s", c.BatchID, c.Status, c.Message, strings.Join(c.Errors, "; "))
	}
	if !w.keep && !source.IsURL(t.FilePath) {
		if err := os.Remove(t.FilePath); err != nil {
			log.Printf("worker: remove %s: %v", t.FilePath, err)
		}
	}
	return nil
}

// Deps holds the boundaries run needs so tests can swap them.
type Deps struct {
	OpenStore func(ctx context.Context, cfg config.Pipeline) (storage.Store, error)
	Dial      func(cfg queue.Config) (consumer, error)
}

type consumer interface {
	Consume(ctx context.Context, h queue.Handler) error
	Close() error
}

func defaultDeps() Deps {
	return Deps{
		OpenStore: bootstrap.OpenStore,
		Dial:      func(cfg queue.Config) (consumer, error) { return queue.Dial(cfg) },
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, deps Deps) error {
	flags := flag.NewFlagSet("leadworker", flag.ContinueOnError)
	keep := flags.Bool("keep-files", false, "keep spooled files after a successful import")

	env, cfg, err := bootstrap.Load(flags, getenv, args, os.Stderr)
	if err != nil {
		return err
	}
	if env.Validate {
		log.Printf("Configuration is valid: %v", env.ConfigPath)
		return nil
	}
	if cfg.Queue.URL == "" {
		return fmt.Errorf("queue url is required (-amqp-url or LEADETL_AMQP_URL)")
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
	q, err := deps.Dial(queue.Config{
		URL:        cfg.Queue.URL,
		Queue:      cfg.Queue.Name,
		Prefetch:   cfg.Queue.Prefetch,
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: time.Duration(cfg.Queue.RetryDelay),
	})
	if err != nil {
		return err
	}
	defer q.Close()

	log.Printf("worker: job=%s storage=%s queue=%s workers=%d", cfg.Job, cfg.Storage.Kind, cfg.Queue.Name, cfg.Runtime.Workers)
	w := &worker{p: p, src: source.New(source.Config{MaxBytes: int64(cfg.HTTP.MaxUploadMB) << 20}), keep: *keep}
	return q.Consume(ctx, w.handle)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Getenv, defaultDeps()); err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Printf("worker: %v", err)
		stop()
		os.Exit(1)
	}
}
