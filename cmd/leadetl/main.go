// Command leadetl runs lead files through the ingestion pipeline from the
// command line:
//
//	leadetl -config pipeline.json -supplier acme -cost 12.50 leads.csv more.xlsx
//
// Each file is parsed, mapped, deduplicated, cleaned, normalized, tagged,
// checked against the do-not-contact list and committed; one JSON report
// per file is written to -out (stdout by default). With -enqueue the files
// are published to the import queue for leadworker instead. Inputs may be
// local paths or http(s) URLs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"leadetl/internal/bootstrap"
	"leadetl/internal/config"
	"leadetl/internal/dnc"
	"leadetl/internal/intake"
	"leadetl/internal/pipeline"
	"leadetl/internal/queue"
	"leadetl/internal/source"
	"leadetl/internal/storage"
)

// Deps holds the boundaries run needs so tests can swap them.
type Deps struct {
	OpenStore func(ctx context.Context, cfg config.Pipeline) (storage.Store, error)
	Dial      func(cfg queue.Config) (publisher, error)
	Stdout    io.Writer
}

type publisher interface {
	Publish(ctx context.Context, t queue.Task) (queue.Task, error)
	Close() error
}

func defaultDeps() Deps {
	return Deps{
		OpenStore: bootstrap.OpenStore,
		Dial:      func(cfg queue.Config) (publisher, error) { return queue.Dial(cfg) },
		Stdout:    os.Stdout,
	}
}

type options struct {
	supplier string
	cost     float64
	tags     string
	mapping  string
	dryRun   bool
	enqueue  bool
	dncList  string
	out      string
}

func (o options) request() (pipeline.RunRequest, error) {
	req := pipeline.RunRequest{SupplierID: o.supplier, LeadCost: o.cost, DryRun: o.dryRun}
	if o.mapping != "" {
		if err := json.Unmarshal([]byte(o.mapping), &req.Manual); err != nil {
			return req, fmt.Errorf("-mapping must be a JSON object of header to field: %w", err)
		}
	}
	for _, t := range strings.Split(o.tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			req.Tags = append(req.Tags, t)
		}
	}
	return req, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, deps Deps) error {
	var o options
	flags := flag.NewFlagSet("leadetl", flag.ContinueOnError)
	flags.StringVar(&o.supplier, "supplier", "", "supplier id the leads were bought from")
	flags.Float64Var(&o.cost, "cost", 0, "per-lead cost applied when a row has none")
	flags.StringVar(&o.tags, "tags", "", "comma-separated tags added to every lead")
	flags.StringVar(&o.mapping, "mapping", "", `manual header mapping as JSON, e.g. {"E-Mail":"email"}`)
	flags.BoolVar(&o.dryRun, "dry-run", false, "run every stage but do not commit")
	flags.BoolVar(&o.enqueue, "enqueue", false, "publish the files to the import queue instead of running them")
	flags.StringVar(&o.dncList, "dnc-list", "", "file of emails/phones to add to the do-not-contact list first")
	flags.StringVar(&o.out, "out", "", "write reports to this file instead of stdout")

	env, cfg, err := bootstrap.Load(flags, getenv, args, os.Stderr)
	if err != nil {
		return err
	}
	if env.Validate {
		log.Printf("Configuration is valid: %v", env.ConfigPath)
		return nil
	}
	files := flags.Args()
	if len(files) == 0 && o.dncList == "" {
		return fmt.Errorf("no input files")
	}
	req, err := o.request()
	if err != nil {
		return err
	}

	flush := bootstrap.Metrics(cfg)
	defer flush()

	if o.enqueue {
		return enqueue(ctx, cfg, deps, req, files)
	}

	store, err := deps.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if o.dncList != "" {
		if err := loadDNC(ctx, store, o.dncList); err != nil {
			return err
		}
	}

	p, err := pipeline.New(cfg, store)
	if err != nil {
		return err
	}

	out := deps.Stdout
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("create %s: %w", o.out, err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	src := source.New(source.Config{MaxBytes: int64(cfg.HTTP.MaxUploadMB) << 20})
	var failed []string
	for _, path := range files {
		start := time.Now()
		rep, err := runFile(ctx, p, src, path, req)
		if err != nil {
			log.Printf("leadetl: %s: %v", path, err)
			failed = append(failed, path)
			continue
		}
		if env.Verbose {
			log.Printf("leadetl: %s done in %s", path, time.Since(start).Truncate(time.Millisecond))
		}
		if err := enc.Encode(struct {
			File string `json:"file"`
			pipeline.Report
		}{File: path, Report: rep}); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		if rep.Stats.Status == storage.StatusFailed || rep.Stats.Status == storage.StatusPartial {
			failed = append(failed, path)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files did not fully commit: %s", len(failed), len(files), strings.Join(failed, ", "))
	}
	return nil
}

func runFile(ctx context.Context, p *pipeline.Pipeline, src *source.Fetcher, ref string, req pipeline.RunRequest) (pipeline.Report, error) {
	name, data, err := src.Fetch(ctx, ref)
	if err != nil {
		return pipeline.Report{}, err
	}
	f, err := intake.Parse(name, data)
	if err != nil {
		return pipeline.Report{}, err
	}
	return p.Run(ctx, f, req)
}

func loadDNC(ctx context.Context, reg dnc.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dnc list: %w", err)
	}
	defer f.Close()
	st, err := dnc.LoadList(ctx, reg, f, "list:"+filepath.Base(path))
	if err != nil {
		return err
	}
	log.Printf("leadetl: dnc list %s emails=%d phones=%d skipped=%d", path, st.Emails, st.Phones, st.Skipped)
	return nil
}

func enqueue(ctx context.Context, cfg config.Pipeline, deps Deps, req pipeline.RunRequest, files []string) error {
	if cfg.Queue.URL == "" {
		return fmt.Errorf("-enqueue needs a queue url (-amqp-url or LEADETL_AMQP_URL)")
	}
	q, err := deps.Dial(queue.Config{URL: cfg.Queue.URL, Queue: cfg.Queue.Name, Prefetch: cfg.Queue.Prefetch})
	if err != nil {
		return err
	}
	defer q.Close()

	for _, ref := range files {
		name := ""
		if !source.IsURL(ref) {
			abs, err := filepath.Abs(ref)
			if err != nil {
				return err
			}
			if _, err := os.Stat(abs); err != nil {
				return err
			}
			ref, name = abs, filepath.Base(abs)
		}
		t, err := q.Publish(ctx, queue.Task{
			FilePath:   ref,
			FileName:   name,
			SupplierID: req.SupplierID,
			LeadCost:   req.LeadCost,
			Tags:       req.Tags,
			Mapping:    req.Manual,
		})
		if err != nil {
			return err
		}
		log.Printf("leadetl: queued %s as task %s", ref, t.ID)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Getenv, defaultDeps()); err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Printf("leadetl: %v", err)
		stop()
		os.Exit(1)
	}
}
