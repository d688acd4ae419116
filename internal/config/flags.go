package config

import (
	"flag"
	"strconv"
	"strings"
)

// Env holds process-level settings sourced from command-line flags with
// environment-variable fallbacks. Non-empty values override the matching
// pipeline file fields via Apply.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags override the seeded defaults.
//  3. The result overrides the pipeline file.
type Env struct {
	ConfigPath     string
	StorageKind    string
	DSN            string
	MetricsBackend string
	PushgatewayURL string
	DatadogAddr    string
	QueueURL       string
	HTTPAddr       string
	Workers        int
	Validate       bool
	Verbose        bool
}

// LoadFromArgs defines the shared flags on fs, seeds them from getenv, and
// parses args. Callers may register command-specific flags on fs before
// calling. The parse error is returned so callers can exit non-zero.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (*Env, error) {
	e := &Env{}

	envOr := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOr := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	boolEnvOr := func(k string, d bool) bool {
		switch strings.ToLower(getenv(k)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}

	fs.StringVar(&e.ConfigPath, "config", envOr("LEADETL_CONFIG", ""), "Path to pipeline JSON config")
	fs.StringVar(&e.StorageKind, "storage", getenv("LEADETL_STORAGE"), "Storage kind override: memory, postgres, sqlite, mysql, mssql")
	fs.StringVar(&e.DSN, "dsn", getenv("LEADETL_DSN"), "Storage DSN override")
	fs.StringVar(&e.MetricsBackend, "metrics-backend", getenv("LEADETL_METRICS_BACKEND"), "Metrics backend: none, prometheus, datadog")
	fs.StringVar(&e.PushgatewayURL, "pushgateway-url", getenv("LEADETL_PUSHGATEWAY_URL"), "Prometheus Pushgateway URL")
	fs.StringVar(&e.DatadogAddr, "datadog-addr", getenv("LEADETL_DATADOG_ADDR"), "DogStatsD address")
	fs.StringVar(&e.QueueURL, "amqp-url", getenv("LEADETL_AMQP_URL"), "RabbitMQ URL")
	fs.StringVar(&e.HTTPAddr, "addr", getenv("LEADETL_HTTP_ADDR"), "HTTP listen address")
	fs.IntVar(&e.Workers, "workers", intEnvOr("LEADETL_WORKERS", 0), "Per-record worker count override")
	fs.BoolVar(&e.Validate, "validate", boolEnvOr("LEADETL_VALIDATE", false), "Validate config and exit")
	fs.BoolVar(&e.Verbose, "v", boolEnvOr("LEADETL_VERBOSE", false), "Verbose logging")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return e, nil
}

// Pipeline loads the pipeline file named by ConfigPath (or defaults when
// empty) and applies the overrides carried by e.
func (e *Env) Pipeline() (Pipeline, error) {
	p := Default()
	if e.ConfigPath != "" {
		var err error
		if p, err = LoadFile(e.ConfigPath); err != nil {
			return Pipeline{}, err
		}
	}
	e.Apply(&p)
	return p, nil
}

// Apply copies every non-empty override onto p.
func (e *Env) Apply(p *Pipeline) {
	if e.StorageKind != "" {
		p.Storage.Kind = e.StorageKind
	}
	if e.DSN != "" {
		p.Storage.DSN = e.DSN
	}
	if e.MetricsBackend != "" {
		p.Metrics.Backend = e.MetricsBackend
	}
	if e.PushgatewayURL != "" {
		p.Metrics.PushgatewayURL = e.PushgatewayURL
	}
	if e.DatadogAddr != "" {
		p.Metrics.DatadogAddr = e.DatadogAddr
	}
	if e.QueueURL != "" {
		p.Queue.URL = e.QueueURL
	}
	if e.HTTPAddr != "" {
		p.HTTP.Addr = e.HTTPAddr
	}
	if e.Workers > 0 {
		p.Runtime.Workers = e.Workers
	}
}
