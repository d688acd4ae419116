// Package config defines the JSON-serializable configuration model for the
// lead ingestion pipeline, plus small helpers for typed access to free-form
// option bags and for layering rule overrides.
//
// A pipeline file looks like (trimmed):
//
//	{
//	  "job": "supplier-acme",
//	  "storage":  { "kind": "postgres", "dsn": "postgres://..." },
//	  "mapping":  { "threshold": 0.7 },
//	  "dedupe":   { "concurrency": 8 },
//	  "cleaning": { "email": { "remove_invalid": false } },
//	  "tagging":  { "cost": { "enabled": false } },
//	  "runtime":  { "workers": 4, "chunk_size": 100 }
//	}
//
// Decoding uses the standard library; Options gives typed access to the
// loosely shaped parts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run for logs and metrics labels.
	Job string `json:"job"`

	Storage Storage     `json:"storage"`
	Mapping MappingConf `json:"mapping"`
	Dedupe  DedupeConf  `json:"dedupe"`
	DNC     DNCConf     `json:"dnc"`
	Runtime RuntimeConf `json:"runtime"`
	Metrics MetricsConf `json:"metrics"`
	Queue   QueueConf   `json:"queue"`
	HTTP    HTTPConf    `json:"http"`

	// Cleaning, Normalization and Tagging carry per-category rule overrides.
	// Each key is a rule category ("email", "phone", "cost", ...) and each value
	// is shallow-merged over that category's defaults.
	Cleaning      map[string]Options `json:"cleaning"`
	Normalization map[string]Options `json:"normalization"`
	Tagging       map[string]Options `json:"tagging"`

	// SheetTags are added to every record of the upload.
	SheetTags []string `json:"sheet_tags"`
}

// Storage selects the lead store backend.
type Storage struct {
	// Kind selects the backend: "postgres", "sqlite", "mysql", "mssql", "memory".
	Kind string `json:"kind"`
	// DSN is the backend connection string.
	DSN string `json:"dsn"`
	// AutoMigrate creates the lead tables when they are missing.
	AutoMigrate bool `json:"auto_migrate"`
	// MaxConns caps the connection pool; 0 keeps the driver default.
	MaxConns int `json:"max_conns"`
}

// MappingConf tunes header mapping.
type MappingConf struct {
	Threshold float64 `json:"threshold"`
	// Dictionary replaces the variations of the listed fields.
	Dictionary Options `json:"dictionary"`
	// Manual pins header → field assignments over the automatic ones.
	Manual map[string]string `json:"manual"`
}

// DedupeConf tunes duplicate detection.
type DedupeConf struct {
	Concurrency int `json:"concurrency"`
	// FailClosed keeps records whose store lookup failed out of the clean set.
	FailClosed bool `json:"fail_closed"`
	// CheckStorePhones also looks up phones in the store. Off by default.
	CheckStorePhones bool `json:"check_store_phones"`
}

// DNCConf toggles the do-not-contact check.
type DNCConf struct {
	Enabled     bool `json:"enabled"`
	Concurrency int  `json:"concurrency"`
	// Exclude drops DNC matches from the commit instead of only counting them.
	Exclude bool `json:"exclude"`
}

// RuntimeConf controls concurrency and batching.
type RuntimeConf struct {
	Workers     int `json:"workers"`
	ChunkSize   int `json:"chunk_size"`
	PreviewRows int `json:"preview_rows"`
}

// MetricsConf selects the metrics backend.
type MetricsConf struct {
	// Backend is "none", "prometheus" or "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr"`
	Namespace      string `json:"namespace"`
}

// QueueConf configures the RabbitMQ import queue.
type QueueConf struct {
	URL        string   `json:"url"`
	Name       string   `json:"name"`
	Prefetch   int      `json:"prefetch"`
	MaxRetries int      `json:"max_retries"`
	RetryDelay Duration `json:"retry_delay"`
	// SpoolDir holds uploads handed to workers; it must be shared with them.
	SpoolDir string `json:"spool_dir"`
}

// HTTPConf configures the HTTP API.
type HTTPConf struct {
	Addr        string `json:"addr"`
	MaxUploadMB int    `json:"max_upload_mb"`
}

// Default returns a pipeline with every default filled in.
func Default() Pipeline {
	var p Pipeline
	p.ApplyDefaults()
	return p
}

// ApplyDefaults fills zero values with defaults. It never overwrites values
// that were set explicitly.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = "leadetl"
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = "memory"
	}
	if p.Mapping.Threshold == 0 {
		p.Mapping.Threshold = 0.7
	}
	if p.Dedupe.Concurrency == 0 {
		p.Dedupe.Concurrency = 8
	}
	if p.DNC.Concurrency == 0 {
		p.DNC.Concurrency = 8
	}
	if p.Runtime.Workers == 0 {
		p.Runtime.Workers = 4
	}
	if p.Runtime.ChunkSize == 0 {
		p.Runtime.ChunkSize = 100
	}
	if p.Runtime.PreviewRows == 0 {
		p.Runtime.PreviewRows = 10
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
	if p.Queue.Name == "" {
		p.Queue.Name = "lead_imports"
	}
	if p.Queue.Prefetch == 0 {
		p.Queue.Prefetch = 1
	}
	if p.Queue.MaxRetries == 0 {
		p.Queue.MaxRetries = 3
	}
	if p.Queue.RetryDelay == 0 {
		p.Queue.RetryDelay = Duration(5 * time.Second)
	}
	if p.HTTP.Addr == "" {
		p.HTTP.Addr = ":8080"
	}
	if p.HTTP.MaxUploadMB == 0 {
		p.HTTP.MaxUploadMB = 32
	}
}

// LoadFile decodes a pipeline file and applies defaults. Unknown JSON keys are
// rejected so typos surface early.
func LoadFile(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var p Pipeline
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	p.ApplyDefaults()
	return p, nil
}

// Duration is a time.Duration that decodes from a JSON string ("5s") or a
// number of seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		dd, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", x, err)
		}
		*d = Duration(dd)
	default:
		return fmt.Errorf("config: invalid duration %s", string(b))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
