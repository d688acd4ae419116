package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "tagging.cost.ranges[1]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Path     string        `json:"path"`
	Message  string        `json:"message"`
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate p. Rule override contents are checked by the packages that own the
// rules when they are merged.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateMapping(p.Mapping)...)
	issues = append(issues, validateRuntime(p)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	issues = append(issues, validateQueue(p.Queue)...)

	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	}

	known := map[string]struct{}{
		"memory":   {},
		"postgres": {},
		"sqlite":   {},
		"mysql":    {},
		"mssql":    {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if s.Kind != "memory" && strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  fmt.Sprintf("storage kind %q requires a dsn", s.Kind),
		})
	}
	if s.MaxConns < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.max_conns",
			Message:  "max_conns must be >= 0",
		})
	}
	return issues
}

func validateMapping(m MappingConf) []Issue {
	var issues []Issue
	if m.Threshold <= 0 || m.Threshold > 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "mapping.threshold",
			Message:  fmt.Sprintf("threshold %.2f must be in (0, 1]", m.Threshold),
		})
	} else if m.Threshold < 0.5 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "mapping.threshold",
			Message:  "threshold below 0.5 maps unrelated headers",
		})
	}
	for h, f := range m.Manual {
		if strings.TrimSpace(h) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "mapping.manual",
				Message:  fmt.Sprintf("empty header mapped to %q", f),
			})
		}
	}
	return issues
}

func validateRuntime(p Pipeline) []Issue {
	var issues []Issue
	checks := []struct {
		path string
		v    int
	}{
		{"runtime.workers", p.Runtime.Workers},
		{"runtime.chunk_size", p.Runtime.ChunkSize},
		{"dedupe.concurrency", p.Dedupe.Concurrency},
		{"dnc.concurrency", p.DNC.Concurrency},
	}
	for _, c := range checks {
		if c.v <= 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     c.path,
				Message:  "must be > 0",
			})
		}
	}
	if p.Runtime.ChunkSize > 10000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.chunk_size",
			Message:  "very large micro-batches make partial failures expensive",
		})
	}
	if p.DNC.Exclude && !p.DNC.Enabled {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "dnc.exclude",
			Message:  "exclude has no effect while dnc.enabled is false",
		})
	}
	return issues
}

func validateMetrics(m MetricsConf) []Issue {
	switch m.Backend {
	case "", "none":
	case "prometheus":
		if m.PushgatewayURL == "" {
			return []Issue{{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "prometheus backend requires pushgateway_url",
			}}
		}
	case "datadog":
		if m.DatadogAddr == "" {
			return []Issue{{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			}}
		}
	default:
		return []Issue{{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q", m.Backend),
		}}
	}
	return nil
}

func validateQueue(q QueueConf) []Issue {
	var issues []Issue
	if q.URL != "" && !strings.HasPrefix(q.URL, "amqp://") && !strings.HasPrefix(q.URL, "amqps://") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "queue.url",
			Message:  "queue url must use the amqp:// or amqps:// scheme",
		})
	}
	if q.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "queue.max_retries",
			Message:  "max_retries must be >= 0",
		})
	}
	return issues
}

// FirstError returns the first error-severity issue as an error, or nil.
func FirstError(issues []Issue) error {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return iss
		}
	}
	return nil
}
