// Package source resolves an input reference to the bytes and file name the
// intake parsers work on. A reference is either a local path or an http(s)
// URL; downloads are retried with exponential backoff on network errors,
// 429 and 5xx responses.
package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrTooLarge is returned when an input exceeds Config.MaxBytes.
var ErrTooLarge = errors.New("source: input too large")

// StatusError is a non-2xx download response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: GET %s: status %d", e.URL, e.Code)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Config configures a Fetcher. Zero values get defaults: 60s timeout, 3
// retries, 200ms initial backoff capped at 5s, 64 MiB limit. A negative
// MaxRetries disables retries.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxBytes       int64
	// Transport replaces the default RoundTripper (tests).
	Transport http.RoundTripper
}

// Fetcher reads local files and downloads remote ones.
type Fetcher struct {
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxBytes       int64
}

// New builds a Fetcher from cfg.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	return &Fetcher{
		client:         &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxBytes:       cfg.MaxBytes,
	}
}

// IsURL reports whether ref is an http(s) URL rather than a path.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Fetch returns the file name and content of ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, []byte, error) {
	if !IsURL(ref) {
		return f.readFile(ref)
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(f.initialBackoff, attempt-1, f.maxBackoff)); err != nil {
				return "", nil, err
			}
		}
		name, data, err := f.get(ctx, ref)
		if err == nil {
			return name, data, nil
		}
		lastErr = err
		var se *StatusError
		if ctx.Err() != nil || errors.Is(err, ErrTooLarge) || (errors.As(err, &se) && !se.Retryable()) {
			break
		}
	}
	return "", nil, lastErr
}

func (f *Fetcher) readFile(p string) (string, []byte, error) {
	fh, err := os.Open(p)
	if err != nil {
		return "", nil, err
	}
	defer fh.Close()
	data, err := readLimited(fh, f.maxBytes)
	if err != nil {
		return "", nil, fmt.Errorf("source: %s: %w", p, err)
	}
	return filepath.Base(p), data, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("source: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return "", nil, fmt.Errorf("source: %s: %w", rawURL, err)
	}
	return fileName(rawURL, resp.Header.Get("Content-Disposition")), data, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}

// fileName prefers the server-provided name, then the last path segment.
// Without either, the name is derived from a hash of the URL so that format
// detection falls back to content sniffing.
func fileName(rawURL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if n := path.Base(strings.ReplaceAll(params["filename"], `\`, "/")); n != "" && n != "." && n != "/" {
				return n
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if n := path.Base(u.Path); n != "" && n != "." && n != "/" {
			return n
		}
	}
	h := sha1.Sum([]byte(rawURL))
	return "download-" + hex.EncodeToString(h[:8])
}

// backoff returns initial * 2^attempt clamped to max.
func backoff(initial time.Duration, attempt int, max time.Duration) time.Duration {
	d := initial << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
