// Package queue carries import tasks over a durable RabbitMQ queue.
//
// A producer publishes a Task per uploaded file; workers consume with a
// prefetch limit and manual acks. A task whose handler fails with a retryable
// error is republished with an incremented x-retry-count header after a
// linear backoff, up to MaxRetries; anything else is rejected without
// requeue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryHeader counts redeliveries of a task.
const RetryHeader = "x-retry-count"

// Task asks a worker to import one file.
type Task struct {
	ID         string            `json:"id"`
	FilePath   string            `json:"file_path"`
	FileName   string            `json:"file_name"`
	SupplierID string            `json:"supplier_id"`
	LeadCost   float64           `json:"lead_cost"`
	Tags       []string          `json:"tags,omitempty"`
	Mapping    map[string]string `json:"mapping,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Handler processes one task.
type Handler func(ctx context.Context, t Task) error

// Config configures a Client.
type Config struct {
	URL        string
	Queue      string
	Prefetch   int
	MaxRetries int
	// RetryDelay is multiplied by the attempt number before republishing.
	RetryDelay time.Duration
}

// channel is the part of *amqp.Channel the client uses.
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Client publishes and consumes tasks on one queue.
type Client struct {
	cfg  Config
	conn *amqp.Connection
	ch   channel
}

// Dial connects, sets the prefetch count and declares the durable queue.
func Dial(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue: url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	c, err := newClient(cfg, ch)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func newClient(cfg Config, ch channel) (*Client, error) {
	if cfg.Queue == "" {
		cfg.Queue = "lead_imports"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("queue: qos: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", cfg.Queue, err)
	}
	return &Client{cfg: cfg, ch: ch}, nil
}

// Publish enqueues t as a persistent message. Missing IDs and timestamps are
// filled in.
func (c *Client) Publish(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return t, fmt.Errorf("queue: encode task: %w", err)
	}
	err = c.ch.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.ID,
		Timestamp:    t.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return t, fmt.Errorf("queue: publish %s: %w", t.FileName, err)
	}
	return t, nil
}

// Consume delivers tasks to h until ctx is done. It returns nil on
// cancellation and an error when the broker closes the delivery channel.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume %s: %w", c.cfg.Queue, err)
	}
	log.Printf("queue: consuming %s prefetch=%d", c.cfg.Queue, c.cfg.Prefetch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("queue: delivery channel for %s closed", c.cfg.Queue)
			}
			c.handle(ctx, d, h)
		}
	}
}

func (c *Client) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var t Task
	if err := json.Unmarshal(d.Body, &t); err != nil {
		log.Printf("queue: dropping undecodable message %s: %v", d.MessageId, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := h(ctx, t)
	if err == nil {
		log.Printf("queue: task %s (%s) done in %s", t.ID, t.FileName, time.Since(start).Truncate(time.Millisecond))
		_ = d.Ack(false)
		return
	}

	attempt := RetryCount(d.Headers)
	if !Retryable(err) || attempt >= c.cfg.MaxRetries {
		log.Printf("queue: task %s (%s) rejected after %d retries: %v", t.ID, t.FileName, attempt, err)
		_ = d.Nack(false, false)
		return
	}

	next := attempt + 1
	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	case <-time.After(time.Duration(next) * c.cfg.RetryDelay):
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(next)
	pubErr := c.ch.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		Priority:     d.Priority,
		MessageId:    d.MessageId,
		Timestamp:    time.Now(),
		Body:         d.Body,
	})
	if pubErr != nil {
		log.Printf("queue: republish %s failed, requeueing: %v", t.ID, pubErr)
		_ = d.Nack(false, true)
		return
	}
	log.Printf("queue: task %s (%s) retry %d/%d: %v", t.ID, t.FileName, next, c.cfg.MaxRetries, err)
	_ = d.Ack(false)
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// RetryCount reads RetryHeader.
func RetryCount(h amqp.Table) int {
	switch n := h[RetryHeader].(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so Retryable reports false.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Retryable reports whether a handler error is worth another attempt:
// timeouts, network errors, and lock or connection failures from the store.
// Errors with a Retryable() bool method decide for themselves.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rt interface{ Retryable() bool }
	if errors.As(err, &rt) {
		return rt.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"deadlock",
		"lock wait timeout",
		"database is locked",
		"connection reset",
		"connection refused",
		"server has gone away",
		"timeout",
		"temporary failure",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
