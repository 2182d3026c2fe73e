// Package notify delivers alerts and summary reports to external channels.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-sentinel/internal/alerting"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Message types.
const (
	TypeAlert  = "alert"
	TypeReport = "report"
)

// Message is one unit of delivery. Alert is set for TypeAlert messages.
type Message struct {
	Type     string        `json:"type"`
	DedupKey string        `json:"-"`
	Text     string        `json:"text"`
	Alert    *models.Alert `json:"alert,omitempty"`
	SentAt   time.Time     `json:"sent_at"`
}

// Notifier is a delivery channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Options configures a Dispatcher.
type Options struct {
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	RatePerSecond float64
	Burst         int
	DedupTTL      time.Duration
	Cache         cache.Provider
	Logger        *slog.Logger
}

// Stats counts dispatcher activity.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
	Deduped   uint64
}

// Dispatcher queues messages and delivers them from one background worker so that
// callers on the detection path never block on the network.
type Dispatcher struct {
	notifiers []Notifier
	opts      Options
	logger    *slog.Logger
	limiter   *rate.Limiter
	cache     cache.Provider

	mu     sync.Mutex
	closed bool
	queue  chan Message
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	deduped   atomic.Uint64
}

// NewDispatcher starts a dispatcher delivering to every notifier.
func NewDispatcher(opts Options, notifiers ...Notifier) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifiers: notifiers,
		opts:      opts,
		logger:    opts.Logger,
		limiter:   rate.NewLimiter(limit, burst),
		cache:     opts.Cache,
		queue:     make(chan Message, opts.QueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go d.run()
	return d
}

// NotifyAlert queues an alert. It reports false when the message was dropped.
func (d *Dispatcher) NotifyAlert(alert models.Alert) bool {
	return d.Enqueue(Message{
		Type:     TypeAlert,
		DedupKey: alert.ID,
		Text:     alerting.Format(alert),
		Alert:    &alert,
	})
}

// NotifyReport queues a summary report.
func (d *Dispatcher) NotifyReport(text string) bool {
	return d.Enqueue(Message{Type: TypeReport, Text: text})
}

// Enqueue adds a message without blocking. A full queue or closed dispatcher drops it.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if len(d.notifiers) == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.dropped.Add(1)
		metrics.ObserveNotification("queue", metrics.OutcomeSkipped)
		d.logger.Warn("notification queue full, dropping message", slog.String("type", msg.Type))
		return false
	}
}

// Close stops accepting messages and waits for queued ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("notification drain timed out")
		err = ctx.Err()
	}
	d.cancel()
	<-d.done

	for _, n := range d.notifiers {
		if c, ok := n.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				d.logger.Warn("notifier close failed", slog.String("channel", n.Name()), slog.Any("error", cerr))
			}
		}
	}
	return err
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Deduped:   d.deduped.Load(),
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		if d.ctx.Err() != nil {
			d.dropped.Add(1)
			continue
		}
		d.deliver(d.ctx, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	var lease string
	if msg.DedupKey != "" {
		lease = "notify:" + msg.DedupKey
		ok, err := d.cache.SetNX(ctx, lease, []byte(msg.SentAt.Format(time.RFC3339)), d.opts.DedupTTL)
		switch {
		case err != nil:
			// Delivery beats dedup when the cache is down.
			d.logger.Warn("notification dedup unavailable", slog.Any("error", err))
			lease = ""
		case !ok:
			d.deduped.Add(1)
			metrics.ObserveNotification("dedup", metrics.OutcomeSkipped)
			return
		}
	}

	sent := 0
	for _, n := range d.notifiers {
		if err := d.limiter.Wait(ctx); err != nil {
			break
		}
		err := utils.Retry(ctx, d.opts.MaxRetries+1, d.opts.RetryBackoff, 10*d.opts.RetryBackoff, retryable, func(ctx context.Context) error {
			return n.Send(ctx, msg)
		})
		if err != nil {
			d.failed.Add(1)
			metrics.ObserveNotification(n.Name(), metrics.OutcomeError)
			d.logger.Warn("notification failed",
				slog.String("channel", n.Name()),
				slog.String("type", msg.Type),
				slog.Any("error", err),
			)
			continue
		}
		sent++
		d.delivered.Add(1)
		metrics.ObserveNotification(n.Name(), metrics.OutcomeSuccess)
	}

	if sent == 0 && lease != "" {
		if err := d.cache.Del(context.WithoutCancel(ctx), lease); err != nil {
			d.logger.Warn("release dedup lease failed", slog.Any("error", err))
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, utils.ErrTransientIO)
}
