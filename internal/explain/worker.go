package explain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Explainer produces explanation text.
type Explainer interface {
	Explain(ctx context.Context, req Request) (string, error)
}

// Annotator attaches an explanation to an alert by id.
type Annotator interface {
	Annotate(id, explanation string) bool
}

// Options configures a Worker.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	CacheTTL     time.Duration
	Cache        cache.Provider
	Logger       *slog.Logger
}

// Worker runs explanation requests off the detection path. Results are cached per
// (kind, service, severity) so a recurring condition is explained once per TTL.
type Worker struct {
	explainer Explainer
	annotator Annotator
	opts      Options
	cache     cache.Provider
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Request
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	explained atomic.Uint64
	cached    atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Stats counts worker activity.
type Stats struct {
	Explained uint64
	Cached    uint64
	Failed    uint64
	Dropped   uint64
}

// NewWorker starts opts.Workers goroutines.
func NewWorker(explainer Explainer, annotator Annotator, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		explainer: explainer,
		annotator: annotator,
		opts:      opts,
		cache:     opts.Cache,
		logger:    opts.Logger,
		queue:     make(chan Request, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Submit queues a request without blocking and reports whether it was accepted.
func (w *Worker) Submit(req Request) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- req:
		return true
	default:
		w.dropped.Add(1)
		metrics.ObserveExplanation(metrics.OutcomeSkipped)
		return false
	}
}

// Close stops intake and waits for in-flight requests until ctx is done, then cancels them.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	w.cancel()
	<-done
	return err
}

// Stats returns worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Explained: w.explained.Load(),
		Cached:    w.cached.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for req := range w.queue {
		if w.ctx.Err() != nil {
			w.dropped.Add(1)
			continue
		}
		w.handle(w.ctx, req)
	}
}

func cacheKey(req Request) string {
	return "explain:" + req.Kind + ":" + req.Service + ":" + req.Severity
}

func (w *Worker) handle(ctx context.Context, req Request) {
	key := cacheKey(req)
	if text, err := w.cache.Get(ctx, key); err == nil && len(text) > 0 {
		w.cached.Add(1)
		metrics.ObserveExplanation(metrics.OutcomeSuccess)
		w.annotate(req.AlertID, string(text))
		return
	} else if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		w.logger.Warn("explanation cache lookup failed", slog.Any("error", err))
	}

	var text string
	err := utils.Retry(ctx, w.opts.MaxRetries+1, w.opts.RetryBackoff, 10*w.opts.RetryBackoff,
		func(err error) bool { return errors.Is(err, utils.ErrTransientIO) },
		func(ctx context.Context) error {
			var err error
			text, err = w.explainer.Explain(ctx, req)
			return err
		})
	if err != nil {
		w.failed.Add(1)
		metrics.ObserveExplanation(metrics.OutcomeError)
		w.logger.Warn("alert explanation failed",
			slog.String("alert_id", req.AlertID),
			slog.String("service", req.Service),
			slog.Any("error", err),
		)
		return
	}

	w.explained.Add(1)
	metrics.ObserveExplanation(metrics.OutcomeSuccess)
	if err := w.cache.Set(ctx, key, []byte(text), w.opts.CacheTTL); err != nil {
		w.logger.Warn("explanation cache store failed", slog.Any("error", err))
	}
	w.annotate(req.AlertID, text)
}

func (w *Worker) annotate(id, text string) {
	if w.annotator == nil {
		return
	}
	if !w.annotator.Annotate(id, text) {
		w.logger.Debug("alert aged out before explanation arrived", slog.String("alert_id", id))
	}
}
