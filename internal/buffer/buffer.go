// Package buffer holds recently ingested log events per service for a bounded retention horizon.
package buffer

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Discard reasons reported by Push and counted in Stats.
const (
	ReasonMissingService   = "missing_service"
	ReasonMissingTimestamp = "missing_timestamp"
	ReasonInvalidLevel     = "invalid_level"
	ReasonExpired          = "expired"
	ReasonFuture           = "future"
)

// Options configures a Buffer.
type Options struct {
	// Retention is the horizon beyond which events are evicted.
	Retention time.Duration
	// MaxFutureSkew bounds how far ahead of the clock an event timestamp may be.
	MaxFutureSkew time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Stats summarises buffer activity.
type Stats struct {
	Accepted  uint64
	Evicted   uint64
	Discarded map[string]uint64
	Services  int
	Events    int
}

// Buffer is safe for many concurrent pushers and readers. Each service has its own
// shard lock, so a push only contends with pushes and reads for the same service.
type Buffer struct {
	retention time.Duration
	skew      time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	shards map[string]*shard

	accepted  atomic.Uint64
	evicted   atomic.Uint64
	discardMu sync.Mutex
	discarded map[string]uint64
}

type shard struct {
	mu       sync.Mutex
	events   []models.LogEvent // ordered by timestamp
	head     int               // events[:head] are evicted and awaiting compaction
	lastSeen time.Time
}

// New constructs a Buffer.
func New(opts Options) *Buffer {
	if opts.Retention <= 0 {
		opts.Retention = 15 * time.Minute
	}
	if opts.MaxFutureSkew < 0 {
		opts.MaxFutureSkew = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Buffer{
		retention: opts.Retention,
		skew:      opts.MaxFutureSkew,
		now:       opts.Now,
		shards:    make(map[string]*shard),
		discarded: make(map[string]uint64),
	}
}

// Retention returns the configured horizon.
func (b *Buffer) Retention() time.Duration {
	return b.retention
}

// Push validates and stores an event. Rejected events return a DataQualityError and are counted.
func (b *Buffer) Push(event models.LogEvent) error {
	now := b.now()
	if reason := b.check(event, now); reason != "" {
		b.discard(reason)
		return utils.DataQualityError("buffer.push", reason)
	}

	s := b.shardFor(event.Service)
	s.mu.Lock()
	s.insert(event)
	if event.Timestamp.After(s.lastSeen) {
		s.lastSeen = event.Timestamp
	}
	evicted := s.evict(now.Add(-b.retention))
	s.mu.Unlock()

	b.accepted.Add(1)
	if evicted > 0 {
		b.evicted.Add(uint64(evicted))
	}
	return nil
}

func (b *Buffer) check(event models.LogEvent, now time.Time) string {
	switch {
	case event.Service == "":
		return ReasonMissingService
	case event.Timestamp.IsZero():
		return ReasonMissingTimestamp
	case !event.Level.Valid():
		return ReasonInvalidLevel
	case !event.Timestamp.After(now.Add(-b.retention)):
		return ReasonExpired
	case event.Timestamp.After(now.Add(b.skew)):
		return ReasonFuture
	}
	return ""
}

func (b *Buffer) discard(reason string) {
	b.discardMu.Lock()
	b.discarded[reason]++
	b.discardMu.Unlock()
}

func (b *Buffer) shardFor(service string) *shard {
	b.mu.RLock()
	s, ok := b.shards[service]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.shards[service]; !ok {
		s = &shard{}
		b.shards[service] = s
	}
	return s
}

func (b *Buffer) lookup(service string) *shard {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shards[service]
}

// DrainWindow returns a copy of the service's events with timestamps in (now-size, now].
// Events are not removed; several detectors may read the same window.
func (b *Buffer) DrainWindow(service string, size time.Duration) []models.LogEvent {
	now := b.now()
	return b.Range(service, now.Add(-b.clamp(size)), now)
}

// Range returns a copy of the service's events with timestamps in (from, to], never
// reaching past the retention horizon.
func (b *Buffer) Range(service string, from, to time.Time) []models.LogEvent {
	s := b.lookup(service)
	if s == nil {
		return nil
	}
	if horizon := b.now().Add(-b.retention); from.Before(horizon) {
		from = horizon
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.events[s.head:]
	lo := sort.Search(len(live), func(i int) bool { return live[i].Timestamp.After(from) })
	hi := sort.Search(len(live), func(i int) bool { return live[i].Timestamp.After(to) })
	if lo >= hi {
		return nil
	}
	out := make([]models.LogEvent, hi-lo)
	copy(out, live[lo:hi])
	return out
}

func (b *Buffer) clamp(size time.Duration) time.Duration {
	if size <= 0 || size > b.retention {
		return b.retention
	}
	return size
}

// Services returns every service that has pushed at least one event, sorted.
func (b *Buffer) Services() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.shards))
	for name := range b.shards {
		out = append(out, name)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// LastSeen returns the newest event timestamp seen for a service.
func (b *Buffer) LastSeen(service string) (time.Time, bool) {
	s := b.lookup(service)
	if s == nil {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen, true
}

// Count returns the number of events held for a service inside the horizon.
func (b *Buffer) Count(service string) int {
	s := b.lookup(service)
	if s == nil {
		return 0
	}
	now := b.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	b.evicted.Add(uint64(s.evict(now.Add(-b.retention))))
	return len(s.events) - s.head
}

// Prune evicts expired events across all services and returns how many were dropped.
func (b *Buffer) Prune() int {
	cutoff := b.now().Add(-b.retention)
	b.mu.RLock()
	shards := make([]*shard, 0, len(b.shards))
	for _, s := range b.shards {
		shards = append(shards, s)
	}
	b.mu.RUnlock()

	total := 0
	for _, s := range shards {
		s.mu.Lock()
		total += s.evict(cutoff)
		s.mu.Unlock()
	}
	b.evicted.Add(uint64(total))
	return total
}

// Stats returns counters and current occupancy.
func (b *Buffer) Stats() Stats {
	st := Stats{
		Accepted:  b.accepted.Load(),
		Evicted:   b.evicted.Load(),
		Discarded: make(map[string]uint64),
	}
	b.discardMu.Lock()
	for k, v := range b.discarded {
		st.Discarded[k] = v
	}
	b.discardMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	st.Services = len(b.shards)
	for _, s := range b.shards {
		s.mu.Lock()
		st.Events += len(s.events) - s.head
		s.mu.Unlock()
	}
	return st
}

// insert keeps events ordered. In-order arrivals are a plain append.
func (s *shard) insert(event models.LogEvent) {
	n := len(s.events)
	if n == s.head || !event.Timestamp.Before(s.events[n-1].Timestamp) {
		s.events = append(s.events, event)
		return
	}
	live := s.events[s.head:]
	idx := s.head + sort.Search(len(live), func(i int) bool { return live[i].Timestamp.After(event.Timestamp) })
	s.events = append(s.events, models.LogEvent{})
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = event
}

// evict drops events at or before cutoff. Storage is compacted once at least half is dead.
func (s *shard) evict(cutoff time.Time) int {
	live := s.events[s.head:]
	n := sort.Search(len(live), func(i int) bool { return live[i].Timestamp.After(cutoff) })
	if n == 0 {
		return 0
	}
	for i := s.head; i < s.head+n; i++ {
		s.events[i] = models.LogEvent{}
	}
	s.head += n
	if s.head == len(s.events) {
		s.events = s.events[:0]
		s.head = 0
	} else if s.head >= len(s.events)/2 {
		remaining := copy(s.events, s.events[s.head:])
		for i := remaining; i < len(s.events); i++ {
			s.events[i] = models.LogEvent{}
		}
		s.events = s.events[:remaining]
		s.head = 0
	}
	return n
}
