// Package alerting decides when detector signals become alerts.
package alerting

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Phase is the per (service, kind) alert state.
type Phase int

const (
	PhaseQuiet Phase = iota
	PhaseTriggered
	PhaseSuppressed
)

func (p Phase) String() string {
	switch p {
	case PhaseTriggered:
		return "TRIGGERED"
	case PhaseSuppressed:
		return "SUPPRESSED"
	}
	return "QUIET"
}

// Candidate is an active condition for one service and kind in the current cycle.
type Candidate struct {
	Kind    models.AlertKind
	Level   models.Severity
	Score   float64
	Summary string
	Details map[string]float64
	Signals []models.Signal
}

// Recommender attaches remediation hints to a new alert.
type Recommender interface {
	Recommend(alert models.Alert) []string
}

// Options configures a Manager.
type Options struct {
	Cooldown    time.Duration
	DecayCount  int
	HistorySize int
	Recommender Recommender
}

// Result is the outcome of evaluating one service for one cycle.
type Result struct {
	Emitted    []models.Alert
	Suppressed []models.AlertKind
}

type state struct {
	phase           Phase
	level           models.Severity
	suppressedUntil time.Time
	pending         int
	quiet           int
	alert           models.Alert
}

// Manager runs the QUIET -> TRIGGERED -> SUPPRESSED -> QUIET machine for every
// (service, kind). All transitions happen under one lock, so the check for an
// existing suppression and the emission that sets it are atomic.
type Manager struct {
	opts    Options
	history *lru.Cache[string, models.Alert]
	newID   func() string

	mu     sync.Mutex
	states map[string]map[models.AlertKind]*state
}

// NewManager constructs a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.DecayCount < 1 {
		opts.DecayCount = 1
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 512
	}
	history, err := lru.New[string, models.Alert](opts.HistorySize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		opts:    opts,
		history: history,
		newID:   uuid.NewString,
		states:  make(map[string]map[models.AlertKind]*state),
	}, nil
}

// Evaluate applies one cycle of candidates for a service. Kinds of the service that are
// not among the candidates count a quiet cycle toward decay.
func (m *Manager) Evaluate(service string, candidates []Candidate, now time.Time) Result {
	active := strongest(candidates)

	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := m.states[service]
	if kinds == nil {
		kinds = make(map[models.AlertKind]*state)
		m.states[service] = kinds
	}

	var res Result
	for _, c := range active {
		st := kinds[c.Kind]
		if st == nil {
			st = &state{}
			kinds[c.Kind] = st
		}
		st.quiet = 0

		switch {
		case st.phase == PhaseQuiet:
			res.Emitted = append(res.Emitted, m.emit(st, service, c, 1, now))
		case c.Level.Rank() > st.level.Rank():
			// Escalations bypass suppression.
			res.Emitted = append(res.Emitted, m.emit(st, service, c, st.pending+1, now))
		case now.Before(st.suppressedUntil):
			st.phase = PhaseSuppressed
			st.pending++
			st.alert.Suppressed = st.pending
			res.Suppressed = append(res.Suppressed, c.Kind)
		default:
			res.Emitted = append(res.Emitted, m.emit(st, service, c, st.pending+1, now))
		}
	}

	for kind, st := range kinds {
		if _, ok := active[kind]; ok {
			continue
		}
		if st.phase == PhaseTriggered {
			st.phase = PhaseSuppressed
		}
		st.quiet++
		if st.quiet >= m.opts.DecayCount && !now.Before(st.suppressedUntil) {
			delete(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		delete(m.states, service)
	}

	sort.Slice(res.Emitted, func(i, j int) bool { return res.Emitted[i].Kind < res.Emitted[j].Kind })
	return res
}

func (m *Manager) emit(st *state, service string, c Candidate, occurrences int, now time.Time) models.Alert {
	alert := models.Alert{
		ID:              m.newID(),
		Kind:            c.Kind,
		Service:         service,
		Level:           c.Level,
		Score:           c.Score,
		Timestamp:       now,
		SuppressedUntil: now.Add(m.opts.Cooldown),
		Occurrences:     occurrences,
		Summary:         c.Summary,
		Details:         c.Details,
		Signals:         c.Signals,
	}
	if m.opts.Recommender != nil {
		alert.Recommendations = m.opts.Recommender.Recommend(alert)
	}
	*st = state{
		phase:           PhaseTriggered,
		level:           c.Level,
		suppressedUntil: alert.SuppressedUntil,
		alert:           alert,
	}
	m.history.Add(alert.ID, alert)
	return alert
}

// strongest keeps one candidate per kind, preferring higher severity then higher score.
func strongest(candidates []Candidate) map[models.AlertKind]Candidate {
	out := make(map[models.AlertKind]Candidate, len(candidates))
	for _, c := range candidates {
		cur, ok := out[c.Kind]
		if !ok || c.Level.Rank() > cur.Level.Rank() ||
			(c.Level.Rank() == cur.Level.Rank() && c.Score > cur.Score) {
			out[c.Kind] = c
		}
	}
	return out
}

// Phase reports the current state of a (service, kind).
func (m *Manager) Phase(service string, kind models.AlertKind) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.states[service][kind]; st != nil {
		return st.phase
	}
	return PhaseQuiet
}

// Active returns the latest alert of every non-quiet kind for a service.
func (m *Manager) Active(service string) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(service)
}

func (m *Manager) activeLocked(service string) []models.Alert {
	kinds := m.states[service]
	out := make([]models.Alert, 0, len(kinds))
	for _, st := range kinds {
		out = append(out, m.withExplanation(st.alert))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ActiveAll returns active alerts across services, ordered by service then kind.
func (m *Manager) ActiveAll() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	services := make([]string, 0, len(m.states))
	for s := range m.states {
		services = append(services, s)
	}
	sort.Strings(services)
	var out []models.Alert
	for _, s := range services {
		out = append(out, m.activeLocked(s)...)
	}
	return out
}

func (m *Manager) withExplanation(a models.Alert) models.Alert {
	if stored, ok := m.history.Peek(a.ID); ok && stored.Explanation != "" {
		a.Explanation = stored.Explanation
	}
	return a
}

// Annotate attaches an explanation to a recently emitted alert. It reports false once the
// alert has aged out of the history.
func (m *Manager) Annotate(id, explanation string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.history.Peek(id)
	if !ok {
		return false
	}
	alert.Explanation = explanation
	m.history.Add(id, alert)
	return true
}

// Get returns a recently emitted alert by id.
func (m *Manager) Get(id string) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Peek(id)
}

// Recent returns up to limit of the most recently emitted alerts, newest first.
func (m *Manager) Recent(limit int) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.history.Values()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
