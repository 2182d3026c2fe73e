// Package patterns groups log messages into templates so recurring failures can be counted.
package patterns

import (
	"sort"
	"strings"
	"unicode"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Wildcard replaces variable tokens in a template.
const Wildcard = "<*>"

const maxTemplateTokens = 24

type aggregate struct {
	sig   models.MessageSignature
	level models.LogLevel
}

// Mine returns the most frequent templates among events at or above minLevel, at most limit.
// Ties break on the most recent occurrence and then on the template text.
func Mine(events []models.LogEvent, minLevel models.LogLevel, limit int) []models.MessageSignature {
	if limit <= 0 || len(events) == 0 {
		return nil
	}

	byTemplate := make(map[string]*aggregate)
	for _, ev := range events {
		if ev.Level < minLevel {
			continue
		}
		tmpl := Template(ev.Message)
		agg, ok := byTemplate[tmpl]
		if !ok {
			agg = &aggregate{sig: models.MessageSignature{Template: tmpl}}
			byTemplate[tmpl] = agg
		}
		agg.sig.Count++
		if ev.Timestamp.After(agg.sig.LastSeen) {
			agg.sig.LastSeen = ev.Timestamp
		}
		if ev.Level > agg.level || agg.sig.Level == "" {
			agg.level = ev.Level
			agg.sig.Level = ev.Level.String()
		}
	}

	out := make([]models.MessageSignature, 0, len(byTemplate))
	for _, agg := range byTemplate {
		out = append(out, agg.sig)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Template < out[j].Template
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Template replaces tokens carrying digits (ids, counts, addresses, durations) with a
// wildcard and collapses whitespace.
func Template(message string) string {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return "(empty)"
	}
	if len(fields) > maxTemplateTokens {
		fields = fields[:maxTemplateTokens]
	}
	for i, f := range fields {
		if variable(f) {
			fields[i] = Wildcard
		}
	}
	return strings.Join(fields, " ")
}

func variable(token string) bool {
	for _, r := range token {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
