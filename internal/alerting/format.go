package alerting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Format renders an alert as a short human-readable message.
func Format(a models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s on %s\n", strings.ToUpper(string(a.Level)), kindTitle(a.Kind), a.Service)
	fmt.Fprintf(&b, "Time: %s\n", a.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Score: %.2f", a.Score)
	if a.Occurrences > 1 {
		fmt.Fprintf(&b, " | Occurrences: %d", a.Occurrences)
	}
	b.WriteString("\n")
	if a.Summary != "" {
		b.WriteString(a.Summary)
		b.WriteString("\n")
	}
	if len(a.Details) > 0 {
		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %.4g\n", k, a.Details[k])
		}
	}
	if len(a.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	fmt.Fprintf(&b, "Suppressed until: %s", a.SuppressedUntil.UTC().Format(time.TimeOnly))
	return b.String()
}

func kindTitle(k models.AlertKind) string {
	words := strings.Split(strings.ToLower(string(k)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Report is the input of a periodic summary.
type Report struct {
	Period   time.Duration
	Snapshot models.Snapshot
	Emitted  int
}

// FormatReport renders the periodic summary: totals, severity mix, busiest services and status.
func FormatReport(r Report) string {
	sys := r.Snapshot.System
	var b strings.Builder
	fmt.Fprintf(&b, "Log summary (last %s)\n", r.Period)
	fmt.Fprintf(&b, "Events in window: %d across %d services\n", sys.Total, sys.Services)
	fmt.Fprintf(&b, "System health: %.1f\n", sys.Health.Score)

	if sys.Total > 0 {
		b.WriteString("Severity distribution:\n")
		for lvl := models.LevelDebug; lvl <= models.LevelCritical; lvl++ {
			n := sys.Counts[lvl.String()]
			if n == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %s: %d (%.1f%%)\n", lvl, n, 100*float64(n)/float64(sys.Total))
		}
	}

	services := append([]models.ServiceSnapshot(nil), r.Snapshot.Services...)
	sort.Slice(services, func(i, j int) bool {
		if services[i].Total != services[j].Total {
			return services[i].Total > services[j].Total
		}
		return services[i].Service < services[j].Service
	})
	if len(services) > 5 {
		services = services[:5]
	}
	if len(services) > 0 {
		b.WriteString("Top services:\n")
		for _, s := range services {
			fmt.Fprintf(&b, "  %s: %d events, health %.1f\n", s.Service, s.Total, s.Health.Score)
		}
	}
	fmt.Fprintf(&b, "Alerts emitted: %d, active: %d\n", r.Emitted, sys.ActiveAlerts)
	if len(sys.StaleServices) > 0 {
		fmt.Fprintf(&b, "Stale services: %s\n", strings.Join(sys.StaleServices, ", "))
	}
	b.WriteString("Status: ")
	b.WriteString(status(sys))
	return b.String()
}

func status(sys models.SystemSnapshot) string {
	if sys.Total == 0 {
		return "no traffic"
	}
	errRate := float64(sys.Counts[models.LevelError.String()]) / float64(sys.Total)
	critRate := float64(sys.Counts[models.LevelCritical.String()]) / float64(sys.Total)
	switch {
	case critRate > 0.01:
		return "critical issues detected"
	case errRate > 0.05:
		return "high error rate"
	}
	return "healthy"
}
