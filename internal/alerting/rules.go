package alerting

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// RuleEngine attaches rule-pack recommendations to alerts.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	Service         string   `yaml:"service"`
	Kind            string   `yaml:"kind"`
	MinSeverity     string   `yaml:"min_severity"`
	SummaryContains []string `yaml:"summary_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. A missing path or file yields a nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("rule pack loaded", slog.String("path", path), slog.Int("rules", len(cfg.Rules)))
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Recommend returns the deduplicated recommendations of every rule matching the alert.
func (e *RuleEngine) Recommend(alert models.Alert) []string {
	if e == nil {
		return nil
	}

	var matched []string
	for _, rule := range e.rules {
		if !rule.Match.matches(alert) {
			continue
		}
		matched = appendUnique(matched, rule.Recommendations...)
	}
	return matched
}

func (m RuleMatch) matches(alert models.Alert) bool {
	if m.Service != "" && m.Service != "*" && !strings.EqualFold(m.Service, alert.Service) {
		return false
	}
	if m.Kind != "" && !strings.EqualFold(m.Kind, string(alert.Kind)) {
		return false
	}
	if m.MinSeverity != "" && alert.Level.Rank() < models.Severity(strings.ToLower(m.MinSeverity)).Rank() {
		return false
	}
	if len(m.SummaryContains) > 0 && !containsAny(alert.Summary, m.SummaryContains) {
		return false
	}
	return true
}

func containsAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
