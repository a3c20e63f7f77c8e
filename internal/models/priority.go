package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Priority is ordered: Low < Medium < High < Critical < Urgent.
type Priority int

const (
	PriorityUnknown Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
	PriorityUrgent:   "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, ok := DefaultPriorityAliases().Normalize(string(b))
	if !ok {
		return fmt.Errorf("unknown priority %q", string(b))
	}
	*p = v
	return nil
}

// PriorityAliases maps every observed legacy spelling (folded to lower case,
// accents stripped) onto the canonical enum.
type PriorityAliases map[string]Priority

func DefaultPriorityAliases() PriorityAliases {
	return PriorityAliases{
		"low": PriorityLow, "baja": PriorityLow, "bajo": PriorityLow, "1": PriorityLow,
		"medium": PriorityMedium, "media": PriorityMedium, "medio": PriorityMedium, "normal": PriorityMedium, "2": PriorityMedium,
		"high": PriorityHigh, "alta": PriorityHigh, "alto": PriorityHigh, "3": PriorityHigh,
		"critical": PriorityCritical, "critica": PriorityCritical, "critico": PriorityCritical, "4": PriorityCritical,
		"urgent": PriorityUrgent, "urgente": PriorityUrgent, "5": PriorityUrgent,
	}
}

// Normalize resolves a raw priority string. ok is false for unknown spellings.
func (a PriorityAliases) Normalize(raw string) (Priority, bool) {
	p, ok := a[foldPriority(raw)]
	return p, ok
}

// NormalizeOr resolves raw and falls back to def for unknown spellings.
func (a PriorityAliases) NormalizeOr(raw string, def Priority) Priority {
	if p, ok := a.Normalize(raw); ok {
		return p
	}
	return def
}

// LoadPriorityAliases merges a YAML file of `spelling: canonical` pairs over
// the defaults. An empty path returns the defaults.
func LoadPriorityAliases(path string) (PriorityAliases, error) {
	aliases := DefaultPriorityAliases()
	if strings.TrimSpace(path) == "" {
		return aliases, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priority aliases: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse priority aliases: %w", err)
	}
	base := DefaultPriorityAliases()
	for spelling, canonical := range raw {
		p, ok := base.Normalize(canonical)
		if !ok {
			return nil, fmt.Errorf("priority alias %q: unknown canonical value %q", spelling, canonical)
		}
		aliases[foldPriority(spelling)] = p
	}
	return aliases, nil
}

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")

func foldPriority(raw string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(raw)))
}
