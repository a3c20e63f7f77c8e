package service

import (
	"time"

	"github.com/gymops/backend/internal/models"
)

const AlgorithmVersion = "multifactor-v1"

type SLAConfig struct {
	// AtRiskFraction is the share of the allotted window that, once it is
	// all that remains, flips a ticket to at_risk.
	AtRiskFraction   float64
	DefaultDeadlines map[models.Priority]time.Duration
}

type ScoringWeights struct {
	Specialization float64 `json:"specialization"`
	Workload       float64 `json:"workload"`
	Priority       float64 `json:"priority"`
	Availability   float64 `json:"availability"`
}

type Config struct {
	SLA              SLAConfig
	Weights          ScoringWeights
	MonthsAhead      int
	AlgorithmVersion string
	Priorities       models.PriorityAliases
}

func DefaultSLAConfig() SLAConfig {
	return SLAConfig{
		AtRiskFraction: 0.2,
		DefaultDeadlines: map[models.Priority]time.Duration{
			models.PriorityUrgent:   4 * time.Hour,
			models.PriorityCritical: 4 * time.Hour,
			models.PriorityHigh:     24 * time.Hour,
			models.PriorityMedium:   72 * time.Hour,
			models.PriorityLow:      7 * 24 * time.Hour,
		},
	}
}

func DefaultWeights() ScoringWeights {
	return ScoringWeights{Specialization: 1, Workload: 1, Priority: 1, Availability: 1}
}

func DefaultConfig() Config {
	return Config{
		SLA:              DefaultSLAConfig(),
		Weights:          DefaultWeights(),
		MonthsAhead:      3,
		AlgorithmVersion: AlgorithmVersion,
		Priorities:       models.DefaultPriorityAliases(),
	}
}
