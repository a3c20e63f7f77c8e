package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/service"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	SLAAtRiskFraction   float64       `mapstructure:"SLA_AT_RISK_FRACTION"`
	SLADeadlineUrgent   time.Duration `mapstructure:"SLA_DEADLINE_URGENT"`
	SLADeadlineCritical time.Duration `mapstructure:"SLA_DEADLINE_CRITICAL"`
	SLADeadlineHigh     time.Duration `mapstructure:"SLA_DEADLINE_HIGH"`
	SLADeadlineMedium   time.Duration `mapstructure:"SLA_DEADLINE_MEDIUM"`
	SLADeadlineLow      time.Duration `mapstructure:"SLA_DEADLINE_LOW"`

	WeightSpecialization float64 `mapstructure:"SCORE_WEIGHT_SPECIALIZATION"`
	WeightWorkload       float64 `mapstructure:"SCORE_WEIGHT_WORKLOAD"`
	WeightPriority       float64 `mapstructure:"SCORE_WEIGHT_PRIORITY"`
	WeightAvailability   float64 `mapstructure:"SCORE_WEIGHT_AVAILABILITY"`

	MonthsAhead         int    `mapstructure:"GENERATION_MONTHS_AHEAD"`
	PriorityAliasesFile string `mapstructure:"PRIORITY_ALIASES_FILE"`

	RedisURL         string        `mapstructure:"REDIS_URL"`
	NotifyQueueKey   string        `mapstructure:"NOTIFY_QUEUE_KEY"`
	NotifyDedupeTTL  time.Duration `mapstructure:"NOTIFY_DEDUPE_TTL"`
	NotifyWebhookURL string        `mapstructure:"NOTIFY_WEBHOOK_URL"`

	TriggerRatePerSec float64 `mapstructure:"TRIGGER_RATE_PER_SEC"`
	TriggerBurst      int     `mapstructure:"TRIGGER_BURST"`
}

func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile reads an env-format file (missing is fine) overlaid by the
// process environment.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("SLA_AT_RISK_FRACTION", 0.2)
	v.SetDefault("SLA_DEADLINE_URGENT", "4h")
	v.SetDefault("SLA_DEADLINE_CRITICAL", "4h")
	v.SetDefault("SLA_DEADLINE_HIGH", "24h")
	v.SetDefault("SLA_DEADLINE_MEDIUM", "72h")
	v.SetDefault("SLA_DEADLINE_LOW", "168h")

	v.SetDefault("SCORE_WEIGHT_SPECIALIZATION", 1.0)
	v.SetDefault("SCORE_WEIGHT_WORKLOAD", 1.0)
	v.SetDefault("SCORE_WEIGHT_PRIORITY", 1.0)
	v.SetDefault("SCORE_WEIGHT_AVAILABILITY", 1.0)

	v.SetDefault("GENERATION_MONTHS_AHEAD", 3)
	v.SetDefault("PRIORITY_ALIASES_FILE", "")

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("NOTIFY_QUEUE_KEY", "gymops:notifications")
	v.SetDefault("NOTIFY_DEDUPE_TTL", "24h")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")

	v.SetDefault("TRIGGER_RATE_PER_SEC", 1.0)
	v.SetDefault("TRIGGER_BURST", 5)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Engine builds the scheduling engine configuration.
func (c Config) Engine() (service.Config, error) {
	if c.SLAAtRiskFraction < 0 || c.SLAAtRiskFraction >= 1 {
		return service.Config{}, fmt.Errorf("SLA_AT_RISK_FRACTION must be in [0, 1), got %v", c.SLAAtRiskFraction)
	}
	for name, w := range map[string]float64{
		"SCORE_WEIGHT_SPECIALIZATION": c.WeightSpecialization,
		"SCORE_WEIGHT_WORKLOAD":       c.WeightWorkload,
		"SCORE_WEIGHT_PRIORITY":       c.WeightPriority,
		"SCORE_WEIGHT_AVAILABILITY":   c.WeightAvailability,
	} {
		if w < 0 {
			return service.Config{}, fmt.Errorf("%s must not be negative, got %v", name, w)
		}
	}
	if c.MonthsAhead <= 0 {
		return service.Config{}, fmt.Errorf("GENERATION_MONTHS_AHEAD must be positive, got %d", c.MonthsAhead)
	}

	aliases := models.DefaultPriorityAliases()
	if c.PriorityAliasesFile != "" {
		var err error
		if aliases, err = models.LoadPriorityAliases(c.PriorityAliasesFile); err != nil {
			return service.Config{}, err
		}
	}

	cfg := service.DefaultConfig()
	cfg.SLA.AtRiskFraction = c.SLAAtRiskFraction
	for p, d := range map[models.Priority]time.Duration{
		models.PriorityUrgent:   c.SLADeadlineUrgent,
		models.PriorityCritical: c.SLADeadlineCritical,
		models.PriorityHigh:     c.SLADeadlineHigh,
		models.PriorityMedium:   c.SLADeadlineMedium,
		models.PriorityLow:      c.SLADeadlineLow,
	} {
		if d > 0 {
			cfg.SLA.DefaultDeadlines[p] = d
		}
	}
	cfg.Weights = service.ScoringWeights{
		Specialization: c.WeightSpecialization,
		Workload:       c.WeightWorkload,
		Priority:       c.WeightPriority,
		Availability:   c.WeightAvailability,
	}
	cfg.MonthsAhead = c.MonthsAhead
	cfg.Priorities = aliases
	return cfg, nil
}
