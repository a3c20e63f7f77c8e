package service

import (
	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/notify"
)

// Engine groups the scheduling services around one store, notifier and clock.
type Engine struct {
	Generation *GenerationService
	Assignment *AssignmentService
	SLA        *SLAService
	Reports    *ReportService
	Config     Config
}

func NewEngine(store Store, notifier notify.Notifier, clk clock.Clock, cfg Config, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.AlgorithmVersion == "" {
		cfg.AlgorithmVersion = AlgorithmVersion
	}
	if cfg.MonthsAhead <= 0 {
		cfg.MonthsAhead = DefaultConfig().MonthsAhead
	}
	return &Engine{
		Generation: &GenerationService{
			Store:    store,
			Notifier: notifier,
			Logger:   logger.With().Str("component", "generator").Logger(),
			Clock:    clk,
			Config:   cfg,
		},
		Assignment: &AssignmentService{
			Store:   store,
			Logger:  logger.With().Str("component", "assignment").Logger(),
			Clock:   clk,
			Weights: cfg.Weights,
			Version: cfg.AlgorithmVersion,
		},
		SLA: &SLAService{
			Store:    store,
			Notifier: notifier,
			Logger:   logger.With().Str("component", "sla").Logger(),
			Clock:    clk,
			Calc:     NewSLACalculator(cfg.SLA),
		},
		Reports: &ReportService{Store: store, Clock: clk},
		Config:  cfg,
	}
}
