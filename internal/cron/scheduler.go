package cron

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"failedjobs/internal/config"
	"failedjobs/internal/registry"
	"failedjobs/internal/spool"
)

// Scheduler runs the periodic background work of the server: draining the
// action spool and refreshing the project registry.
type Scheduler struct {
	cron      *cron.Cron
	cfg       *config.Config
	logger    *zap.Logger
	processor *spool.Processor
	registry  *registry.Registry
}

// New creates a new cron scheduler.
func New(cfg *config.Config, processor *spool.Processor, reg *registry.Registry, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		cfg:       cfg,
		logger:    logger,
		processor: processor,
		registry:  reg,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler...")

	if s.cfg.Spool.CronEnabled {
		// Drain the action spool - every minute
		s.cron.AddFunc("0 * * * * *", func() {
			s.logger.Debug("Running: process action spool")
			s.processSpool()
		})
	}

	// Refresh project registry - every 5 minutes
	s.cron.AddFunc("0 */5 * * * *", func() {
		s.logger.Debug("Running: refresh project registry")
		s.registry.ForgetCache()
	})

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) processSpool() {
	defer s.recoverFromPanic("processSpool")

	if _, err := s.processor.RunBatch(context.Background(), "", s.cfg.Spool.Limit); err != nil {
		s.logger.Error("Spool batch failed", zap.Error(err))
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
