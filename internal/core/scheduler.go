package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const scheduledIngestTimeout = 30 * time.Minute

// DirectoryIngester is the part of IngestService the scheduler drives.
type DirectoryIngester interface {
	IngestDirectory(ctx context.Context, root string) (*IngestReport, error)
}

// Scheduler re-ingests the documents directory on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	ingester DirectoryIngester
	root     string
	running  atomic.Bool
	logger   zerolog.Logger
}

// NewScheduler registers the ingestion job. spec is a standard five field cron
// expression or a descriptor such as "@hourly".
func NewScheduler(spec string, ingester DirectoryIngester, root string, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ingester: ingester,
		root:     root,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid ingest schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Str("root", s.root).Msg("ingestion scheduler started")
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("ingestion scheduler stopped")
}

// RunOnce ingests the directory unless a previous run is still going.
func (s *Scheduler) RunOnce() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("previous ingestion still running, skipping")
		return
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), scheduledIngestTimeout)
	defer cancel()

	report, err := s.ingester.IngestDirectory(ctx, s.root)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled ingestion failed")
		return
	}
	s.logger.Info().
		Int("processed", report.FilesProcessed).
		Int("skipped", report.FilesSkipped).
		Int("failed", len(report.Failures)).
		Msg("scheduled ingestion finished")
}
