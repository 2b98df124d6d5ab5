package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/batteryshark/agent-armory/pkg/contextstore"
	"github.com/batteryshark/agent-armory/pkg/engine"
)

// Defaults for the periodic jobs.
const (
	DefaultSweepInterval    = time.Minute
	DefaultRecordRetention  = time.Hour
	DefaultHistoryRetention = 7 * 24 * time.Hour
)

// HistoryPurger is the slice of the history store the scheduler needs.
type HistoryPurger interface {
	Purge(retention time.Duration) (int64, error)
}

// Config wires the scheduler's collaborators.
type Config struct {
	Store   *contextstore.Store
	Engine  *engine.Engine
	History HistoryPurger
	Logger  zerolog.Logger

	SweepInterval    time.Duration
	RecordRetention  time.Duration
	HistoryRetention time.Duration
}

// Scheduler runs the periodic housekeeping jobs: context TTL sweeps,
// terminal record purges, and history retention.
type Scheduler struct {
	cron   *cron.Cron
	store  *contextstore.Store
	engine *engine.Engine
	hist   HistoryPurger
	logger zerolog.Logger

	recordRetention  time.Duration
	historyRetention time.Duration
}

// New builds a Scheduler with all jobs registered but not started.
func New(cfg Config) (*Scheduler, error) {
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	recordRetention := cfg.RecordRetention
	if recordRetention <= 0 {
		recordRetention = DefaultRecordRetention
	}
	historyRetention := cfg.HistoryRetention
	if historyRetention <= 0 {
		historyRetention = DefaultHistoryRetention
	}

	s := &Scheduler{
		cron:             cron.New(),
		store:            cfg.Store,
		engine:           cfg.Engine,
		hist:             cfg.History,
		logger:           cfg.Logger.With().Str("component", "maintenance").Logger(),
		recordRetention:  recordRetention,
		historyRetention: historyRetention,
	}

	every := "@every " + sweepInterval.String()
	if _, err := s.cron.AddFunc(every, s.SweepContexts); err != nil {
		return nil, fmt.Errorf("failed to schedule context sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(every, s.PurgeRecords); err != nil {
		return nil, fmt.Errorf("failed to schedule record purge: %w", err)
	}
	if s.hist != nil {
		if _, err := s.cron.AddFunc(every, s.PurgeHistory); err != nil {
			return nil, fmt.Errorf("failed to schedule history purge: %w", err)
		}
	}
	return s, nil
}

// Start launches the job loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("maintenance scheduler started")
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("maintenance scheduler stopped")
}

// SweepContexts evicts sessions idle past their TTL. The store records
// the sweep metrics itself so direct ExpireSweep callers count too.
func (s *Scheduler) SweepContexts() {
	evicted := s.store.ExpireSweep()
	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("context sweep")
	}
}

// PurgeRecords drops terminal execution records past retention.
func (s *Scheduler) PurgeRecords() {
	removed := s.engine.PurgeRecords(s.recordRetention)
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("record purge")
	}
}

// PurgeHistory trims the archive past retention.
func (s *Scheduler) PurgeHistory() {
	removed, err := s.hist.Purge(s.historyRetention)
	if err != nil {
		s.logger.Error().Err(err).Msg("history purge failed")
		return
	}
	if removed > 0 {
		s.logger.Debug().Int64("removed", removed).Msg("history purge")
	}
}
