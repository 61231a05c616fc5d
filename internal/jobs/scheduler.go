package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"authsvc/internal/clock"
	"authsvc/internal/config"
)

type RefreshTokenPruner interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type SecurityTokenPruner interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler removes dead token rows. Token validity never depends on it.
type Scheduler struct {
	cron           *cron.Cron
	cfg            config.JobsConfig
	refreshTokens  RefreshTokenPruner
	securityTokens SecurityTokenPruner
	clock          clock.Clock
	log            zerolog.Logger
}

func NewScheduler(cfg config.JobsConfig, refreshTokens RefreshTokenPruner, securityTokens SecurityTokenPruner, clk clock.Clock, log zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:           c,
		cfg:            cfg,
		refreshTokens:  refreshTokens,
		securityTokens: securityTokens,
		clock:          clk,
		log:            log,
	}
}

func (s *Scheduler) Start() error {
	if s.cfg.CleanupSchedule == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() { s.Cleanup(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for a running job to finish, up to five seconds.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

// Cleanup runs one pruning pass.
func (s *Scheduler) Cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	now := s.clock.Now()

	if s.refreshTokens != nil {
		n, err := s.refreshTokens.DeleteExpired(ctx, now.Add(-s.cfg.RefreshTokenRetention))
		if err != nil {
			s.log.Error().Err(err).Msg("prune refresh tokens failed")
		} else {
			s.log.Info().Int64("deleted", n).Msg("pruned refresh tokens")
		}
	}

	if s.securityTokens != nil {
		n, err := s.securityTokens.DeleteStale(ctx, now.Add(-s.cfg.SecurityTokenRetention))
		if err != nil {
			s.log.Error().Err(err).Msg("prune security tokens failed")
		} else {
			s.log.Info().Int64("deleted", n).Msg("pruned security tokens")
		}
	}
}
