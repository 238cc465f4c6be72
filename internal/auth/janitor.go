package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/metrics"
)

// Janitor periodically deletes expired or revoked sessions and spent reset
// tokens.
type Janitor struct {
	repo    Repository
	log     *zap.Logger
	metrics *metrics.Metrics
	cron    *cron.Cron
	now     func() time.Time
}

func NewJanitor(repo Repository, log *zap.Logger, m *metrics.Metrics) *Janitor {
	return &Janitor{
		repo:    repo,
		log:     log,
		metrics: m,
		cron:    cron.New(),
		now:     time.Now,
	}
}

func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := j.Sweep(ctx); err != nil {
			j.log.Error("cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", schedule, err)
	}
	j.cron.Start()
	j.log.Info("cleanup scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()

	sessions, err := j.repo.DeleteStaleSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("delete stale sessions: %w", err)
	}
	tokens, err := j.repo.DeleteStaleResetTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("delete stale reset tokens: %w", err)
	}

	j.metrics.JanitorDeletedTotal.WithLabelValues("sessions").Add(float64(sessions))
	j.metrics.JanitorDeletedTotal.WithLabelValues("password_reset_tokens").Add(float64(tokens))
	j.log.Info("cleanup finished",
		zap.Int64("sessions_deleted", sessions),
		zap.Int64("reset_tokens_deleted", tokens))
	return nil
}
