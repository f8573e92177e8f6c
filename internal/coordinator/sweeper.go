package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/storage"
)

// ExpireReport counts what one sweep did.
type ExpireReport struct {
	Expired   int
	Recovered int
	Removed   int
	Errors    int
}

// ExpireStale fails open sessions idle past SessionExpiry, releases
// assemblies that stalled as long, and removes terminal sessions idle past
// SessionRetention together with their staged data.
func (c *Coordinator) ExpireStale(ctx context.Context, now time.Time) (ExpireReport, error) {
	ctx, span := tracer.Start(ctx, "coordinator.expire_stale")
	defer span.End()

	var report ExpireReport
	expireBefore := now.Add(-c.opts.SessionExpiry)
	removeBefore := now.Add(-c.opts.SessionRetention)

	ids, err := c.sessions.ListIdle(ctx, expireBefore)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		sess, err := c.sessions.Get(ctx, id)
		if errors.Is(err, storage.ErrSessionNotFound) {
			// The store expired the record first; clear what it left behind.
			if err := c.DeleteTemporaryChunks(ctx, id); err != nil {
				c.logger.Warn("sweep: failed to delete chunks", "session_id", id, "error", err)
			}
			if c.resumable != nil {
				if err := c.resumable.Terminate(ctx, id); err != nil {
					c.logger.Warn("sweep: failed to terminate resumable upload", "session_id", id, "error", err)
				}
			}
			if err := c.sessions.Delete(ctx, id); err != nil {
				report.Errors++
				c.logger.Warn("sweep: failed to delete session", "session_id", id, "error", err)
				continue
			}
			report.Removed++
			continue
		}
		if err != nil {
			report.Errors++
			c.logger.Warn("sweep: failed to load session", "session_id", id, "error", err)
			continue
		}

		switch {
		case sess.Status == models.StatusOpen:
			if c.expire(ctx, sess, "session expired") {
				report.Expired++
			} else {
				report.Errors++
			}
		case sess.Status == models.StatusAssembling:
			if _, err := c.sessions.Transition(ctx, id,
				[]models.SessionStatus{models.StatusAssembling}, models.StatusFailed,
				func(s *models.UploadSession) { s.FailureReason = "assembly interrupted" }); err != nil {
				report.Errors++
				continue
			}
			report.Recovered++
		case sess.UpdatedAt.Before(removeBefore):
			if err := c.discard(ctx, sess); err != nil {
				report.Errors++
				c.logger.Warn("sweep: failed to remove session", "session_id", id, "error", err)
				continue
			}
			report.Removed++
		}
	}

	if report.Expired+report.Recovered+report.Removed+report.Errors > 0 {
		c.logger.Info("expired stale sessions",
			"expired", report.Expired,
			"recovered", report.Recovered,
			"removed", report.Removed,
			"errors", report.Errors,
		)
	}
	return report, nil
}

func (c *Coordinator) expire(ctx context.Context, sess *models.UploadSession, reason string) bool {
	_, err := c.sessions.Transition(ctx, sess.ID,
		[]models.SessionStatus{models.StatusOpen}, models.StatusFailed,
		func(s *models.UploadSession) { s.FailureReason = reason })
	if err != nil {
		c.logger.Warn("sweep: failed to expire session", "session_id", sess.ID, "error", err)
		return false
	}
	if err := c.DeleteTemporaryChunks(ctx, sess.ID); err != nil {
		c.logger.Warn("sweep: failed to delete chunks", "session_id", sess.ID, "error", err)
	}
	if sess.Kind == models.KindResumable && c.resumable != nil {
		if err := c.resumable.Terminate(ctx, sess.ID); err != nil {
			c.logger.Warn("sweep: failed to terminate resumable upload", "session_id", sess.ID, "error", err)
		}
	}
	return true
}

// Sweeper runs ExpireStale periodically.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
}

// NewSweeper creates a sweeper; a non-positive interval defaults to 15 minutes.
func NewSweeper(c *Coordinator, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{coordinator: c, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("session sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.coordinator.ExpireStale(ctx, s.coordinator.now()); err != nil && ctx.Err() == nil {
				s.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}
