package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ProcessPending is one sweep pass: every pending record that is due (no
// schedule, or scheduled at or before now) is processed, plus failed records
// that have not yet exhausted their retry budget. Processing moves status off
// pending before the next pass's query window, so a record is never picked up
// twice.
func (s *NotificationService) ProcessPending(ctx context.Context) {
	due, err := s.notifications.FindDue(ctx, time.Now())
	if err != nil {
		s.logger.Error("Failed to query due notifications", zap.Error(err))
		return
	}

	retryable, err := s.notifications.FindRetryable(ctx, s.maxRetryCount)
	if err != nil {
		s.logger.Error("Failed to query retryable notifications", zap.Error(err))
		return
	}

	for i := range due {
		s.ProcessNotification(ctx, &due[i])
	}
	for i := range retryable {
		s.ProcessNotification(ctx, &retryable[i])
	}

	if total := len(due) + len(retryable); total > 0 {
		s.logger.Info("Sweep processed notifications",
			zap.Int("due", len(due)),
			zap.Int("retried", len(retryable)),
		)
	}
}

// StartSweeper runs ProcessPending on a fixed cadence until ctx is cancelled.
func (s *NotificationService) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("Notification sweeper started",
		zap.Duration("interval", s.sweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Notification sweeper stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}
