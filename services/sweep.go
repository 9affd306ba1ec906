package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tutorcrm/models"
	"tutorcrm/repository"
)

// SweepResult summarizes one automatic sweep run.
type SweepResult struct {
	MissedCount    int `json:"missed_count"`
	GeneratedCount int `json:"generated_count"`
	FailedCount    int `json:"failed_count"`
}

// Sweeper resolves overdue lessons and tops up the booking horizon. Both steps
// are idempotent so overlapping manual and timed runs are safe.
type Sweeper struct {
	store     repository.Store
	lifecycle *Lifecycle
	generator *LessonGenerator
	grace     time.Duration
}

func NewSweeper(store repository.Store, lifecycle *Lifecycle, generator *LessonGenerator, grace time.Duration) *Sweeper {
	return &Sweeper{store: store, lifecycle: lifecycle, generator: generator, grace: grace}
}

func (s *Sweeper) Run(ctx context.Context, now time.Time) (*SweepResult, error) {
	cutoff := now.Add(-s.grace)
	overdue, err := s.store.Lessons().List(ctx, repository.LessonFilter{
		Status: models.LessonScheduled,
		To:     &cutoff,
	})
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &SweepResult{}
	for _, lesson := range overdue {
		if _, err := s.lifecycle.MarkMissed(ctx, lesson.ID, now); err != nil {
			// A human may have resolved it in the meantime.
			logrus.WithError(err).WithField("lesson_id", lesson.ID).Warn("sweep could not mark lesson missed")
			result.FailedCount++
			continue
		}
		result.MissedCount++
	}

	generated, err := s.generator.GenerateAll(ctx, s.generator.weeksAhead, now)
	result.GeneratedCount = generated
	if err != nil {
		sweepRuns.WithLabelValues("partial").Inc()
		logrus.WithError(err).Error("sweep generation finished with errors")
		return result, err
	}

	sweepRuns.WithLabelValues("ok").Inc()
	logrus.WithFields(logrus.Fields{
		"missed":    result.MissedCount,
		"generated": result.GeneratedCount,
		"failed":    result.FailedCount,
	}).Info("automatic sweep finished")
	return result, nil
}
