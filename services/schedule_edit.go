package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tutorcrm/models"
	"tutorcrm/repository"
)

// ScheduleUpdate is the new pattern for an existing schedule.
type ScheduleUpdate struct {
	DayOfWeek       int
	TimeOfDay       string
	DurationMinutes int
}

// EditResult reports how many future lessons were retired and rebooked.
type EditResult struct {
	Schedule  *models.RecurringSchedule `json:"schedule"`
	Removed   int64                     `json:"removed"`
	Generated int                       `json:"generated"`
}

// ScheduleEditor retires and regenerates the future lessons of an edited schedule.
type ScheduleEditor struct {
	store     repository.Store
	schedules *ScheduleStore
	generator *LessonGenerator
}

func NewScheduleEditor(store repository.Store, schedules *ScheduleStore, generator *LessonGenerator) *ScheduleEditor {
	return &ScheduleEditor{store: store, schedules: schedules, generator: generator}
}

// UpdateSchedule deletes future non-completed lessons, updates the pattern and
// regenerates the schedule alone, all in one transaction.
func (e *ScheduleEditor) UpdateSchedule(ctx context.Context, id uint, in ScheduleUpdate, now time.Time) (*EditResult, error) {
	hm, err := e.schedules.normalize(in.DayOfWeek, in.TimeOfDay, in.DurationMinutes)
	if err != nil {
		return nil, err
	}
	current, err := e.store.Schedules().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "schedule", id)
	}
	unlock, err := e.generator.lockStudent(ctx, current.StudentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated := *current
	updated.DayOfWeek = in.DayOfWeek
	updated.TimeOfDay = hm
	updated.DurationMinutes = in.DurationMinutes

	result := &EditResult{Schedule: &updated}
	err = e.store.WithTx(ctx, func(tx repository.Store) error {
		if updated.IsActive {
			taken, err := tx.Schedules().ActiveSlotTaken(ctx, updated.StudentID, updated.DayOfWeek, hm, id)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: another active schedule uses day %d at %s", ErrDuplicateSchedule, updated.DayOfWeek, hm)
			}
		}
		removed, err := tx.Lessons().DeleteFutureBySchedule(ctx, id, now)
		if err != nil {
			return err
		}
		if err := tx.Schedules().Update(ctx, &updated); err != nil {
			return err
		}
		generated := 0
		if updated.IsActive {
			generated, err = e.generator.generateTx(ctx, tx, updated.StudentID, []models.RecurringSchedule{updated}, e.generator.weeksAhead, now)
			if err != nil {
				return err
			}
		}
		result.Removed, result.Generated = removed, generated
		return nil
	})
	if errors.Is(err, ErrDuplicateSchedule) {
		return nil, err
	}
	if err != nil {
		logrus.WithError(err).WithField("schedule_id", id).Error("schedule edit rolled back")
		return nil, fmt.Errorf("%w: schedule %d: %v", ErrTransactionFailure, id, err)
	}

	logrus.WithFields(logrus.Fields{
		"schedule_id": id,
		"removed":     result.Removed,
		"generated":   result.Generated,
	}).Info("recurring schedule updated")
	return result, nil
}
