package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tutorcrm/models"
	"tutorcrm/repository"
)

// ScheduleInput describes a weekly pattern to create. TimeOfDay is a
// business-zone wall clock.
type ScheduleInput struct {
	StudentID       uint
	DayOfWeek       int
	TimeOfDay       string
	DurationMinutes int
}

// ScheduleStore owns recurring schedules and the rule that a student has at
// most one active schedule per weekday and time. Writes run under the same
// per-student lock as lesson generation.
type ScheduleStore struct {
	store     repository.Store
	tz        *Normalizer
	generator *LessonGenerator
}

func NewScheduleStore(store repository.Store, tz *Normalizer, generator *LessonGenerator) *ScheduleStore {
	return &ScheduleStore{store: store, tz: tz, generator: generator}
}

// normalize validates the pattern fields and returns the canonical HH:MM time.
func (s *ScheduleStore) normalize(day int, timeOfDay string, duration int) (string, error) {
	if day < 0 || day > 6 {
		return "", fmt.Errorf("%w: day_of_week must be between 0 and 6", ErrValidation)
	}
	if duration <= 0 {
		return "", fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	return s.tz.ParseTimeOfDay(timeOfDay)
}

// CreateSchedule validates the pattern and stores it as active. It does not
// book lessons.
func (s *ScheduleStore) CreateSchedule(ctx context.Context, in ScheduleInput) (*models.RecurringSchedule, error) {
	hm, err := s.normalize(in.DayOfWeek, in.TimeOfDay, in.DurationMinutes)
	if err != nil {
		return nil, err
	}

	schedule := &models.RecurringSchedule{
		StudentID:       in.StudentID,
		DayOfWeek:       in.DayOfWeek,
		TimeOfDay:       hm,
		DurationMinutes: in.DurationMinutes,
		IsActive:        true,
	}

	unlock, err := s.generator.lockStudent(ctx, in.StudentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Students().GetByID(ctx, in.StudentID); err != nil {
			return notFound(err, "student", in.StudentID)
		}
		taken, err := tx.Schedules().ActiveSlotTaken(ctx, in.StudentID, in.DayOfWeek, hm, 0)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: student %d already has an active schedule on day %d at %s", ErrDuplicateSchedule, in.StudentID, in.DayOfWeek, hm)
		}
		return tx.Schedules().Create(ctx, schedule)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"schedule_id": schedule.ID,
		"student_id":  schedule.StudentID,
		"day_of_week": schedule.DayOfWeek,
		"time_of_day": schedule.TimeOfDay,
	}).Info("recurring schedule created")
	return schedule, nil
}

func (s *ScheduleStore) ListSchedules(ctx context.Context, studentID *uint) ([]models.RecurringSchedule, error) {
	return s.store.Schedules().List(ctx, repository.ScheduleFilter{StudentID: studentID})
}

func (s *ScheduleStore) GetSchedule(ctx context.Context, id uint) (*models.RecurringSchedule, error) {
	schedule, err := s.store.Schedules().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "schedule", id)
	}
	return schedule, nil
}

// SetActive toggles a schedule. Deactivation keeps already booked lessons;
// activation only affects future generation runs.
func (s *ScheduleStore) SetActive(ctx context.Context, id uint, active bool) (*models.RecurringSchedule, error) {
	current, err := s.store.Schedules().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "schedule", id)
	}
	unlock, err := s.generator.lockStudent(ctx, current.StudentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var schedule *models.RecurringSchedule
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		schedule, err = tx.Schedules().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "schedule", id)
		}
		if schedule.IsActive == active {
			return nil
		}
		if active {
			taken, err := tx.Schedules().ActiveSlotTaken(ctx, schedule.StudentID, schedule.DayOfWeek, schedule.TimeOfDay, schedule.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: another active schedule uses day %d at %s", ErrDuplicateSchedule, schedule.DayOfWeek, schedule.TimeOfDay)
			}
		}
		schedule.IsActive = active
		return tx.Schedules().Update(ctx, schedule)
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

// DeleteSchedule removes the schedule together with its future lessons that are
// not completed. Lessons before now stay for history.
func (s *ScheduleStore) DeleteSchedule(ctx context.Context, id uint, now time.Time) (int64, error) {
	var removed int64
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Schedules().GetByID(ctx, id); err != nil {
			return notFound(err, "schedule", id)
		}
		var err error
		if removed, err = tx.Lessons().DeleteFutureBySchedule(ctx, id, now); err != nil {
			return err
		}
		return tx.Schedules().Delete(ctx, id)
	})
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"schedule_id":     id,
		"lessons_removed": removed,
	}).Info("recurring schedule deleted")
	return removed, nil
}
