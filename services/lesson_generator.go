package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"tutorcrm/models"
	"tutorcrm/repository"
)

const week = 7 * 24 * time.Hour

// LessonGenerator books weekly lessons ahead, bounded by each student's paid balance.
type LessonGenerator struct {
	store      repository.Store
	tz         *Normalizer
	locker     Locker
	weeksAhead int
	lockTTL    time.Duration
}

func NewLessonGenerator(store repository.Store, tz *Normalizer, locker Locker, weeksAhead int, lockTTL time.Duration) *LessonGenerator {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &LessonGenerator{store: store, tz: tz, locker: locker, weeksAhead: weeksAhead, lockTTL: lockTTL}
}

func (g *LessonGenerator) WeeksAhead() int { return g.weeksAhead }

type candidate struct {
	schedule models.RecurringSchedule
	at       time.Time
}

// Generate books future lessons for the given schedules. Each student is handled
// in its own transaction; a failure for one student does not stop the others.
func (g *LessonGenerator) Generate(ctx context.Context, schedules []models.RecurringSchedule, weeksAhead int, now time.Time) (int, error) {
	if weeksAhead <= 0 {
		weeksAhead = g.weeksAhead
	}

	byStudent := map[uint][]models.RecurringSchedule{}
	var order []uint
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		if _, seen := byStudent[s.StudentID]; !seen {
			order = append(order, s.StudentID)
		}
		byStudent[s.StudentID] = append(byStudent[s.StudentID], s)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	total := 0
	var errs []error
	for _, studentID := range order {
		n, err := g.generateLocked(ctx, studentID, byStudent[studentID], weeksAhead, now)
		total += n
		if err != nil {
			logrus.WithError(err).WithField("student_id", studentID).Error("lesson generation failed")
			errs = append(errs, fmt.Errorf("student %d: %w", studentID, err))
		}
	}
	return total, errors.Join(errs...)
}

// GenerateForStudent books lessons for all active schedules of one student.
func (g *LessonGenerator) GenerateForStudent(ctx context.Context, studentID uint, now time.Time) (int, error) {
	schedules, err := g.store.Schedules().List(ctx, repository.ScheduleFilter{StudentID: &studentID, ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	return g.Generate(ctx, schedules, g.weeksAhead, now)
}

// GenerateAll books lessons for every active schedule.
func (g *LessonGenerator) GenerateAll(ctx context.Context, weeksAhead int, now time.Time) (int, error) {
	schedules, err := g.store.Schedules().List(ctx, repository.ScheduleFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	return g.Generate(ctx, schedules, weeksAhead, now)
}

func (g *LessonGenerator) generateLocked(ctx context.Context, studentID uint, schedules []models.RecurringSchedule, weeksAhead int, now time.Time) (int, error) {
	unlock, err := g.lockStudent(ctx, studentID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var created int
	err = g.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		created, err = g.generateTx(ctx, tx, studentID, schedules, weeksAhead, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func studentLockKey(studentID uint) string {
	return fmt.Sprintf("generate:student:%d", studentID)
}

// lockStudent serializes generation and schedule writes of one student. The
// lock is not reentrant.
func (g *LessonGenerator) lockStudent(ctx context.Context, studentID uint) (func(), error) {
	return g.locker.Lock(ctx, studentLockKey(studentID), g.lockTTL)
}

// generateTx is the generation step proper. Callers own the transaction and the
// student lock.
func (g *LessonGenerator) generateTx(ctx context.Context, tx repository.Store, studentID uint, schedules []models.RecurringSchedule, weeksAhead int, now time.Time) (int, error) {
	student, err := tx.Students().GetByID(ctx, studentID)
	if err != nil {
		return 0, notFound(err, "student", studentID)
	}
	if !student.IsActive {
		return 0, nil
	}

	balance, err := ledgerBalance(ctx, tx, studentID)
	if err != nil {
		return 0, err
	}
	pending, err := tx.Lessons().CountByStatus(ctx, studentID, models.LessonScheduled)
	if err != nil {
		return 0, err
	}
	available := balance.Raw - pending

	candidates, err := g.candidates(schedules, weeksAhead, now)
	if err != nil {
		return 0, err
	}

	var batch []*models.Lesson
	for _, c := range candidates {
		exists, err := tx.Lessons().SlotExists(ctx, studentID, c.schedule.ID, c.at)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		// Only a missing slot that cannot be paid for counts as a stop; a
		// fully booked horizon never reaches here.
		if available <= 0 {
			generationBalanceStops.Inc()
			logrus.WithFields(logrus.Fields{
				"student_id": studentID,
				"remaining":  balance.Raw,
				"pending":    pending + len(batch),
				"first_gap":  c.at,
			}).Debug("insufficient balance, generation stopped")
			break
		}
		scheduleID := c.schedule.ID
		batch = append(batch, &models.Lesson{
			StudentID:           studentID,
			RecurringScheduleID: &scheduleID,
			ScheduledAt:         c.at,
			OriginalTime:        g.tz.WallClock(c.at),
			DurationMinutes:     c.schedule.DurationMinutes,
			Status:              models.LessonScheduled,
			LessonType:          models.LessonRegular,
			Price:               student.LessonPrice,
		})
		available--
	}

	if err := tx.Lessons().CreateBatch(ctx, batch); err != nil {
		return 0, err
	}
	lessonsGenerated.Add(float64(len(batch)))
	if len(batch) > 0 {
		logrus.WithFields(logrus.Fields{
			"student_id": studentID,
			"created":    len(batch),
		}).Debug("lessons generated")
	}
	return len(batch), nil
}

// candidates interleaves the weekly dates of all schedules in chronological
// order, ties broken by schedule id.
func (g *LessonGenerator) candidates(schedules []models.RecurringSchedule, weeksAhead int, now time.Time) ([]candidate, error) {
	var out []candidate
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		first, err := g.tz.NextOccurrence(s.DayOfWeek, s.TimeOfDay, now)
		if err != nil {
			return nil, err
		}
		for i := 0; i < weeksAhead; i++ {
			out = append(out, candidate{schedule: s, at: first.Add(time.Duration(i) * week)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].schedule.ID < out[j].schedule.ID
	})
	return out, nil
}
