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

// Bulk actions accepted by BulkTransition.
const (
	ActionComplete   = "complete"
	ActionCancel     = "cancel"
	ActionMarkMissed = "mark_missed"
)

var actionTargets = map[string]string{
	ActionComplete:   models.LessonCompleted,
	ActionCancel:     models.LessonCancelled,
	ActionMarkMissed: models.LessonMissed,
	"missed":         models.LessonMissed,
}

// Lifecycle drives lessons from scheduled into one of the terminal states.
type Lifecycle struct {
	store        repository.Store
	tz           *Normalizer
	balance      *BalanceReconciler
	earningShare float64
	bulkMax      int
}

func NewLifecycle(store repository.Store, tz *Normalizer, balance *BalanceReconciler, earningShare float64, bulkMax int) *Lifecycle {
	return &Lifecycle{store: store, tz: tz, balance: balance, earningShare: earningShare, bulkMax: bulkMax}
}

func (l *Lifecycle) Complete(ctx context.Context, lessonID uint, now time.Time) (*models.Lesson, error) {
	return l.Transition(ctx, lessonID, models.LessonCompleted, now)
}

func (l *Lifecycle) Cancel(ctx context.Context, lessonID uint, now time.Time) (*models.Lesson, error) {
	return l.Transition(ctx, lessonID, models.LessonCancelled, now)
}

func (l *Lifecycle) MarkMissed(ctx context.Context, lessonID uint, now time.Time) (*models.Lesson, error) {
	return l.Transition(ctx, lessonID, models.LessonMissed, now)
}

// Transition moves a scheduled lesson into target. Completion consumes one
// balance unit and credits the tutor; the other targets do not touch the balance.
func (l *Lifecycle) Transition(ctx context.Context, lessonID uint, target string, now time.Time) (*models.Lesson, error) {
	switch target {
	case models.LessonCompleted, models.LessonCancelled, models.LessonMissed:
	default:
		return nil, fmt.Errorf("%w: unknown target status %q", ErrValidation, target)
	}

	var lesson *models.Lesson
	err := l.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		lesson, err = tx.Lessons().GetByID(ctx, lessonID)
		if err != nil {
			return notFound(err, "lesson", lessonID)
		}
		if lesson.Status != models.LessonScheduled {
			return fmt.Errorf("%w: lesson %d is already %s", ErrInvalidTransition, lessonID, lesson.Status)
		}
		ok, err := tx.Lessons().TransitionStatus(ctx, lessonID, models.LessonScheduled, target, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: lesson %d changed concurrently", ErrInvalidTransition, lessonID)
		}
		if target != models.LessonCompleted {
			return nil
		}

		student, err := tx.Students().GetByID(ctx, lesson.StudentID)
		if err != nil {
			return notFound(err, "student", lesson.StudentID)
		}
		if student.TutorID != nil {
			earning := &models.TutorEarning{
				TutorID:   *student.TutorID,
				StudentID: student.ID,
				LessonID:  lesson.ID,
				Amount:    lesson.Price * l.earningShare,
				Status:    models.EarningEarned,
			}
			if err := tx.Earnings().Create(ctx, earning); err != nil {
				return err
			}
		}
		_, err = recomputeTx(ctx, tx, lesson.StudentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	lessonTransitions.WithLabelValues(target).Inc()
	lesson, err = l.store.Lessons().GetByID(ctx, lessonID)
	if err != nil {
		return nil, notFound(err, "lesson", lessonID)
	}
	logrus.WithFields(logrus.Fields{
		"lesson_id":  lessonID,
		"student_id": lesson.StudentID,
		"status":     target,
	}).Info("lesson transitioned")
	return lesson, nil
}

// ReverseCompletion undoes a completion. The lesson ends up cancelled (it is
// never reopened), the tutor earning is cancelled and the unit is returned.
func (l *Lifecycle) ReverseCompletion(ctx context.Context, lessonID uint, now time.Time) (*models.Lesson, Balance, error) {
	var balance Balance
	var studentID uint
	err := l.store.WithTx(ctx, func(tx repository.Store) error {
		lesson, err := tx.Lessons().GetByID(ctx, lessonID)
		if err != nil {
			return notFound(err, "lesson", lessonID)
		}
		if lesson.Status != models.LessonCompleted {
			return fmt.Errorf("%w: lesson %d is %s, not completed", ErrInvalidTransition, lessonID, lesson.Status)
		}
		studentID = lesson.StudentID
		ok, err := tx.Lessons().TransitionStatus(ctx, lessonID, models.LessonCompleted, models.LessonCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: lesson %d changed concurrently", ErrInvalidTransition, lessonID)
		}
		if _, err := tx.Earnings().CancelByLesson(ctx, lessonID); err != nil {
			return err
		}
		balance, err = recomputeTx(ctx, tx, studentID)
		return err
	})
	if err != nil {
		return nil, Balance{}, err
	}

	lessonTransitions.WithLabelValues("reversed").Inc()
	l.balance.triggerRefill(ctx, studentID)

	lesson, err := l.store.Lessons().GetByID(ctx, lessonID)
	if err != nil {
		return nil, Balance{}, notFound(err, "lesson", lessonID)
	}
	logrus.WithFields(logrus.Fields{
		"lesson_id":  lessonID,
		"student_id": studentID,
		"remaining":  balance.Remaining,
	}).Info("lesson completion reversed")
	return lesson, balance, nil
}

type BulkFailure struct {
	LessonID uint   `json:"lesson_id"`
	Reason   string `json:"reason"`
}

// BulkResult lists per-lesson failures next to the processed count.
type BulkResult struct {
	Requested int           `json:"requested"`
	Processed int           `json:"processed"`
	Failed    []BulkFailure `json:"failed"`
	Message   string        `json:"message"`
}

// BulkTransition applies one action to many lessons. Every id is handled in its
// own transaction and failures are reported per item.
func (l *Lifecycle) BulkTransition(ctx context.Context, lessonIDs []uint, action string, now time.Time) (*BulkResult, error) {
	target, ok := actionTargets[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	if len(lessonIDs) == 0 {
		return nil, fmt.Errorf("%w: lesson_ids is empty", ErrValidation)
	}
	if l.bulkMax > 0 && len(lessonIDs) > l.bulkMax {
		return nil, fmt.Errorf("%w: at most %d lessons per request", ErrValidation, l.bulkMax)
	}

	result := &BulkResult{Requested: len(lessonIDs), Failed: []BulkFailure{}}
	for _, id := range lessonIDs {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, BulkFailure{LessonID: id, Reason: err.Error()})
			continue
		}
		if _, err := l.Transition(ctx, id, target, now); err != nil {
			result.Failed = append(result.Failed, BulkFailure{LessonID: id, Reason: bulkReason(err)})
			continue
		}
		result.Processed++
	}
	result.Message = fmt.Sprintf("processed %d of %d", result.Processed, result.Requested)
	if n := len(result.Failed); n > 0 {
		result.Message += fmt.Sprintf("; %d failed", n)
	}

	logrus.WithFields(logrus.Fields{
		"action":    action,
		"requested": result.Requested,
		"processed": result.Processed,
		"failed":    len(result.Failed),
	}).Info("bulk lesson transition")
	return result, nil
}

func bulkReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalidTransition):
		return err.Error()
	default:
		return "internal error"
	}
}

// ManualLessonInput describes an irregular lesson. ScheduledAt is a business-zone wall clock.
type ManualLessonInput struct {
	StudentID       uint
	ScheduledAt     string
	DurationMinutes int
	Price           *float64
	Notes           string
}

// CreateManualLesson books a one-off irregular lesson outside the generator.
func (l *Lifecycle) CreateManualLesson(ctx context.Context, in ManualLessonInput) (*models.Lesson, error) {
	at, original, err := l.tz.ToUTC(in.ScheduledAt)
	if err != nil {
		return nil, err
	}
	if in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	if in.Price != nil && *in.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}

	student, err := l.store.Students().GetByID(ctx, in.StudentID)
	if err != nil {
		return nil, notFound(err, "student", in.StudentID)
	}
	price := student.LessonPrice
	if in.Price != nil {
		price = *in.Price
	}
	lesson := &models.Lesson{
		StudentID:       student.ID,
		ScheduledAt:     at,
		OriginalTime:    original,
		DurationMinutes: in.DurationMinutes,
		Status:          models.LessonScheduled,
		LessonType:      models.LessonIrregular,
		Price:           price,
		Notes:           in.Notes,
	}
	if err := l.store.Lessons().Create(ctx, lesson); err != nil {
		return nil, err
	}
	return lesson, nil
}

// LessonDetails applies only the non-nil fields.
type LessonDetails struct {
	Notes    *string
	Homework *string
	Grade    *int
}

func (l *Lifecycle) UpdateDetails(ctx context.Context, lessonID uint, in LessonDetails) (*models.Lesson, error) {
	if in.Grade != nil && (*in.Grade < 0 || *in.Grade > 100) {
		return nil, fmt.Errorf("%w: grade must be between 0 and 100", ErrValidation)
	}
	if err := l.store.Lessons().UpdateDetails(ctx, lessonID, in.Notes, in.Homework, in.Grade); err != nil {
		return nil, notFound(err, "lesson", lessonID)
	}
	return l.GetLesson(ctx, lessonID)
}

func (l *Lifecycle) GetLesson(ctx context.Context, lessonID uint) (*models.Lesson, error) {
	lesson, err := l.store.Lessons().GetByID(ctx, lessonID)
	if err != nil {
		return nil, notFound(err, "lesson", lessonID)
	}
	return lesson, nil
}

func (l *Lifecycle) ListLessons(ctx context.Context, filter repository.LessonFilter) ([]models.Lesson, error) {
	return l.store.Lessons().List(ctx, filter)
}
