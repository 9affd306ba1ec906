package repository

import (
	"context"
	"errors"
	"time"

	"tutorcrm/models"
)

// ErrNotFound is returned by every repository when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

type StudentFilter struct {
	TutorID    *uint
	UserID     *uint
	ActiveOnly bool
}

type ScheduleFilter struct {
	StudentID  *uint
	ActiveOnly bool
}

type LessonFilter struct {
	StudentID  *uint
	TutorID    *uint
	ScheduleID *uint
	Status     string
	From       *time.Time // inclusive
	To         *time.Time // exclusive
}

type StudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	GetByID(ctx context.Context, id uint) (*models.Student, error)
	List(ctx context.Context, filter StudentFilter) ([]models.Student, error)
	UpdateBalance(ctx context.Context, id uint, totalPaid, remaining int) error
	SetActive(ctx context.Context, id uint, active bool) error
}

type ScheduleRepository interface {
	Create(ctx context.Context, schedule *models.RecurringSchedule) error
	GetByID(ctx context.Context, id uint) (*models.RecurringSchedule, error)
	List(ctx context.Context, filter ScheduleFilter) ([]models.RecurringSchedule, error)
	// Update persists day, time, duration and active flag.
	Update(ctx context.Context, schedule *models.RecurringSchedule) error
	Delete(ctx context.Context, id uint) error
	// ActiveSlotTaken reports whether another active schedule of the student
	// uses the same day and time. excludeID is ignored when zero.
	ActiveSlotTaken(ctx context.Context, studentID uint, dayOfWeek int, timeOfDay string, excludeID uint) (bool, error)
}

type LessonRepository interface {
	Create(ctx context.Context, lesson *models.Lesson) error
	CreateBatch(ctx context.Context, lessons []*models.Lesson) error
	GetByID(ctx context.Context, id uint) (*models.Lesson, error)
	List(ctx context.Context, filter LessonFilter) ([]models.Lesson, error)
	SlotExists(ctx context.Context, studentID, scheduleID uint, scheduledAt time.Time) (bool, error)
	CountByStatus(ctx context.Context, studentID uint, status string) (int, error)
	// TransitionStatus moves a lesson from one status to another only when it
	// is still in the from status. It reports whether a row changed.
	TransitionStatus(ctx context.Context, id uint, from, to string, at time.Time) (bool, error)
	UpdateDetails(ctx context.Context, id uint, notes, homework *string, grade *int) error
	// DeleteFutureBySchedule removes non-completed lessons of the schedule at or after from.
	DeleteFutureBySchedule(ctx context.Context, scheduleID uint, from time.Time) (int64, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	ListByStudent(ctx context.Context, studentID uint) ([]models.Payment, error)
	SumLessons(ctx context.Context, studentID uint) (int, error)
}

type EarningRepository interface {
	Create(ctx context.Context, earning *models.TutorEarning) error
	CancelByLesson(ctx context.Context, lessonID uint) (int64, error)
	ListByTutor(ctx context.Context, tutorID uint) ([]models.TutorEarning, error)
}

// Store groups the repositories behind one transaction boundary.
type Store interface {
	Students() StudentRepository
	Schedules() ScheduleRepository
	Lessons() LessonRepository
	Payments() PaymentRepository
	Earnings() EarningRepository

	// WithTx runs fn inside a transaction. The Store passed to fn is bound to
	// the transaction; any error returned by fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
