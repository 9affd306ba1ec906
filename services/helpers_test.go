package services

import (
	"context"
	"testing"
	"time"

	"tutorcrm/config"
	"tutorcrm/models"
	"tutorcrm/repository"
	"tutorcrm/repository/memrepo"
)

// wednesday is 2025-03-05 12:00 in the business zone (UTC+5).
var wednesday = time.Date(2025, 3, 5, 7, 0, 0, 0, time.UTC)

func newTestCore(t *testing.T) (*Core, *memrepo.Store) {
	t.Helper()
	store := memrepo.New()
	core := NewCore(store, config.Default(), NewLocalLocker())
	core.Clock = func() time.Time { return wednesday }
	return core, store
}

// seedStudent creates an active student and a ledger entry of paid lessons
// without triggering a refill.
func seedStudent(t *testing.T, store *memrepo.Store, paid int) *models.Student {
	t.Helper()
	ctx := context.Background()
	student := &models.Student{FullName: "Test Student", LessonPrice: 100, IsActive: true}
	if err := store.Students().Create(ctx, student); err != nil {
		t.Fatalf("create student: %v", err)
	}
	if paid > 0 {
		payment := &models.Payment{StudentID: student.ID, LessonsPurchased: paid, Kind: models.PaymentKindPayment}
		if err := store.Payments().Create(ctx, payment); err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}
	return student
}

func seedSchedule(t *testing.T, core *Core, studentID uint, day int, at string) *models.RecurringSchedule {
	t.Helper()
	schedule, err := core.Schedules.CreateSchedule(context.Background(), ScheduleInput{
		StudentID:       studentID,
		DayOfWeek:       day,
		TimeOfDay:       at,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return schedule
}

func studentLessons(t *testing.T, core *Core, studentID uint) []models.Lesson {
	t.Helper()
	lessons, err := core.Lifecycle.ListLessons(context.Background(), repository.LessonFilter{StudentID: &studentID})
	if err != nil {
		t.Fatalf("list lessons: %v", err)
	}
	return lessons
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}
