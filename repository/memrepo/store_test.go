package memrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"tutorcrm/models"
	"tutorcrm/repository"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := New()
	student := &models.Student{FullName: "Aziza", IsActive: true}
	if err := store.Students().Create(ctx, student); err != nil {
		t.Fatalf("create student: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Payments().Create(ctx, &models.Payment{StudentID: student.ID, LessonsPurchased: 5}); err != nil {
			return err
		}
		if err := tx.Students().UpdateBalance(ctx, student.ID, 5, 5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	total, _ := store.Payments().SumLessons(ctx, student.ID)
	if total != 0 {
		t.Fatalf("payment survived rollback: %d", total)
	}
	got, _ := store.Students().GetByID(ctx, student.ID)
	if got.TotalPaidLessons != 0 || got.RemainingLessons != 0 {
		t.Fatalf("balance survived rollback: %+v", got)
	}
}

func TestLessonSlotUniqueness(t *testing.T) {
	ctx := context.Background()
	store := New()
	scheduleID := uint(7)
	at := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	first := &models.Lesson{StudentID: 1, RecurringScheduleID: &scheduleID, ScheduledAt: at, DurationMinutes: 60}
	if err := store.Lessons().Create(ctx, first); err != nil {
		t.Fatalf("create lesson: %v", err)
	}
	dup := &models.Lesson{StudentID: 1, RecurringScheduleID: &scheduleID, ScheduledAt: at, DurationMinutes: 60}
	if err := store.Lessons().Create(ctx, dup); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	exists, _ := store.Lessons().SlotExists(ctx, 1, scheduleID, at)
	if !exists {
		t.Fatalf("expected slot to exist")
	}
}

func TestTransitionStatusIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := New()
	lesson := &models.Lesson{StudentID: 1, ScheduledAt: time.Now(), DurationMinutes: 60}
	_ = store.Lessons().Create(ctx, lesson)

	ok, err := store.Lessons().TransitionStatus(ctx, lesson.ID, models.LessonScheduled, models.LessonCompleted, time.Now())
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, _ = store.Lessons().TransitionStatus(ctx, lesson.ID, models.LessonScheduled, models.LessonCompleted, time.Now())
	if ok {
		t.Fatalf("second transition should not apply")
	}
	got, _ := store.Lessons().GetByID(ctx, lesson.ID)
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
}

func TestDeleteFutureBySchedule(t *testing.T) {
	ctx := context.Background()
	store := New()
	scheduleID := uint(3)
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	past := &models.Lesson{StudentID: 1, RecurringScheduleID: &scheduleID, ScheduledAt: now.Add(-24 * time.Hour)}
	done := &models.Lesson{StudentID: 1, RecurringScheduleID: &scheduleID, ScheduledAt: now.Add(24 * time.Hour), Status: models.LessonCompleted}
	future := &models.Lesson{StudentID: 1, RecurringScheduleID: &scheduleID, ScheduledAt: now.Add(48 * time.Hour)}
	for _, l := range []*models.Lesson{past, done, future} {
		if err := store.Lessons().Create(ctx, l); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	removed, err := store.Lessons().DeleteFutureBySchedule(ctx, scheduleID, now)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Lessons().GetByID(ctx, future.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("future lesson should be gone, got %v", err)
	}
}
