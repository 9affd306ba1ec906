package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tutorcrm/models"
)

func TestCompleteConsumesOneUnit(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	tutorID := uint(9)
	linked := &models.Student{FullName: "Tutored", LessonPrice: 100, TutorID: &tutorID, IsActive: true}
	if err := store.Students().Create(ctx, linked); err != nil {
		t.Fatalf("create student: %v", err)
	}
	if _, err := core.Balance.AdjustPaidLessons(ctx, linked.ID, 5, "opening balance"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	seedSchedule(t, core, linked.ID, 1, "10:00")
	if _, err := core.Generator.GenerateForStudent(ctx, linked.ID, wednesday); err != nil {
		t.Fatalf("generate: %v", err)
	}
	lessons := studentLessons(t, core, linked.ID)
	if len(lessons) != 4 {
		t.Fatalf("expected 4 lessons, got %d", len(lessons))
	}

	before, _ := core.Balance.Compute(ctx, linked.ID)
	done, err := core.Lifecycle.Complete(ctx, lessons[0].ID, wednesday)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.LessonCompleted || done.CompletedAt == nil {
		t.Fatalf("lesson not completed: %+v", done)
	}
	after, _ := core.Balance.Compute(ctx, linked.ID)
	if after.Remaining != before.Remaining-1 || after.Completed != 1 {
		t.Fatalf("expected remaining %d, got %+v", before.Remaining-1, after)
	}
	cached, _ := store.Students().GetByID(ctx, linked.ID)
	if cached.RemainingLessons != after.Remaining || cached.TotalPaidLessons != 5 {
		t.Fatalf("cached balance out of sync: %+v", cached)
	}

	earnings, _ := store.Earnings().ListByTutor(ctx, tutorID)
	if len(earnings) != 1 || earnings[0].Amount != 50 || earnings[0].Status != models.EarningEarned {
		t.Fatalf("unexpected earnings %+v", earnings)
	}

	// A second completion must fail and leave the balance alone.
	if _, err := core.Lifecycle.Complete(ctx, lessons[0].ID, wednesday); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	again, _ := core.Balance.Compute(ctx, linked.ID)
	if again.Remaining != after.Remaining {
		t.Fatalf("balance double-decremented: %d -> %d", after.Remaining, again.Remaining)
	}

	// Reversal restores exactly one unit and cancels the earning.
	reversed, balance, err := core.Lifecycle.ReverseCompletion(ctx, lessons[0].ID, wednesday)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversed.Status != models.LessonCancelled || reversed.CompletedAt != nil {
		t.Fatalf("unexpected reversed lesson %+v", reversed)
	}
	if balance.Remaining != before.Remaining {
		t.Fatalf("expected remaining %d after reversal, got %d", before.Remaining, balance.Remaining)
	}
	earnings, _ = store.Earnings().ListByTutor(ctx, tutorID)
	if earnings[0].Status != models.EarningCancelled {
		t.Fatalf("earning not cancelled: %+v", earnings[0])
	}
	if _, _, err := core.Lifecycle.ReverseCompletion(ctx, lessons[0].ID, wednesday); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second reversal to fail, got %v", err)
	}
}

func TestCancelAndMissDoNotConsume(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 4)
	seedSchedule(t, core, student.ID, 1, "10:00")
	if _, err := core.Generator.GenerateForStudent(ctx, student.ID, wednesday); err != nil {
		t.Fatalf("generate: %v", err)
	}
	lessons := studentLessons(t, core, student.ID)

	if _, err := core.Lifecycle.Cancel(ctx, lessons[0].ID, wednesday); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := core.Lifecycle.MarkMissed(ctx, lessons[1].ID, wednesday); err != nil {
		t.Fatalf("missed: %v", err)
	}
	if _, err := core.Lifecycle.Complete(ctx, lessons[0].ID, wednesday); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelled lesson must be terminal, got %v", err)
	}
	balance, _ := core.Balance.Compute(ctx, student.ID)
	if balance.Remaining != 4 {
		t.Fatalf("expected untouched balance of 4, got %d", balance.Remaining)
	}
}

func TestTransitionUnknownLesson(t *testing.T) {
	core, _ := newTestCore(t)
	if _, err := core.Lifecycle.Complete(context.Background(), 404, wednesday); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBulkTransitionReportsPartialFailure(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 4)
	seedSchedule(t, core, student.ID, 1, "10:00")
	if _, err := core.Generator.GenerateForStudent(ctx, student.ID, wednesday); err != nil {
		t.Fatalf("generate: %v", err)
	}
	lessons := studentLessons(t, core, student.ID)
	if _, err := core.Lifecycle.Complete(ctx, lessons[0].ID, wednesday); err != nil {
		t.Fatalf("complete: %v", err)
	}

	result, err := core.Lifecycle.BulkTransition(ctx, []uint{lessons[0].ID, lessons[1].ID, 9999}, ActionComplete, wednesday)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if result.Processed != 1 || len(result.Failed) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Message != "processed 1 of 3; 2 failed" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if !strings.Contains(result.Failed[0].Reason, "already completed") {
		t.Fatalf("unexpected reason %q", result.Failed[0].Reason)
	}
	if result.Failed[1].Reason != "not found" {
		t.Fatalf("unexpected reason %q", result.Failed[1].Reason)
	}

	balance, _ := core.Balance.Compute(ctx, student.ID)
	if balance.Completed != 2 {
		t.Fatalf("expected 2 completed lessons, got %d", balance.Completed)
	}
}

func TestBulkTransitionValidation(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		ids    []uint
		action string
	}{
		{"unknown action", []uint{1}, "archive"},
		{"empty ids", nil, ActionCancel},
		{"too many ids", make([]uint, 201), ActionCancel},
	}
	for _, tc := range cases {
		if _, err := core.Lifecycle.BulkTransition(ctx, tc.ids, tc.action, wednesday); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestCreateManualLesson(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 1)

	lesson, err := core.Lifecycle.CreateManualLesson(ctx, ManualLessonInput{
		StudentID:       student.ID,
		ScheduledAt:     "2025-03-12 18:30",
		DurationMinutes: 45,
		Notes:           "exam prep",
	})
	if err != nil {
		t.Fatalf("create manual lesson: %v", err)
	}
	if lesson.LessonType != models.LessonIrregular || lesson.RecurringScheduleID != nil {
		t.Fatalf("unexpected lesson %+v", lesson)
	}
	if !lesson.ScheduledAt.Equal(utc(2025, 3, 12, 13, 30)) || lesson.OriginalTime != "2025-03-12 18:30" {
		t.Fatalf("unexpected time %s / %q", lesson.ScheduledAt, lesson.OriginalTime)
	}
	if lesson.Price != 100 {
		t.Fatalf("expected default price, got %v", lesson.Price)
	}

	if _, err := core.Lifecycle.CreateManualLesson(ctx, ManualLessonInput{StudentID: student.ID, ScheduledAt: "12/03/2025", DurationMinutes: 45}); !errors.Is(err, ErrInvalidTimeFormat) {
		t.Fatalf("expected ErrInvalidTimeFormat, got %v", err)
	}

	done, err := core.Lifecycle.Complete(ctx, lesson.ID, wednesday)
	if err != nil || done.Status != models.LessonCompleted {
		t.Fatalf("manual lesson should follow the lifecycle: %v", err)
	}
}

func TestUpdateDetails(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 1)
	lesson, _ := core.Lifecycle.CreateManualLesson(ctx, ManualLessonInput{StudentID: student.ID, ScheduledAt: "2025-03-12 18:30", DurationMinutes: 60})

	notes, grade := "good progress", 87
	updated, err := core.Lifecycle.UpdateDetails(ctx, lesson.ID, LessonDetails{Notes: &notes, Grade: &grade})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Notes != notes || updated.Grade == nil || *updated.Grade != grade {
		t.Fatalf("details not saved: %+v", updated)
	}

	bad := 140
	if _, err := core.Lifecycle.UpdateDetails(ctx, lesson.ID, LessonDetails{Grade: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := core.Lifecycle.UpdateDetails(ctx, 999, LessonDetails{Notes: &notes}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
