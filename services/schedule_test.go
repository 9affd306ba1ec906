package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tutorcrm/config"
	"tutorcrm/models"
	"tutorcrm/repository"
	"tutorcrm/repository/memrepo"
)

func TestCreateScheduleRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 0)
	first := seedSchedule(t, core, student.ID, 1, "10:00")

	_, err := core.Schedules.CreateSchedule(ctx, ScheduleInput{StudentID: student.ID, DayOfWeek: 1, TimeOfDay: "10:00:00", DurationMinutes: 30})
	if !errors.Is(err, ErrDuplicateSchedule) {
		t.Fatalf("expected ErrDuplicateSchedule, got %v", err)
	}

	// Another day is fine, and an inactive schedule frees its slot.
	seedSchedule(t, core, student.ID, 2, "10:00")
	if _, err := core.Schedules.SetActive(ctx, first.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	seedSchedule(t, core, student.ID, 1, "10:00")
	if _, err := core.Schedules.SetActive(ctx, first.ID, true); !errors.Is(err, ErrDuplicateSchedule) {
		t.Fatalf("reactivating into a taken slot should fail, got %v", err)
	}
}

func TestConcurrentCreateScheduleKeepsOneActive(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 0)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = core.Schedules.CreateSchedule(ctx, ScheduleInput{StudentID: student.ID, DayOfWeek: 3, TimeOfDay: "18:00", DurationMinutes: 60})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, ErrDuplicateSchedule):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one schedule created, got %d", created)
	}
	active, _ := core.Schedules.ListSchedules(ctx, &student.ID)
	if len(active) != 1 {
		t.Fatalf("expected one stored schedule, got %d", len(active))
	}
}

func TestScheduleWritesWaitForStudentLock(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	cfg := config.Default()
	cfg.GenerationLockTTL = 20 * time.Millisecond
	locker := NewLocalLocker()
	core := NewCore(store, cfg, locker)
	core.Clock = func() time.Time { return wednesday }
	student := seedStudent(t, store, 0)
	schedule := seedSchedule(t, core, student.ID, 1, "10:00")

	unlock, err := locker.Lock(ctx, studentLockKey(student.ID), time.Second)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := core.Schedules.CreateSchedule(ctx, ScheduleInput{StudentID: student.ID, DayOfWeek: 2, TimeOfDay: "10:00", DurationMinutes: 60}); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("create: expected ErrLockTimeout, got %v", err)
	}
	if _, err := core.Schedules.SetActive(ctx, schedule.ID, false); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("set active: expected ErrLockTimeout, got %v", err)
	}
	if _, err := core.Editor.UpdateSchedule(ctx, schedule.ID, ScheduleUpdate{DayOfWeek: 2, TimeOfDay: "11:00", DurationMinutes: 60}, wednesday); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("update: expected ErrLockTimeout, got %v", err)
	}

	unlock()
	if _, err := core.Schedules.CreateSchedule(ctx, ScheduleInput{StudentID: student.ID, DayOfWeek: 2, TimeOfDay: "10:00", DurationMinutes: 60}); err != nil {
		t.Fatalf("create after release: %v", err)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 0)

	cases := []struct {
		name string
		in   ScheduleInput
		want error
	}{
		{"bad day", ScheduleInput{StudentID: student.ID, DayOfWeek: 7, TimeOfDay: "10:00", DurationMinutes: 60}, ErrValidation},
		{"bad duration", ScheduleInput{StudentID: student.ID, DayOfWeek: 1, TimeOfDay: "10:00", DurationMinutes: 0}, ErrValidation},
		{"bad time", ScheduleInput{StudentID: student.ID, DayOfWeek: 1, TimeOfDay: "25:00", DurationMinutes: 60}, ErrInvalidTimeFormat},
		{"unknown student", ScheduleInput{StudentID: 999, DayOfWeek: 1, TimeOfDay: "10:00", DurationMinutes: 60}, ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := core.Schedules.CreateSchedule(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDeleteScheduleCascadesFutureLessons(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 10)
	schedule := seedSchedule(t, core, student.ID, 1, "10:00")

	scheduleID := schedule.ID
	past := &models.Lesson{
		StudentID:           student.ID,
		RecurringScheduleID: &scheduleID,
		ScheduledAt:         utc(2025, 3, 3, 5, 0),
		DurationMinutes:     60,
		Status:              models.LessonCompleted,
	}
	if err := store.Lessons().Create(ctx, past); err != nil {
		t.Fatalf("seed past lesson: %v", err)
	}
	if _, err := core.Generator.GenerateForStudent(ctx, student.ID, wednesday); err != nil {
		t.Fatalf("generate: %v", err)
	}

	removed, err := core.Schedules.DeleteSchedule(ctx, schedule.ID, wednesday)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 future lessons removed, got %d", removed)
	}
	lessons := studentLessons(t, core, student.ID)
	if len(lessons) != 1 || lessons[0].ID != past.ID {
		t.Fatalf("expected only the past lesson to remain, got %+v", lessons)
	}
	if _, err := core.Schedules.GetSchedule(ctx, schedule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected schedule to be gone, got %v", err)
	}
	if _, err := core.Schedules.DeleteSchedule(ctx, schedule.ID, wednesday); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUpdateScheduleMovesFutureLessons(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 10)
	schedule := seedSchedule(t, core, student.ID, 1, "14:00")

	scheduleID := schedule.ID
	past := &models.Lesson{
		StudentID:           student.ID,
		RecurringScheduleID: &scheduleID,
		ScheduledAt:         utc(2025, 3, 3, 9, 0),
		OriginalTime:        "2025-03-03 14:00",
		DurationMinutes:     60,
		Status:              models.LessonScheduled,
	}
	if err := store.Lessons().Create(ctx, past); err != nil {
		t.Fatalf("seed past lesson: %v", err)
	}
	if _, err := core.Generator.GenerateForStudent(ctx, student.ID, wednesday); err != nil {
		t.Fatalf("generate: %v", err)
	}

	result, err := core.Editor.UpdateSchedule(ctx, schedule.ID, ScheduleUpdate{DayOfWeek: 1, TimeOfDay: "16:00", DurationMinutes: 90}, wednesday)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Removed != 4 || result.Generated != 4 {
		t.Fatalf("unexpected edit result %+v", result)
	}

	now := wednesday
	future, _ := core.Lifecycle.ListLessons(ctx, repository.LessonFilter{StudentID: &student.ID, From: &now})
	if len(future) != 4 {
		t.Fatalf("expected 4 future lessons, got %d", len(future))
	}
	for _, l := range future {
		if !strings.HasSuffix(l.OriginalTime, "16:00") || l.DurationMinutes != 90 {
			t.Fatalf("future lesson still on the old pattern: %+v", l)
		}
	}
	kept, err := store.Lessons().GetByID(ctx, past.ID)
	if err != nil || kept.OriginalTime != "2025-03-03 14:00" {
		t.Fatalf("past lesson was touched: %v %+v", err, kept)
	}
	updated, _ := core.Schedules.GetSchedule(ctx, schedule.ID)
	if updated.TimeOfDay != "16:00" || updated.DurationMinutes != 90 {
		t.Fatalf("schedule not updated: %+v", updated)
	}
}

func TestUpdateScheduleDuplicateAndMissing(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 0)
	seedSchedule(t, core, student.ID, 1, "10:00")
	other := seedSchedule(t, core, student.ID, 2, "10:00")

	_, err := core.Editor.UpdateSchedule(ctx, other.ID, ScheduleUpdate{DayOfWeek: 1, TimeOfDay: "10:00", DurationMinutes: 60}, wednesday)
	if !errors.Is(err, ErrDuplicateSchedule) {
		t.Fatalf("expected ErrDuplicateSchedule, got %v", err)
	}
	_, err = core.Editor.UpdateSchedule(ctx, 999, ScheduleUpdate{DayOfWeek: 1, TimeOfDay: "11:00", DurationMinutes: 60}, wednesday)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingStore makes every lesson batch insert fail inside transactions.
type failingStore struct {
	*memrepo.Store
}

func (f failingStore) Lessons() repository.LessonRepository {
	return failingLessons{f.Store.Lessons()}
}

func (f failingStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.WithTx(ctx, func(tx repository.Store) error {
		return fn(failingStore{tx.(*memrepo.Store)})
	})
}

type failingLessons struct {
	repository.LessonRepository
}

func (failingLessons) CreateBatch(context.Context, []*models.Lesson) error {
	return errors.New("disk full")
}

func TestUpdateScheduleRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 10)
	schedule := seedSchedule(t, core, student.ID, 1, "14:00")
	if _, err := core.Generator.GenerateForStudent(ctx, student.ID, wednesday); err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := studentLessons(t, core, student.ID)

	broken := NewCore(failingStore{store}, config.Default(), NewLocalLocker())
	_, err := broken.Editor.UpdateSchedule(ctx, schedule.ID, ScheduleUpdate{DayOfWeek: 1, TimeOfDay: "16:00", DurationMinutes: 60}, wednesday)
	if !errors.Is(err, ErrTransactionFailure) {
		t.Fatalf("expected ErrTransactionFailure, got %v", err)
	}

	after := studentLessons(t, core, student.ID)
	if len(after) != len(before) {
		t.Fatalf("lessons changed after rollback: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i].ID != before[i].ID || !after[i].ScheduledAt.Equal(before[i].ScheduledAt) {
			t.Fatalf("lesson %d changed after rollback", i)
		}
	}
	current, _ := core.Schedules.GetSchedule(ctx, schedule.ID)
	if current.TimeOfDay != "14:00" {
		t.Fatalf("schedule update was not rolled back: %s", current.TimeOfDay)
	}
}

func TestImportSchedules(t *testing.T) {
	ctx := context.Background()
	core, store := newTestCore(t)
	student := seedStudent(t, store, 0)

	csvData := "Student ID,Day,Time,Duration\n" +
		idString(student.ID) + ",Monday,10:00,60\n" +
		idString(student.ID) + ",1,10:00,60\n" +
		",,,\n" +
		idString(student.ID) + ",funday,10:00,60\n" +
		idString(student.ID) + ",thu,17:30,45\n"
	rows, err := ReadCSVRows(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	report, err := core.Schedules.ImportSchedules(ctx, rows)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.TotalRows != 4 || report.Created != 2 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if ids := report.StudentIDs(); len(ids) != 1 || ids[0] != student.ID {
		t.Fatalf("expected only student %d in the import, got %v", student.ID, ids)
	}
	if !strings.Contains(report.Rows[1].Error, "duplicate") {
		t.Fatalf("expected duplicate error on second row, got %q", report.Rows[1].Error)
	}

	if _, err := core.Schedules.ImportSchedules(ctx, [][]string{{"name", "day"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
