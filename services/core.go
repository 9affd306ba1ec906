package services

import (
	"context"
	"time"

	"tutorcrm/config"
	"tutorcrm/repository"
)

// Core wires the scheduling components around one Store.
type Core struct {
	Store     repository.Store
	TZ        *Normalizer
	Students  *StudentService
	Schedules *ScheduleStore
	Generator *LessonGenerator
	Balance   *BalanceReconciler
	Lifecycle *Lifecycle
	Editor    *ScheduleEditor
	Sweeper   *Sweeper

	// Clock is replaced in tests.
	Clock func() time.Time
}

func NewCore(store repository.Store, cfg *config.Config, locker Locker) *Core {
	tz := NewNormalizer(cfg.BusinessUTCOffsetHours, cfg.ActualStartOffset)
	generator := NewLessonGenerator(store, tz, locker, cfg.WeeksAhead, cfg.GenerationLockTTL)
	balance := NewBalanceReconciler(store)
	schedules := NewScheduleStore(store, tz, generator)
	lifecycle := NewLifecycle(store, tz, balance, cfg.TutorEarningShare, cfg.BulkMaxItems)

	core := &Core{
		Store:     store,
		TZ:        tz,
		Students:  NewStudentService(store),
		Schedules: schedules,
		Generator: generator,
		Balance:   balance,
		Lifecycle: lifecycle,
		Editor:    NewScheduleEditor(store, schedules, generator),
		Sweeper:   NewSweeper(store, lifecycle, generator, cfg.OverdueGrace),
		Clock:     time.Now,
	}
	balance.SetRefillHandler(func(ctx context.Context, studentID uint) (int, error) {
		return generator.GenerateForStudent(ctx, studentID, core.Now())
	})
	return core
}

func (c *Core) Now() time.Time {
	return c.Clock().UTC()
}
