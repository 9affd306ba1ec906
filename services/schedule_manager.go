package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScheduleManager runs the automatic sweep on a cron expression. It calls the
// same entry point as POST /api/sweep, so an external trigger can replace it.
type ScheduleManager struct {
	cron    *cron.Cron
	sweeper *Sweeper
	clock   func() time.Time
	timeout time.Duration
}

func NewScheduleManager(core *Core, cronExpr string) (*ScheduleManager, error) {
	sm := &ScheduleManager{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		sweeper: core.Sweeper,
		clock:   core.Now,
		timeout: 10 * time.Minute,
	}
	if _, err := sm.cron.AddFunc(cronExpr, sm.runSweep); err != nil {
		return nil, err
	}
	return sm, nil
}

func (sm *ScheduleManager) Start() {
	logrus.Info("Starting schedule manager...")
	sm.cron.Start()
}

// Stop waits for a running sweep to finish.
func (sm *ScheduleManager) Stop() context.Context {
	return sm.cron.Stop()
}

func (sm *ScheduleManager) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	if _, err := sm.sweeper.Run(ctx, sm.clock()); err != nil {
		logrus.WithError(err).Warn("scheduled sweep failed")
	}
}
