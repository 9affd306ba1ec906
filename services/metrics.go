package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lessonsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorcrm_lessons_generated_total",
		Help: "Lessons created by the recurring generator.",
	})
	generationBalanceStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorcrm_generation_balance_stops_total",
		Help: "Times generation stopped early for a student because the paid balance ran out.",
	})
	lessonTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorcrm_lesson_transitions_total",
		Help: "Lesson status transitions by target status.",
	}, []string{"status"})
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorcrm_sweep_runs_total",
		Help: "Automatic sweep runs by result.",
	}, []string{"result"})
	paymentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorcrm_payments_recorded_total",
		Help: "Ledger entries appended by kind.",
	}, []string{"kind"})
)
