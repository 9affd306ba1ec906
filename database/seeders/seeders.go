package seeders

import (
	"context"

	"github.com/sirupsen/logrus"

	"tutorcrm/repository"
	"tutorcrm/services"
)

type demoStudent struct {
	name      string
	tutorID   uint
	price     float64
	paid      int
	day       int
	timeOfDay string
}

var demoStudents = []demoStudent{
	{name: "Aziza Karimova", tutorID: 1, price: 120, paid: 8, day: 1, timeOfDay: "10:00"},
	{name: "Timur Rakhimov", tutorID: 1, price: 120, paid: 2, day: 3, timeOfDay: "16:00"},
	{name: "Dilnoza Yusupova", tutorID: 2, price: 150, paid: 4, day: 6, timeOfDay: "11:30"},
}

// SeedDemo creates a few students with payments and weekly schedules when the
// store is empty. Generation runs through the regular payment refill.
func SeedDemo(ctx context.Context, core *services.Core) error {
	existing, err := core.Students.List(ctx, repository.StudentFilter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logrus.Info("Students already seeded, skipping...")
		return nil
	}

	for _, d := range demoStudents {
		tutorID := d.tutorID
		student, err := core.Students.Create(ctx, services.StudentInput{
			FullName:    d.name,
			TutorID:     &tutorID,
			LessonPrice: d.price,
		})
		if err != nil {
			return err
		}
		if _, err := core.Schedules.CreateSchedule(ctx, services.ScheduleInput{
			StudentID:       student.ID,
			DayOfWeek:       d.day,
			TimeOfDay:       d.timeOfDay,
			DurationMinutes: 60,
		}); err != nil {
			return err
		}
		if _, err := core.Balance.RecordPayment(ctx, services.PaymentInput{
			StudentID:        student.ID,
			Amount:           d.price * float64(d.paid),
			LessonsPurchased: d.paid,
			Note:             "demo seed",
		}); err != nil {
			return err
		}
	}

	logrus.WithField("students", len(demoStudents)).Info("Demo data seeded")
	return nil
}
