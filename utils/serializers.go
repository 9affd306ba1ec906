package utils

import (
	"time"

	"tutorcrm/models"
	"tutorcrm/services"
)

type StudentShort struct {
	ID       uint   `json:"id"`
	FullName string `json:"full_name"`
	TutorID  *uint  `json:"tutor_id,omitempty"`
}

// LessonDTO is the API view of a lesson. ScheduledAt stays in UTC; LocalTime
// and ActualStartAt are derived for display.
type LessonDTO struct {
	ID                  uint          `json:"id"`
	StudentID           uint          `json:"student_id"`
	RecurringScheduleID *uint         `json:"recurring_schedule_id"`
	ScheduledAt         time.Time     `json:"scheduled_at"`
	OriginalTime        string        `json:"original_time"`
	LocalTime           string        `json:"local_time"`
	ActualStartAt       time.Time     `json:"actual_start_at"`
	DurationMinutes     int           `json:"duration_minutes"`
	Status              string        `json:"status"`
	LessonType          string        `json:"lesson_type"`
	Price               float64       `json:"price"`
	Notes               string        `json:"notes,omitempty"`
	Grade               *int          `json:"grade,omitempty"`
	Homework            string        `json:"homework,omitempty"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
	Student             *StudentShort `json:"student,omitempty"`
}

func ToLessonDTO(l models.Lesson, tz *services.Normalizer) LessonDTO {
	dto := LessonDTO{
		ID:                  l.ID,
		StudentID:           l.StudentID,
		RecurringScheduleID: l.RecurringScheduleID,
		ScheduledAt:         l.ScheduledAt.UTC(),
		OriginalTime:        l.OriginalTime,
		LocalTime:           tz.WallClock(l.ScheduledAt),
		ActualStartAt:       tz.ActualStart(l.ScheduledAt),
		DurationMinutes:     l.DurationMinutes,
		Status:              l.Status,
		LessonType:          l.LessonType,
		Price:               l.Price,
		Notes:               l.Notes,
		Grade:               l.Grade,
		Homework:            l.Homework,
		CompletedAt:         l.CompletedAt,
	}
	if dto.OriginalTime == "" {
		dto.OriginalTime = dto.LocalTime
	}
	if l.Student != nil {
		dto.Student = &StudentShort{ID: l.Student.ID, FullName: l.Student.FullName, TutorID: l.Student.TutorID}
	}
	return dto
}

func ToLessonDTOs(lessons []models.Lesson, tz *services.Normalizer) []LessonDTO {
	out := make([]LessonDTO, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, ToLessonDTO(l, tz))
	}
	return out
}
