package gormrepo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tutorcrm/models"
	"tutorcrm/repository"
)

type studentRepo struct{ db *gorm.DB }

func (r *studentRepo) Create(ctx context.Context, student *models.Student) error {
	return r.db.WithContext(ctx).Create(student).Error
}

func (r *studentRepo) GetByID(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	if err := r.db.WithContext(ctx).First(&student, id).Error; err != nil {
		return nil, translate(err)
	}
	return &student, nil
}

func (r *studentRepo) List(ctx context.Context, filter repository.StudentFilter) ([]models.Student, error) {
	query := r.db.WithContext(ctx).Model(&models.Student{})
	if filter.TutorID != nil {
		query = query.Where("tutor_id = ?", *filter.TutorID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	var students []models.Student
	err := query.Order("id").Find(&students).Error
	return students, err
}

func (r *studentRepo) UpdateBalance(ctx context.Context, id uint, totalPaid, remaining int) error {
	res := r.db.WithContext(ctx).Model(&models.Student{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_paid_lessons": totalPaid,
			"remaining_lessons":  remaining,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 rows for unchanged values, so confirm existence.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *studentRepo) SetActive(ctx context.Context, id uint, active bool) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Student{}).Where("id = ?", id).
		Update("is_active", active).Error
}

type scheduleRepo struct{ db *gorm.DB }

func (r *scheduleRepo) Create(ctx context.Context, schedule *models.RecurringSchedule) error {
	return r.db.WithContext(ctx).Create(schedule).Error
}

func (r *scheduleRepo) GetByID(ctx context.Context, id uint) (*models.RecurringSchedule, error) {
	var schedule models.RecurringSchedule
	if err := r.db.WithContext(ctx).First(&schedule, id).Error; err != nil {
		return nil, translate(err)
	}
	return &schedule, nil
}

func (r *scheduleRepo) List(ctx context.Context, filter repository.ScheduleFilter) ([]models.RecurringSchedule, error) {
	query := r.db.WithContext(ctx).Model(&models.RecurringSchedule{})
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	var schedules []models.RecurringSchedule
	err := query.Order("student_id, day_of_week, time_of_day, id").Find(&schedules).Error
	return schedules, err
}

func (r *scheduleRepo) Update(ctx context.Context, schedule *models.RecurringSchedule) error {
	res := r.db.WithContext(ctx).Model(&models.RecurringSchedule{}).Where("id = ?", schedule.ID).
		Updates(map[string]interface{}{
			"day_of_week":      schedule.DayOfWeek,
			"time_of_day":      schedule.TimeOfDay,
			"duration_minutes": schedule.DurationMinutes,
			"is_active":        schedule.IsActive,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, schedule.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *scheduleRepo) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.RecurringSchedule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *scheduleRepo) ActiveSlotTaken(ctx context.Context, studentID uint, dayOfWeek int, timeOfDay string, excludeID uint) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.RecurringSchedule{}).
		Where("student_id = ? AND day_of_week = ? AND time_of_day = ? AND is_active = ?",
			studentID, dayOfWeek, timeOfDay, true)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

type lessonRepo struct{ db *gorm.DB }

func (r *lessonRepo) Create(ctx context.Context, lesson *models.Lesson) error {
	return r.db.WithContext(ctx).Create(lesson).Error
}

func (r *lessonRepo) CreateBatch(ctx context.Context, lessons []*models.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(lessons, 100).Error
}

func (r *lessonRepo) GetByID(ctx context.Context, id uint) (*models.Lesson, error) {
	var lesson models.Lesson
	if err := r.db.WithContext(ctx).First(&lesson, id).Error; err != nil {
		return nil, translate(err)
	}
	return &lesson, nil
}

func (r *lessonRepo) List(ctx context.Context, filter repository.LessonFilter) ([]models.Lesson, error) {
	query := r.db.WithContext(ctx).Model(&models.Lesson{})
	if filter.TutorID != nil {
		query = query.Joins("JOIN students ON students.id = lessons.student_id").
			Where("students.tutor_id = ?", *filter.TutorID)
	}
	if filter.StudentID != nil {
		query = query.Where("lessons.student_id = ?", *filter.StudentID)
	}
	if filter.ScheduleID != nil {
		query = query.Where("lessons.recurring_schedule_id = ?", *filter.ScheduleID)
	}
	if filter.Status != "" {
		query = query.Where("lessons.status = ?", filter.Status)
	}
	if filter.From != nil {
		query = query.Where("lessons.scheduled_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("lessons.scheduled_at < ?", filter.To.UTC())
	}
	var lessons []models.Lesson
	err := query.Order("lessons.scheduled_at, lessons.id").Find(&lessons).Error
	return lessons, err
}

func (r *lessonRepo) SlotExists(ctx context.Context, studentID, scheduleID uint, scheduledAt time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Lesson{}).
		Where("student_id = ? AND recurring_schedule_id = ? AND scheduled_at = ?", studentID, scheduleID, scheduledAt.UTC()).
		Count(&count).Error
	return count > 0, err
}

func (r *lessonRepo) CountByStatus(ctx context.Context, studentID uint, status string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Lesson{}).
		Where("student_id = ? AND status = ?", studentID, status).
		Count(&count).Error
	return int(count), err
}

func (r *lessonRepo) TransitionStatus(ctx context.Context, id uint, from, to string, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	switch {
	case to == models.LessonCompleted:
		completedAt := at.UTC()
		updates["completed_at"] = &completedAt
	case from == models.LessonCompleted:
		updates["completed_at"] = nil
	}
	res := r.db.WithContext(ctx).Model(&models.Lesson{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *lessonRepo) UpdateDetails(ctx context.Context, id uint, notes, homework *string, grade *int) error {
	updates := map[string]interface{}{}
	if notes != nil {
		updates["notes"] = *notes
	}
	if homework != nil {
		updates["homework"] = *homework
	}
	if grade != nil {
		updates["grade"] = *grade
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Lesson{}).Where("id = ?", id).Updates(updates).Error
}

func (r *lessonRepo) DeleteFutureBySchedule(ctx context.Context, scheduleID uint, from time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("recurring_schedule_id = ? AND scheduled_at >= ? AND status <> ?", scheduleID, from.UTC(), models.LessonCompleted).
		Delete(&models.Lesson{})
	return res.RowsAffected, res.Error
}

type paymentRepo struct{ db *gorm.DB }

func (r *paymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepo) ListByStudent(ctx context.Context, studentID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Where("student_id = ?", studentID).Order("created_at, id").Find(&payments).Error
	return payments, err
}

func (r *paymentRepo) SumLessons(ctx context.Context, studentID uint) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("student_id = ?", studentID).
		Select("COALESCE(SUM(lessons_purchased), 0)").
		Scan(&total).Error
	return int(total), err
}

type earningRepo struct{ db *gorm.DB }

func (r *earningRepo) Create(ctx context.Context, earning *models.TutorEarning) error {
	return r.db.WithContext(ctx).Create(earning).Error
}

func (r *earningRepo) CancelByLesson(ctx context.Context, lessonID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.TutorEarning{}).
		Where("lesson_id = ? AND status = ?", lessonID, models.EarningEarned).
		Update("status", models.EarningCancelled)
	return res.RowsAffected, res.Error
}

func (r *earningRepo) ListByTutor(ctx context.Context, tutorID uint) ([]models.TutorEarning, error) {
	var earnings []models.TutorEarning
	err := r.db.WithContext(ctx).Where("tutor_id = ?", tutorID).Order("id").Find(&earnings).Error
	return earnings, err
}
