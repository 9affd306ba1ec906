package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"tutorcrm/middleware"
	"tutorcrm/models"
	"tutorcrm/repository"
	"tutorcrm/services"
	"tutorcrm/utils"
)

type LessonController struct {
	core *services.Core
}

func NewLessonController(core *services.Core) *LessonController {
	return &LessonController{core: core}
}

type createLessonRequest struct {
	StudentID       uint     `json:"student_id" validate:"required"`
	ScheduledAt     string   `json:"scheduled_at" validate:"required"`
	DurationMinutes int      `json:"duration_minutes" validate:"required,gt=0"`
	Price           *float64 `json:"price" validate:"omitempty,gte=0"`
	Notes           string   `json:"notes"`
}

type updateLessonRequest struct {
	Notes    *string `json:"notes"`
	Homework *string `json:"homework"`
	Grade    *int    `json:"grade" validate:"omitempty,min=0,max=100"`
}

type bulkRequest struct {
	LessonIDs []uint `json:"lesson_ids" validate:"required,min=1,dive,gt=0"`
	Action    string `json:"action" validate:"required,oneof=complete cancel mark_missed missed"`
}

// GetLessons lists lessons from now on unless from is given. Tutors see their
// students' lessons, students their own.
func (lc *LessonController) GetLessons(c *fiber.Ctx) error {
	var filter repository.LessonFilter
	var err error
	if filter.StudentID, err = utils.ParseUintQuery(c, "student_id"); err != nil {
		return badRequest(c, err.Error())
	}
	if filter.TutorID, err = utils.ParseUintQuery(c, "tutor_id"); err != nil {
		return badRequest(c, err.Error())
	}
	if filter.ScheduleID, err = utils.ParseUintQuery(c, "schedule_id"); err != nil {
		return badRequest(c, err.Error())
	}
	if status := c.Query("status"); status != "" {
		switch status {
		case models.LessonScheduled, models.LessonCompleted, models.LessonCancelled, models.LessonMissed:
			filter.Status = status
		default:
			return badRequest(c, "Invalid status")
		}
	}

	from, err := lc.parseTimeQuery(c.Query("from"))
	if err != nil {
		return badRequest(c, "Invalid from: "+err.Error())
	}
	if from == nil {
		now := lc.core.Now()
		from = &now
	}
	filter.From = from
	if filter.To, err = lc.parseTimeQuery(c.Query("to")); err != nil {
		return badRequest(c, "Invalid to: "+err.Error())
	}

	claims := middleware.GetClaims(c)
	switch claims.Role {
	case middleware.RoleTutor:
		filter.TutorID = utils.UintPtr(claims.UserID)
	case middleware.RoleStudent:
		student, err := lc.core.Students.FindByUser(c.UserContext(), claims.UserID)
		if err != nil {
			return respondError(c, err)
		}
		filter.StudentID = &student.ID
	}

	lessons, err := lc.core.Lifecycle.ListLessons(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"lessons": utils.ToLessonDTOs(lessons, lc.core.TZ),
		"total":   len(lessons),
	})
}

// parseTimeQuery accepts RFC 3339, a business wall-clock time or a bare date.
func (lc *LessonController) parseTimeQuery(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, lc.core.TZ.Location()); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, _, err := lc.core.TZ.ToUTC(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateLesson books a one-off irregular lesson.
func (lc *LessonController) CreateLesson(c *fiber.Ctx) error {
	var req createLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}
	if _, err := authorizeStudent(c, lc.core, req.StudentID); err != nil {
		return respondError(c, err)
	}

	lesson, err := lc.core.Lifecycle.CreateManualLesson(c.UserContext(), services.ManualLessonInput{
		StudentID:       req.StudentID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		Notes:           req.Notes,
	})
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "lessons", lesson.ID, req)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Lesson created successfully",
		"lesson":  utils.ToLessonDTO(*lesson, lc.core.TZ),
	})
}

func (lc *LessonController) loadLesson(c *fiber.Ctx) (*models.Lesson, error) {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid lesson ID", services.ErrValidation)
	}
	lesson, err := lc.core.Lifecycle.GetLesson(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeStudent(c, lc.core, lesson.StudentID); err != nil {
		return nil, err
	}
	return lesson, nil
}

func (lc *LessonController) GetLesson(c *fiber.Ctx) error {
	lesson, err := lc.loadLesson(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"lesson": utils.ToLessonDTO(*lesson, lc.core.TZ)})
}

// UpdateLesson edits notes, homework and grade in any status.
func (lc *LessonController) UpdateLesson(c *fiber.Ctx) error {
	lesson, err := lc.loadLesson(c)
	if err != nil {
		return respondError(c, err)
	}
	var req updateLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	updated, err := lc.core.Lifecycle.UpdateDetails(c.UserContext(), lesson.ID, services.LessonDetails{
		Notes:    req.Notes,
		Homework: req.Homework,
		Grade:    req.Grade,
	})
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "lessons", lesson.ID, req)

	return c.JSON(fiber.Map{"lesson": utils.ToLessonDTO(*updated, lc.core.TZ)})
}

// Transition returns a handler moving the lesson into target.
func (lc *LessonController) Transition(target string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lesson, err := lc.loadLesson(c)
		if err != nil {
			return respondError(c, err)
		}
		updated, err := lc.core.Lifecycle.Transition(c.UserContext(), lesson.ID, target, lc.core.Now())
		if err != nil {
			return respondError(c, err)
		}

		middleware.LogActivity(c, strings.ToUpper(target), "lessons", lesson.ID, nil)

		return c.JSON(fiber.Map{"lesson": utils.ToLessonDTO(*updated, lc.core.TZ)})
	}
}

// ReverseCompletion undoes a completion and gives the lesson back to the balance.
func (lc *LessonController) ReverseCompletion(c *fiber.Ctx) error {
	lesson, err := lc.loadLesson(c)
	if err != nil {
		return respondError(c, err)
	}
	updated, balance, err := lc.core.Lifecycle.ReverseCompletion(c.UserContext(), lesson.ID, lc.core.Now())
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "REVERSE", "lessons", lesson.ID, balance)

	return c.JSON(fiber.Map{
		"lesson":  utils.ToLessonDTO(*updated, lc.core.TZ),
		"balance": balance,
	})
}

// BulkTransition applies one action to many lessons and reports per-item failures.
func (lc *LessonController) BulkTransition(c *fiber.Ctx) error {
	var req bulkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	if claims := middleware.GetClaims(c); claims.Role == middleware.RoleTutor {
		for _, id := range req.LessonIDs {
			lesson, err := lc.core.Lifecycle.GetLesson(c.UserContext(), id)
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			if err != nil {
				return respondError(c, err)
			}
			if _, err := authorizeStudent(c, lc.core, lesson.StudentID); err != nil {
				return respondError(c, err)
			}
		}
	}

	result, err := lc.core.Lifecycle.BulkTransition(c.UserContext(), req.LessonIDs, req.Action, lc.core.Now())
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "BULK_"+strings.ToUpper(req.Action), "lessons", 0, result)

	return c.JSON(result)
}
