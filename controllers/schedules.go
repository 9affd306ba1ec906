package controllers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"tutorcrm/middleware"
	"tutorcrm/models"
	"tutorcrm/services"
	"tutorcrm/utils"
)

type ScheduleController struct {
	core *services.Core
}

func NewScheduleController(core *services.Core) *ScheduleController {
	return &ScheduleController{core: core}
}

type createScheduleRequest struct {
	StudentID       uint   `json:"student_id" validate:"required"`
	DayOfWeek       int    `json:"day_of_week" validate:"min=0,max=6"`
	TimeOfDay       string `json:"time_of_day" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0"`
}

type updateScheduleRequest struct {
	DayOfWeek       int    `json:"day_of_week" validate:"min=0,max=6"`
	TimeOfDay       string `json:"time_of_day" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0"`
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type generateRequest struct {
	StudentID  *uint `json:"student_id"`
	WeeksAhead int   `json:"weeks_ahead" validate:"min=0,max=52"`
}

// CreateSchedule stores a weekly pattern and books lessons for it right away.
func (sc *ScheduleController) CreateSchedule(c *fiber.Ctx) error {
	var req createScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}
	if _, err := authorizeStudent(c, sc.core, req.StudentID); err != nil {
		return respondError(c, err)
	}

	ctx := c.UserContext()
	schedule, err := sc.core.Schedules.CreateSchedule(ctx, services.ScheduleInput{
		StudentID:       req.StudentID,
		DayOfWeek:       req.DayOfWeek,
		TimeOfDay:       req.TimeOfDay,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return respondError(c, err)
	}

	generated, err := sc.core.Generator.GenerateForStudent(ctx, req.StudentID, sc.core.Now())
	if err != nil {
		// The schedule exists; the next sweep retries generation.
		logrus.WithError(err).WithField("schedule_id", schedule.ID).Warn("generation after schedule create failed")
	}

	middleware.LogActivity(c, "CREATE", "schedules", schedule.ID, req)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Schedule created successfully",
		"schedule":  schedule,
		"generated": generated,
	})
}

// GetSchedules lists schedules, optionally for one student.
func (sc *ScheduleController) GetSchedules(c *fiber.Ctx) error {
	studentID, err := utils.ParseUintQuery(c, "student_id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	claims := middleware.GetClaims(c)
	if studentID != nil {
		if _, err := authorizeStudent(c, sc.core, *studentID); err != nil {
			return respondError(c, err)
		}
	}

	schedules, err := sc.core.Schedules.ListSchedules(c.UserContext(), studentID)
	if err != nil {
		return respondError(c, err)
	}

	if studentID == nil && claims.Role == middleware.RoleTutor {
		schedules, err = sc.ownSchedules(c, schedules, claims.UserID)
		if err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(fiber.Map{
		"schedules": schedules,
		"total":     len(schedules),
	})
}

func (sc *ScheduleController) ownSchedules(c *fiber.Ctx, schedules []models.RecurringSchedule, tutorID uint) ([]models.RecurringSchedule, error) {
	owned := map[uint]bool{}
	out := []models.RecurringSchedule{}
	for _, s := range schedules {
		mine, seen := owned[s.StudentID]
		if !seen {
			student, err := sc.core.Students.Get(c.UserContext(), s.StudentID)
			if err != nil {
				return nil, err
			}
			mine = student.TutorID != nil && *student.TutorID == tutorID
			owned[s.StudentID] = mine
		}
		if mine {
			out = append(out, s)
		}
	}
	return out, nil
}

// loadSchedule resolves the :id parameter and checks access to its student.
func (sc *ScheduleController) loadSchedule(c *fiber.Ctx) (*models.RecurringSchedule, error) {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schedule ID", services.ErrValidation)
	}
	schedule, err := sc.core.Schedules.GetSchedule(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeStudent(c, sc.core, schedule.StudentID); err != nil {
		return nil, err
	}
	return schedule, nil
}

func (sc *ScheduleController) GetSchedule(c *fiber.Ctx) error {
	schedule, err := sc.loadSchedule(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"schedule": schedule})
}

// UpdateSchedule replaces the pattern and rebuilds the schedule's future lessons.
func (sc *ScheduleController) UpdateSchedule(c *fiber.Ctx) error {
	schedule, err := sc.loadSchedule(c)
	if err != nil {
		return respondError(c, err)
	}
	var req updateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	result, err := sc.core.Editor.UpdateSchedule(c.UserContext(), schedule.ID, services.ScheduleUpdate{
		DayOfWeek:       req.DayOfWeek,
		TimeOfDay:       req.TimeOfDay,
		DurationMinutes: req.DurationMinutes,
	}, sc.core.Now())
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "schedules", schedule.ID, req)

	return c.JSON(fiber.Map{
		"message":   "Schedule updated successfully",
		"schedule":  result.Schedule,
		"removed":   result.Removed,
		"generated": result.Generated,
	})
}

func (sc *ScheduleController) SetActive(c *fiber.Ctx) error {
	schedule, err := sc.loadSchedule(c)
	if err != nil {
		return respondError(c, err)
	}
	var req setActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	updated, err := sc.core.Schedules.SetActive(c.UserContext(), schedule.ID, *req.IsActive)
	if err != nil {
		return respondError(c, err)
	}

	action := "DEACTIVATE"
	if updated.IsActive {
		action = "ACTIVATE"
	}
	middleware.LogActivity(c, action, "schedules", schedule.ID, nil)

	return c.JSON(fiber.Map{"schedule": updated})
}

// DeleteSchedule removes the schedule and its future non-completed lessons.
func (sc *ScheduleController) DeleteSchedule(c *fiber.Ctx) error {
	schedule, err := sc.loadSchedule(c)
	if err != nil {
		return respondError(c, err)
	}
	removed, err := sc.core.Schedules.DeleteSchedule(c.UserContext(), schedule.ID, sc.core.Now())
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "DELETE", "schedules", schedule.ID, fiber.Map{"removed_lessons": removed})

	return c.JSON(fiber.Map{
		"message": "Schedule deleted successfully",
		"removed": removed,
	})
}

// Generate books lessons for one student or, for admins and managers, everyone.
func (sc *ScheduleController) Generate(c *fiber.Ctx) error {
	var req generateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	ctx := c.UserContext()
	now := sc.core.Now()
	weeks := req.WeeksAhead
	if weeks == 0 {
		weeks = sc.core.Generator.WeeksAhead()
	}

	var generated int
	var err error
	if req.StudentID != nil {
		if _, err := authorizeStudent(c, sc.core, *req.StudentID); err != nil {
			return respondError(c, err)
		}
		schedules, listErr := sc.core.Schedules.ListSchedules(ctx, req.StudentID)
		if listErr != nil {
			return respondError(c, listErr)
		}
		generated, err = sc.core.Generator.Generate(ctx, schedules, weeks, now)
	} else {
		if middleware.GetClaims(c).Role == middleware.RoleTutor {
			return badRequest(c, "student_id is required")
		}
		generated, err = sc.core.Generator.GenerateAll(ctx, weeks, now)
	}

	if err != nil {
		logrus.WithError(err).Warn("generation finished with errors")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":     "Generation finished with errors",
			"generated": generated,
		})
	}

	middleware.LogActivity(c, "GENERATE", "lessons", 0, fiber.Map{"student_id": req.StudentID, "weeks_ahead": weeks, "generated": generated})

	return c.JSON(fiber.Map{
		"generated":   generated,
		"weeks_ahead": weeks,
	})
}

// ImportSchedules accepts a CSV or XLSX upload in the "file" field.
func (sc *ScheduleController) ImportSchedules(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "File is required")
	}
	src, err := file.Open()
	if err != nil {
		return badRequest(c, "Cannot open uploaded file")
	}
	defer src.Close()

	var rows [][]string
	switch strings.ToLower(filepath.Ext(file.Filename)) {
	case ".csv":
		rows, err = services.ReadCSVRows(src)
	case ".xlsx":
		rows, err = services.ReadXLSXRows(src)
	default:
		return badRequest(c, "Only .csv and .xlsx files are supported")
	}
	if err != nil {
		return badRequest(c, "Cannot read file: "+err.Error())
	}

	report, err := sc.core.Schedules.ImportSchedules(c.UserContext(), rows)
	if err != nil {
		return respondError(c, err)
	}

	for _, studentID := range report.StudentIDs() {
		n, err := sc.core.Generator.GenerateForStudent(c.UserContext(), studentID, sc.core.Now())
		report.Generated += n
		if err != nil {
			logrus.WithError(err).WithField("student_id", studentID).Warn("generation after schedule import failed")
		}
	}

	middleware.LogActivity(c, "IMPORT", "schedules", 0, fiber.Map{
		"file":      file.Filename,
		"created":   report.Created,
		"failed":    report.Failed,
		"generated": report.Generated,
	})

	return c.JSON(report)
}
