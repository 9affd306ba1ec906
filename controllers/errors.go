package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"tutorcrm/middleware"
	"tutorcrm/models"
	"tutorcrm/services"
)

var errForbidden = errors.New("Insufficient permissions")

// respondError maps service sentinels to HTTP statuses. Unknown errors are
// logged and reported as a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidTimeFormat):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrDuplicateSchedule), errors.Is(err, services.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, errForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrLockTimeout):
		status = fiber.StatusServiceUnavailable
	}

	if status >= fiber.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"error":  err.Error(),
			"path":   c.Path(),
			"method": c.Method(),
		}).Error("Request failed")
		message := "Internal server error"
		if errors.Is(err, services.ErrTransactionFailure) {
			message = "Transaction failed, no changes were applied"
		} else if status == fiber.StatusServiceUnavailable {
			message = "Another operation on this student is in progress, retry shortly"
		}
		return c.Status(status).JSON(fiber.Map{"error": message})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

// authorizeStudent loads the student and checks the caller may act on it.
func authorizeStudent(c *fiber.Ctx, core *services.Core, studentID uint) (*models.Student, error) {
	student, err := core.Students.Get(c.UserContext(), studentID)
	if err != nil {
		return nil, err
	}
	if !canAccessStudent(middleware.GetClaims(c), student.TutorID, student.UserID) {
		return nil, errForbidden
	}
	return student, nil
}

// canAccessStudent reports whether the caller may read the student's data.
// Admins and managers see everyone, tutors their own students, students themselves.
func canAccessStudent(claims *middleware.Claims, tutorID, userID *uint) bool {
	if claims == nil {
		return false
	}
	switch claims.Role {
	case middleware.RoleAdmin, middleware.RoleManager:
		return true
	case middleware.RoleTutor:
		return tutorID != nil && *tutorID == claims.UserID
	case middleware.RoleStudent:
		return userID != nil && *userID == claims.UserID
	}
	return false
}
