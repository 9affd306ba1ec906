package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"tutorcrm/middleware"
	"tutorcrm/repository"
	"tutorcrm/services"
	"tutorcrm/storage"
	"tutorcrm/utils"
)

type StudentController struct {
	core     *services.Core
	uploader storage.Uploader
}

// NewStudentController builds the controller. uploader may be nil, in which
// case payments with a receipt file are rejected.
func NewStudentController(core *services.Core, uploader storage.Uploader) *StudentController {
	return &StudentController{core: core, uploader: uploader}
}

type createStudentRequest struct {
	FullName    string  `json:"full_name" validate:"required,max=200"`
	Email       string  `json:"email" validate:"omitempty,email"`
	Phone       string  `json:"phone" validate:"max=20"`
	UserID      *uint   `json:"user_id"`
	TutorID     *uint   `json:"tutor_id"`
	LessonPrice float64 `json:"lesson_price" validate:"gte=0"`
}

type paymentRequest struct {
	Amount           float64 `json:"amount" form:"amount" validate:"gte=0"`
	LessonsPurchased int     `json:"lessons_purchased" form:"lessons_purchased" validate:"required,gt=0"`
	Note             string  `json:"note" form:"note"`
}

type adjustmentRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Note  string `json:"note" validate:"max=500"`
}

// CreateStudent creates a student. Tutors always become the tutor of the
// students they create.
func (sc *StudentController) CreateStudent(c *fiber.Ctx) error {
	var req createStudentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	claims := middleware.GetClaims(c)
	if claims.Role == middleware.RoleTutor {
		req.TutorID = utils.UintPtr(claims.UserID)
	}

	student, err := sc.core.Students.Create(c.UserContext(), services.StudentInput{
		FullName:    req.FullName,
		Email:       req.Email,
		Phone:       req.Phone,
		UserID:      req.UserID,
		TutorID:     req.TutorID,
		LessonPrice: req.LessonPrice,
	})
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "students", student.ID, req)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Student created successfully",
		"student": student,
	})
}

// GetStudents lists students; tutors only see their own.
func (sc *StudentController) GetStudents(c *fiber.Ctx) error {
	filter := repository.StudentFilter{ActiveOnly: c.QueryBool("active_only", false)}
	tutorID, err := utils.ParseUintQuery(c, "tutor_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	filter.TutorID = tutorID

	if claims := middleware.GetClaims(c); claims.Role == middleware.RoleTutor {
		filter.TutorID = utils.UintPtr(claims.UserID)
	}

	students, err := sc.core.Students.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"students": students,
		"total":    len(students),
	})
}

func (sc *StudentController) GetStudent(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}
	student, err := authorizeStudent(c, sc.core, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"student": student})
}

// DeactivateStudent stops generation for the student. Booked lessons stay.
func (sc *StudentController) DeactivateStudent(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}
	if _, err := authorizeStudent(c, sc.core, id); err != nil {
		return respondError(c, err)
	}
	if err := sc.core.Students.Deactivate(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "DEACTIVATE", "students", id, nil)

	return c.JSON(fiber.Map{"message": "Student deactivated successfully"})
}

// GetBalance derives the balance from the ledger. Students may only read their own.
func (sc *StudentController) GetBalance(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}
	if _, err := authorizeStudent(c, sc.core, id); err != nil {
		return respondError(c, err)
	}

	balance, err := sc.core.Balance.Compute(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"balance": balance})
}

// RecordPayment accepts JSON or a multipart form with an optional "receipt" file.
func (sc *StudentController) RecordPayment(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}

	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	var receiptURL string
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		if file, err := c.FormFile("receipt"); err == nil {
			if sc.uploader == nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Receipt storage is not configured",
				})
			}
			if _, err := sc.core.Students.Get(c.UserContext(), id); err != nil {
				return respondError(c, err)
			}
			receiptURL, err = sc.uploader.UploadReceipt(file, id)
			if err != nil {
				return badRequest(c, err.Error())
			}
		}
	}

	result, err := sc.core.Balance.RecordPayment(c.UserContext(), services.PaymentInput{
		StudentID:        id,
		Amount:           req.Amount,
		LessonsPurchased: req.LessonsPurchased,
		ReceiptURL:       receiptURL,
		Note:             req.Note,
	})
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "PAYMENT", "students", id, req)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Payment recorded successfully",
		"payment":   result.Payment,
		"balance":   result.Balance,
		"generated": result.Generated,
	})
}

func (sc *StudentController) GetPayments(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}
	if _, err := authorizeStudent(c, sc.core, id); err != nil {
		return respondError(c, err)
	}
	payments, err := sc.core.Balance.ListPayments(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}

// AdjustPaidLessons appends a signed correction to the ledger.
func (sc *StudentController) AdjustPaidLessons(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}
	var req adjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ValidationError(c, err)
	}

	result, err := sc.core.Balance.AdjustPaidLessons(c.UserContext(), id, req.Delta, req.Note)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "ADJUST", "students", id, req)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Balance adjusted successfully",
		"payment":   result.Payment,
		"balance":   result.Balance,
		"generated": result.Generated,
	})
}

// RecomputeBalance rewrites the cached balance columns from the ledger.
func (sc *StudentController) RecomputeBalance(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid student ID")
	}
	balance, err := sc.core.Balance.Recompute(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "RECOMPUTE", "students", id, balance)

	return c.JSON(fiber.Map{"balance": balance})
}
