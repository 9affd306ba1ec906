package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutorcrm/config"
	"tutorcrm/controllers"
	"tutorcrm/middleware"
	"tutorcrm/models"
	"tutorcrm/services"
	"tutorcrm/storage"
)

// Dependencies are the wired services the HTTP layer needs.
type Dependencies struct {
	Config   *config.Config
	Core     *services.Core
	Uploader storage.Uploader
	Logs     *services.ActivityLogService
	Archives *services.LogArchiveService
	Health   *services.HealthService
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, deps Dependencies) {
	studentController := controllers.NewStudentController(deps.Core, deps.Uploader)
	scheduleController := controllers.NewScheduleController(deps.Core)
	lessonController := controllers.NewLessonController(deps.Core)
	sweepController := controllers.NewSweepController(deps.Core)
	logController := controllers.NewLogController(deps.Logs, deps.Archives)
	healthController := controllers.NewHealthController(deps.Health)

	// Public endpoints
	app.Get("/health", healthController.GetHealthStatus)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/health", healthController.GetHealthStatus)

	// Sweep accepts the cron token or an admin bearer token
	api.Post("/sweep", middleware.SweepAuth(deps.Config.JWTSecret, deps.Config.SweepToken), sweepController.RunSweep)

	protected := api.Group("/", middleware.JWTMiddleware(deps.Config.JWTSecret))
	staff := middleware.RequireRole(middleware.StaffRoles...)
	finance := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleManager)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	// Students
	students := protected.Group("/students")
	students.Get("/", staff, studentController.GetStudents)
	students.Post("/", staff, studentController.CreateStudent)
	students.Get("/:id", staff, studentController.GetStudent)
	students.Delete("/:id", staff, studentController.DeactivateStudent)
	students.Get("/:id/balance", studentController.GetBalance) // students: own only
	students.Get("/:id/payments", staff, studentController.GetPayments)
	students.Post("/:id/payments", finance, studentController.RecordPayment)
	students.Post("/:id/adjustments", admin, studentController.AdjustPaidLessons)
	students.Post("/:id/recompute", admin, studentController.RecomputeBalance)

	// Recurring schedules
	schedules := protected.Group("/schedules")
	schedules.Get("/", staff, scheduleController.GetSchedules)
	schedules.Post("/", staff, scheduleController.CreateSchedule)
	schedules.Post("/import", finance, scheduleController.ImportSchedules)
	schedules.Post("/generate", staff, scheduleController.Generate)
	schedules.Get("/:id", staff, scheduleController.GetSchedule)
	schedules.Put("/:id", staff, scheduleController.UpdateSchedule)
	schedules.Patch("/:id/active", staff, scheduleController.SetActive)
	schedules.Delete("/:id", staff, scheduleController.DeleteSchedule)

	// Lessons
	lessons := protected.Group("/lessons")
	lessons.Get("/", lessonController.GetLessons) // scoped by role
	lessons.Post("/", staff, lessonController.CreateLesson)
	lessons.Post("/bulk", staff, lessonController.BulkTransition)
	lessons.Get("/:id", staff, lessonController.GetLesson)
	lessons.Patch("/:id", staff, lessonController.UpdateLesson)
	lessons.Post("/:id/complete", staff, lessonController.Transition(models.LessonCompleted))
	lessons.Post("/:id/cancel", staff, lessonController.Transition(models.LessonCancelled))
	lessons.Post("/:id/missed", staff, lessonController.Transition(models.LessonMissed))
	lessons.Post("/:id/reverse", admin, lessonController.ReverseCompletion)

	// Activity logs
	logs := protected.Group("/logs", admin)
	logs.Get("/", logController.GetLogs)
	logs.Post("/flush-cache", logController.FlushCache)
	logs.Get("/archives", logController.GetArchives)
	logs.Post("/archives", logController.CreateArchive)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
}
