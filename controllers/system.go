package controllers

import (
	"github.com/gofiber/fiber/v2"

	"tutorcrm/middleware"
	"tutorcrm/services"
)

// SweepController exposes the automatic sweep to external schedulers.
type SweepController struct {
	core *services.Core
}

func NewSweepController(core *services.Core) *SweepController {
	return &SweepController{core: core}
}

// RunSweep marks overdue lessons missed and tops up the booking horizon.
// Partial failures still return the counts.
func (sc *SweepController) RunSweep(c *fiber.Ctx) error {
	result, err := sc.core.Sweeper.Run(c.UserContext(), sc.core.Now())
	if err != nil && result == nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "SWEEP", "lessons", 0, result)

	if err != nil {
		return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{
			"result": result,
			"error":  "Sweep finished with errors",
		})
	}
	return c.JSON(result)
}

// HealthController exposes comprehensive health endpoints.
type HealthController struct {
	service *services.HealthService
}

func NewHealthController(service *services.HealthService) *HealthController {
	return &HealthController{service: service}
}

// GetHealthStatus returns the aggregated health report.
func (hc *HealthController) GetHealthStatus(c *fiber.Ctx) error {
	report := hc.service.GetHealthReport(c.UserContext())
	return c.Status(hc.service.HTTPStatusForOverall(report.Status)).JSON(report)
}
