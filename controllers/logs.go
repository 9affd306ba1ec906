package controllers

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"

	"tutorcrm/middleware"
	"tutorcrm/services"
	"tutorcrm/utils"
)

type LogController struct {
	logs     *services.ActivityLogService
	archives *services.LogArchiveService
}

func NewLogController(logs *services.ActivityLogService, archives *services.LogArchiveService) *LogController {
	return &LogController{logs: logs, archives: archives}
}

// GetLogs returns the newest activity entries matching the filters.
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	userID, err := utils.ParseUintQuery(c, "user_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	logs, err := lc.logs.List(c.UserContext(), services.ActivityFilter{
		UserID:   userID,
		Resource: c.Query("resource"),
		Action:   c.Query("action"),
		Limit:    c.QueryInt("limit", 100),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": len(logs),
	})
}

// FlushCache moves queued Redis entries into the database.
func (lc *LogController) FlushCache(c *fiber.Ctx) error {
	flushed, err := lc.logs.FlushCachedLogs(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Cached logs flushed",
		"flushed": flushed,
	})
}

func (lc *LogController) GetArchives(c *fiber.Ctx) error {
	archives, err := lc.archives.ListArchives(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"archives": archives})
}

// CreateArchive archives logs older than days_old (default 30, minimum 7).
func (lc *LogController) CreateArchive(c *fiber.Ctx) error {
	days := c.QueryInt("days_old", 30)
	archive, err := lc.archives.ArchiveOldLogs(c.UserContext(), days)
	if err != nil {
		return respondError(c, err)
	}
	if archive == nil {
		return c.JSON(fiber.Map{"message": "No logs to archive"})
	}

	middleware.LogActivity(c, "ARCHIVE", "logs", archive.ID, fiber.Map{"records": archive.RecordCount})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"archive": archive})
}

// DownloadArchive streams a zip archive from object storage.
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	id, err := utils.ParseID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid archive ID")
	}
	body, fileName, err := lc.archives.DownloadArchive(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", fileName))
	return c.Send(data)
}
