package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tutorcrm/models"
)

// ActivityRecorder persists audit entries.
type ActivityRecorder interface {
	Record(ctx context.Context, entry models.ActivityLog)
}

var activityRecorder ActivityRecorder

// SetActivityRecorder wires the audit sink used by LogActivity.
func SetActivityRecorder(r ActivityRecorder) {
	activityRecorder = r
}

// LoggerMiddleware logs HTTP requests and tags each with a request id.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}).Info("HTTP Request")

		return err
	}
}

// LogActivity records a domain action with request metadata. Recording is
// asynchronous and never fails the request.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	if activityRecorder == nil {
		return
	}
	entry := models.ActivityLog{
		CreatedAt:  time.Now().UTC(),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	}
	if claims := GetClaims(c); claims != nil {
		entry.UserID = claims.UserID
		entry.Role = claims.Role
	}

	meta := map[string]interface{}{
		"details":    details,
		"request_id": c.Locals("request_id"),
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     c.Response().StatusCode(),
	}
	if b, err := json.Marshal(meta); err == nil {
		entry.Details = b
	}

	recorder := activityRecorder
	go func(entry models.ActivityLog) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LogActivity goroutine")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		recorder.Record(ctx, entry)
	}(entry)
}
