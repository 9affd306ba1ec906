package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"tutorcrm/config"
	"tutorcrm/database"
	"tutorcrm/database/seeders"
	"tutorcrm/middleware"
	"tutorcrm/repository"
	"tutorcrm/repository/gormrepo"
	"tutorcrm/repository/memrepo"
	"tutorcrm/routes"
	"tutorcrm/services"
	"tutorcrm/storage"
)

func main() {
	startedAt := time.Now()
	config.LoadConfig()
	cfg := config.AppConfig
	setupLogging(cfg)

	var store repository.Store
	if cfg.StoreDriver == "memory" {
		logrus.Warn("Using in-memory store, data is lost on restart")
		database.ConnectRedisOnly()
		store = memrepo.New()
	} else {
		database.Connect()
		store = gormrepo.New(database.DB)
	}
	defer database.Close()

	redisClient := database.GetRedisClient()
	var locker services.Locker = services.NewLocalLocker()
	if redisClient != nil {
		locker = services.NewRedisLocker(redisClient)
	}

	core := services.NewCore(store, cfg, locker)

	activityLogs := services.NewActivityLogService(database.DB, redisClient)
	middleware.SetActivityRecorder(activityLogs)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var objects services.ObjectStore
	var uploader storage.Uploader
	if cfg.AWSAccessKeyID != "" || os.Getenv("AWS_PROFILE") != "" {
		if o, err := services.NewS3ObjectStore(bgCtx, cfg.AWSRegion); err == nil {
			objects = o
		} else {
			logrus.WithError(err).Warn("S3 archive store unavailable")
		}
		if u, err := storage.NewStorageService(cfg); err == nil {
			uploader = u
		} else {
			logrus.WithError(err).Warn("Receipt storage unavailable")
		}
	}
	archives := services.NewLogArchiveService(database.DB, activityLogs, objects, cfg.S3BucketName)
	archives.StartMaintenance(bgCtx, 24*time.Hour, cfg.LogArchiveAfterDays)

	if cfg.SeedDemo {
		if err := seeders.SeedDemo(bgCtx, core); err != nil {
			logrus.WithError(err).Error("Demo seeding failed")
		}
	}

	var scheduleManager *services.ScheduleManager
	if cfg.SweepCron != "" {
		sm, err := services.NewScheduleManager(core, cfg.SweepCron)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid SWEEP_CRON")
		}
		scheduleManager = sm
		scheduleManager.Start()
	}

	health := services.NewHealthService(cfg.AppEnv, database.DB, redisClient, services.HealthFlags{
		StoreDriver: cfg.StoreDriver,
		SkipMigrate: cfg.SkipMigrate,
		SweepCron:   cfg.SweepCron,
		WeeksAhead:  cfg.WeeksAhead,
	})
	health.SetStartTime(startedAt)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.MaxFileSize),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID,X-Sweep-Token",
	}))
	app.Use(middleware.LoggerMiddleware())

	routes.SetupRoutes(app, routes.Dependencies{
		Config:   cfg,
		Core:     core,
		Uploader: uploader,
		Logs:     activityLogs,
		Archives: archives,
		Health:   health,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down server...")
		stopBackground()
		if scheduleManager != nil {
			<-scheduleManager.Stop().Done()
		}
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":  cfg.Port,
		"env":   cfg.AppEnv,
		"store": cfg.StoreDriver,
	}).Info("Tutor CRM API starting")

	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}

	// Flush whatever is still queued before exit.
	if redisClient != nil && database.DB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := activityLogs.FlushCachedLogs(ctx); err != nil {
			logrus.WithError(err).Warn("Final log flush failed")
		}
		cancel()
	}
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.AppEnv == "development" || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}

	// In production, log to file
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		log.Printf("Warning: Could not create logs directory: %v", err)
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
