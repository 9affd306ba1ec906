package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tutorcrm/config"
	"tutorcrm/models"
)

var DB *gorm.DB
var RedisClient *redis.Client

// Connect initializes the database and Redis connections
func Connect() {
	connectDatabase()
	connectRedis()
}

func dialector(cfg *config.Config) gorm.Dialector {
	if cfg.DBDriver == "postgres" {
		return postgres.Open(cfg.GetDSN())
	}
	return mysql.Open(cfg.GetDSN())
}

// connectDatabase initializes the database connection
func connectDatabase() {
	cfg := config.AppConfig

	var gormLogger logger.Interface
	if cfg.AppEnv == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	} else {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	// Retry logic for transient network issues
	var err error
	for attempt := 1; attempt <= 8; attempt++ {
		DB, err = gorm.Open(dialector(cfg), &gorm.Config{
			Logger:  gormLogger,
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			break
		}
		logrus.WithError(err).Warnf("Database connect attempt %d failed", attempt)
		time.Sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
	}
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database after retries")
	}
	logrus.WithField("driver", cfg.DBDriver).Info("Database connected successfully")

	sqlDB, err := DB.DB()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to get database instance")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	if cfg.SkipMigrate {
		logrus.Info("SKIP_MIGRATE set, skipping auto migration")
		return
	}
	if err := AutoMigrate(DB); err != nil {
		logrus.WithError(err).Fatal("Auto migration failed")
	}
	logrus.Info("Database migration completed successfully")
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Student{},
		&models.RecurringSchedule{},
		&models.Lesson{},
		&models.Payment{},
		&models.TutorEarning{},
		&models.ActivityLog{},
		&models.LogArchive{},
	)
}

// connectRedis initializes Redis connection. The service keeps running without
// Redis: locks fall back to in-process and logs go straight to the database.
func connectRedis() {
	cfg := config.AppConfig
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		logrus.WithError(err).Warn("Redis connection failed, continuing without Redis")
		_ = RedisClient.Close()
		RedisClient = nil
		return
	}
	logrus.Info("Redis connected successfully")
}

// ConnectRedisOnly is used by the in-memory store mode, which has no SQL database.
func ConnectRedisOnly() {
	connectRedis()
}

// GetRedisClient returns the Redis client instance
func GetRedisClient() *redis.Client {
	return RedisClient
}

// Close closes the database and Redis connections
func Close() {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if RedisClient != nil {
		_ = RedisClient.Close()
	}
}
