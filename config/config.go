package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// Storage backend: "gorm" (database) or "memory"
	StoreDriver string

	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret string

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port   string
	AppEnv string

	// File Upload
	MaxFileSize int64

	// Logging
	LogLevel string
	LogFile  string

	// Scheduling
	BusinessUTCOffsetHours int
	ActualStartOffset      time.Duration
	WeeksAhead             int
	OverdueGrace           time.Duration
	TutorEarningShare      float64
	BulkMaxItems           int
	GenerationLockTTL      time.Duration

	// Sweep trigger
	SweepCron  string
	SweepToken string

	// Log maintenance
	LogArchiveAfterDays int

	// Feature Toggles
	SkipMigrate bool
	SeedDemo    bool
}

// GetDSN builds the connection string for the configured SQL driver.
func (c *Config) GetDSN() string {
	if c.DBDriver == "postgres" {
		return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser + " password=" + c.DBPassword + " dbname=" + c.DBName + " sslmode=disable TimeZone=UTC"
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=UTC"
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	basePath := strings.TrimRight(getEnv("SSM_BASE_PATH", "/tutorcrm"), "/")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "ap-south-1"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: .env file not found, using environment variables")
		}
	}

	AppConfig = buildConfig(func(key, def string) string {
		if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
			return v
		}
		return getEnv(strings.ToUpper(key), def)
	})

	validateConfig(AppConfig, useSSM)
}

// Default returns the configuration obtained from defaults only. Tests use it.
func Default() *Config {
	return buildConfig(func(_, def string) string { return def })
}

func buildConfig(getVal func(key, def string) string) *Config {
	return &Config{
		StoreDriver: strings.ToLower(getVal("STORE_DRIVER", "gorm")),

		DBDriver:   strings.ToLower(getVal("DB_DRIVER", "mysql")),
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", "3306"),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "tutorcrm"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret: getVal("JWT_SECRET", "your_super_secret_jwt_key"),

		AWSRegion:          getVal("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:     getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getVal("S3_BUCKET_NAME", "tutorcrm-receipts"),

		Port:   getVal("PORT", "3000"),
		AppEnv: getVal("APP_ENV", "development"),

		MaxFileSize: getInt64(getVal("MAX_FILE_SIZE", "10485760"), "MAX_FILE_SIZE"),

		LogLevel: getVal("LOG_LEVEL", "info"),
		LogFile:  getVal("LOG_FILE", "logs/app.log"),

		BusinessUTCOffsetHours: int(getInt64(getVal("BUSINESS_UTC_OFFSET_HOURS", "5"), "BUSINESS_UTC_OFFSET_HOURS")),
		ActualStartOffset:      getDuration(getVal("ACTUAL_START_OFFSET", "2h"), "ACTUAL_START_OFFSET"),
		WeeksAhead:             int(getInt64(getVal("WEEKS_AHEAD", "4"), "WEEKS_AHEAD")),
		OverdueGrace:           getDuration(getVal("OVERDUE_GRACE", "1h"), "OVERDUE_GRACE"),
		TutorEarningShare:      getFloat(getVal("TUTOR_EARNING_SHARE", "0.5"), "TUTOR_EARNING_SHARE"),
		BulkMaxItems:           int(getInt64(getVal("BULK_MAX_ITEMS", "200"), "BULK_MAX_ITEMS")),
		GenerationLockTTL:      getDuration(getVal("GENERATION_LOCK_TTL", "30s"), "GENERATION_LOCK_TTL"),

		SweepCron:  getVal("SWEEP_CRON", "0 * * * *"),
		SweepToken: getVal("SWEEP_TOKEN", ""),

		LogArchiveAfterDays: int(getInt64(getVal("LOG_ARCHIVE_AFTER_DAYS", "30"), "LOG_ARCHIVE_AFTER_DAYS")),

		SkipMigrate: strings.ToLower(getVal("SKIP_MIGRATE", "false")) == "true",
		SeedDemo:    strings.ToLower(getVal("SEED_DEMO", "false")) == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(raw, key string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		log.Fatalf("Invalid %s format: %v", key, err)
	}
	return n
}

func getFloat(raw, key string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Fatalf("Invalid %s format: %v", key, err)
	}
	return f
}

// getDuration accepts Go durations plus the d (days) and w (weeks) shorthands.
func getDuration(raw, key string) time.Duration {
	d, err := ParseDuration(raw)
	if err != nil {
		log.Fatalf("Invalid %s format: %v", key, err)
	}
	return d
}

func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err == nil {
		return d, nil
	}
	s := strings.TrimSpace(strings.ToLower(raw))
	if len(s) > 1 {
		if n, convErr := strconv.Atoi(s[:len(s)-1]); convErr == nil {
			switch s[len(s)-1] {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

// fetchSSMParameters reads all parameters under prefix and returns map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	var next *string
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
			NextToken:      next,
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			log.Printf("Warning: unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			key := name[strings.LastIndex(name, "/")+1:]
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) {
	if c.WeeksAhead <= 0 {
		log.Fatal("WEEKS_AHEAD must be positive")
	}
	if c.BusinessUTCOffsetHours < -12 || c.BusinessUTCOffsetHours > 14 {
		log.Fatal("BUSINESS_UTC_OFFSET_HOURS out of range")
	}
	if c.StoreDriver != "gorm" && c.StoreDriver != "memory" {
		log.Fatalf("Unknown STORE_DRIVER %q", c.StoreDriver)
	}

	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			log.Fatalf("Missing required secret %s in production (SSM=%v)", k, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		log.Fatal("JWT_SECRET too short (min 16 chars)")
	}
}
