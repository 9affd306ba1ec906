package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tutorcrm/models"
)

const (
	logQueueKey     = "logs:queue"
	logCacheTTL     = 24 * time.Hour
	memoryLogLimit  = 1000
	defaultLogLimit = 100
)

// ActivityLogService keeps the audit trail of write actions. Entries are queued
// in Redis and flushed to the database in batches; without Redis they go to the
// database directly, and without a database they stay in a bounded memory ring.
type ActivityLogService struct {
	db    *gorm.DB
	redis *redis.Client

	mu     sync.Mutex
	memory []models.ActivityLog
	nextID uint
}

func NewActivityLogService(db *gorm.DB, redisClient *redis.Client) *ActivityLogService {
	return &ActivityLogService{db: db, redis: redisClient}
}

// ActivityFilter narrows List. Empty fields match everything.
type ActivityFilter struct {
	UserID   *uint
	Resource string
	Action   string
	Limit    int
}

// Record stores one entry. Failures are logged, never returned: auditing must
// not fail the request that triggered it.
func (s *ActivityLogService) Record(ctx context.Context, entry models.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if s.redis != nil {
		err := s.cache(ctx, entry)
		if err == nil {
			return
		}
		logrus.WithError(err).Warn("Failed to cache activity log, saving directly")
	}
	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			logrus.WithError(err).Error("Failed to save activity log to database")
		}
		return
	}
	s.remember(entry)
}

func (s *ActivityLogService) cache(ctx context.Context, entry models.ActivityLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %v", err)
	}
	cacheKey := fmt.Sprintf("log:%d:%s:%d", entry.UserID, entry.Action, time.Now().UnixNano())

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, cacheKey, data, logCacheTTL)
	pipe.ZAdd(ctx, logQueueKey, &redis.Z{Score: float64(entry.CreatedAt.Unix()), Member: cacheKey})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *ActivityLogService) remember(entry models.ActivityLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.memory = append(s.memory, entry)
	if len(s.memory) > memoryLogLimit {
		s.memory = s.memory[len(s.memory)-memoryLogLimit:]
	}
}

// FlushCachedLogs moves queued entries from Redis into the database.
func (s *ActivityLogService) FlushCachedLogs(ctx context.Context) (int, error) {
	if s.redis == nil {
		return 0, fmt.Errorf("redis client not available")
	}
	if s.db == nil {
		return 0, fmt.Errorf("database not available")
	}

	keys, err := s.redis.ZRangeByScore(ctx, logQueueKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queued logs: %v", err)
	}

	processed, failed := 0, 0
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			// expired before the flush, drop the queue member
			s.redis.ZRem(ctx, logQueueKey, key)
			continue
		}
		if err != nil {
			logrus.WithError(err).Errorf("Failed to get log data for key: %s", key)
			failed++
			continue
		}

		var entry models.ActivityLog
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			logrus.WithError(err).Errorf("Failed to unmarshal log data for key: %s", key)
			failed++
			continue
		}
		entry.ID = 0
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			logrus.WithError(err).Error("Failed to save log to database")
			failed++
			continue
		}

		pipe := s.redis.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, logQueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).Errorf("Failed to remove log from cache: %s", key)
		}
		processed++
	}

	logrus.Infof("Flushed %d logs to database, %d errors", processed, failed)
	return processed, nil
}

// List returns the newest entries first.
func (s *ActivityLogService) List(ctx context.Context, filter ActivityFilter) ([]models.ActivityLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultLogLimit
	}

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []models.ActivityLog{}
		for i := len(s.memory) - 1; i >= 0 && len(out) < limit; i-- {
			entry := s.memory[i]
			if !filter.matches(entry) {
				continue
			}
			out = append(out, entry)
		}
		return out, nil
	}

	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	var logs []models.ActivityLog
	err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

func (f ActivityFilter) matches(entry models.ActivityLog) bool {
	if f.UserID != nil && entry.UserID != *f.UserID {
		return false
	}
	if f.Resource != "" && entry.Resource != f.Resource {
		return false
	}
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	return true
}
