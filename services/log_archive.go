package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tutorcrm/models"
)

// ObjectStore is the part of the S3 v2 client the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LogArchiveService moves old activity logs into zipped archives on S3.
type LogArchiveService struct {
	db      *gorm.DB
	logs    *ActivityLogService
	objects ObjectStore
	bucket  string
}

// ArchivedLog is the exported representation stored inside archives
type ArchivedLog struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"user_id"`
	Role       string         `json:"role"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewS3ObjectStore loads the default AWS v2 config for region.
func NewS3ObjectStore(ctx context.Context, region string) (ObjectStore, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

func NewLogArchiveService(db *gorm.DB, logs *ActivityLogService, objects ObjectStore, bucket string) *LogArchiveService {
	return &LogArchiveService{db: db, logs: logs, objects: objects, bucket: bucket}
}

// ArchiveOldLogs archives logs older than daysOld to S3 and removes them from the database.
func (las *LogArchiveService) ArchiveOldLogs(ctx context.Context, daysOld int) (*models.LogArchive, error) {
	if daysOld < 7 {
		return nil, fmt.Errorf("%w: minimum archive age is 7 days", ErrValidation)
	}
	if las.db == nil || las.objects == nil {
		return nil, fmt.Errorf("log archiving requires a database and S3")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)

	const batchSize = 1000
	var archived []ArchivedLog
	for offset := 0; ; offset += batchSize {
		var batch []models.ActivityLog
		err := las.db.WithContext(ctx).
			Where("created_at < ?", cutoff).
			Order("id").
			Limit(batchSize).
			Offset(offset).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch logs for archiving: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, entry := range batch {
			archived = append(archived, toArchivedLog(entry))
		}
	}
	if len(archived) == 0 {
		logrus.Info("No logs to archive")
		return nil, nil
	}

	fileName := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	buf, err := createZipArchive(archived, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZIP archive: %v", err)
	}
	key := fmt.Sprintf("logs/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)

	archive := &models.LogArchive{
		FileName:    fileName,
		S3Key:       key,
		EndDate:     cutoff,
		RecordCount: len(archived),
		FileSize:    int64(buf.Len()),
		Status:      "pending",
	}
	_, err = las.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(las.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		archive.Status = "failed"
		archive.Error = err.Error()
		if dbErr := las.db.WithContext(ctx).Create(archive).Error; dbErr != nil {
			logrus.WithError(dbErr).Error("Failed to save archive metadata")
		}
		return archive, fmt.Errorf("failed to upload archive to S3: %v", err)
	}

	res := las.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to delete archived logs from database: %v", res.Error)
	}
	archive.Status = "completed"
	if err := las.db.WithContext(ctx).Create(archive).Error; err != nil {
		logrus.WithError(err).Error("Failed to save archive metadata")
	}

	logrus.WithFields(logrus.Fields{
		"s3_key":  key,
		"records": len(archived),
		"deleted": res.RowsAffected,
	}).Info("activity logs archived")
	return archive, nil
}

func toArchivedLog(entry models.ActivityLog) ArchivedLog {
	out := ArchivedLog{
		ID:         entry.ID,
		UserID:     entry.UserID,
		Role:       entry.Role,
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		CreatedAt:  entry.CreatedAt,
	}
	if len(entry.Details) > 0 {
		var details map[string]any
		if err := json.Unmarshal(entry.Details, &details); err == nil {
			out.Details = details
		}
	}
	return out
}

// createZipArchive writes the logs as JSON and CSV plus a metadata file.
func createZipArchive(logs []ArchivedLog, fileName string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	logsFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, err
	}
	encoder := json.NewEncoder(logsFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]any{
		"export_date":    time.Now().UTC(),
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode logs to JSON: %v", err)
	}

	metadataFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(metadataFile).Encode(map[string]any{
		"file_name":    fileName,
		"created_at":   time.Now().UTC(),
		"record_count": len(logs),
		"date_range": map[string]any{
			"start": logs[0].CreatedAt,
			"end":   logs[len(logs)-1].CreatedAt,
		},
		"schema_version": "1.0",
	}); err != nil {
		return nil, fmt.Errorf("failed to encode metadata to JSON: %v", err)
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(csvFile)
	_ = w.Write([]string{"ID", "User ID", "Role", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, entry := range logs {
		details := ""
		if entry.Details != nil {
			if b, err := json.Marshal(entry.Details); err == nil {
				details = string(b)
			}
		}
		_ = w.Write([]string{
			strconv.FormatUint(uint64(entry.ID), 10),
			strconv.FormatUint(uint64(entry.UserID), 10),
			entry.Role,
			entry.Action,
			entry.Resource,
			strconv.FormatUint(uint64(entry.ResourceID), 10),
			entry.IPAddress,
			entry.UserAgent,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			details,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ZIP writer: %v", err)
	}
	return buf, nil
}

func (las *LogArchiveService) ListArchives(ctx context.Context) ([]models.LogArchive, error) {
	if las.db == nil {
		return []models.LogArchive{}, nil
	}
	var archives []models.LogArchive
	if err := las.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve archived logs: %v", err)
	}
	return archives, nil
}

// DownloadArchive streams an archive back from S3. The caller closes the reader.
func (las *LogArchiveService) DownloadArchive(ctx context.Context, id uint) (io.ReadCloser, string, error) {
	if las.db == nil || las.objects == nil {
		return nil, "", fmt.Errorf("%w: archive %d", ErrNotFound, id)
	}
	var archive models.LogArchive
	if err := las.db.WithContext(ctx).First(&archive, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", fmt.Errorf("%w: archive %d", ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("failed to retrieve archive: %v", err)
	}
	out, err := las.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(las.bucket),
		Key:    aws.String(archive.S3Key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive from S3: %v", err)
	}
	return out.Body, archive.FileName, nil
}

// StartMaintenance flushes the Redis queue and archives old logs every interval
// until ctx is cancelled.
func (las *LogArchiveService) StartMaintenance(ctx context.Context, interval time.Duration, daysOld int) {
	run := func() {
		if las.logs != nil && las.logs.redis != nil && las.logs.db != nil {
			if _, err := las.logs.FlushCachedLogs(ctx); err != nil {
				logrus.WithError(err).Warn("periodic log flush failed")
			}
		}
		if las.db != nil && las.objects != nil {
			if _, err := las.ArchiveOldLogs(ctx, daysOld); err != nil {
				logrus.WithError(err).Warn("periodic log archive failed")
			}
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
