package storage

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"

	"tutorcrm/config"
)

// Uploader stores payment receipts and returns their public URL.
type Uploader interface {
	UploadReceipt(file *multipart.FileHeader, studentID uint) (string, error)
}

// AllowedReceiptExtensions lists the accepted receipt file types.
var AllowedReceiptExtensions = []string{"jpg", "jpeg", "png", "webp", "pdf"}

type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	region   string
	maxSize  int64
}

// NewStorageService creates a new storage service
func NewStorageService(cfg *config.Config) (*StorageService, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}
	return NewStorageServiceWithClient(s3.New(sess), cfg.S3BucketName, cfg.AWSRegion, cfg.MaxFileSize), nil
}

func NewStorageServiceWithClient(client s3iface.S3API, bucket, region string, maxSize int64) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket, region: region, maxSize: maxSize}
}

// UploadReceipt uploads a receipt under receipts/<student>/<yyyy>/<mm>/<dd>/.
func (s *StorageService) UploadReceipt(file *multipart.FileHeader, studentID uint) (string, error) {
	ext := fileExtension(file.Filename)
	if !allowed(ext) {
		return "", fmt.Errorf("file type %q is not allowed", ext)
	}
	if s.maxSize > 0 && file.Size > s.maxSize {
		return "", fmt.Errorf("file exceeds %d bytes", s.maxSize)
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %v", err)
	}
	defer src.Close()

	fileBytes, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("receipts/%d/%d/%02d/%02d/%s.%s",
		studentID, now.Year(), now.Month(), now.Day(), uuid.New().String()[:16], ext)

	_, err = s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(fileBytes),
		ContentType: aws.String(contentType(ext)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %v", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

func fileExtension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func allowed(ext string) bool {
	for _, a := range AllowedReceiptExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

func contentType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
