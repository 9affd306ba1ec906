package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Lesson statuses
const (
	LessonScheduled = "scheduled"
	LessonCompleted = "completed"
	LessonCancelled = "cancelled"
	LessonMissed    = "missed"
)

// Lesson types
const (
	LessonRegular   = "regular"
	LessonIrregular = "irregular"
)

// Payment kinds
const (
	PaymentKindPayment    = "payment"
	PaymentKindAdjustment = "adjustment"
)

// Earning statuses
const (
	EarningEarned    = "earned"
	EarningCancelled = "cancelled"
)

// Student model. TotalPaidLessons and RemainingLessons are a cache of the
// ledger and are only written by the balance reconciler.
type Student struct {
	BaseModel
	FullName         string  `json:"full_name" gorm:"size:200;not null"`
	Email            string  `json:"email" gorm:"size:255"`
	Phone            string  `json:"phone" gorm:"size:20"`
	UserID           *uint   `json:"user_id" gorm:"index"`
	TutorID          *uint   `json:"tutor_id" gorm:"index"`
	LessonPrice      float64 `json:"lesson_price"`
	TotalPaidLessons int     `json:"total_paid_lessons" gorm:"not null;default:0"`
	RemainingLessons int     `json:"remaining_lessons" gorm:"not null;default:0"`
	IsActive         bool    `json:"is_active" gorm:"not null;default:true"`
}

// RecurringSchedule is a weekly pattern. TimeOfDay is HH:MM in the business timezone.
type RecurringSchedule struct {
	BaseModel
	StudentID       uint   `json:"student_id" gorm:"not null;index:idx_schedule_slot"`
	DayOfWeek       int    `json:"day_of_week" gorm:"not null;index:idx_schedule_slot"` // 0 = Sunday, 6 = Saturday
	TimeOfDay       string `json:"time_of_day" gorm:"size:5;not null;index:idx_schedule_slot"`
	DurationMinutes int    `json:"duration_minutes" gorm:"not null"`
	IsActive        bool   `json:"is_active" gorm:"not null;default:true"`

	// Relationships
	Student *Student `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// Lesson is a concrete dated lesson. ScheduledAt is stored in UTC; OriginalTime
// keeps the wall-clock string used for display.
type Lesson struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StudentID           uint       `json:"student_id" gorm:"not null;index;uniqueIndex:idx_lesson_slot"`
	RecurringScheduleID *uint      `json:"recurring_schedule_id" gorm:"index;uniqueIndex:idx_lesson_slot"`
	ScheduledAt         time.Time  `json:"scheduled_at" gorm:"not null;index;uniqueIndex:idx_lesson_slot"`
	OriginalTime        string     `json:"original_time" gorm:"size:32"`
	DurationMinutes     int        `json:"duration_minutes" gorm:"not null"`
	Status              string     `json:"status" gorm:"size:20;not null;default:'scheduled';index"`
	LessonType          string     `json:"lesson_type" gorm:"size:20;not null;default:'regular'"`
	Price               float64    `json:"price"`
	Notes               string     `json:"notes" gorm:"type:text"`
	Grade               *int       `json:"grade"`
	Homework            string     `json:"homework" gorm:"type:text"`
	CompletedAt         *time.Time `json:"completed_at"`

	// Relationships
	Student *Student `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// Payment is an append-only ledger entry. Adjustments carry a signed
// LessonsPurchased and a zero amount.
type Payment struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	StudentID        uint      `json:"student_id" gorm:"not null;index"`
	Amount           float64   `json:"amount"`
	LessonsPurchased int       `json:"lessons_purchased" gorm:"not null"`
	Kind             string    `json:"kind" gorm:"size:20;not null;default:'payment'"`
	ReceiptURL       string    `json:"receipt_url" gorm:"size:500"`
	Note             string    `json:"note" gorm:"type:text"`
}

// TutorEarning credits a tutor for a completed lesson. Payout approval lives elsewhere.
type TutorEarning struct {
	BaseModel
	TutorID   uint    `json:"tutor_id" gorm:"not null;index"`
	StudentID uint    `json:"student_id" gorm:"not null"`
	LessonID  uint    `json:"lesson_id" gorm:"not null;uniqueIndex"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status" gorm:"size:20;not null;default:'earned'"`
}

// Log model for activity tracking
type ActivityLog struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index"`
	UserID     uint           `json:"user_id" gorm:"index"`
	Role       string         `json:"role" gorm:"size:20"`
	Action     string         `json:"action" gorm:"size:100;not null"`
	Resource   string         `json:"resource" gorm:"size:100;not null"`
	ResourceID uint           `json:"resource_id"`
	Details    datatypes.JSON `json:"details"`
	IPAddress  string         `json:"ip_address" gorm:"size:45"`
	UserAgent  string         `json:"user_agent" gorm:"size:500"`
}

// LogArchive model for tracking archived logs
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:20;not null;default:'pending'"` // pending, completed, failed
	Error       string    `json:"error" gorm:"type:text"`
}
