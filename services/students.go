package services

import (
	"context"
	"fmt"
	"strings"

	"tutorcrm/models"
	"tutorcrm/repository"
)

// StudentInput holds the fields accepted when a student is created.
type StudentInput struct {
	FullName    string
	Email       string
	Phone       string
	UserID      *uint
	TutorID     *uint
	LessonPrice float64
}

// StudentService manages student records. Balances are owned by BalanceReconciler.
type StudentService struct {
	store repository.Store
}

func NewStudentService(store repository.Store) *StudentService {
	return &StudentService{store: store}
}

func (s *StudentService) Create(ctx context.Context, in StudentInput) (*models.Student, error) {
	if strings.TrimSpace(in.FullName) == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrValidation)
	}
	if in.LessonPrice < 0 {
		return nil, fmt.Errorf("%w: lesson_price must not be negative", ErrValidation)
	}
	student := &models.Student{
		FullName:    strings.TrimSpace(in.FullName),
		Email:       in.Email,
		Phone:       in.Phone,
		UserID:      in.UserID,
		TutorID:     in.TutorID,
		LessonPrice: in.LessonPrice,
		IsActive:    true,
	}
	if err := s.store.Students().Create(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}

func (s *StudentService) Get(ctx context.Context, id uint) (*models.Student, error) {
	student, err := s.store.Students().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "student", id)
	}
	return student, nil
}

func (s *StudentService) List(ctx context.Context, filter repository.StudentFilter) ([]models.Student, error) {
	return s.store.Students().List(ctx, filter)
}

// Deactivate hides the student from generation. Students are never hard-deleted
// while lessons reference them.
func (s *StudentService) Deactivate(ctx context.Context, id uint) error {
	if err := s.store.Students().SetActive(ctx, id, false); err != nil {
		return notFound(err, "student", id)
	}
	return nil
}

// FindByUser resolves the student record linked to a login.
func (s *StudentService) FindByUser(ctx context.Context, userID uint) (*models.Student, error) {
	students, err := s.store.Students().List(ctx, repository.StudentFilter{UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, fmt.Errorf("%w: no student linked to user %d", ErrNotFound, userID)
	}
	return &students[0], nil
}
