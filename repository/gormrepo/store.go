// Package gormrepo implements the repositories on top of GORM (MySQL or Postgres).
package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tutorcrm/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Students() repository.StudentRepository   { return &studentRepo{db: s.db} }
func (s *Store) Schedules() repository.ScheduleRepository { return &scheduleRepo{db: s.db} }
func (s *Store) Lessons() repository.LessonRepository     { return &lessonRepo{db: s.db} }
func (s *Store) Payments() repository.PaymentRepository   { return &paymentRepo{db: s.db} }
func (s *Store) Earnings() repository.EarningRepository   { return &earningRepo{db: s.db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}
