package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"tutorcrm/models"
	"tutorcrm/repository"
)

// Balance is always derived from the payment ledger and completed lessons.
type Balance struct {
	StudentID uint `json:"student_id"`
	TotalPaid int  `json:"total_paid"`
	Completed int  `json:"completed"`
	Remaining int  `json:"remaining"`
	// Raw is the unclamped remainder the generator budgets against.
	Raw int `json:"remaining_raw"`
}

// RefillHandler extends a student's booked lessons after their balance grows.
type RefillHandler func(ctx context.Context, studentID uint) (int, error)

// BalanceReconciler keeps the cached student balance equal to the ledger and
// refills booked lessons when the balance grows.
type BalanceReconciler struct {
	store  repository.Store
	refill RefillHandler
}

func NewBalanceReconciler(store repository.Store) *BalanceReconciler {
	return &BalanceReconciler{store: store}
}

func (b *BalanceReconciler) SetRefillHandler(h RefillHandler) {
	b.refill = h
}

// PaymentInput is one purchase. LessonsPurchased must be positive; signed
// corrections go through AdjustPaidLessons.
type PaymentInput struct {
	StudentID        uint
	Amount           float64
	LessonsPurchased int
	ReceiptURL       string
	Note             string
}

// PaymentResult carries the new balance and how many lessons the refill booked.
type PaymentResult struct {
	Payment   *models.Payment `json:"payment"`
	Balance   Balance         `json:"balance"`
	Generated int             `json:"generated"`
}

func ledgerBalance(ctx context.Context, store repository.Store, studentID uint) (Balance, error) {
	paid, err := store.Payments().SumLessons(ctx, studentID)
	if err != nil {
		return Balance{}, err
	}
	completed, err := store.Lessons().CountByStatus(ctx, studentID, models.LessonCompleted)
	if err != nil {
		return Balance{}, err
	}
	raw := paid - completed
	remaining := raw
	if remaining < 0 {
		remaining = 0
	}
	return Balance{StudentID: studentID, TotalPaid: paid, Completed: completed, Remaining: remaining, Raw: raw}, nil
}

// Compute reads the balance without touching the cached student columns.
func (b *BalanceReconciler) Compute(ctx context.Context, studentID uint) (Balance, error) {
	if _, err := b.store.Students().GetByID(ctx, studentID); err != nil {
		return Balance{}, notFound(err, "student", studentID)
	}
	return ledgerBalance(ctx, b.store, studentID)
}

// Recompute re-derives the balance and writes the cached columns.
func (b *BalanceReconciler) Recompute(ctx context.Context, studentID uint) (Balance, error) {
	var balance Balance
	err := b.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Students().GetByID(ctx, studentID); err != nil {
			return notFound(err, "student", studentID)
		}
		var err error
		balance, err = recomputeTx(ctx, tx, studentID)
		return err
	})
	return balance, err
}

func recomputeTx(ctx context.Context, tx repository.Store, studentID uint) (Balance, error) {
	balance, err := ledgerBalance(ctx, tx, studentID)
	if err != nil {
		return Balance{}, err
	}
	if err := tx.Students().UpdateBalance(ctx, studentID, balance.TotalPaid, balance.Remaining); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// RecordPayment appends a purchase to the ledger and refills the schedule when
// the balance grew.
func (b *BalanceReconciler) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	if in.LessonsPurchased <= 0 {
		return nil, fmt.Errorf("%w: lessons_purchased must be positive", ErrValidation)
	}
	if in.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	payment := &models.Payment{
		StudentID:        in.StudentID,
		Amount:           in.Amount,
		LessonsPurchased: in.LessonsPurchased,
		Kind:             models.PaymentKindPayment,
		ReceiptURL:       in.ReceiptURL,
		Note:             in.Note,
	}
	return b.appendEntry(ctx, payment)
}

// AdjustPaidLessons records an administrative correction as a signed ledger
// entry. The cached total is never overwritten directly.
func (b *BalanceReconciler) AdjustPaidLessons(ctx context.Context, studentID uint, delta int, note string) (*PaymentResult, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", ErrValidation)
	}
	payment := &models.Payment{
		StudentID:        studentID,
		LessonsPurchased: delta,
		Kind:             models.PaymentKindAdjustment,
		Note:             note,
	}
	return b.appendEntry(ctx, payment)
}

func (b *BalanceReconciler) appendEntry(ctx context.Context, payment *models.Payment) (*PaymentResult, error) {
	var before, after Balance
	err := b.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Students().GetByID(ctx, payment.StudentID); err != nil {
			return notFound(err, "student", payment.StudentID)
		}
		var err error
		if before, err = ledgerBalance(ctx, tx, payment.StudentID); err != nil {
			return err
		}
		if err = tx.Payments().Create(ctx, payment); err != nil {
			return err
		}
		after, err = recomputeTx(ctx, tx, payment.StudentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	paymentsRecorded.WithLabelValues(payment.Kind).Inc()

	result := &PaymentResult{Payment: payment, Balance: after}
	if after.Raw > before.Raw {
		result.Generated = b.triggerRefill(ctx, payment.StudentID)
	}

	logrus.WithFields(logrus.Fields{
		"student_id": payment.StudentID,
		"kind":       payment.Kind,
		"lessons":    payment.LessonsPurchased,
		"remaining":  after.Remaining,
		"generated":  result.Generated,
	}).Info("ledger entry recorded")
	return result, nil
}

// triggerRefill runs outside the ledger transaction; a failed refill does not
// undo the payment, the next sweep picks it up.
func (b *BalanceReconciler) triggerRefill(ctx context.Context, studentID uint) int {
	if b.refill == nil {
		return 0
	}
	generated, err := b.refill(ctx, studentID)
	if err != nil {
		logrus.WithError(err).WithField("student_id", studentID).Warn("refill generation failed")
	}
	return generated
}

func (b *BalanceReconciler) ListPayments(ctx context.Context, studentID uint) ([]models.Payment, error) {
	if _, err := b.store.Students().GetByID(ctx, studentID); err != nil {
		return nil, notFound(err, "student", studentID)
	}
	return b.store.Payments().ListByStudent(ctx, studentID)
}
