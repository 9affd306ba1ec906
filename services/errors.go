package services

import (
	"errors"
	"fmt"

	"tutorcrm/repository"
)

var (
	ErrInvalidTimeFormat  = errors.New("invalid time format")
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateSchedule  = errors.New("duplicate schedule conflict")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrTransactionFailure = errors.New("transaction failure")
)

// notFound converts repository misses into the service sentinel and keeps
// other errors as they are.
func notFound(err error, what string, id uint) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return err
}
