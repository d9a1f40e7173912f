package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidMonth               = errors.New("invalid month")
	ErrInvalidYear                = errors.New("invalid year")
	ErrEmptyName                  = errors.New("empty name")
	ErrNameTooLong                = errors.New("name too long")
	ErrInvalidParticipantCount    = errors.New("a pasanaco needs at least 2 participants")
	ErrInvalidAssignedNumber      = errors.New("assigned number out of range")
	ErrDuplicateAssignedNumber    = errors.New("assigned number already taken in this pasanaco")
	ErrPoolFull                   = errors.New("pasanaco already has all its participants")
	ErrParticipantCountTooLow     = errors.New("total participants below current participant count")
	ErrParticipantCountBelowRound = errors.New("total participants below current round")
	ErrNoParticipants             = errors.New("pasanaco has no participants")
	ErrPasanacoNotFound           = errors.New("pasanaco not found")
	ErrParticipantNotFound        = errors.New("participant not found")
	ErrParticipantNotInPool       = errors.New("participant does not belong to this pasanaco")
	ErrPaymentNotFound            = errors.New("payment not found")
	ErrPaymentNotInActivePeriod   = errors.New("payment does not belong to the active round")
	ErrFinalRound                 = errors.New("pasanaco is already in its final round")
	ErrStartLockedByPayments      = errors.New("start month cannot change once payments exist")
	ErrLoanNotFound               = errors.New("loan not found")
	ErrRepaymentExceedsBalance    = errors.New("repayment exceeds outstanding balance")
	ErrLoanAlreadyPaid            = errors.New("loan is already paid")
	ErrNotOwner                   = errors.New("not the owner of this resource")
)

// ValidationError marks a caller error. No state was changed when one is returned.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a validation failure on field.
func NewValidationError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DependencyError reports that a ledger side effect (income, expense or loan)
// could not be created or reversed. The enclosing transaction has been rolled back.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("settlement side effect %s failed: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// IsDependency reports whether err is, or wraps, a DependencyError.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}

// IsNotFound reports whether err wraps one of the domain not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPasanacoNotFound) ||
		errors.Is(err, ErrParticipantNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrLoanNotFound)
}
