package core

import (
	"strings"
	"time"
)

const (
	LoanGiven    LoanType = "given"
	LoanReceived LoanType = "received"

	LoanActive LoanStatus = "active"
	LoanPaid   LoanStatus = "paid"
)

// System categories used by settlement side effects.
const (
	CategoryPasanaco     = "pasanaco"
	CategoryPersonalLoan = "personal-loan"
)

const maxNameLength = 100

type (
	LoanType   string
	LoanStatus string

	// Pasanaco is a rotating savings pool. CurrentRound starts at 1 and maps
	// to a calendar month through StartMonth/StartYear.
	Pasanaco struct {
		ID                string
		OwnerID           string
		Name              string
		MonthlyAmount     Money
		TotalParticipants int
		CurrentRound      int
		StartMonth        int
		StartYear         int
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	Participant struct {
		ID             string
		PasanacoID     string
		Name           string
		AssignedNumber int
		HasReceived    bool
		CreatedAt      time.Time
	}

	// PasanacoPayment is one participant's obligation for one period.
	// At most one of TransactionID and PaidByLoanID is set.
	PasanacoPayment struct {
		ID            string
		PasanacoID    string
		ParticipantID string
		Month         int
		Year          int
		Paid          bool
		PaymentDate   *time.Time
		TransactionID *string // income created by a direct payment
		PaidByLoanID  *string // loan that settled the payment
		CreatedAt     time.Time
	}

	Loan struct {
		ID                string
		UserID            string
		Type              LoanType
		Counterparty      string
		PrincipalAmount   Money
		OutstandingAmount Money
		Status            LoanStatus
		StartDate         time.Time
		Notes             string
		PasanacoID        *string
		CreatedAt         time.Time
	}

	Expense struct {
		ID          string
		UserID      string
		Amount      Money
		Description string
		Date        time.Time
		CategoryID  string
		Notes       string
		LoanID      *string
		PasanacoID  *string
		CreatedAt   time.Time
	}

	Income struct {
		ID          string
		UserID      string
		Amount      Money
		Description string
		Date        time.Time
		CategoryID  string
		Notes       string
		PasanacoID  *string
		CreatedAt   time.Time
	}
)

// ActivePeriod returns the calendar month of the current round:
// date(StartYear, StartMonth, 1) + (CurrentRound - 1) months.
func (p Pasanaco) ActivePeriod() Period {
	return PeriodForRound(p.StartYear, p.StartMonth, p.CurrentRound)
}

// IsFinalRound reports whether the pool is in its last round.
func (p Pasanaco) IsFinalRound() bool {
	return p.CurrentRound >= p.TotalParticipants
}

func (p Pasanaco) Validate() error {
	if err := validateName(p.Name); err != nil {
		return NewValidationError("name", err)
	}
	if err := p.MonthlyAmount.Validate(); err != nil {
		return NewValidationError("monthly_amount", err)
	}
	if p.TotalParticipants < 2 {
		return NewValidationError("total_participants", ErrInvalidParticipantCount)
	}
	if p.StartMonth < 1 || p.StartMonth > 12 {
		return NewValidationError("start_month", ErrInvalidMonth)
	}
	if p.StartYear < 2000 || p.StartYear > 2100 {
		return NewValidationError("start_year", ErrInvalidYear)
	}
	return nil
}

func (p Participant) Validate(pool Pasanaco) error {
	if err := validateName(p.Name); err != nil {
		return NewValidationError("name", err)
	}
	if p.AssignedNumber < 1 || p.AssignedNumber > pool.TotalParticipants {
		return NewValidationError("assigned_number", ErrInvalidAssignedNumber)
	}
	return nil
}

// Period returns the payment's (month, year).
func (p PasanacoPayment) Period() Period {
	return Period{Month: p.Month, Year: p.Year}
}

// SettledByLoan reports whether a loan settled the payment.
func (p PasanacoPayment) SettledByLoan() bool {
	return p.PaidByLoanID != nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
