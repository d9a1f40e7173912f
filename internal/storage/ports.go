package storage

import (
	"context"
	"errors"
	"time"

	"pasanaco/internal/core"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint rejects a write.
var ErrConflict = errors.New("conflict")

// Ports used by the services. Pure data access, no business rules.
type (
	PasanacoRepository interface {
		CreatePasanaco(ctx context.Context, p core.Pasanaco) error
		GetPasanaco(ctx context.Context, id string) (core.Pasanaco, error)
		ListPasanacos(ctx context.Context, ownerID string) ([]core.Pasanaco, error)
		UpdatePasanaco(ctx context.Context, p core.Pasanaco) error
		DeletePasanaco(ctx context.Context, id string) error
	}

	ParticipantRepository interface {
		CreateParticipant(ctx context.Context, p core.Participant) error
		GetParticipant(ctx context.Context, id string) (core.Participant, error)
		ListParticipants(ctx context.Context, pasanacoID string) ([]core.Participant, error)
		UpdateParticipant(ctx context.Context, p core.Participant) error
		DeleteParticipantsByPasanaco(ctx context.Context, pasanacoID string) (int, error)
	}

	PaymentRepository interface {
		CreatePayment(ctx context.Context, p core.PasanacoPayment) error
		GetPayment(ctx context.Context, id string) (core.PasanacoPayment, error)
		// FindPayment returns the row for (participant, period) or ErrNotFound.
		FindPayment(ctx context.Context, pasanacoID, participantID string, period core.Period) (core.PasanacoPayment, error)
		ListPaymentsByPeriod(ctx context.Context, pasanacoID string, period core.Period) ([]core.PasanacoPayment, error)
		UpdatePayment(ctx context.Context, p core.PasanacoPayment) error
		DeletePaymentsByPasanaco(ctx context.Context, pasanacoID string) (int, error)
		CountPaymentsByPasanaco(ctx context.Context, pasanacoID string) (int, error)
	}

	LoanRepository interface {
		CreateLoan(ctx context.Context, l core.Loan) error
		GetLoan(ctx context.Context, id string) (core.Loan, error)
		ListLoans(ctx context.Context, userID string) ([]core.Loan, error)
		ListLoansByPasanaco(ctx context.Context, pasanacoID string) ([]core.Loan, error)
		UpdateLoan(ctx context.Context, l core.Loan) error
		DeleteLoan(ctx context.Context, id string) error
		CountLoansByPasanaco(ctx context.Context, pasanacoID string) (int, error)
	}

	ExpenseRepository interface {
		CreateExpense(ctx context.Context, e core.Expense) error
		GetExpense(ctx context.Context, id string) (core.Expense, error)
		DeleteExpense(ctx context.Context, id string) error
		DeleteExpensesByLoan(ctx context.Context, loanID string) (int, error)
		DeleteExpensesByPasanaco(ctx context.Context, pasanacoID string) (int, error)
		CountExpensesByPasanaco(ctx context.Context, pasanacoID string) (int, error)
	}

	IncomeRepository interface {
		CreateIncome(ctx context.Context, i core.Income) error
		GetIncome(ctx context.Context, id string) (core.Income, error)
		DeleteIncome(ctx context.Context, id string) error
		DeleteIncomesByPasanaco(ctx context.Context, pasanacoID string) (int, error)
		CountIncomesByPasanaco(ctx context.Context, pasanacoID string) (int, error)
	}

	EventRepository interface {
		AppendEvent(ctx context.Context, e core.SettlementEvent) error
		ListEvents(ctx context.Context, pasanacoID string, limit int) ([]core.SettlementEvent, error)
		ListUnpublishedEvents(ctx context.Context, limit int) ([]core.SettlementEvent, error)
		MarkEventPublished(ctx context.Context, id string, at time.Time) error
	}

	// Repository is the full data-access surface available inside a unit of work.
	Repository interface {
		PasanacoRepository
		ParticipantRepository
		PaymentRepository
		LoanRepository
		ExpenseRepository
		IncomeRepository
		EventRepository
	}

	// Store runs units of work. fn's Repository is bound to one transaction:
	// it commits when fn returns nil and rolls back otherwise, including on
	// ctx cancellation.
	Store interface {
		Repository
		InTx(ctx context.Context, fn func(repo Repository) error) error
		Close() error
	}
)
