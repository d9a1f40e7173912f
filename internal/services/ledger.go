package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pasanaco/internal/core"
	"pasanaco/internal/storage"
)

// Ledger creates and reverses the income, expense and loan records that
// settlement produces. Implementations run on the caller's unit of work.
type Ledger interface {
	ExpenseCreate(ctx context.Context, userID string, d ExpenseDraft) (core.Expense, error)
	IncomeCreate(ctx context.Context, userID string, d IncomeDraft) (core.Income, error)
	// IncomeDelete reports false when the income does not exist or belongs
	// to someone else.
	IncomeDelete(ctx context.Context, id, userID string) (bool, error)
	LoanCreate(ctx context.Context, d LoanDraft) (core.Loan, error)
	// LoanDelete removes the loan and the disbursement expenses linked to it.
	LoanDelete(ctx context.Context, id string) error
	LoanRepay(ctx context.Context, id, userID string, amount core.Money) (core.Loan, error)
}

// LedgerFactory binds a Ledger to a transaction-scoped repository.
type LedgerFactory func(repo storage.Repository) Ledger

type ExpenseDraft struct {
	Amount      core.Money
	Description string
	Date        time.Time
	CategoryID  string
	Notes       string
	LoanID      *string
	PasanacoID  *string
}

type IncomeDraft struct {
	Amount      core.Money
	Description string
	Date        time.Time
	CategoryID  string
	Notes       string
	PasanacoID  *string
}

type LoanDraft struct {
	UserID       string
	Type         core.LoanType
	Counterparty string
	Amount       core.Money
	StartDate    time.Time
	Notes        string
	PasanacoID   *string
}

// RepoLedger is the Ledger backed by the same repository as the pools.
type RepoLedger struct {
	repo  storage.Repository
	now   func() time.Time
	newID func() string
}

func NewRepoLedger(repo storage.Repository, now func() time.Time, newID func() string) *RepoLedger {
	return &RepoLedger{repo: repo, now: now, newID: newID}
}

func (l *RepoLedger) ExpenseCreate(ctx context.Context, userID string, d ExpenseDraft) (core.Expense, error) {
	if err := d.Amount.Validate(); err != nil {
		return core.Expense{}, core.NewValidationError("amount", err)
	}
	e := core.Expense{
		ID:          l.newID(),
		UserID:      userID,
		Amount:      d.Amount,
		Description: d.Description,
		Date:        d.Date,
		CategoryID:  d.CategoryID,
		Notes:       d.Notes,
		LoanID:      d.LoanID,
		PasanacoID:  d.PasanacoID,
		CreatedAt:   l.now(),
	}
	if err := l.repo.CreateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	return e, nil
}

func (l *RepoLedger) IncomeCreate(ctx context.Context, userID string, d IncomeDraft) (core.Income, error) {
	if err := d.Amount.Validate(); err != nil {
		return core.Income{}, core.NewValidationError("amount", err)
	}
	i := core.Income{
		ID:          l.newID(),
		UserID:      userID,
		Amount:      d.Amount,
		Description: d.Description,
		Date:        d.Date,
		CategoryID:  d.CategoryID,
		Notes:       d.Notes,
		PasanacoID:  d.PasanacoID,
		CreatedAt:   l.now(),
	}
	if err := l.repo.CreateIncome(ctx, i); err != nil {
		return core.Income{}, fmt.Errorf("create income: %w", err)
	}
	return i, nil
}

func (l *RepoLedger) IncomeDelete(ctx context.Context, id, userID string) (bool, error) {
	income, err := l.repo.GetIncome(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get income: %w", err)
	}
	if income.UserID != userID {
		return false, nil
	}
	if err := l.repo.DeleteIncome(ctx, id); err != nil {
		return false, fmt.Errorf("delete income: %w", err)
	}
	return true, nil
}

func (l *RepoLedger) LoanCreate(ctx context.Context, d LoanDraft) (core.Loan, error) {
	if err := d.Amount.Validate(); err != nil {
		return core.Loan{}, core.NewValidationError("amount", err)
	}
	loan := core.Loan{
		ID:                l.newID(),
		UserID:            d.UserID,
		Type:              d.Type,
		Counterparty:      d.Counterparty,
		PrincipalAmount:   d.Amount,
		OutstandingAmount: d.Amount,
		Status:            core.LoanActive,
		StartDate:         d.StartDate,
		Notes:             d.Notes,
		PasanacoID:        d.PasanacoID,
		CreatedAt:         l.now(),
	}
	if err := l.repo.CreateLoan(ctx, loan); err != nil {
		return core.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	return loan, nil
}

func (l *RepoLedger) LoanDelete(ctx context.Context, id string) error {
	if _, err := l.repo.DeleteExpensesByLoan(ctx, id); err != nil {
		return fmt.Errorf("delete loan expenses: %w", err)
	}
	if err := l.repo.DeleteLoan(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.NewValidationError("loan_id", core.ErrLoanNotFound)
		}
		return fmt.Errorf("delete loan: %w", err)
	}
	return nil
}

func (l *RepoLedger) LoanRepay(ctx context.Context, id, userID string, amount core.Money) (core.Loan, error) {
	if err := amount.Validate(); err != nil {
		return core.Loan{}, core.NewValidationError("amount", err)
	}
	loan, err := l.repo.GetLoan(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Loan{}, core.NewValidationError("loan_id", core.ErrLoanNotFound)
	}
	if err != nil {
		return core.Loan{}, fmt.Errorf("get loan: %w", err)
	}
	if loan.UserID != userID {
		return core.Loan{}, core.NewValidationError("loan_id", core.ErrNotOwner)
	}
	if loan.Status == core.LoanPaid {
		return core.Loan{}, core.NewValidationError("loan_id", core.ErrLoanAlreadyPaid)
	}
	if amount.Cents > loan.OutstandingAmount.Cents {
		return core.Loan{}, core.NewValidationError("amount", core.ErrRepaymentExceedsBalance)
	}

	loan.OutstandingAmount = loan.OutstandingAmount.Sub(amount)
	if loan.OutstandingAmount.IsZero() {
		loan.Status = core.LoanPaid
	}
	if err := l.repo.UpdateLoan(ctx, loan); err != nil {
		return core.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	return loan, nil
}

var _ Ledger = (*RepoLedger)(nil)
