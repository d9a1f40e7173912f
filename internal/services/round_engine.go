package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pasanaco/internal/core"
	"pasanaco/internal/storage"
)

// RoundEngine holds the settlement rules for one pool. It assumes it runs
// inside a single unit of work and never opens transactions itself.
type RoundEngine struct {
	repo   storage.Repository
	ledger Ledger
	now    func() time.Time
	newID  func() string
}

func NewRoundEngine(repo storage.Repository, ledger Ledger, now func() time.Time, newID func() string) *RoundEngine {
	return &RoundEngine{repo: repo, ledger: ledger, now: now, newID: newID}
}

// AdvanceResult describes the outcome of AdvanceRound. A blocked advance is
// not an error: Advanced is false and Pending counts the unpaid payments.
type AdvanceResult struct {
	Advanced bool
	Pending  int
	Round    int
	Loans    []core.Loan
	Settled  []core.PasanacoPayment
}

// PaymentResult is the outcome of a single-payment operation. Payment holds
// the row as stored after the call.
type PaymentResult struct {
	Done     bool
	Pool     core.Pasanaco
	Payment  core.PasanacoPayment
	IncomeID string
	LoanID   string
}

// LoanSettlement is a loan opened for a participant and, when the active
// period's payment was still open, the payment it settled.
type LoanSettlement struct {
	Pool    core.Pasanaco
	Loan    core.Loan
	Payment *core.PasanacoPayment
}

// ResolveActivePeriod returns the calendar month of the pool's current round.
func ResolveActivePeriod(pool core.Pasanaco) core.Period {
	return pool.ActivePeriod()
}

func (e *RoundEngine) loadPool(ctx context.Context, id string) (core.Pasanaco, error) {
	pool, err := e.repo.GetPasanaco(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Pasanaco{}, core.NewValidationError("pasanaco_id", core.ErrPasanacoNotFound)
	}
	if err != nil {
		return core.Pasanaco{}, fmt.Errorf("load pasanaco: %w", err)
	}
	return pool, nil
}

func (e *RoundEngine) loadPayment(ctx context.Context, id string) (core.PasanacoPayment, error) {
	payment, err := e.repo.GetPayment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return core.PasanacoPayment{}, core.NewValidationError("payment_id", core.ErrPaymentNotFound)
	}
	if err != nil {
		return core.PasanacoPayment{}, fmt.Errorf("load payment: %w", err)
	}
	return payment, nil
}

// GeneratePayments creates an unpaid row for every participant that has none
// for period. It returns the number of rows created.
func (e *RoundEngine) GeneratePayments(ctx context.Context, poolID string, period core.Period) (int, error) {
	if err := period.Validate(); err != nil {
		return 0, core.NewValidationError("period", err)
	}
	if _, err := e.loadPool(ctx, poolID); err != nil {
		return 0, err
	}
	participants, err := e.repo.ListParticipants(ctx, poolID)
	if err != nil {
		return 0, fmt.Errorf("list participants: %w", err)
	}
	return e.generate(ctx, poolID, participants, period)
}

func (e *RoundEngine) generate(ctx context.Context, poolID string, participants []core.Participant, period core.Period) (int, error) {
	created := 0
	for _, p := range participants {
		_, err := e.repo.FindPayment(ctx, poolID, p.ID, period)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return created, fmt.Errorf("find payment: %w", err)
		}

		payment := core.PasanacoPayment{
			ID:            e.newID(),
			PasanacoID:    poolID,
			ParticipantID: p.ID,
			Month:         period.Month,
			Year:          period.Year,
			CreatedAt:     e.now(),
		}
		if err := e.repo.CreatePayment(ctx, payment); err != nil {
			return created, fmt.Errorf("create payment: %w", err)
		}
		created++
	}
	return created, nil
}

// AdvanceRound settles the active period and moves the pool to the next
// round. With createLoans unset, any unpaid payment blocks the advance and
// nothing changes. With createLoans set, every unpaid payment is settled by a
// new loan owned by performedBy; a failure on any of them fails the whole call.
func (e *RoundEngine) AdvanceRound(ctx context.Context, poolID, performedBy string, createLoans bool) (AdvanceResult, error) {
	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if pool.IsFinalRound() {
		return AdvanceResult{Round: pool.CurrentRound}, core.NewValidationError("current_round", core.ErrFinalRound)
	}

	participants, err := e.repo.ListParticipants(ctx, poolID)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("list participants: %w", err)
	}
	if len(participants) == 0 {
		return AdvanceResult{Round: pool.CurrentRound}, core.NewValidationError("pasanaco_id", core.ErrNoParticipants)
	}
	period := pool.ActivePeriod()
	if _, err := e.generate(ctx, poolID, participants, period); err != nil {
		return AdvanceResult{}, err
	}

	payments, err := e.repo.ListPaymentsByPeriod(ctx, poolID, period)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("list payments: %w", err)
	}
	var unpaid []core.PasanacoPayment
	for _, p := range payments {
		if !p.Paid {
			unpaid = append(unpaid, p)
		}
	}

	result := AdvanceResult{Round: pool.CurrentRound, Pending: len(unpaid)}
	if len(unpaid) > 0 && !createLoans {
		return result, nil
	}

	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}
	for _, payment := range unpaid {
		note := fmt.Sprintf("Unpaid contribution for %s", period)
		loan, err := e.openLoan(ctx, pool, names[payment.ParticipantID], pool.MonthlyAmount, performedBy, note)
		if err != nil {
			return AdvanceResult{}, err
		}
		settled, err := e.settleByLoan(ctx, payment, loan.ID)
		if err != nil {
			return AdvanceResult{}, err
		}
		result.Loans = append(result.Loans, loan)
		result.Settled = append(result.Settled, settled)
	}

	pool.CurrentRound++
	pool.UpdatedAt = e.now()
	if err := e.repo.UpdatePasanaco(ctx, pool); err != nil {
		return AdvanceResult{}, fmt.Errorf("update round: %w", err)
	}

	result.Advanced = true
	result.Pending = 0
	result.Round = pool.CurrentRound
	return result, nil
}

// RetreatRound moves the pool back one round. It reports false at round 1.
// Payments and loans of the abandoned round are left as they are.
func (e *RoundEngine) RetreatRound(ctx context.Context, poolID string) (bool, core.Pasanaco, error) {
	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return false, core.Pasanaco{}, err
	}
	if pool.CurrentRound <= 1 {
		return false, pool, nil
	}
	pool.CurrentRound--
	pool.UpdatedAt = e.now()
	if err := e.repo.UpdatePasanaco(ctx, pool); err != nil {
		return false, core.Pasanaco{}, fmt.Errorf("update round: %w", err)
	}
	return true, pool, nil
}

// MarkPaymentPaid records a direct contribution: the payment is marked paid
// and an income for the monthly amount is created for userID. Done is false
// when the payment does not exist or is already paid.
func (e *RoundEngine) MarkPaymentPaid(ctx context.Context, paymentID, userID string) (PaymentResult, error) {
	payment, err := e.repo.GetPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return PaymentResult{}, nil
	}
	if err != nil {
		return PaymentResult{}, fmt.Errorf("load payment: %w", err)
	}
	if payment.Paid {
		return PaymentResult{Payment: payment}, nil
	}

	pool, err := e.loadPool(ctx, payment.PasanacoID)
	if err != nil {
		return PaymentResult{}, err
	}
	participant, err := e.repo.GetParticipant(ctx, payment.ParticipantID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("load participant: %w", err)
	}

	now := e.now()
	income, err := e.ledger.IncomeCreate(ctx, userID, IncomeDraft{
		Amount:      pool.MonthlyAmount,
		Description: fmt.Sprintf("Pasanaco %s: contribution from %s", pool.Name, participant.Name),
		Date:        now,
		CategoryID:  core.CategoryPasanaco,
		Notes:       fmt.Sprintf("Period %s", payment.Period()),
		PasanacoID:  core.StringPtr(pool.ID),
	})
	if err != nil {
		return PaymentResult{}, &core.DependencyError{Op: "income create", Err: err}
	}

	payment.Paid = true
	payment.PaymentDate = core.TimePtr(now)
	payment.TransactionID = core.StringPtr(income.ID)
	payment.PaidByLoanID = nil
	if err := e.repo.UpdatePayment(ctx, payment); err != nil {
		return PaymentResult{}, fmt.Errorf("update payment: %w", err)
	}

	return PaymentResult{Done: true, Pool: pool, Payment: payment, IncomeID: income.ID}, nil
}

// CreateLoanForParticipant opens a loan for a participant outside the
// automatic advance. If the participant's payment for the active period is
// still open, the loan settles it.
func (e *RoundEngine) CreateLoanForParticipant(ctx context.Context, poolID, participantID string, amount core.Money, userID, note string) (LoanSettlement, error) {
	if err := amount.Validate(); err != nil {
		return LoanSettlement{}, core.NewValidationError("amount", err)
	}
	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return LoanSettlement{}, err
	}
	participant, err := e.repo.GetParticipant(ctx, participantID)
	if errors.Is(err, storage.ErrNotFound) {
		return LoanSettlement{}, core.NewValidationError("participant_id", core.ErrParticipantNotFound)
	}
	if err != nil {
		return LoanSettlement{}, fmt.Errorf("load participant: %w", err)
	}
	if participant.PasanacoID != pool.ID {
		return LoanSettlement{}, core.NewValidationError("participant_id", core.ErrParticipantNotInPool)
	}

	loan, err := e.openLoan(ctx, pool, participant.Name, amount, userID, note)
	if err != nil {
		return LoanSettlement{}, err
	}
	out := LoanSettlement{Pool: pool, Loan: loan}

	payment, err := e.repo.FindPayment(ctx, pool.ID, participant.ID, pool.ActivePeriod())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return out, nil
	case err != nil:
		return LoanSettlement{}, fmt.Errorf("find payment: %w", err)
	case payment.Paid:
		return out, nil
	}

	settled, err := e.settleByLoan(ctx, payment, loan.ID)
	if err != nil {
		return LoanSettlement{}, err
	}
	out.Payment = &settled
	return out, nil
}

// UndoPayment reverses a settlement of the active period: the income or loan
// it created is deleted and the payment returns to unpaid. Payments of any
// other period are rejected. Done is false when the payment is not paid.
func (e *RoundEngine) UndoPayment(ctx context.Context, paymentID, userID string) (PaymentResult, error) {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return PaymentResult{}, err
	}
	pool, err := e.loadPool(ctx, payment.PasanacoID)
	if err != nil {
		return PaymentResult{}, err
	}
	if !payment.Period().Equal(pool.ActivePeriod()) {
		return PaymentResult{}, core.NewValidationError("payment_id", core.ErrPaymentNotInActivePeriod)
	}
	if !payment.Paid {
		return PaymentResult{Pool: pool, Payment: payment}, nil
	}

	out := PaymentResult{Done: true, Pool: pool}
	if payment.TransactionID != nil {
		ok, err := e.ledger.IncomeDelete(ctx, *payment.TransactionID, userID)
		if err != nil {
			return PaymentResult{}, &core.DependencyError{Op: "income delete", Err: err}
		}
		if !ok {
			return PaymentResult{}, &core.DependencyError{
				Op:  "income delete",
				Err: fmt.Errorf("income %s could not be deleted for user %s", *payment.TransactionID, userID),
			}
		}
		out.IncomeID = *payment.TransactionID
	}
	if payment.PaidByLoanID != nil {
		if err := e.ledger.LoanDelete(ctx, *payment.PaidByLoanID); err != nil {
			return PaymentResult{}, &core.DependencyError{Op: "loan delete", Err: err}
		}
		out.LoanID = *payment.PaidByLoanID
	}

	payment.Paid = false
	payment.PaymentDate = nil
	payment.TransactionID = nil
	payment.PaidByLoanID = nil
	if err := e.repo.UpdatePayment(ctx, payment); err != nil {
		return PaymentResult{}, fmt.Errorf("update payment: %w", err)
	}
	out.Payment = payment
	return out, nil
}

// DeleteCascade removes the pool and everything that references it. Loans go
// through the ledger so their disbursement expenses are removed with them.
func (e *RoundEngine) DeleteCascade(ctx context.Context, poolID, userID string) (core.RelatedSummary, error) {
	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return core.RelatedSummary{}, err
	}
	if pool.OwnerID != userID {
		return core.RelatedSummary{}, core.NewValidationError("pasanaco_id", core.ErrNotOwner)
	}

	summary := core.RelatedSummary{PasanacoID: poolID}
	if summary.Payments, err = e.repo.DeletePaymentsByPasanaco(ctx, poolID); err != nil {
		return core.RelatedSummary{}, fmt.Errorf("delete payments: %w", err)
	}

	loans, err := e.repo.ListLoansByPasanaco(ctx, poolID)
	if err != nil {
		return core.RelatedSummary{}, fmt.Errorf("list loans: %w", err)
	}
	for _, loan := range loans {
		if err := e.ledger.LoanDelete(ctx, loan.ID); err != nil {
			return core.RelatedSummary{}, &core.DependencyError{Op: "loan delete", Err: err}
		}
	}
	summary.Loans = len(loans)

	if summary.Expenses, err = e.repo.DeleteExpensesByPasanaco(ctx, poolID); err != nil {
		return core.RelatedSummary{}, fmt.Errorf("delete expenses: %w", err)
	}
	if summary.Incomes, err = e.repo.DeleteIncomesByPasanaco(ctx, poolID); err != nil {
		return core.RelatedSummary{}, fmt.Errorf("delete incomes: %w", err)
	}
	if _, err := e.repo.DeleteParticipantsByPasanaco(ctx, poolID); err != nil {
		return core.RelatedSummary{}, fmt.Errorf("delete participants: %w", err)
	}
	if err := e.repo.DeletePasanaco(ctx, poolID); err != nil {
		return core.RelatedSummary{}, fmt.Errorf("delete pasanaco: %w", err)
	}
	return summary, nil
}

// openLoan creates a given loan and the expense that disburses it.
func (e *RoundEngine) openLoan(ctx context.Context, pool core.Pasanaco, counterparty string, amount core.Money, userID, note string) (core.Loan, error) {
	now := e.now()
	loan, err := e.ledger.LoanCreate(ctx, LoanDraft{
		UserID:       userID,
		Type:         core.LoanGiven,
		Counterparty: counterparty,
		Amount:       amount,
		StartDate:    now,
		Notes:        note,
		PasanacoID:   core.StringPtr(pool.ID),
	})
	if err != nil {
		return core.Loan{}, &core.DependencyError{Op: "loan create", Err: err}
	}

	_, err = e.ledger.ExpenseCreate(ctx, userID, ExpenseDraft{
		Amount:      amount,
		Description: fmt.Sprintf("Pasanaco %s: loan to %s", pool.Name, counterparty),
		Date:        now,
		CategoryID:  core.CategoryPersonalLoan,
		Notes:       note,
		LoanID:      core.StringPtr(loan.ID),
		PasanacoID:  core.StringPtr(pool.ID),
	})
	if err != nil {
		return core.Loan{}, &core.DependencyError{Op: "expense create", Err: err}
	}
	return loan, nil
}

func (e *RoundEngine) settleByLoan(ctx context.Context, payment core.PasanacoPayment, loanID string) (core.PasanacoPayment, error) {
	payment.Paid = true
	payment.PaymentDate = core.TimePtr(e.now())
	payment.TransactionID = nil
	payment.PaidByLoanID = core.StringPtr(loanID)
	if err := e.repo.UpdatePayment(ctx, payment); err != nil {
		return core.PasanacoPayment{}, fmt.Errorf("settle payment %s by loan: %w", payment.ID, err)
	}
	return payment, nil
}
