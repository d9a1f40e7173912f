package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"pasanaco/internal/core"
	"pasanaco/internal/log"
	"pasanaco/internal/storage"
	"pasanaco/internal/storage/memory"
)

var testNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

const owner = "user-1"

func newTestService(t *testing.T, opts ...Option) (*PasanacoService, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewPasanacoService(store, opts...), store
}

// seedPool creates a pool starting January 2025 with n participants numbered 1..n.
func seedPool(t *testing.T, svc *PasanacoService, total, n int) (core.Pasanaco, []core.Participant) {
	t.Helper()
	ctx := context.Background()
	pool, err := svc.CreatePasanaco(ctx, owner, PasanacoDraft{
		Name:              "Family pasanaco",
		MonthlyAmount:     core.Money{Cents: 50000},
		TotalParticipants: total,
		StartMonth:        1,
		StartYear:         2025,
	})
	if err != nil {
		t.Fatalf("CreatePasanaco() error = %v", err)
	}
	names := []string{"Ana", "Bruno", "Carla", "Diego", "Elena"}
	var parts []core.Participant
	for i := 0; i < n; i++ {
		p, err := svc.AddParticipant(ctx, pool.ID, owner, names[i], i+1)
		if err != nil {
			t.Fatalf("AddParticipant(%d) error = %v", i+1, err)
		}
		parts = append(parts, p)
	}
	return pool, parts
}

func activePayments(t *testing.T, svc *PasanacoService, poolID string) []core.PasanacoPayment {
	t.Helper()
	payments, _, err := svc.ListPayments(context.Background(), poolID, nil)
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	return payments
}

func TestGeneratePayments_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)

	created, period, err := svc.GeneratePayments(ctx, pool.ID, owner, nil)
	if err != nil {
		t.Fatalf("GeneratePayments() error = %v", err)
	}
	if created != 3 || !period.Equal(core.Period{Month: 1, Year: 2025}) {
		t.Errorf("GeneratePayments() = %d, %v; want 3, 01/2025", created, period)
	}

	created, _, err = svc.GeneratePayments(ctx, pool.ID, owner, nil)
	if err != nil {
		t.Fatalf("second GeneratePayments() error = %v", err)
	}
	if created != 0 {
		t.Errorf("second GeneratePayments() created %d, want 0", created)
	}
	if got := len(activePayments(t, svc, pool.ID)); got != 3 {
		t.Errorf("payments = %d, want 3", got)
	}
}

func TestGeneratePayments_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 1)

	_, _, err := svc.GeneratePayments(ctx, "missing", owner, nil)
	if !errors.Is(err, core.ErrPasanacoNotFound) {
		t.Errorf("missing pool error = %v, want ErrPasanacoNotFound", err)
	}

	_, _, err = svc.GeneratePayments(ctx, pool.ID, owner, &core.Period{Month: 13, Year: 2025})
	if !core.IsValidation(err) || !errors.Is(err, core.ErrInvalidMonth) {
		t.Errorf("bad period error = %v, want validation ErrInvalidMonth", err)
	}
}

// Scenarios 1 and 2: a blocked advance changes nothing, then loans settle
// the remaining payment and the round moves on.
func TestAdvanceRound_BlockedThenSettledByLoans(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)

	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	payments := activePayments(t, svc, pool.ID)
	for _, p := range payments[:2] {
		ok, err := svc.MarkPaymentPaid(ctx, p.ID, owner)
		if err != nil || !ok {
			t.Fatalf("MarkPaymentPaid(%s) = %v, %v", p.ID, ok, err)
		}
	}

	res, err := svc.AdvanceRound(ctx, pool.ID, owner, false)
	if err != nil {
		t.Fatalf("AdvanceRound(false) error = %v", err)
	}
	if res.Advanced || res.Pending != 1 {
		t.Errorf("AdvanceRound(false) = %+v, want blocked with 1 pending", res)
	}
	if got, _ := svc.GetPasanaco(ctx, pool.ID); got.CurrentRound != 1 {
		t.Errorf("CurrentRound after blocked advance = %d, want 1", got.CurrentRound)
	}

	res, err = svc.AdvanceRound(ctx, pool.ID, owner, true)
	if err != nil {
		t.Fatalf("AdvanceRound(true) error = %v", err)
	}
	if !res.Advanced || res.Round != 2 || len(res.Loans) != 1 {
		t.Fatalf("AdvanceRound(true) = %+v, want advanced to round 2 with one loan", res)
	}

	loan := res.Loans[0]
	if loan.OutstandingAmount != pool.MonthlyAmount || loan.PrincipalAmount != pool.MonthlyAmount {
		t.Errorf("loan amounts = %v/%v, want %v", loan.PrincipalAmount, loan.OutstandingAmount, pool.MonthlyAmount)
	}
	if loan.Type != core.LoanGiven || loan.UserID != owner || loan.PasanacoID == nil || *loan.PasanacoID != pool.ID {
		t.Errorf("loan = %+v, want given loan owned by %s linked to pool", loan, owner)
	}

	settled, err := store.GetPayment(ctx, payments[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !settled.Paid || settled.PaidByLoanID == nil || *settled.PaidByLoanID != loan.ID || settled.TransactionID != nil {
		t.Errorf("settled payment = %+v, want paid by loan %s", settled, loan.ID)
	}

	summary, err := svc.GetRelatedSummary(ctx, pool.ID)
	if err != nil {
		t.Fatalf("GetRelatedSummary() error = %v", err)
	}
	want := core.RelatedSummary{PasanacoID: pool.ID, Payments: 3, Loans: 1, Expenses: 1, Incomes: 2}
	if summary != want {
		t.Errorf("GetRelatedSummary() = %+v, want %+v", summary, want)
	}
}

func TestAdvanceRound_BlockedLeavesNoGeneratedRows(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 2)

	res, err := svc.AdvanceRound(ctx, pool.ID, owner, false)
	if err != nil {
		t.Fatalf("AdvanceRound() error = %v", err)
	}
	if res.Advanced || res.Pending != 2 {
		t.Errorf("AdvanceRound() = %+v, want blocked with 2 pending", res)
	}
	if n, _ := store.CountPaymentsByPasanaco(ctx, pool.ID); n != 0 {
		t.Errorf("payments after blocked advance = %d, want 0", n)
	}
	events, _ := svc.ListEvents(ctx, pool.ID, 10)
	if len(events) != 0 {
		t.Errorf("events after blocked advance = %d, want 0", len(events))
	}
}

func TestAdvanceRound_FinalRound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 2, 2)

	if _, err := svc.AdvanceRound(ctx, pool.ID, owner, true); err != nil {
		t.Fatalf("first AdvanceRound() error = %v", err)
	}
	_, err := svc.AdvanceRound(ctx, pool.ID, owner, true)
	if !core.IsValidation(err) || !errors.Is(err, core.ErrFinalRound) {
		t.Fatalf("AdvanceRound() on final round error = %v, want ErrFinalRound", err)
	}
	if got, _ := svc.GetPasanaco(ctx, pool.ID); got.CurrentRound != 2 {
		t.Errorf("CurrentRound = %d, want 2", got.CurrentRound)
	}
}

func TestAdvanceRound_NoParticipants(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 0)

	for _, createLoans := range []bool{false, true} {
		res, err := svc.AdvanceRound(ctx, pool.ID, owner, createLoans)
		if !core.IsValidation(err) || !errors.Is(err, core.ErrNoParticipants) {
			t.Fatalf("AdvanceRound(%v) error = %v, want ErrNoParticipants", createLoans, err)
		}
		if res.Advanced {
			t.Errorf("AdvanceRound(%v) = %+v, want not advanced", createLoans, res)
		}
	}

	if got, _ := svc.GetPasanaco(ctx, pool.ID); got.CurrentRound != 1 {
		t.Errorf("CurrentRound = %d, want 1", got.CurrentRound)
	}
	if n, _ := store.CountPaymentsByPasanaco(ctx, pool.ID); n != 0 {
		t.Errorf("payments = %d, want 0", n)
	}
	if events, _ := svc.ListEvents(ctx, pool.ID, 10); len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
}

// failingLedger fails the nth LoanCreate call.
type failingLedger struct {
	Ledger
	failOn int
	calls  *int
}

func (f failingLedger) LoanCreate(ctx context.Context, d LoanDraft) (core.Loan, error) {
	*f.calls++
	if *f.calls == f.failOn {
		return core.Loan{}, errors.New("loan store unavailable")
	}
	return f.Ledger.LoanCreate(ctx, d)
}

func TestAdvanceRound_AllOrNothing(t *testing.T) {
	calls := 0
	var svc *PasanacoService
	svc, store := newTestService(t, WithLedger(func(repo storage.Repository) Ledger {
		return failingLedger{Ledger: NewRepoLedger(repo, func() time.Time { return testNow }, svc.newID), failOn: 2, calls: &calls}
	}))
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}

	_, err := svc.AdvanceRound(ctx, pool.ID, owner, true)
	if !core.IsDependency(err) {
		t.Fatalf("AdvanceRound() error = %v, want DependencyError", err)
	}
	if calls != 2 {
		t.Errorf("LoanCreate calls = %d, want 2", calls)
	}

	for _, p := range activePayments(t, svc, pool.ID) {
		if p.Paid || p.PaidByLoanID != nil {
			t.Errorf("payment %s changed after rollback: %+v", p.ID, p)
		}
	}
	if n, _ := store.CountLoansByPasanaco(ctx, pool.ID); n != 0 {
		t.Errorf("loans after rollback = %d, want 0", n)
	}
	if n, _ := store.CountExpensesByPasanaco(ctx, pool.ID); n != 0 {
		t.Errorf("expenses after rollback = %d, want 0", n)
	}
	if got, _ := svc.GetPasanaco(ctx, pool.ID); got.CurrentRound != 1 {
		t.Errorf("CurrentRound after rollback = %d, want 1", got.CurrentRound)
	}
}

// Scenario 3: once the round moved on, the settled payment is frozen.
func TestUndoPayment_RejectedOutsideActivePeriod(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)

	res, err := svc.AdvanceRound(ctx, pool.ID, owner, true)
	if err != nil || !res.Advanced {
		t.Fatalf("AdvanceRound() = %+v, %v", res, err)
	}
	target := res.Settled[0]

	ok, err := svc.UndoPayment(ctx, target.ID, owner)
	if ok || !core.IsValidation(err) || !errors.Is(err, core.ErrPaymentNotInActivePeriod) {
		t.Fatalf("UndoPayment() = %v, %v; want validation ErrPaymentNotInActivePeriod", ok, err)
	}

	after, _ := store.GetPayment(ctx, target.ID)
	if !after.Paid || after.PaidByLoanID == nil {
		t.Errorf("payment changed by rejected undo: %+v", after)
	}
	if _, err := store.GetLoan(ctx, *target.PaidByLoanID); err != nil {
		t.Errorf("loan removed by rejected undo: %v", err)
	}
}

// Scenario 4: undoing a direct payment in the active round removes its income.
func TestUndoPayment_DirectPayment(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	payment := activePayments(t, svc, pool.ID)[0]

	if ok, err := svc.MarkPaymentPaid(ctx, payment.ID, owner); err != nil || !ok {
		t.Fatalf("MarkPaymentPaid() = %v, %v", ok, err)
	}
	paid, _ := store.GetPayment(ctx, payment.ID)
	if paid.TransactionID == nil {
		t.Fatal("MarkPaymentPaid() did not record the income id")
	}
	income, err := store.GetIncome(ctx, *paid.TransactionID)
	if err != nil {
		t.Fatalf("GetIncome() error = %v", err)
	}
	if income.Amount != pool.MonthlyAmount || income.CategoryID != core.CategoryPasanaco || income.UserID != owner {
		t.Errorf("income = %+v", income)
	}

	ok, err := svc.UndoPayment(ctx, payment.ID, owner)
	if err != nil || !ok {
		t.Fatalf("UndoPayment() = %v, %v; want true, nil", ok, err)
	}

	reverted, _ := store.GetPayment(ctx, payment.ID)
	if reverted.Paid || reverted.PaymentDate != nil || reverted.TransactionID != nil || reverted.PaidByLoanID != nil {
		t.Errorf("payment after undo = %+v, want unpaid", reverted)
	}
	if _, err := store.GetIncome(ctx, income.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("income still present after undo: %v", err)
	}
}

func TestUndoPayment_LoanSettledInActivePeriod(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, parts := seedPool(t, svc, 3, 3)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}

	loan, err := svc.CreateLoanForParticipant(ctx, pool.ID, parts[1].ID, pool.MonthlyAmount, owner, "covering March")
	if err != nil {
		t.Fatalf("CreateLoanForParticipant() error = %v", err)
	}
	payment, _ := store.FindPayment(ctx, pool.ID, parts[1].ID, core.Period{Month: 1, Year: 2025})
	if payment.PaidByLoanID == nil || *payment.PaidByLoanID != loan.ID {
		t.Fatalf("payment = %+v, want settled by %s", payment, loan.ID)
	}

	ok, err := svc.UndoPayment(ctx, payment.ID, owner)
	if err != nil || !ok {
		t.Fatalf("UndoPayment() = %v, %v", ok, err)
	}
	if _, err := store.GetLoan(ctx, loan.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("loan still present after undo: %v", err)
	}
	if n, _ := store.CountExpensesByPasanaco(ctx, pool.ID); n != 0 {
		t.Errorf("disbursement expenses after undo = %d, want 0", n)
	}
}

func TestUndoPayment_IncomeOwnedByOtherUserAborts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 1)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	payment := activePayments(t, svc, pool.ID)[0]
	if _, err := svc.MarkPaymentPaid(ctx, payment.ID, owner); err != nil {
		t.Fatal(err)
	}

	_, err := svc.UndoPayment(ctx, payment.ID, "someone-else")
	if !core.IsDependency(err) {
		t.Fatalf("UndoPayment() error = %v, want DependencyError", err)
	}
	after, _ := store.GetPayment(ctx, payment.ID)
	if !after.Paid || after.TransactionID == nil {
		t.Errorf("payment changed by aborted undo: %+v", after)
	}
}

func TestUndoPayment_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UndoPayment(context.Background(), "missing", owner)
	if !core.IsNotFound(err) {
		t.Errorf("UndoPayment(missing) error = %v, want not found", err)
	}
}

func TestMarkPaymentPaid_SilentFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 1)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	payment := activePayments(t, svc, pool.ID)[0]

	tests := []struct {
		name      string
		paymentID string
		want      bool
	}{
		{name: "first payment", paymentID: payment.ID, want: true},
		{name: "already paid", paymentID: payment.ID, want: false},
		{name: "missing", paymentID: "missing", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.MarkPaymentPaid(ctx, tt.paymentID, owner)
			if err != nil {
				t.Fatalf("MarkPaymentPaid() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MarkPaymentPaid() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Scenario 5.
func TestRetreatRound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)

	ok, err := svc.RetreatRound(ctx, pool.ID, owner)
	if err != nil || ok {
		t.Fatalf("RetreatRound() at round 1 = %v, %v; want false, nil", ok, err)
	}

	if _, err := svc.AdvanceRound(ctx, pool.ID, owner, true); err != nil {
		t.Fatal(err)
	}
	ok, err = svc.RetreatRound(ctx, pool.ID, owner)
	if err != nil || !ok {
		t.Fatalf("RetreatRound() at round 2 = %v, %v; want true, nil", ok, err)
	}
	got, _ := svc.GetPasanaco(ctx, pool.ID)
	if got.CurrentRound != 1 {
		t.Errorf("CurrentRound = %d, want 1", got.CurrentRound)
	}

	// The loan-settled payments of round 1 are untouched by the rollback.
	for _, p := range activePayments(t, svc, pool.ID) {
		if !p.Paid || p.PaidByLoanID == nil {
			t.Errorf("payment %s reverted by RetreatRound: %+v", p.ID, p)
		}
	}
}

func TestCreateLoanForParticipant_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, parts := seedPool(t, svc, 3, 1)
	_, otherParts := seedPool(t, svc, 2, 1)

	tests := []struct {
		name          string
		poolID        string
		participantID string
		amount        core.Money
		want          error
	}{
		{"zero amount", pool.ID, parts[0].ID, core.Money{}, core.ErrInvalidAmount},
		{"missing pool", "missing", parts[0].ID, core.Money{Cents: 100}, core.ErrPasanacoNotFound},
		{"missing participant", pool.ID, "missing", core.Money{Cents: 100}, core.ErrParticipantNotFound},
		{"participant of another pool", pool.ID, otherParts[0].ID, core.Money{Cents: 100}, core.ErrParticipantNotInPool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateLoanForParticipant(ctx, tt.poolID, tt.participantID, tt.amount, owner, "")
			if !core.IsValidation(err) || !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want validation %v", err, tt.want)
			}
		})
	}
}

func TestCreateLoanForParticipant_PaidPaymentUntouched(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, parts := seedPool(t, svc, 3, 1)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	payment := activePayments(t, svc, pool.ID)[0]
	if _, err := svc.MarkPaymentPaid(ctx, payment.ID, owner); err != nil {
		t.Fatal(err)
	}

	loan, err := svc.CreateLoanForParticipant(ctx, pool.ID, parts[0].ID, core.Money{Cents: 2500}, owner, "extra")
	if err != nil {
		t.Fatalf("CreateLoanForParticipant() error = %v", err)
	}
	if loan.PrincipalAmount.Cents != 2500 || loan.Notes != "extra" {
		t.Errorf("loan = %+v", loan)
	}
	after, _ := store.GetPayment(ctx, payment.ID)
	if after.PaidByLoanID != nil || after.TransactionID == nil {
		t.Errorf("directly paid payment re-settled by loan: %+v", after)
	}
}

func TestDeletePasanacoCascade(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	first := activePayments(t, svc, pool.ID)[0]
	if _, err := svc.MarkPaymentPaid(ctx, first.ID, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AdvanceRound(ctx, pool.ID, owner, true); err != nil {
		t.Fatal(err)
	}

	_, err := svc.DeletePasanacoCascade(ctx, pool.ID, "intruder")
	if !errors.Is(err, core.ErrNotOwner) {
		t.Fatalf("DeletePasanacoCascade() by non-owner error = %v, want ErrNotOwner", err)
	}

	removed, err := svc.DeletePasanacoCascade(ctx, pool.ID, owner)
	if err != nil {
		t.Fatalf("DeletePasanacoCascade() error = %v", err)
	}
	want := core.RelatedSummary{PasanacoID: pool.ID, Payments: 3, Loans: 2, Expenses: 0, Incomes: 1}
	if removed != want {
		t.Errorf("removed = %+v, want %+v", removed, want)
	}

	if _, err := svc.GetPasanaco(ctx, pool.ID); !core.IsNotFound(err) {
		t.Errorf("GetPasanaco() after delete error = %v, want not found", err)
	}
	summary, _ := svc.GetRelatedSummary(ctx, pool.ID)
	if summary != (core.RelatedSummary{PasanacoID: pool.ID}) {
		t.Errorf("summary after delete = %+v, want zero counts", summary)
	}
	if parts, _ := store.ListParticipants(ctx, pool.ID); len(parts) != 0 {
		t.Errorf("participants after delete = %d, want 0", len(parts))
	}
	events, _ := svc.ListEvents(ctx, pool.ID, 1)
	if len(events) != 1 || events[0].Type != core.EventPasanacoDeleted {
		t.Errorf("latest event = %+v, want pasanaco.deleted", events)
	}
}

func TestParticipants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, parts := seedPool(t, svc, 2, 1)

	if _, err := svc.AddParticipant(ctx, pool.ID, owner, "Dup", 1); !errors.Is(err, core.ErrDuplicateAssignedNumber) {
		t.Errorf("duplicate number error = %v, want ErrDuplicateAssignedNumber", err)
	}
	if _, err := svc.AddParticipant(ctx, pool.ID, owner, "Out", 3); !errors.Is(err, core.ErrInvalidAssignedNumber) {
		t.Errorf("out of range error = %v, want ErrInvalidAssignedNumber", err)
	}
	if _, err := svc.AddParticipant(ctx, pool.ID, owner, "Bruno", 2); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if _, err := svc.AddParticipant(ctx, pool.ID, owner, "Extra", 2); !errors.Is(err, core.ErrPoolFull) {
		t.Errorf("full pool error = %v, want ErrPoolFull", err)
	}

	p, err := svc.SetParticipantReceived(ctx, pool.ID, owner, parts[0].ID, true)
	if err != nil || !p.HasReceived {
		t.Errorf("SetParticipantReceived() = %+v, %v", p, err)
	}

	_, err = svc.UpdatePasanaco(ctx, pool.ID, owner, PasanacoEdit{
		Name: pool.Name, MonthlyAmount: pool.MonthlyAmount, TotalParticipants: 1,
		StartMonth: 1, StartYear: 2025,
	})
	if !errors.Is(err, core.ErrParticipantCountTooLow) {
		t.Errorf("UpdatePasanaco() shrinking error = %v, want ErrParticipantCountTooLow", err)
	}
}

func TestUpdatePasanaco_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, svc *PasanacoService) core.Pasanaco
		edit    func(pool core.Pasanaco) PasanacoEdit
		wantErr error
	}{
		{
			name: "total below current round",
			setup: func(t *testing.T, svc *PasanacoService) core.Pasanaco {
				pool, _ := seedPool(t, svc, 4, 2)
				for i := 0; i < 2; i++ {
					if _, err := svc.AdvanceRound(context.Background(), pool.ID, owner, true); err != nil {
						t.Fatalf("AdvanceRound() error = %v", err)
					}
				}
				return pool
			},
			edit:    func(p core.Pasanaco) PasanacoEdit { return editOf(p, 2, p.StartMonth, p.StartYear) },
			wantErr: core.ErrParticipantCountBelowRound,
		},
		{
			name: "total below highest assigned number",
			setup: func(t *testing.T, svc *PasanacoService) core.Pasanaco {
				pool, _ := seedPool(t, svc, 4, 1)
				if _, err := svc.AddParticipant(context.Background(), pool.ID, owner, "Diego", 4); err != nil {
					t.Fatalf("AddParticipant() error = %v", err)
				}
				return pool
			},
			edit:    func(p core.Pasanaco) PasanacoEdit { return editOf(p, 2, p.StartMonth, p.StartYear) },
			wantErr: core.ErrInvalidAssignedNumber,
		},
		{
			name: "start moved once payments exist",
			setup: func(t *testing.T, svc *PasanacoService) core.Pasanaco {
				pool, _ := seedPool(t, svc, 3, 3)
				if _, _, err := svc.GeneratePayments(context.Background(), pool.ID, owner, nil); err != nil {
					t.Fatalf("GeneratePayments() error = %v", err)
				}
				return pool
			},
			edit:    func(p core.Pasanaco) PasanacoEdit { return editOf(p, p.TotalParticipants, 3, 2025) },
			wantErr: core.ErrStartLockedByPayments,
		},
		{
			name: "start moved before any payment",
			setup: func(t *testing.T, svc *PasanacoService) core.Pasanaco {
				pool, _ := seedPool(t, svc, 3, 3)
				return pool
			},
			edit: func(p core.Pasanaco) PasanacoEdit { return editOf(p, p.TotalParticipants, 3, 2025) },
		},
		{
			name: "total grown after payments",
			setup: func(t *testing.T, svc *PasanacoService) core.Pasanaco {
				pool, _ := seedPool(t, svc, 3, 2)
				if _, _, err := svc.GeneratePayments(context.Background(), pool.ID, owner, nil); err != nil {
					t.Fatalf("GeneratePayments() error = %v", err)
				}
				return pool
			},
			edit: func(p core.Pasanaco) PasanacoEdit { return editOf(p, 5, p.StartMonth, p.StartYear) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()
			pool := tt.setup(t, svc)
			before, _ := svc.GetPasanaco(ctx, pool.ID)
			edit := tt.edit(before)

			got, err := svc.UpdatePasanaco(ctx, pool.ID, owner, edit)
			if tt.wantErr != nil {
				if !core.IsValidation(err) || !errors.Is(err, tt.wantErr) {
					t.Fatalf("UpdatePasanaco() error = %v, want %v", err, tt.wantErr)
				}
				if after, _ := svc.GetPasanaco(ctx, pool.ID); after != before {
					t.Errorf("pool changed by rejected edit: %+v, want %+v", after, before)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdatePasanaco() error = %v", err)
			}
			if got.TotalParticipants != edit.TotalParticipants || got.StartMonth != edit.StartMonth {
				t.Errorf("UpdatePasanaco() = %+v, want edit %+v applied", got, edit)
			}
		})
	}
}

func editOf(p core.Pasanaco, total, month, year int) PasanacoEdit {
	return PasanacoEdit{
		Name:              p.Name,
		MonthlyAmount:     p.MonthlyAmount,
		TotalParticipants: total,
		StartMonth:        month,
		StartYear:         year,
	}
}

func TestParticipants_RejectionsLogActor(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelInfo, Format: "json", Output: &buf, Component: log.ComponentSettlement})
	svc, _ := newTestService(t, WithLogger(logger))
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 2, 1)

	if _, err := svc.AddParticipant(ctx, pool.ID, "user-2", "Out", 9); !errors.Is(err, core.ErrInvalidAssignedNumber) {
		t.Fatalf("AddParticipant() error = %v, want ErrInvalidAssignedNumber", err)
	}
	if _, err := svc.SetParticipantReceived(ctx, pool.ID, "user-3", "missing", true); !errors.Is(err, core.ErrParticipantNotFound) {
		t.Fatalf("SetParticipantReceived() error = %v, want ErrParticipantNotFound", err)
	}

	var actors []any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("record is not JSON: %v", err)
		}
		if rec["msg"] == "Settlement rejected" {
			actors = append(actors, rec[log.FieldUserID])
		}
	}
	if len(actors) != 2 || actors[0] != "user-2" || actors[1] != "user-3" {
		t.Errorf("rejection actors = %v, want [user-2 user-3]", actors)
	}
}

func TestRepayLoan(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, parts := seedPool(t, svc, 3, 1)

	loan, err := svc.CreateLoanForParticipant(ctx, pool.ID, parts[0].ID, core.Money{Cents: 10000}, owner, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RepayLoan(ctx, loan.ID, owner, core.Money{Cents: 20000}); !errors.Is(err, core.ErrRepaymentExceedsBalance) {
		t.Errorf("over-repayment error = %v, want ErrRepaymentExceedsBalance", err)
	}
	got, err := svc.RepayLoan(ctx, loan.ID, owner, core.Money{Cents: 4000})
	if err != nil || got.OutstandingAmount.Cents != 6000 || got.Status != core.LoanActive {
		t.Errorf("partial RepayLoan() = %+v, %v", got, err)
	}
	got, err = svc.RepayLoan(ctx, loan.ID, owner, core.Money{Cents: 6000})
	if err != nil || !got.OutstandingAmount.IsZero() || got.Status != core.LoanPaid {
		t.Errorf("final RepayLoan() = %+v, %v", got, err)
	}
	if _, err := svc.RepayLoan(ctx, loan.ID, owner, core.Money{Cents: 1}); !errors.Is(err, core.ErrLoanAlreadyPaid) {
		t.Errorf("repaying paid loan error = %v, want ErrLoanAlreadyPaid", err)
	}

	loans, _ := svc.ListLoans(ctx, owner)
	if len(loans) != 1 {
		t.Errorf("ListLoans() = %d loans, want 1", len(loans))
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.SettlementEvent
	err    error
}

func (p *recordingPublisher) PublishSettlementEvent(_ context.Context, e core.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func TestSettlementEvents_PublishedAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	svc, store := newTestService(t, WithPublisher(pub))
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 2)

	res, err := svc.AdvanceRound(ctx, pool.ID, owner, true)
	if err != nil || !res.Advanced {
		t.Fatalf("AdvanceRound() = %+v, %v", res, err)
	}

	// 2 loans created, 2 payments settled, 1 round advanced.
	if len(pub.events) != 5 {
		t.Fatalf("published %d events, want 5", len(pub.events))
	}
	if last := pub.events[4]; last.Type != core.EventRoundAdvanced || last.Round != 2 || last.ActorID != owner {
		t.Errorf("last event = %+v, want round.advanced to 2 by %s", last, owner)
	}
	pending, _ := store.ListUnpublishedEvents(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("unpublished events = %d, want 0", len(pending))
	}
}

func TestSettlementEvents_FailedPublishLeftForRelay(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, store := newTestService(t, WithPublisher(pub))
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 1)

	if _, err := svc.AdvanceRound(ctx, pool.ID, owner, true); err != nil {
		t.Fatalf("AdvanceRound() error = %v", err)
	}
	pending, _ := store.ListUnpublishedEvents(ctx, 10)
	if len(pending) != 3 {
		t.Errorf("unpublished events = %d, want 3", len(pending))
	}
}

func TestAdvanceRound_ConcurrentCallsSerialize(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
		final    int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.AdvanceRound(ctx, pool.ID, owner, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Advanced:
				advanced++
			case errors.Is(err, core.ErrFinalRound):
				final++
			default:
				t.Errorf("unexpected AdvanceRound() result %+v, %v", res, err)
			}
		}()
	}
	wg.Wait()

	if advanced != 2 || final != 6 {
		t.Errorf("advanced = %d, final = %d; want 2 and 6", advanced, final)
	}
	got, _ := svc.GetPasanaco(ctx, pool.ID)
	if got.CurrentRound != 3 {
		t.Errorf("CurrentRound = %d, want 3", got.CurrentRound)
	}
	// One loan per participant per settled round, never duplicated.
	if n, _ := store.CountLoansByPasanaco(ctx, pool.ID); n != 6 {
		t.Errorf("loans = %d, want 6", n)
	}
}

func TestMutualExclusivityOfSettlement(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)
	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatal(err)
	}
	payments := activePayments(t, svc, pool.ID)
	if _, err := svc.MarkPaymentPaid(ctx, payments[0].ID, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AdvanceRound(ctx, pool.ID, owner, true); err != nil {
		t.Fatal(err)
	}

	for _, p := range payments {
		got, _ := store.GetPayment(ctx, p.ID)
		if got.TransactionID != nil && got.PaidByLoanID != nil {
			t.Errorf("payment %s settled twice: %+v", p.ID, got)
		}
		if !got.Paid {
			t.Errorf("payment %s unpaid after advance", p.ID)
		}
	}
}
