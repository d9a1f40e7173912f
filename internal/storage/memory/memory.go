// Package memory is an in-process storage.Store used by tests and by the
// server when no database path is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pasanaco/internal/core"
	"pasanaco/internal/storage"
)

type tables struct {
	pasanacos    map[string]core.Pasanaco
	participants map[string]core.Participant
	payments     map[string]core.PasanacoPayment
	loans        map[string]core.Loan
	expenses     map[string]core.Expense
	incomes      map[string]core.Income
	events       []core.SettlementEvent
}

func newTables() *tables {
	return &tables{
		pasanacos:    map[string]core.Pasanaco{},
		participants: map[string]core.Participant{},
		payments:     map[string]core.PasanacoPayment{},
		loans:        map[string]core.Loan{},
		expenses:     map[string]core.Expense{},
		incomes:      map[string]core.Income{},
	}
}

// clone copies every table. Pointer fields inside rows are never mutated in
// place, so sharing them between snapshots is safe.
func (t *tables) clone() *tables {
	c := &tables{
		pasanacos:    make(map[string]core.Pasanaco, len(t.pasanacos)),
		participants: make(map[string]core.Participant, len(t.participants)),
		payments:     make(map[string]core.PasanacoPayment, len(t.payments)),
		loans:        make(map[string]core.Loan, len(t.loans)),
		expenses:     make(map[string]core.Expense, len(t.expenses)),
		incomes:      make(map[string]core.Income, len(t.incomes)),
		events:       append([]core.SettlementEvent(nil), t.events...),
	}
	for k, v := range t.pasanacos {
		c.pasanacos[k] = v
	}
	for k, v := range t.participants {
		c.participants[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.loans {
		c.loans[k] = v
	}
	for k, v := range t.expenses {
		c.expenses[k] = v
	}
	for k, v := range t.incomes {
		c.incomes[k] = v
	}
	return c
}

// Store keeps all rows in maps. A transaction runs on a private snapshot
// that replaces the live tables on commit. The store lock is held for the
// whole transaction, so fn must only use the Repository it is given.
type Store struct {
	*repo
	mu sync.Mutex
}

func New() *Store {
	s := &Store{}
	s.repo = &repo{t: newTables(), mu: &s.mu}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(repo storage.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.repo.t.clone()
	if err := fn(&repo{t: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.repo.t = snapshot
	return nil
}

func (s *Store) Close() error { return nil }

// repo implements storage.Repository over one set of tables. mu is nil for
// transaction views, which are owned by a single goroutine.
type repo struct {
	mu *sync.Mutex
	t  *tables
}

func (r *repo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// Pasanacos

func (r *repo) CreatePasanaco(_ context.Context, p core.Pasanaco) error {
	defer r.lock()()
	if _, ok := r.t.pasanacos[p.ID]; ok {
		return storage.ErrConflict
	}
	r.t.pasanacos[p.ID] = p
	return nil
}

func (r *repo) GetPasanaco(_ context.Context, id string) (core.Pasanaco, error) {
	defer r.lock()()
	p, ok := r.t.pasanacos[id]
	if !ok {
		return core.Pasanaco{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *repo) ListPasanacos(_ context.Context, ownerID string) ([]core.Pasanaco, error) {
	defer r.lock()()
	var out []core.Pasanaco
	for _, p := range r.t.pasanacos {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (r *repo) UpdatePasanaco(_ context.Context, p core.Pasanaco) error {
	defer r.lock()()
	old, ok := r.t.pasanacos[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	p.OwnerID = old.OwnerID
	p.CreatedAt = old.CreatedAt
	r.t.pasanacos[p.ID] = p
	return nil
}

func (r *repo) DeletePasanaco(_ context.Context, id string) error {
	defer r.lock()()
	if _, ok := r.t.pasanacos[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.t.pasanacos, id)
	return nil
}

// Participants

func (r *repo) CreateParticipant(_ context.Context, p core.Participant) error {
	defer r.lock()()
	if _, ok := r.t.participants[p.ID]; ok {
		return storage.ErrConflict
	}
	if r.numberTaken(p.PasanacoID, p.AssignedNumber, p.ID) {
		return storage.ErrConflict
	}
	r.t.participants[p.ID] = p
	return nil
}

func (r *repo) GetParticipant(_ context.Context, id string) (core.Participant, error) {
	defer r.lock()()
	p, ok := r.t.participants[id]
	if !ok {
		return core.Participant{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *repo) ListParticipants(_ context.Context, pasanacoID string) ([]core.Participant, error) {
	defer r.lock()()
	var out []core.Participant
	for _, p := range r.t.participants {
		if p.PasanacoID == pasanacoID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedNumber < out[j].AssignedNumber })
	return out, nil
}

func (r *repo) UpdateParticipant(_ context.Context, p core.Participant) error {
	defer r.lock()()
	old, ok := r.t.participants[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if r.numberTaken(old.PasanacoID, p.AssignedNumber, p.ID) {
		return storage.ErrConflict
	}
	p.PasanacoID = old.PasanacoID
	p.CreatedAt = old.CreatedAt
	r.t.participants[p.ID] = p
	return nil
}

func (r *repo) DeleteParticipantsByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for id, p := range r.t.participants {
		if p.PasanacoID == pasanacoID {
			delete(r.t.participants, id)
			n++
		}
	}
	return n, nil
}

func (r *repo) numberTaken(pasanacoID string, number int, exceptID string) bool {
	for _, other := range r.t.participants {
		if other.PasanacoID == pasanacoID && other.AssignedNumber == number && other.ID != exceptID {
			return true
		}
	}
	return false
}

// Payments

func (r *repo) CreatePayment(_ context.Context, p core.PasanacoPayment) error {
	defer r.lock()()
	if _, ok := r.t.payments[p.ID]; ok {
		return storage.ErrConflict
	}
	for _, other := range r.t.payments {
		if other.ParticipantID == p.ParticipantID && other.Month == p.Month && other.Year == p.Year {
			return storage.ErrConflict
		}
	}
	r.t.payments[p.ID] = p
	return nil
}

func (r *repo) GetPayment(_ context.Context, id string) (core.PasanacoPayment, error) {
	defer r.lock()()
	p, ok := r.t.payments[id]
	if !ok {
		return core.PasanacoPayment{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *repo) FindPayment(_ context.Context, pasanacoID, participantID string, period core.Period) (core.PasanacoPayment, error) {
	defer r.lock()()
	for _, p := range r.t.payments {
		if p.PasanacoID == pasanacoID && p.ParticipantID == participantID && p.Period().Equal(period) {
			return p, nil
		}
	}
	return core.PasanacoPayment{}, storage.ErrNotFound
}

func (r *repo) ListPaymentsByPeriod(_ context.Context, pasanacoID string, period core.Period) ([]core.PasanacoPayment, error) {
	defer r.lock()()
	var out []core.PasanacoPayment
	for _, p := range r.t.payments {
		if p.PasanacoID == pasanacoID && p.Period().Equal(period) {
			out = append(out, p)
		}
	}
	number := func(p core.PasanacoPayment) int { return r.t.participants[p.ParticipantID].AssignedNumber }
	sort.Slice(out, func(i, j int) bool { return number(out[i]) < number(out[j]) })
	return out, nil
}

func (r *repo) UpdatePayment(_ context.Context, p core.PasanacoPayment) error {
	defer r.lock()()
	old, ok := r.t.payments[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	old.Paid = p.Paid
	old.PaymentDate = p.PaymentDate
	old.TransactionID = p.TransactionID
	old.PaidByLoanID = p.PaidByLoanID
	r.t.payments[p.ID] = old
	return nil
}

func (r *repo) DeletePaymentsByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for id, p := range r.t.payments {
		if p.PasanacoID == pasanacoID {
			delete(r.t.payments, id)
			n++
		}
	}
	return n, nil
}

func (r *repo) CountPaymentsByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for _, p := range r.t.payments {
		if p.PasanacoID == pasanacoID {
			n++
		}
	}
	return n, nil
}

// Loans

func (r *repo) CreateLoan(_ context.Context, l core.Loan) error {
	defer r.lock()()
	if _, ok := r.t.loans[l.ID]; ok {
		return storage.ErrConflict
	}
	r.t.loans[l.ID] = l
	return nil
}

func (r *repo) GetLoan(_ context.Context, id string) (core.Loan, error) {
	defer r.lock()()
	l, ok := r.t.loans[id]
	if !ok {
		return core.Loan{}, storage.ErrNotFound
	}
	return l, nil
}

func (r *repo) ListLoans(_ context.Context, userID string) ([]core.Loan, error) {
	defer r.lock()()
	return r.filterLoans(func(l core.Loan) bool { return l.UserID == userID }), nil
}

func (r *repo) ListLoansByPasanaco(_ context.Context, pasanacoID string) ([]core.Loan, error) {
	defer r.lock()()
	return r.filterLoans(func(l core.Loan) bool { return l.PasanacoID != nil && *l.PasanacoID == pasanacoID }), nil
}

func (r *repo) filterLoans(keep func(core.Loan) bool) []core.Loan {
	var out []core.Loan
	for _, l := range r.t.loans {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out
}

func (r *repo) UpdateLoan(_ context.Context, l core.Loan) error {
	defer r.lock()()
	old, ok := r.t.loans[l.ID]
	if !ok {
		return storage.ErrNotFound
	}
	old.OutstandingAmount = l.OutstandingAmount
	old.Status = l.Status
	old.Notes = l.Notes
	r.t.loans[l.ID] = old
	return nil
}

func (r *repo) DeleteLoan(_ context.Context, id string) error {
	defer r.lock()()
	if _, ok := r.t.loans[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.t.loans, id)
	return nil
}

func (r *repo) CountLoansByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	return len(r.filterLoans(func(l core.Loan) bool { return l.PasanacoID != nil && *l.PasanacoID == pasanacoID })), nil
}

// Expenses

func (r *repo) CreateExpense(_ context.Context, e core.Expense) error {
	defer r.lock()()
	if _, ok := r.t.expenses[e.ID]; ok {
		return storage.ErrConflict
	}
	r.t.expenses[e.ID] = e
	return nil
}

func (r *repo) GetExpense(_ context.Context, id string) (core.Expense, error) {
	defer r.lock()()
	e, ok := r.t.expenses[id]
	if !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	return e, nil
}

func (r *repo) DeleteExpense(_ context.Context, id string) error {
	defer r.lock()()
	if _, ok := r.t.expenses[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.t.expenses, id)
	return nil
}

func (r *repo) DeleteExpensesByLoan(_ context.Context, loanID string) (int, error) {
	defer r.lock()()
	n := 0
	for id, e := range r.t.expenses {
		if e.LoanID != nil && *e.LoanID == loanID {
			delete(r.t.expenses, id)
			n++
		}
	}
	return n, nil
}

func (r *repo) DeleteExpensesByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for id, e := range r.t.expenses {
		if e.PasanacoID != nil && *e.PasanacoID == pasanacoID {
			delete(r.t.expenses, id)
			n++
		}
	}
	return n, nil
}

func (r *repo) CountExpensesByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for _, e := range r.t.expenses {
		if e.PasanacoID != nil && *e.PasanacoID == pasanacoID {
			n++
		}
	}
	return n, nil
}

// Incomes

func (r *repo) CreateIncome(_ context.Context, i core.Income) error {
	defer r.lock()()
	if _, ok := r.t.incomes[i.ID]; ok {
		return storage.ErrConflict
	}
	r.t.incomes[i.ID] = i
	return nil
}

func (r *repo) GetIncome(_ context.Context, id string) (core.Income, error) {
	defer r.lock()()
	i, ok := r.t.incomes[id]
	if !ok {
		return core.Income{}, storage.ErrNotFound
	}
	return i, nil
}

func (r *repo) DeleteIncome(_ context.Context, id string) error {
	defer r.lock()()
	if _, ok := r.t.incomes[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.t.incomes, id)
	return nil
}

func (r *repo) DeleteIncomesByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for id, i := range r.t.incomes {
		if i.PasanacoID != nil && *i.PasanacoID == pasanacoID {
			delete(r.t.incomes, id)
			n++
		}
	}
	return n, nil
}

func (r *repo) CountIncomesByPasanaco(_ context.Context, pasanacoID string) (int, error) {
	defer r.lock()()
	n := 0
	for _, i := range r.t.incomes {
		if i.PasanacoID != nil && *i.PasanacoID == pasanacoID {
			n++
		}
	}
	return n, nil
}

// Events

func (r *repo) AppendEvent(_ context.Context, e core.SettlementEvent) error {
	defer r.lock()()
	r.t.events = append(r.t.events, e)
	return nil
}

func (r *repo) ListEvents(_ context.Context, pasanacoID string, limit int) ([]core.SettlementEvent, error) {
	defer r.lock()()
	var out []core.SettlementEvent
	for i := len(r.t.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.t.events[i].PasanacoID == pasanacoID {
			out = append(out, r.t.events[i])
		}
	}
	return out, nil
}

func (r *repo) ListUnpublishedEvents(_ context.Context, limit int) ([]core.SettlementEvent, error) {
	defer r.lock()()
	var out []core.SettlementEvent
	for _, e := range r.t.events {
		if len(out) >= limit {
			break
		}
		if e.PublishedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *repo) MarkEventPublished(_ context.Context, id string, at time.Time) error {
	defer r.lock()()
	for i := range r.t.events {
		if r.t.events[i].ID == id {
			r.t.events[i].PublishedAt = core.TimePtr(at)
			return nil
		}
	}
	return storage.ErrNotFound
}

func createdBefore(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

var _ storage.Store = (*Store)(nil)
