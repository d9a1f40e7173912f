package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pasanaco/internal/core"
	"pasanaco/internal/lock"
	"pasanaco/internal/log"
	"pasanaco/internal/storage"
)

// EventPublisher delivers committed settlement events downstream.
type EventPublisher interface {
	PublishSettlementEvent(ctx context.Context, e core.SettlementEvent) error
}

// PasanacoDraft is the input for a new pool.
type PasanacoDraft struct {
	Name              string
	MonthlyAmount     core.Money
	TotalParticipants int
	StartMonth        int
	StartYear         int
}

// PasanacoEdit carries the editable pool fields. The round counter is only
// moved by AdvanceRound and RetreatRound.
type PasanacoEdit = PasanacoDraft

// PasanacoService is the entry point for every pool operation. Each mutating
// call takes the pool's lock, runs in one transaction, and records its
// settlement events in that same transaction.
type PasanacoService struct {
	store     storage.Store
	locker    lock.Locker
	publisher EventPublisher
	ledger    LedgerFactory
	now       func() time.Time
	newID     func() string
	logger    *log.Logger
	structLog *log.StructuredLogger
}

type Option func(*PasanacoService)

func WithLocker(l lock.Locker) Option {
	return func(s *PasanacoService) { s.locker = l }
}

// WithPublisher enables post-commit publishing. Without one, events stay
// unpublished until the relay worker picks them up.
func WithPublisher(p EventPublisher) Option {
	return func(s *PasanacoService) { s.publisher = p }
}

func WithLedger(f LedgerFactory) Option {
	return func(s *PasanacoService) { s.ledger = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *PasanacoService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *PasanacoService) { s.newID = newID }
}

func WithLogger(l *log.Logger) Option {
	return func(s *PasanacoService) { s.logger = l }
}

func NewPasanacoService(store storage.Store, opts ...Option) *PasanacoService {
	s := &PasanacoService{
		store:  store,
		locker: lock.NewLocal(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = func(repo storage.Repository) Ledger {
			return NewRepoLedger(repo, s.now, s.newID)
		}
	}
	if s.logger == nil {
		s.logger = log.Default(log.ComponentSettlement)
	}
	s.structLog = log.NewStructuredLogger(s.logger)
	return s
}

// unit is one locked transaction on a pool.
type unit struct {
	repo   storage.Repository
	engine *RoundEngine
	actor  string
	now    time.Time
	newID  func() string
	events []core.SettlementEvent
}

func (u *unit) record(t core.EventType, poolID string, round int, paymentID, loanID string) {
	u.events = append(u.events, core.SettlementEvent{
		ID:         u.newID(),
		Type:       t,
		PasanacoID: poolID,
		PaymentID:  paymentID,
		LoanID:     loanID,
		Round:      round,
		ActorID:    u.actor,
		OccurredAt: u.now,
	})
}

// errAdvanceBlocked rolls back a blocked advance so it leaves no trace.
var errAdvanceBlocked = errors.New("advance blocked by pending payments")

// withPool locks poolID and runs fn inside a transaction. Events recorded by
// fn are stored with the transaction and published once it commits.
func (s *PasanacoService) withPool(ctx context.Context, poolID, actor, op string, fn func(u *unit) error) error {
	unlock, err := s.locker.Lock(ctx, lock.PasanacoKey(poolID))
	if err != nil {
		return fmt.Errorf("lock pasanaco %s: %w", poolID, err)
	}
	defer unlock()

	var committed []core.SettlementEvent
	err = s.store.InTx(ctx, func(repo storage.Repository) error {
		u := &unit{
			repo:   repo,
			engine: NewRoundEngine(repo, s.ledger(repo), s.now, s.newID),
			actor:  actor,
			now:    s.now(),
			newID:  s.newID,
		}
		if err := fn(u); err != nil {
			return err
		}
		for _, e := range u.events {
			if err := repo.AppendEvent(ctx, e); err != nil {
				return fmt.Errorf("append settlement event: %w", err)
			}
		}
		committed = u.events
		return nil
	})
	if err != nil {
		s.logFailure(ctx, op, poolID, actor, err)
		return err
	}

	s.publish(ctx, committed)
	return nil
}

func (s *PasanacoService) logFailure(ctx context.Context, op, poolID, actor string, err error) {
	if errors.Is(err, errAdvanceBlocked) {
		return
	}
	fields := log.NewFields().WithPasanaco(poolID, 0).WithUser(actor)
	if core.IsValidation(err) {
		s.logger.WarnContext(ctx, "Settlement rejected", fields.WithOperation(op).WithError(err).ToSlice()...)
		return
	}
	s.structLog.LogError(ctx, "Settlement rolled back", err, log.ComponentSettlement, op, fields)
}

// publish is best effort: anything not delivered here is relayed by the worker.
func (s *PasanacoService) publish(ctx context.Context, events []core.SettlementEvent) {
	if len(events) == 0 {
		return
	}
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No publisher configured, leaving events for relay", "count", len(events))
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, e := range events {
		if err := s.publisher.PublishSettlementEvent(ctx, e); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish settlement event, relay will retry",
				log.FieldEventID, e.ID, log.FieldEventType, string(e.Type), log.FieldError, err)
			continue
		}
		if err := s.store.MarkEventPublished(ctx, e.ID, s.now()); err != nil {
			s.logger.WarnContext(ctx, "Failed to mark settlement event published",
				log.FieldEventID, e.ID, log.FieldError, err)
		}
	}
}

// Pools

func (s *PasanacoService) CreatePasanaco(ctx context.Context, ownerID string, d PasanacoDraft) (core.Pasanaco, error) {
	now := s.now()
	pool := core.Pasanaco{
		ID:                s.newID(),
		OwnerID:           ownerID,
		Name:              strings.TrimSpace(d.Name),
		MonthlyAmount:     d.MonthlyAmount,
		TotalParticipants: d.TotalParticipants,
		CurrentRound:      1,
		StartMonth:        d.StartMonth,
		StartYear:         d.StartYear,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := pool.Validate(); err != nil {
		return core.Pasanaco{}, err
	}
	if err := s.store.InTx(ctx, func(repo storage.Repository) error {
		return repo.CreatePasanaco(ctx, pool)
	}); err != nil {
		return core.Pasanaco{}, fmt.Errorf("create pasanaco: %w", err)
	}

	s.logger.InfoContext(ctx, "Pasanaco created",
		log.FieldPasanacoID, pool.ID, log.FieldUserID, ownerID, log.FieldAmountCents, pool.MonthlyAmount.Cents)
	return pool, nil
}

func (s *PasanacoService) GetPasanaco(ctx context.Context, id string) (core.Pasanaco, error) {
	pool, err := s.store.GetPasanaco(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Pasanaco{}, core.NewValidationError("pasanaco_id", core.ErrPasanacoNotFound)
	}
	if err != nil {
		return core.Pasanaco{}, fmt.Errorf("get pasanaco: %w", err)
	}
	return pool, nil
}

func (s *PasanacoService) ListPasanacos(ctx context.Context, ownerID string) ([]core.Pasanaco, error) {
	pools, err := s.store.ListPasanacos(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pasanacos: %w", err)
	}
	return pools, nil
}

// UpdatePasanaco edits a pool owned by userID. TotalParticipants cannot drop
// below the number of participants already added.
func (s *PasanacoService) UpdatePasanaco(ctx context.Context, id, userID string, edit PasanacoEdit) (core.Pasanaco, error) {
	var updated core.Pasanaco
	err := s.withPool(ctx, id, userID, log.OpUpdate, func(u *unit) error {
		pool, err := u.engine.loadPool(ctx, id)
		if err != nil {
			return err
		}
		if pool.OwnerID != userID {
			return core.NewValidationError("pasanaco_id", core.ErrNotOwner)
		}
		participants, err := u.repo.ListParticipants(ctx, id)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if edit.TotalParticipants < len(participants) {
			return core.NewValidationError("total_participants", core.ErrParticipantCountTooLow)
		}
		if edit.TotalParticipants < pool.CurrentRound {
			return core.NewValidationError("total_participants", core.ErrParticipantCountBelowRound)
		}
		for _, p := range participants {
			if p.AssignedNumber > edit.TotalParticipants {
				return core.NewValidationError("total_participants", core.ErrInvalidAssignedNumber)
			}
		}
		if edit.StartMonth != pool.StartMonth || edit.StartYear != pool.StartYear {
			n, err := u.repo.CountPaymentsByPasanaco(ctx, id)
			if err != nil {
				return fmt.Errorf("count payments: %w", err)
			}
			if n > 0 {
				return core.NewValidationError("start_month", core.ErrStartLockedByPayments)
			}
		}

		pool.Name = strings.TrimSpace(edit.Name)
		pool.MonthlyAmount = edit.MonthlyAmount
		pool.TotalParticipants = edit.TotalParticipants
		pool.StartMonth = edit.StartMonth
		pool.StartYear = edit.StartYear
		pool.UpdatedAt = u.now
		if err := pool.Validate(); err != nil {
			return err
		}
		if err := u.repo.UpdatePasanaco(ctx, pool); err != nil {
			return fmt.Errorf("update pasanaco: %w", err)
		}
		updated = pool
		return nil
	})
	return updated, err
}

// Participants

func (s *PasanacoService) AddParticipant(ctx context.Context, poolID, userID, name string, assignedNumber int) (core.Participant, error) {
	var added core.Participant
	err := s.withPool(ctx, poolID, userID, log.OpCreate, func(u *unit) error {
		pool, err := u.engine.loadPool(ctx, poolID)
		if err != nil {
			return err
		}
		participants, err := u.repo.ListParticipants(ctx, poolID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if len(participants) >= pool.TotalParticipants {
			return core.NewValidationError("pasanaco_id", core.ErrPoolFull)
		}

		p := core.Participant{
			ID:             u.newID(),
			PasanacoID:     poolID,
			Name:           strings.TrimSpace(name),
			AssignedNumber: assignedNumber,
			CreatedAt:      u.now,
		}
		if err := p.Validate(pool); err != nil {
			return err
		}
		if err := u.repo.CreateParticipant(ctx, p); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return core.NewValidationError("assigned_number", core.ErrDuplicateAssignedNumber)
			}
			return fmt.Errorf("create participant: %w", err)
		}
		added = p
		return nil
	})
	return added, err
}

func (s *PasanacoService) ListParticipants(ctx context.Context, poolID string) ([]core.Participant, error) {
	if _, err := s.GetPasanaco(ctx, poolID); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

func (s *PasanacoService) SetParticipantReceived(ctx context.Context, poolID, userID, participantID string, received bool) (core.Participant, error) {
	var updated core.Participant
	err := s.withPool(ctx, poolID, userID, log.OpUpdate, func(u *unit) error {
		p, err := u.repo.GetParticipant(ctx, participantID)
		if errors.Is(err, storage.ErrNotFound) {
			return core.NewValidationError("participant_id", core.ErrParticipantNotFound)
		}
		if err != nil {
			return fmt.Errorf("get participant: %w", err)
		}
		if p.PasanacoID != poolID {
			return core.NewValidationError("participant_id", core.ErrParticipantNotInPool)
		}
		p.HasReceived = received
		if err := u.repo.UpdateParticipant(ctx, p); err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
		updated = p
		return nil
	})
	return updated, err
}

// Payments and rounds

// ListPayments returns the payments of period, or of the active period when
// period is nil, together with the period used.
func (s *PasanacoService) ListPayments(ctx context.Context, poolID string, period *core.Period) ([]core.PasanacoPayment, core.Period, error) {
	pool, err := s.GetPasanaco(ctx, poolID)
	if err != nil {
		return nil, core.Period{}, err
	}
	target := pool.ActivePeriod()
	if period != nil {
		if err := period.Validate(); err != nil {
			return nil, core.Period{}, core.NewValidationError("period", err)
		}
		target = *period
	}
	payments, err := s.store.ListPaymentsByPeriod(ctx, poolID, target)
	if err != nil {
		return nil, core.Period{}, fmt.Errorf("list payments: %w", err)
	}
	return payments, target, nil
}

// GeneratePayments creates the missing payment rows of period, or of the
// active period when period is nil.
func (s *PasanacoService) GeneratePayments(ctx context.Context, poolID, userID string, period *core.Period) (int, core.Period, error) {
	var (
		created int
		target  core.Period
	)
	err := s.withPool(ctx, poolID, userID, log.OpGenerate, func(u *unit) error {
		pool, err := u.engine.loadPool(ctx, poolID)
		if err != nil {
			return err
		}
		target = pool.ActivePeriod()
		if period != nil {
			target = *period
		}
		created, err = u.engine.GeneratePayments(ctx, poolID, target)
		if err != nil {
			return err
		}
		if created > 0 {
			u.record(core.EventPaymentsGenerated, poolID, pool.CurrentRound, "", "")
		}
		return nil
	})
	if err != nil {
		return 0, core.Period{}, err
	}

	s.logger.InfoContext(ctx, "Payments generated",
		log.FieldPasanacoID, poolID, log.FieldMonth, target.Month, log.FieldYear, target.Year, "created", created)
	return created, target, nil
}

// AdvanceRound moves the pool to its next round. A result with Advanced false
// and a nil error means unpaid payments blocked the advance; nothing changed.
func (s *PasanacoService) AdvanceRound(ctx context.Context, poolID, userID string, createLoans bool) (AdvanceResult, error) {
	var res AdvanceResult
	err := s.withPool(ctx, poolID, userID, log.OpAdvance, func(u *unit) error {
		var err error
		res, err = u.engine.AdvanceRound(ctx, poolID, userID, createLoans)
		if err != nil {
			return err
		}
		if !res.Advanced {
			return errAdvanceBlocked
		}
		for i, loan := range res.Loans {
			u.record(core.EventLoanCreated, poolID, res.Round-1, res.Settled[i].ID, loan.ID)
			u.record(core.EventPaymentLoanSettled, poolID, res.Round-1, res.Settled[i].ID, loan.ID)
		}
		u.record(core.EventRoundAdvanced, poolID, res.Round, "", "")
		return nil
	})
	if errors.Is(err, errAdvanceBlocked) {
		s.logger.WarnContext(ctx, "Round advance blocked by pending payments",
			log.FieldPasanacoID, poolID, log.FieldRound, res.Round, log.FieldPending, res.Pending)
		return AdvanceResult{Round: res.Round, Pending: res.Pending}, nil
	}
	if err != nil {
		return AdvanceResult{}, err
	}

	s.structLog.LogSettlement(ctx, log.OpAdvance, poolID, res.Round,
		log.LogFields{"loans_created": len(res.Loans)})
	return res, nil
}

// RetreatRound moves the pool back one round; false at round 1.
func (s *PasanacoService) RetreatRound(ctx context.Context, poolID, userID string) (bool, error) {
	var moved bool
	err := s.withPool(ctx, poolID, userID, log.OpRetreat, func(u *unit) error {
		ok, pool, err := u.engine.RetreatRound(ctx, poolID)
		if err != nil {
			return err
		}
		moved = ok
		if ok {
			u.record(core.EventRoundRetreated, poolID, pool.CurrentRound, "", "")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if moved {
		s.structLog.LogSettlement(ctx, log.OpRetreat, poolID, 0, nil)
	}
	return moved, nil
}

// poolOfPayment finds the pool a payment belongs to so its lock can be taken.
func (s *PasanacoService) poolOfPayment(ctx context.Context, paymentID string) (string, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return payment.PasanacoID, nil
}

// MarkPaymentPaid settles a payment directly and books the matching income
// for userID. It reports false when the payment is missing or already paid.
func (s *PasanacoService) MarkPaymentPaid(ctx context.Context, paymentID, userID string) (bool, error) {
	poolID, err := s.poolOfPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve payment: %w", err)
	}

	var res PaymentResult
	err = s.withPool(ctx, poolID, userID, log.OpMarkPaid, func(u *unit) error {
		var err error
		res, err = u.engine.MarkPaymentPaid(ctx, paymentID, userID)
		if err != nil {
			return err
		}
		if res.Done {
			u.record(core.EventPaymentPaid, poolID, res.Pool.CurrentRound, paymentID, "")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if res.Done {
		s.structLog.LogSettlement(ctx, log.OpMarkPaid, poolID, res.Pool.CurrentRound,
			log.NewFields().WithPayment(paymentID))
	}
	return res.Done, nil
}

// CreateLoanForParticipant opens a loan for a participant and settles their
// open payment of the active period with it.
func (s *PasanacoService) CreateLoanForParticipant(ctx context.Context, poolID, participantID string, amount core.Money, userID, note string) (core.Loan, error) {
	var res LoanSettlement
	err := s.withPool(ctx, poolID, userID, log.OpLoanParticipant, func(u *unit) error {
		var err error
		res, err = u.engine.CreateLoanForParticipant(ctx, poolID, participantID, amount, userID, note)
		if err != nil {
			return err
		}
		paymentID := ""
		if res.Payment != nil {
			paymentID = res.Payment.ID
		}
		u.record(core.EventLoanCreated, poolID, res.Pool.CurrentRound, paymentID, res.Loan.ID)
		if res.Payment != nil {
			u.record(core.EventPaymentLoanSettled, poolID, res.Pool.CurrentRound, paymentID, res.Loan.ID)
		}
		return nil
	})
	if err != nil {
		return core.Loan{}, err
	}

	s.structLog.LogSettlement(ctx, log.OpLoanParticipant, poolID, res.Pool.CurrentRound,
		log.NewFields().WithLoan(res.Loan.ID))
	return res.Loan, nil
}

// UndoPayment reverses a settled payment of the active period.
func (s *PasanacoService) UndoPayment(ctx context.Context, paymentID, userID string) (bool, error) {
	poolID, err := s.poolOfPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, core.NewValidationError("payment_id", core.ErrPaymentNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("resolve payment: %w", err)
	}

	var res PaymentResult
	err = s.withPool(ctx, poolID, userID, log.OpUndo, func(u *unit) error {
		var err error
		res, err = u.engine.UndoPayment(ctx, paymentID, userID)
		if err != nil {
			return err
		}
		if res.Done {
			u.record(core.EventPaymentUndone, poolID, res.Pool.CurrentRound, paymentID, res.LoanID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if res.Done {
		s.structLog.LogSettlement(ctx, log.OpUndo, poolID, res.Pool.CurrentRound,
			log.NewFields().WithPayment(paymentID).WithLoan(res.LoanID))
	}
	return res.Done, nil
}

// DeletePasanacoCascade removes a pool owned by userID together with its
// payments, loans, expenses, incomes and participants.
func (s *PasanacoService) DeletePasanacoCascade(ctx context.Context, poolID, userID string) (core.RelatedSummary, error) {
	var removed core.RelatedSummary
	err := s.withPool(ctx, poolID, userID, log.OpDelete, func(u *unit) error {
		var err error
		removed, err = u.engine.DeleteCascade(ctx, poolID, userID)
		if err != nil {
			return err
		}
		u.record(core.EventPasanacoDeleted, poolID, 0, "", "")
		return nil
	})
	if err != nil {
		return core.RelatedSummary{}, err
	}

	s.logger.InfoContext(ctx, "Pasanaco deleted",
		log.FieldPasanacoID, poolID,
		"payments", removed.Payments, "loans", removed.Loans,
		"expenses", removed.Expenses, "incomes", removed.Incomes)
	return removed, nil
}

// GetRelatedSummary counts the records that reference the pool.
func (s *PasanacoService) GetRelatedSummary(ctx context.Context, poolID string) (core.RelatedSummary, error) {
	summary := core.RelatedSummary{PasanacoID: poolID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary.Payments, err = s.store.CountPaymentsByPasanaco(gctx, poolID)
		return err
	})
	g.Go(func() (err error) {
		summary.Loans, err = s.store.CountLoansByPasanaco(gctx, poolID)
		return err
	})
	g.Go(func() (err error) {
		summary.Expenses, err = s.store.CountExpensesByPasanaco(gctx, poolID)
		return err
	})
	g.Go(func() (err error) {
		summary.Incomes, err = s.store.CountIncomesByPasanaco(gctx, poolID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.RelatedSummary{}, fmt.Errorf("related summary: %w", err)
	}
	return summary, nil
}

// ListEvents returns the newest settlement events of a pool first.
func (s *PasanacoService) ListEvents(ctx context.Context, poolID string, limit int) ([]core.SettlementEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := s.store.ListEvents(ctx, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Loans

func (s *PasanacoService) ListLoans(ctx context.Context, userID string) ([]core.Loan, error) {
	loans, err := s.store.ListLoans(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// RepayLoan lowers a loan's outstanding balance; it becomes paid at zero.
func (s *PasanacoService) RepayLoan(ctx context.Context, loanID, userID string, amount core.Money) (core.Loan, error) {
	unlock, err := s.locker.Lock(ctx, "loan:"+loanID)
	if err != nil {
		return core.Loan{}, fmt.Errorf("lock loan %s: %w", loanID, err)
	}
	defer unlock()

	var loan core.Loan
	err = s.store.InTx(ctx, func(repo storage.Repository) error {
		var err error
		loan, err = s.ledger(repo).LoanRepay(ctx, loanID, userID, amount)
		return err
	})
	if err != nil {
		return core.Loan{}, err
	}

	s.logger.InfoContext(ctx, "Loan repayment recorded",
		log.FieldLoanID, loanID, log.FieldAmountCents, amount.Cents, "outstanding_cents", loan.OutstandingAmount.Cents)
	return loan, nil
}

// Ready reports whether the store answers.
func (s *PasanacoService) Ready(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the store.
func (s *PasanacoService) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}
