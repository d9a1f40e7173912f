package core

import "time"

// RelatedSummary counts the entities that reference a pasanaco.
type RelatedSummary struct {
	PasanacoID string
	Payments   int
	Loans      int
	Expenses   int
	Incomes    int
}

// Settlement event types.
const (
	EventPaymentsGenerated  EventType = "payments.generated"
	EventPaymentPaid        EventType = "payment.paid"
	EventPaymentLoanSettled EventType = "payment.loan_settled"
	EventPaymentUndone      EventType = "payment.undone"
	EventLoanCreated        EventType = "loan.created"
	EventRoundAdvanced      EventType = "round.advanced"
	EventRoundRetreated     EventType = "round.retreated"
	EventPasanacoDeleted    EventType = "pasanaco.deleted"
)

type EventType string

// SettlementEvent is the audit/outbox record of a settlement state change.
type SettlementEvent struct {
	ID          string
	Type        EventType
	PasanacoID  string
	PaymentID   string
	LoanID      string
	Round       int
	ActorID     string
	OccurredAt  time.Time
	PublishedAt *time.Time
}
