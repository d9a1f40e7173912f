package http

import (
	"time"

	"pasanaco/internal/core"
	"pasanaco/internal/services"
)

type periodView struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type pasanacoView struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Name              string     `json:"name"`
	MonthlyAmount     core.Money `json:"monthly_amount"`
	TotalParticipants int        `json:"total_participants"`
	CurrentRound      int        `json:"current_round"`
	StartMonth        int        `json:"start_month"`
	StartYear         int        `json:"start_year"`
	ActivePeriod      periodView `json:"active_period"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type participantView struct {
	ID             string    `json:"id"`
	PasanacoID     string    `json:"pasanaco_id"`
	Name           string    `json:"name"`
	AssignedNumber int       `json:"assigned_number"`
	HasReceived    bool      `json:"has_received"`
	CreatedAt      time.Time `json:"created_at"`
}

type paymentView struct {
	ID            string     `json:"id"`
	PasanacoID    string     `json:"pasanaco_id"`
	ParticipantID string     `json:"participant_id"`
	Month         int        `json:"month"`
	Year          int        `json:"year"`
	Paid          bool       `json:"paid"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	PaidByLoanID  *string    `json:"paid_by_loan_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type loanView struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	Type              core.LoanType   `json:"type"`
	Counterparty      string          `json:"counterparty"`
	PrincipalAmount   core.Money      `json:"principal_amount"`
	OutstandingAmount core.Money      `json:"outstanding_amount"`
	Status            core.LoanStatus `json:"status"`
	StartDate         time.Time       `json:"start_date"`
	Notes             string          `json:"notes,omitempty"`
	PasanacoID        *string         `json:"pasanaco_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type summaryView struct {
	PasanacoID string `json:"pasanaco_id"`
	Payments   int    `json:"payments"`
	Loans      int    `json:"loans"`
	Expenses   int    `json:"expenses"`
	Incomes    int    `json:"incomes"`
}

type eventView struct {
	ID          string         `json:"id"`
	Type        core.EventType `json:"type"`
	PasanacoID  string         `json:"pasanaco_id"`
	PaymentID   string         `json:"payment_id,omitempty"`
	LoanID      string         `json:"loan_id,omitempty"`
	Round       int            `json:"round"`
	ActorID     string         `json:"actor_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

type paymentListView struct {
	Period   periodView    `json:"period"`
	Payments []paymentView `json:"payments"`
}

type generateView struct {
	Created int        `json:"created"`
	Period  periodView `json:"period"`
}

type advanceView struct {
	Advanced bool          `json:"advanced"`
	Round    int           `json:"round"`
	Pending  int           `json:"pending"`
	Loans    []loanView    `json:"loans"`
	Settled  []paymentView `json:"settled"`
}

// doneView answers operations that report only whether anything changed.
type doneView struct {
	Done bool `json:"done"`
}

func toPeriodView(p core.Period) periodView {
	return periodView{Month: p.Month, Year: p.Year}
}

func toPasanacoView(p core.Pasanaco) pasanacoView {
	return pasanacoView{
		ID:                p.ID,
		OwnerID:           p.OwnerID,
		Name:              p.Name,
		MonthlyAmount:     p.MonthlyAmount,
		TotalParticipants: p.TotalParticipants,
		CurrentRound:      p.CurrentRound,
		StartMonth:        p.StartMonth,
		StartYear:         p.StartYear,
		ActivePeriod:      toPeriodView(p.ActivePeriod()),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func toParticipantView(p core.Participant) participantView {
	return participantView{
		ID:             p.ID,
		PasanacoID:     p.PasanacoID,
		Name:           p.Name,
		AssignedNumber: p.AssignedNumber,
		HasReceived:    p.HasReceived,
		CreatedAt:      p.CreatedAt,
	}
}

func toPaymentView(p core.PasanacoPayment) paymentView {
	return paymentView{
		ID:            p.ID,
		PasanacoID:    p.PasanacoID,
		ParticipantID: p.ParticipantID,
		Month:         p.Month,
		Year:          p.Year,
		Paid:          p.Paid,
		PaymentDate:   p.PaymentDate,
		TransactionID: p.TransactionID,
		PaidByLoanID:  p.PaidByLoanID,
		CreatedAt:     p.CreatedAt,
	}
}

func toLoanView(l core.Loan) loanView {
	return loanView{
		ID:                l.ID,
		UserID:            l.UserID,
		Type:              l.Type,
		Counterparty:      l.Counterparty,
		PrincipalAmount:   l.PrincipalAmount,
		OutstandingAmount: l.OutstandingAmount,
		Status:            l.Status,
		StartDate:         l.StartDate,
		Notes:             l.Notes,
		PasanacoID:        l.PasanacoID,
		CreatedAt:         l.CreatedAt,
	}
}

func toSummaryView(s core.RelatedSummary) summaryView {
	return summaryView{
		PasanacoID: s.PasanacoID,
		Payments:   s.Payments,
		Loans:      s.Loans,
		Expenses:   s.Expenses,
		Incomes:    s.Incomes,
	}
}

func toEventView(e core.SettlementEvent) eventView {
	return eventView{
		ID:          e.ID,
		Type:        e.Type,
		PasanacoID:  e.PasanacoID,
		PaymentID:   e.PaymentID,
		LoanID:      e.LoanID,
		Round:       e.Round,
		ActorID:     e.ActorID,
		OccurredAt:  e.OccurredAt,
		PublishedAt: e.PublishedAt,
	}
}

func toAdvanceView(res services.AdvanceResult) advanceView {
	return advanceView{
		Advanced: res.Advanced,
		Round:    res.Round,
		Pending:  res.Pending,
		Loans:    mapSlice(res.Loans, toLoanView),
		Settled:  mapSlice(res.Settled, toPaymentView),
	}
}

// mapSlice converts items with fn and never returns nil, so lists encode as [].
func mapSlice[T, V any](items []T, fn func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}
