package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pasanaco/internal/core"
	"pasanaco/internal/log"
	"pasanaco/internal/services"
)

func (s *Server) handleCreatePasanaco(w http.ResponseWriter, r *http.Request) {
	var req createPasanacoRequest
	if err := s.decoder.Decode(w, r, &req, false); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	pool, err := s.svc.CreatePasanaco(r.Context(), UserIDFromContext(r.Context()), services.PasanacoDraft{
		Name:              sanitizeInput(req.Name),
		MonthlyAmount:     req.MonthlyAmount,
		TotalParticipants: req.TotalParticipants,
		StartMonth:        req.StartMonth,
		StartYear:         req.StartYear,
	})
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/pasanacos/"+pool.ID).
		Body(toPasanacoView(pool)).
		Write(w)
}

func (s *Server) handleListPasanacos(w http.ResponseWriter, r *http.Request) {
	pools, err := s.svc.ListPasanacos(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, "list_pasanacos", err)
		return
	}
	NewJSONResponse().Body(mapSlice(pools, toPasanacoView)).Write(w)
}

func (s *Server) handleGetPasanaco(w http.ResponseWriter, r *http.Request) {
	pool, err := s.svc.GetPasanaco(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get_pasanaco", err)
		return
	}
	NewJSONResponse().Body(toPasanacoView(pool)).Write(w)
}

func (s *Server) handleUpdatePasanaco(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	var req createPasanacoRequest
	if err := s.decoder.Decode(w, r, &req, false); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}

	pool, err := s.svc.UpdatePasanaco(r.Context(), poolID, UserIDFromContext(r.Context()), services.PasanacoEdit{
		Name:              sanitizeInput(req.Name),
		MonthlyAmount:     req.MonthlyAmount,
		TotalParticipants: req.TotalParticipants,
		StartMonth:        req.StartMonth,
		StartYear:         req.StartYear,
	})
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	s.invalidatePool(poolID)
	NewJSONResponse().Body(toPasanacoView(pool)).Write(w)
}

// handleDeletePasanaco removes the pool with everything that references it
// and answers with the counts that were removed.
func (s *Server) handleDeletePasanaco(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	removed, err := s.svc.DeletePasanacoCascade(r.Context(), poolID, UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	s.invalidatePool(poolID)
	NewJSONResponse().Body(toSummaryView(removed)).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.getSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "related_summary", err)
		return
	}
	NewJSONResponse().Body(toSummaryView(summary)).Write(w)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	limit, err := ParseLimit(r.URL.Query(), defaultEventsLimit)
	if err != nil {
		s.writeError(w, r, "list_events", err)
		return
	}
	if _, err := s.svc.GetPasanaco(r.Context(), poolID); err != nil {
		s.writeError(w, r, "list_events", err)
		return
	}
	events, err := s.svc.ListEvents(r.Context(), poolID, limit)
	if err != nil {
		s.writeError(w, r, "list_events", err)
		return
	}
	NewJSONResponse().Body(mapSlice(events, toEventView)).Write(w)
}

// Participants

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	var req addParticipantRequest
	if err := s.decoder.Decode(w, r, &req, false); err != nil {
		s.writeError(w, r, "add_participant", err)
		return
	}

	participant, err := s.svc.AddParticipant(r.Context(), poolID, UserIDFromContext(r.Context()),
		sanitizeInput(req.Name), req.AssignedNumber)
	if err != nil {
		s.writeError(w, r, "add_participant", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toParticipantView(participant)).Write(w)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.svc.ListParticipants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "list_participants", err)
		return
	}
	NewJSONResponse().Body(mapSlice(participants, toParticipantView)).Write(w)
}

func (s *Server) handleSetReceived(w http.ResponseWriter, r *http.Request) {
	var req setReceivedRequest
	if err := s.decoder.Decode(w, r, &req, false); err != nil {
		s.writeError(w, r, "set_received", err)
		return
	}

	participant, err := s.svc.SetParticipantReceived(r.Context(),
		chi.URLParam(r, "id"), UserIDFromContext(r.Context()), chi.URLParam(r, "pid"), *req.HasReceived)
	if err != nil {
		s.writeError(w, r, "set_received", err)
		return
	}
	NewJSONResponse().Body(toParticipantView(participant)).Write(w)
}

func (s *Server) handleParticipantLoan(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	var req participantLoanRequest
	if err := s.decoder.Decode(w, r, &req, false); err != nil {
		s.writeError(w, r, log.OpLoanParticipant, err)
		return
	}

	loan, err := s.svc.CreateLoanForParticipant(r.Context(), poolID, chi.URLParam(r, "pid"),
		req.Amount, UserIDFromContext(r.Context()), sanitizeInput(req.Note))
	if err != nil {
		s.writeError(w, r, log.OpLoanParticipant, err)
		return
	}
	s.invalidatePool(poolID)
	NewJSONResponse().Status(http.StatusCreated).Body(toLoanView(loan)).Write(w)
}

// Rounds

func (s *Server) handleGeneratePayments(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	var req generatePaymentsRequest
	if err := s.decoder.Decode(w, r, &req, true); err != nil {
		s.writeError(w, r, log.OpGenerate, err)
		return
	}
	if (req.Month == 0) != (req.Year == 0) {
		s.writeError(w, r, log.OpGenerate, badRequest("month and year must be given together"))
		return
	}

	var period *core.Period
	if req.Month != 0 {
		period = &core.Period{Month: req.Month, Year: req.Year}
	}

	created, target, err := s.svc.GeneratePayments(r.Context(), poolID, UserIDFromContext(r.Context()), period)
	if err != nil {
		s.writeError(w, r, log.OpGenerate, err)
		return
	}
	s.invalidatePool(poolID)

	status := http.StatusOK
	if created > 0 {
		status = http.StatusCreated
	}
	NewJSONResponse().Status(status).Body(generateView{Created: created, Period: toPeriodView(target)}).Write(w)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, "list_payments", err)
		return
	}

	payments, target, err := s.svc.ListPayments(r.Context(), chi.URLParam(r, "id"), period)
	if err != nil {
		s.writeError(w, r, "list_payments", err)
		return
	}
	NewJSONResponse().Body(paymentListView{
		Period:   toPeriodView(target),
		Payments: mapSlice(payments, toPaymentView),
	}).Write(w)
}

// handleAdvanceRound answers 409 with the pending count when unpaid payments
// block the advance.
func (s *Server) handleAdvanceRound(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	var req advanceRoundRequest
	if err := s.decoder.Decode(w, r, &req, true); err != nil {
		s.writeError(w, r, log.OpAdvance, err)
		return
	}

	res, err := s.svc.AdvanceRound(r.Context(), poolID, UserIDFromContext(r.Context()), req.CreateLoans)
	if err != nil {
		s.writeError(w, r, log.OpAdvance, err)
		return
	}
	if !res.Advanced {
		NewJSONResponse().Status(http.StatusConflict).Body(toAdvanceView(res)).Write(w)
		return
	}
	s.invalidatePool(poolID)
	NewJSONResponse().Body(toAdvanceView(res)).Write(w)
}

func (s *Server) handleRetreatRound(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")

	moved, err := s.svc.RetreatRound(r.Context(), poolID, UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, log.OpRetreat, err)
		return
	}
	if moved {
		s.invalidatePool(poolID)
	}
	NewJSONResponse().Body(doneView{Done: moved}).Write(w)
}
