package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pasanaco/internal/log"
)

// handleMarkPaid settles a payment directly. A missing or already settled
// payment is not an error; the body reports done=false.
func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	done, err := s.svc.MarkPaymentPaid(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, log.OpMarkPaid, err)
		return
	}
	if done {
		s.invalidateAllPools()
	}
	NewJSONResponse().Body(doneView{Done: done}).Write(w)
}

func (s *Server) handleUndoPayment(w http.ResponseWriter, r *http.Request) {
	done, err := s.svc.UndoPayment(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, log.OpUndo, err)
		return
	}
	if done {
		s.invalidateAllPools()
	}
	NewJSONResponse().Body(doneView{Done: done}).Write(w)
}

// Loans

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.svc.ListLoans(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, "list_loans", err)
		return
	}
	NewJSONResponse().Body(mapSlice(loans, toLoanView)).Write(w)
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	var req repayLoanRequest
	if err := s.decoder.Decode(w, r, &req, false); err != nil {
		s.writeError(w, r, log.OpRepay, err)
		return
	}

	loan, err := s.svc.RepayLoan(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), req.Amount)
	if err != nil {
		s.writeError(w, r, log.OpRepay, err)
		return
	}
	NewJSONResponse().Body(toLoanView(loan)).Write(w)
}
