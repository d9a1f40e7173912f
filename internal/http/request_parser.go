// Package http provides the JSON API server and its handlers.
//
// This file implements request decoding and validation shared by the handlers.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"pasanaco/internal/core"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed request. Handlers answer it with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func isRequestError(err error) bool {
	var re *requestError
	return errors.As(err, &re)
}

type createPasanacoRequest struct {
	Name              string     `json:"name" validate:"required,max=100"`
	MonthlyAmount     core.Money `json:"monthly_amount"`
	TotalParticipants int        `json:"total_participants" validate:"required,min=2"`
	StartMonth        int        `json:"start_month" validate:"required,min=1,max=12"`
	StartYear         int        `json:"start_year" validate:"required,min=2000,max=2100"`
}

type addParticipantRequest struct {
	Name           string `json:"name" validate:"required,max=100"`
	AssignedNumber int    `json:"assigned_number" validate:"required,min=1"`
}

type setReceivedRequest struct {
	HasReceived *bool `json:"has_received" validate:"required"`
}

type participantLoanRequest struct {
	Amount core.Money `json:"amount"`
	Note   string     `json:"note" validate:"max=500"`
}

type generatePaymentsRequest struct {
	Month int `json:"month" validate:"omitempty,min=1,max=12"`
	Year  int `json:"year" validate:"omitempty,min=2000,max=2100"`
}

type advanceRoundRequest struct {
	CreateLoans bool `json:"create_loans"`
}

type repayLoanRequest struct {
	Amount core.Money `json:"amount"`
}

// RequestDecoder reads JSON bodies and checks their struct tags.
type RequestDecoder struct {
	validate *validator.Validate
}

func NewRequestDecoder() *RequestDecoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestDecoder{validate: v}
}

// Decode reads r's body into dst and validates it. When allowEmpty is set an
// empty body leaves dst at its zero value.
func (d *RequestDecoder) Decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			if !allowEmpty {
				return badRequest("request body is required")
			}
		case errors.Is(err, core.ErrInvalidAmount):
			return core.NewValidationError("amount", err)
		default:
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return badRequest("request body exceeds %d bytes", maxErr.Limit)
			}
			return badRequest("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}

	if err := d.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return badRequest("%s", describeValidation(verrs))
		}
		return badRequest("invalid request: %v", err)
	}
	return nil
}

func describeValidation(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// ParsePeriodQuery reads month and year from the query string. Both absent
// means no period was requested.
func ParsePeriodQuery(query url.Values) (*core.Period, error) {
	rawMonth := strings.TrimSpace(query.Get("month"))
	rawYear := strings.TrimSpace(query.Get("year"))
	if rawMonth == "" && rawYear == "" {
		return nil, nil
	}
	if rawMonth == "" || rawYear == "" {
		return nil, badRequest("month and year must be given together")
	}

	month, err := strconv.Atoi(rawMonth)
	if err != nil {
		return nil, badRequest("invalid month %q", rawMonth)
	}
	year, err := strconv.Atoi(rawYear)
	if err != nil {
		return nil, badRequest("invalid year %q", rawYear)
	}
	return &core.Period{Month: month, Year: year}, nil
}

// ParseLimit reads a positive limit from the query string, or returns def.
func ParseLimit(query url.Values, def int) (int, error) {
	raw := strings.TrimSpace(query.Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badRequest("invalid limit %q", raw)
	}
	return n, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
