package core

import (
	"errors"
	"testing"
)

func TestActivePeriod(t *testing.T) {
	cases := []struct {
		startMonth, startYear, round int
		want                         Period
	}{
		{1, 2025, 1, Period{Month: 1, Year: 2025}},
		{1, 2025, 2, Period{Month: 2, Year: 2025}},
		{11, 2025, 3, Period{Month: 1, Year: 2026}},
		{12, 2024, 1, Period{Month: 12, Year: 2024}},
		{6, 2025, 13, Period{Month: 6, Year: 2026}},
	}
	for _, tc := range cases {
		p := Pasanaco{StartMonth: tc.startMonth, StartYear: tc.startYear, CurrentRound: tc.round}
		got := p.ActivePeriod()
		if !got.Equal(tc.want) {
			t.Errorf("start=%d/%d round=%d: got %v, want %v", tc.startMonth, tc.startYear, tc.round, got, tc.want)
		}
		// Pure: same input, same output.
		if again := p.ActivePeriod(); !again.Equal(got) {
			t.Errorf("ActivePeriod not deterministic: %v vs %v", got, again)
		}
	}
}

func TestPasanacoValidate(t *testing.T) {
	good := Pasanaco{
		Name:              "Familia",
		MonthlyAmount:     Money{Cents: 10000},
		TotalParticipants: 3,
		CurrentRound:      1,
		StartMonth:        1,
		StartYear:         2025,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Pasanaco)
		want   error
	}{
		{"empty name", func(p *Pasanaco) { p.Name = "  " }, ErrEmptyName},
		{"zero amount", func(p *Pasanaco) { p.MonthlyAmount = Money{} }, ErrInvalidAmount},
		{"one participant", func(p *Pasanaco) { p.TotalParticipants = 1 }, ErrInvalidParticipantCount},
		{"month 13", func(p *Pasanaco) { p.StartMonth = 13 }, ErrInvalidMonth},
		{"month 0", func(p *Pasanaco) { p.StartMonth = 0 }, ErrInvalidMonth},
		{"year", func(p *Pasanaco) { p.StartYear = 1990 }, ErrInvalidYear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mutate(&p)
			err := p.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %T", err)
			}
		})
	}
}

func TestParticipantValidate(t *testing.T) {
	pool := Pasanaco{TotalParticipants: 3}
	if err := (Participant{Name: "Ana", AssignedNumber: 3}).Validate(pool); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Participant{Name: "Ana", AssignedNumber: 4}).Validate(pool); !errors.Is(err, ErrInvalidAssignedNumber) {
		t.Fatalf("expected ErrInvalidAssignedNumber, got %v", err)
	}
	if err := (Participant{Name: "Ana", AssignedNumber: 0}).Validate(pool); !errors.Is(err, ErrInvalidAssignedNumber) {
		t.Fatalf("expected ErrInvalidAssignedNumber, got %v", err)
	}
	if err := (Participant{Name: "", AssignedNumber: 1}).Validate(pool); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	v := NewValidationError("payment_id", ErrPaymentNotFound)
	if !IsValidation(v) || !IsNotFound(v) {
		t.Fatalf("expected validation + not found, got %v", v)
	}
	d := &DependencyError{Op: "income delete", Err: errors.New("boom")}
	if !IsDependency(d) || IsValidation(d) {
		t.Fatalf("unexpected classification for %v", d)
	}
	if d.Unwrap().Error() != "boom" {
		t.Fatalf("unwrap lost original error")
	}
}
