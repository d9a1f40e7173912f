package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pasanaco/internal/core"
	"pasanaco/internal/storage"
)

func newSQLiteService(t *testing.T) (*PasanacoService, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "pasanaco.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewPasanacoService(repo, WithClock(func() time.Time { return testNow })), repo
}

func TestSQLite_AdvanceThenDeleteCascade(t *testing.T) {
	svc, repo := newSQLiteService(t)
	ctx := context.Background()
	pool, _ := seedPool(t, svc, 3, 3)

	if _, _, err := svc.GeneratePayments(ctx, pool.ID, owner, nil); err != nil {
		t.Fatalf("GeneratePayments() error = %v", err)
	}
	first := activePayments(t, svc, pool.ID)[0]
	if ok, err := svc.MarkPaymentPaid(ctx, first.ID, owner); err != nil || !ok {
		t.Fatalf("MarkPaymentPaid() = %v, %v", ok, err)
	}
	res, err := svc.AdvanceRound(ctx, pool.ID, owner, true)
	if err != nil || !res.Advanced || len(res.Loans) != 2 {
		t.Fatalf("AdvanceRound() = %+v, %v; want advanced with 2 loans", res, err)
	}

	want := core.RelatedSummary{PasanacoID: pool.ID, Payments: 3, Loans: 2, Incomes: 1}
	before, err := svc.GetRelatedSummary(ctx, pool.ID)
	if err != nil || before != want {
		t.Fatalf("GetRelatedSummary() = %+v, %v; want %+v", before, err, want)
	}

	removed, err := svc.DeletePasanacoCascade(ctx, pool.ID, owner)
	if err != nil {
		t.Fatalf("DeletePasanacoCascade() error = %v", err)
	}
	if removed != want {
		t.Errorf("removed = %+v, want %+v", removed, want)
	}

	if _, err := svc.GetPasanaco(ctx, pool.ID); !core.IsNotFound(err) {
		t.Errorf("GetPasanaco() after delete error = %v, want not found", err)
	}
	after, err := svc.GetRelatedSummary(ctx, pool.ID)
	if err != nil || after != (core.RelatedSummary{PasanacoID: pool.ID}) {
		t.Errorf("summary after delete = %+v, %v; want zero counts", after, err)
	}
	if parts, _ := repo.ListParticipants(ctx, pool.ID); len(parts) != 0 {
		t.Errorf("participants after delete = %d, want 0", len(parts))
	}
	if loans, _ := repo.ListLoans(ctx, owner); len(loans) != 0 {
		t.Errorf("loans after delete = %d, want 0", len(loans))
	}
}
