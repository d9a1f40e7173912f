package storage

import (
	"context"
	"database/sql"
	"fmt"

	"pasanaco/internal/core"
)

const paymentColumns = `id, pasanaco_id, participant_id, month, year, paid, payment_date,
	transaction_id, paid_by_loan_id, created_at`

const createPayment = `INSERT INTO pasanaco_payments (` + paymentColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreatePayment(ctx context.Context, p core.PasanacoPayment) error {
	_, err := q.db.ExecContext(ctx, createPayment,
		p.ID, p.PasanacoID, p.ParticipantID, p.Month, p.Year, boolToInt(p.Paid), nullTime(p.PaymentDate),
		nullString(p.TransactionID), nullString(p.PaidByLoanID), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert payment: %w", translateError(err))
	}
	return nil
}

const getPayment = `SELECT ` + paymentColumns + ` FROM pasanaco_payments WHERE id = ?`

func (q *Queries) GetPayment(ctx context.Context, id string) (core.PasanacoPayment, error) {
	p, err := scanPayment(q.db.QueryRowContext(ctx, getPayment, id))
	if err != nil {
		return core.PasanacoPayment{}, fmt.Errorf("get payment %s: %w", id, translateError(err))
	}
	return p, nil
}

const findPayment = `SELECT ` + paymentColumns + ` FROM pasanaco_payments
WHERE pasanaco_id = ? AND participant_id = ? AND month = ? AND year = ?`

func (q *Queries) FindPayment(ctx context.Context, pasanacoID, participantID string, period core.Period) (core.PasanacoPayment, error) {
	p, err := scanPayment(q.db.QueryRowContext(ctx, findPayment, pasanacoID, participantID, period.Month, period.Year))
	if err != nil {
		return core.PasanacoPayment{}, fmt.Errorf("find payment for %s in %s: %w", participantID, period, translateError(err))
	}
	return p, nil
}

const listPaymentsByPeriod = `SELECT p.id, p.pasanaco_id, p.participant_id, p.month, p.year, p.paid, p.payment_date,
	p.transaction_id, p.paid_by_loan_id, p.created_at
FROM pasanaco_payments p
JOIN participants pt ON pt.id = p.participant_id
WHERE p.pasanaco_id = ? AND p.month = ? AND p.year = ?
ORDER BY pt.assigned_number`

func (q *Queries) ListPaymentsByPeriod(ctx context.Context, pasanacoID string, period core.Period) ([]core.PasanacoPayment, error) {
	rows, err := q.db.QueryContext(ctx, listPaymentsByPeriod, pasanacoID, period.Month, period.Year)
	if err != nil {
		return nil, fmt.Errorf("list payments for %s: %w", period, err)
	}
	defer rows.Close()

	var out []core.PasanacoPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const updatePayment = `UPDATE pasanaco_payments
SET paid = ?, payment_date = ?, transaction_id = ?, paid_by_loan_id = ?
WHERE id = ?`

func (q *Queries) UpdatePayment(ctx context.Context, p core.PasanacoPayment) error {
	res, err := q.db.ExecContext(ctx, updatePayment,
		boolToInt(p.Paid), nullTime(p.PaymentDate), nullString(p.TransactionID), nullString(p.PaidByLoanID), p.ID)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	return nil
}

const deletePaymentsByPasanaco = `DELETE FROM pasanaco_payments WHERE pasanaco_id = ?`

func (q *Queries) DeletePaymentsByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	res, err := q.db.ExecContext(ctx, deletePaymentsByPasanaco, pasanacoID)
	if err != nil {
		return 0, fmt.Errorf("delete payments of %s: %w", pasanacoID, err)
	}
	return rowsAffected(res)
}

func (q *Queries) CountPaymentsByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM pasanaco_payments WHERE pasanaco_id = ?`, pasanacoID)
}

func scanPayment(row rowScanner) (core.PasanacoPayment, error) {
	var (
		p             core.PasanacoPayment
		paid          bool
		paymentDate   sql.NullString
		transactionID sql.NullString
		paidByLoanID  sql.NullString
		createdAt     string
	)
	err := row.Scan(&p.ID, &p.PasanacoID, &p.ParticipantID, &p.Month, &p.Year, &paid, &paymentDate,
		&transactionID, &paidByLoanID, &createdAt)
	if err != nil {
		return core.PasanacoPayment{}, err
	}
	p.Paid = paid
	if p.PaymentDate, err = parseNullTime(paymentDate); err != nil {
		return core.PasanacoPayment{}, err
	}
	p.TransactionID = stringPtr(transactionID)
	p.PaidByLoanID = stringPtr(paidByLoanID)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.PasanacoPayment{}, err
	}
	return p, nil
}
