package storage

import (
	"context"
	"database/sql"
	"fmt"

	"pasanaco/internal/core"
)

const pasanacoColumns = `id, owner_id, name, monthly_amount, total_participants, current_round,
	start_month, start_year, created_at, updated_at`

const createPasanaco = `INSERT INTO pasanacos (` + pasanacoColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreatePasanaco(ctx context.Context, p core.Pasanaco) error {
	_, err := q.db.ExecContext(ctx, createPasanaco,
		p.ID, p.OwnerID, p.Name, p.MonthlyAmount.Cents, p.TotalParticipants, p.CurrentRound,
		p.StartMonth, p.StartYear, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert pasanaco: %w", translateError(err))
	}
	return nil
}

const getPasanaco = `SELECT ` + pasanacoColumns + ` FROM pasanacos WHERE id = ?`

func (q *Queries) GetPasanaco(ctx context.Context, id string) (core.Pasanaco, error) {
	p, err := scanPasanaco(q.db.QueryRowContext(ctx, getPasanaco, id))
	if err != nil {
		return core.Pasanaco{}, fmt.Errorf("get pasanaco %s: %w", id, translateError(err))
	}
	return p, nil
}

const listPasanacos = `SELECT ` + pasanacoColumns + ` FROM pasanacos WHERE owner_id = ? ORDER BY created_at, id`

func (q *Queries) ListPasanacos(ctx context.Context, ownerID string) ([]core.Pasanaco, error) {
	rows, err := q.db.QueryContext(ctx, listPasanacos, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pasanacos: %w", err)
	}
	defer rows.Close()

	var out []core.Pasanaco
	for rows.Next() {
		p, err := scanPasanaco(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pasanaco: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const updatePasanaco = `UPDATE pasanacos
SET name = ?, monthly_amount = ?, total_participants = ?, current_round = ?,
    start_month = ?, start_year = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdatePasanaco(ctx context.Context, p core.Pasanaco) error {
	res, err := q.db.ExecContext(ctx, updatePasanaco,
		p.Name, p.MonthlyAmount.Cents, p.TotalParticipants, p.CurrentRound,
		p.StartMonth, p.StartYear, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update pasanaco %s: %w", p.ID, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update pasanaco %s: %w", p.ID, err)
	}
	return nil
}

const deletePasanaco = `DELETE FROM pasanacos WHERE id = ?`

func (q *Queries) DeletePasanaco(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, deletePasanaco, id)
	if err != nil {
		return fmt.Errorf("delete pasanaco %s: %w", id, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("delete pasanaco %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPasanaco(row rowScanner) (core.Pasanaco, error) {
	var (
		p                    core.Pasanaco
		amount               int64
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &amount, &p.TotalParticipants, &p.CurrentRound,
		&p.StartMonth, &p.StartYear, &createdAt, &updatedAt)
	if err != nil {
		return core.Pasanaco{}, err
	}
	p.MonthlyAmount = core.Money{Cents: amount}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Pasanaco{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Pasanaco{}, err
	}
	return p, nil
}

var _ rowScanner = (*sql.Row)(nil)
