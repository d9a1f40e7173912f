package storage

import (
	"context"
	"fmt"

	"pasanaco/internal/core"
)

const participantColumns = `id, pasanaco_id, name, assigned_number, has_received, created_at`

const createParticipant = `INSERT INTO participants (` + participantColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateParticipant(ctx context.Context, p core.Participant) error {
	_, err := q.db.ExecContext(ctx, createParticipant,
		p.ID, p.PasanacoID, p.Name, p.AssignedNumber, boolToInt(p.HasReceived), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert participant: %w", translateError(err))
	}
	return nil
}

const getParticipant = `SELECT ` + participantColumns + ` FROM participants WHERE id = ?`

func (q *Queries) GetParticipant(ctx context.Context, id string) (core.Participant, error) {
	p, err := scanParticipant(q.db.QueryRowContext(ctx, getParticipant, id))
	if err != nil {
		return core.Participant{}, fmt.Errorf("get participant %s: %w", id, translateError(err))
	}
	return p, nil
}

const listParticipants = `SELECT ` + participantColumns + ` FROM participants
WHERE pasanaco_id = ? ORDER BY assigned_number`

func (q *Queries) ListParticipants(ctx context.Context, pasanacoID string) ([]core.Participant, error) {
	rows, err := q.db.QueryContext(ctx, listParticipants, pasanacoID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []core.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const updateParticipant = `UPDATE participants SET name = ?, assigned_number = ?, has_received = ? WHERE id = ?`

func (q *Queries) UpdateParticipant(ctx context.Context, p core.Participant) error {
	res, err := q.db.ExecContext(ctx, updateParticipant, p.Name, p.AssignedNumber, boolToInt(p.HasReceived), p.ID)
	if err != nil {
		return fmt.Errorf("update participant %s: %w", p.ID, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update participant %s: %w", p.ID, err)
	}
	return nil
}

const deleteParticipantsByPasanaco = `DELETE FROM participants WHERE pasanaco_id = ?`

func (q *Queries) DeleteParticipantsByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	res, err := q.db.ExecContext(ctx, deleteParticipantsByPasanaco, pasanacoID)
	if err != nil {
		return 0, fmt.Errorf("delete participants of %s: %w", pasanacoID, err)
	}
	return rowsAffected(res)
}

func scanParticipant(row rowScanner) (core.Participant, error) {
	var (
		p         core.Participant
		received  bool
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.PasanacoID, &p.Name, &p.AssignedNumber, &received, &createdAt); err != nil {
		return core.Participant{}, err
	}
	p.HasReceived = received
	t, err := parseTime(createdAt)
	if err != nil {
		return core.Participant{}, err
	}
	p.CreatedAt = t
	return p, nil
}
