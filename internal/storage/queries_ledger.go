package storage

import (
	"context"
	"database/sql"
	"fmt"

	"pasanaco/internal/core"
)

// Loans

const loanColumns = `id, user_id, loan_type, counterparty, principal_amount, outstanding_amount,
	status, start_date, notes, pasanaco_id, created_at`

const createLoan = `INSERT INTO loans (` + loanColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateLoan(ctx context.Context, l core.Loan) error {
	_, err := q.db.ExecContext(ctx, createLoan,
		l.ID, l.UserID, string(l.Type), l.Counterparty, l.PrincipalAmount.Cents, l.OutstandingAmount.Cents,
		string(l.Status), formatTime(l.StartDate), l.Notes, nullString(l.PasanacoID), formatTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert loan: %w", translateError(err))
	}
	return nil
}

const getLoan = `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`

func (q *Queries) GetLoan(ctx context.Context, id string) (core.Loan, error) {
	l, err := scanLoan(q.db.QueryRowContext(ctx, getLoan, id))
	if err != nil {
		return core.Loan{}, fmt.Errorf("get loan %s: %w", id, translateError(err))
	}
	return l, nil
}

func (q *Queries) ListLoans(ctx context.Context, userID string) ([]core.Loan, error) {
	return q.listLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (q *Queries) ListLoansByPasanaco(ctx context.Context, pasanacoID string) ([]core.Loan, error) {
	return q.listLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE pasanaco_id = ? ORDER BY created_at, id`, pasanacoID)
}

func (q *Queries) listLoans(ctx context.Context, query string, arg string) ([]core.Loan, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	var out []core.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const updateLoan = `UPDATE loans SET outstanding_amount = ?, status = ?, notes = ? WHERE id = ?`

func (q *Queries) UpdateLoan(ctx context.Context, l core.Loan) error {
	res, err := q.db.ExecContext(ctx, updateLoan, l.OutstandingAmount.Cents, string(l.Status), l.Notes, l.ID)
	if err != nil {
		return fmt.Errorf("update loan %s: %w", l.ID, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update loan %s: %w", l.ID, err)
	}
	return nil
}

func (q *Queries) DeleteLoan(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete loan %s: %w", id, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("delete loan %s: %w", id, err)
	}
	return nil
}

func (q *Queries) CountLoansByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM loans WHERE pasanaco_id = ?`, pasanacoID)
}

func scanLoan(row rowScanner) (core.Loan, error) {
	var (
		l                      core.Loan
		loanType, status       string
		principal, outstanding int64
		startDate, createdAt   string
		pasanacoID             sql.NullString
	)
	err := row.Scan(&l.ID, &l.UserID, &loanType, &l.Counterparty, &principal, &outstanding,
		&status, &startDate, &l.Notes, &pasanacoID, &createdAt)
	if err != nil {
		return core.Loan{}, err
	}
	l.Type = core.LoanType(loanType)
	l.Status = core.LoanStatus(status)
	l.PrincipalAmount = core.Money{Cents: principal}
	l.OutstandingAmount = core.Money{Cents: outstanding}
	l.PasanacoID = stringPtr(pasanacoID)
	if l.StartDate, err = parseTime(startDate); err != nil {
		return core.Loan{}, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Loan{}, err
	}
	return l, nil
}

// Expenses

const expenseColumns = `id, user_id, amount, description, date, category_id, notes, loan_id, pasanaco_id, created_at`

const createExpense = `INSERT INTO expenses (` + expenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		e.ID, e.UserID, e.Amount.Cents, e.Description, formatTime(e.Date), e.CategoryID, e.Notes,
		nullString(e.LoanID), nullString(e.PasanacoID), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert expense: %w", translateError(err))
	}
	return nil
}

func (q *Queries) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	var (
		e                  core.Expense
		amount             int64
		date, createdAt    string
		loanID, pasanacoID sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id).
		Scan(&e.ID, &e.UserID, &amount, &e.Description, &date, &e.CategoryID, &e.Notes, &loanID, &pasanacoID, &createdAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, translateError(err))
	}
	e.Amount = core.Money{Cents: amount}
	e.LoanID = stringPtr(loanID)
	e.PasanacoID = stringPtr(pasanacoID)
	if e.Date, err = parseTime(date); err != nil {
		return core.Expense{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (q *Queries) DeleteExpense(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return nil
}

func (q *Queries) DeleteExpensesByLoan(ctx context.Context, loanID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM expenses WHERE loan_id = ?`, loanID)
	if err != nil {
		return 0, fmt.Errorf("delete expenses of loan %s: %w", loanID, err)
	}
	return rowsAffected(res)
}

func (q *Queries) DeleteExpensesByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM expenses WHERE pasanaco_id = ?`, pasanacoID)
	if err != nil {
		return 0, fmt.Errorf("delete expenses of %s: %w", pasanacoID, err)
	}
	return rowsAffected(res)
}

func (q *Queries) CountExpensesByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM expenses WHERE pasanaco_id = ?`, pasanacoID)
}

// Incomes

const incomeColumns = `id, user_id, amount, description, date, category_id, notes, pasanaco_id, created_at`

const createIncome = `INSERT INTO incomes (` + incomeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateIncome(ctx context.Context, i core.Income) error {
	_, err := q.db.ExecContext(ctx, createIncome,
		i.ID, i.UserID, i.Amount.Cents, i.Description, formatTime(i.Date), i.CategoryID, i.Notes,
		nullString(i.PasanacoID), formatTime(i.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert income: %w", translateError(err))
	}
	return nil
}

func (q *Queries) GetIncome(ctx context.Context, id string) (core.Income, error) {
	var (
		i               core.Income
		amount          int64
		date, createdAt string
		pasanacoID      sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `SELECT `+incomeColumns+` FROM incomes WHERE id = ?`, id).
		Scan(&i.ID, &i.UserID, &amount, &i.Description, &date, &i.CategoryID, &i.Notes, &pasanacoID, &createdAt)
	if err != nil {
		return core.Income{}, fmt.Errorf("get income %s: %w", id, translateError(err))
	}
	i.Amount = core.Money{Cents: amount}
	i.PasanacoID = stringPtr(pasanacoID)
	if i.Date, err = parseTime(date); err != nil {
		return core.Income{}, err
	}
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Income{}, err
	}
	return i, nil
}

func (q *Queries) DeleteIncome(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM incomes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete income %s: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("delete income %s: %w", id, err)
	}
	return nil
}

func (q *Queries) DeleteIncomesByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM incomes WHERE pasanaco_id = ?`, pasanacoID)
	if err != nil {
		return 0, fmt.Errorf("delete incomes of %s: %w", pasanacoID, err)
	}
	return rowsAffected(res)
}

func (q *Queries) CountIncomesByPasanaco(ctx context.Context, pasanacoID string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM incomes WHERE pasanaco_id = ?`, pasanacoID)
}
