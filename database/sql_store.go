package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"advisor/schemas"
)

const leadColumns = `id, recorded_at, first_name, last_name, email, phone, advisor_name, path, feedback, followup_date`

// SQLStore keeps leads in the lead_rows table. Both drivers it is used with
// accept "?" placeholders, so the statements are shared.
type SQLStore struct {
	db *sql.DB
}

func newSQLStore(db *sql.DB, migrations []string) (*SQLStore, error) {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate lead_rows: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Rows(ctx context.Context, target schemas.SheetTarget) ([]schemas.LeadRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM lead_rows WHERE sheet_id = ? AND tab = ? ORDER BY id`,
		target.SheetID, target.Tab)
	if err != nil {
		return nil, fmt.Errorf("query lead rows: %w", err)
	}
	defer rows.Close()

	out := []schemas.LeadRow{}
	for rows.Next() {
		row, err := scanLeadRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rows: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Row(ctx context.Context, target schemas.SheetTarget, id string) (schemas.LeadRow, bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return schemas.LeadRow{}, false, nil
	}
	row, err := scanLeadRow(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM lead_rows WHERE id = ? AND sheet_id = ? AND tab = ?`,
		n, target.SheetID, target.Tab))
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.LeadRow{}, false, nil
	}
	if err != nil {
		return schemas.LeadRow{}, false, err
	}
	return row, true, nil
}

func (s *SQLStore) Update(ctx context.Context, target schemas.SheetTarget, id string, lead schemas.Lead) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrRowNotFound
	}
	result, err := s.db.ExecContext(ctx, `UPDATE lead_rows SET
    recorded_at = ?, first_name = ?, last_name = ?, email = ?, phone = ?,
    advisor_name = ?, path = ?, feedback = ?, followup_date = ?
WHERE id = ? AND sheet_id = ? AND tab = ?`,
		formatTimestamp(lead.Timestamp), lead.FirstName, lead.LastName, lead.Email, lead.Phone,
		lead.AdvisorName, lead.Path, lead.Feedback, lead.FollowupDate,
		n, target.SheetID, target.Tab)
	if err != nil {
		return fmt.Errorf("update lead row %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		// MySQL reports zero for unchanged rows, so confirm the row exists.
		if _, found, rerr := s.Row(ctx, target, id); rerr == nil && !found {
			return ErrRowNotFound
		}
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) (string, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO lead_rows
    (sheet_id, tab, recorded_at, first_name, last_name, email, phone, advisor_name, path, feedback, followup_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		target.SheetID, target.Tab, formatTimestamp(lead.Timestamp), lead.FirstName, lead.LastName,
		lead.Email, lead.Phone, lead.AdvisorName, lead.Path, lead.Feedback, lead.FollowupDate)
	if err != nil {
		return "", fmt.Errorf("insert lead row: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("insert lead row id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeadRow(sc rowScanner) (schemas.LeadRow, error) {
	var (
		id       int64
		recorded string
		fields   [8]sql.NullString
	)
	err := sc.Scan(&id, &recorded,
		&fields[0], &fields[1], &fields[2], &fields[3],
		&fields[4], &fields[5], &fields[6], &fields[7])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schemas.LeadRow{}, err
		}
		return schemas.LeadRow{}, fmt.Errorf("scan lead row: %w", err)
	}
	return schemas.LeadRow{
		ID: strconv.FormatInt(id, 10),
		Lead: schemas.Lead{
			Timestamp:    parseTimestamp(recorded),
			FirstName:    fields[0].String,
			LastName:     fields[1].String,
			Email:        fields[2].String,
			Phone:        fields[3].String,
			AdvisorName:  fields[4].String,
			Path:         fields[5].String,
			Feedback:     fields[6].String,
			FollowupDate: fields[7].String,
		},
	}, nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
