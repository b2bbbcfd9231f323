// Package sqlite stores tables as header, row and cell records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vbonduro/checkin/internal/tabular"
)

type Store struct {
	db *sql.DB
}

var _ tabular.Store = (*Store)(nil)

// New wraps a database opened with db.Open or db.OpenInMemory.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func requireTable(ctx context.Context, q querier, table string) error {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheets WHERE name = ?`, table).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to look up table: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", tabular.ErrUnknownTable, table)
	}
	return nil
}

func headers(ctx context.Context, q querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT col, value FROM sheet_headers WHERE sheet = ? ORDER BY col ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var out []string
	for rows.Next() {
		var col int
		var value string
		if err := rows.Scan(&col, &value); err != nil {
			return nil, fmt.Errorf("failed to scan header: %w", err)
		}
		out = tabular.Pad(out, col)
		out[col-1] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating headers: %w", err)
	}
	return out, nil
}

func (s *Store) HeaderRow(ctx context.Context, table string) ([]string, error) {
	if err := requireTable(ctx, s.db, table); err != nil {
		return nil, err
	}
	return headers(ctx, s.db, table)
}

func (s *Store) AppendHeaderCell(ctx context.Context, table, value string) (int, error) {
	var col int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, table); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(col), 0) + 1 FROM sheet_headers WHERE sheet = ?
		`, table).Scan(&col); err != nil {
			return fmt.Errorf("failed to compute next column: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sheet_headers (sheet, col, value) VALUES (?, ?, ?)
		`, table, col, value); err != nil {
			return fmt.Errorf("failed to append header: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return col, nil
}

func (s *Store) AppendRow(ctx context.Context, table string, values []string) (int, error) {
	var row int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, table); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(row), 1) + 1 FROM sheet_rows WHERE sheet = ?
		`, table).Scan(&row); err != nil {
			return fmt.Errorf("failed to compute next row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sheet_rows (sheet, row) VALUES (?, ?)
		`, table, row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
		for i, v := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sheet_cells (sheet, row, col, value) VALUES (?, ?, ?, ?)
			`, table, row, i+1, v); err != nil {
				return fmt.Errorf("failed to write cell: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return row, nil
}

func (s *Store) SetCell(ctx context.Context, table string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, table); err != nil {
			return err
		}
		if row == 1 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sheet_headers (sheet, col, value) VALUES (?, ?, ?)
				ON CONFLICT (sheet, col) DO UPDATE SET value = excluded.value
			`, table, col, value); err != nil {
				return fmt.Errorf("failed to set header: %w", err)
			}
			return nil
		}

		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sheet_rows WHERE sheet = ? AND row = ?
		`, table, row).Scan(&n); err != nil {
			return fmt.Errorf("failed to look up row: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s row %d", tabular.ErrRowNotFound, table, row)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sheet_cells (sheet, row, col, value) VALUES (?, ?, ?, ?)
			ON CONFLICT (sheet, row, col) DO UPDATE SET value = excluded.value
		`, table, row, col, value); err != nil {
			return fmt.Errorf("failed to set cell: %w", err)
		}
		return nil
	})
}

func (s *Store) Rows(ctx context.Context, table string, fromRow, count int) ([][]string, error) {
	if fromRow < 1 {
		return nil, fmt.Errorf("invalid start row %d", fromRow)
	}
	if err := requireTable(ctx, s.db, table); err != nil {
		return nil, err
	}

	var out [][]string
	if fromRow == 1 {
		hdr, err := headers(ctx, s.db, table)
		if err != nil {
			return nil, err
		}
		out = append(out, hdr)
		fromRow = 2
		if count > 0 {
			count--
		}
	}

	if count != 0 {
		data, err := s.dataRows(ctx, table, fromRow, count)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}

	width, err := s.width(ctx, table)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = tabular.Pad(out[i], width)
	}
	if out == nil {
		out = [][]string{}
	}
	return out, nil
}

// dataRows reads count rows (all when negative) starting at fromRow >= 2.
func (s *Store) dataRows(ctx context.Context, table string, fromRow, count int) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.row, c.col, c.value
		FROM (
			SELECT row FROM sheet_rows WHERE sheet = ? AND row >= ? ORDER BY row ASC LIMIT ?
		) r
		LEFT JOIN sheet_cells c ON c.sheet = ? AND c.row = r.row
		ORDER BY r.row ASC, c.col ASC
	`, table, fromRow, count, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var out [][]string
	current := -1
	for rows.Next() {
		var row int
		var col sql.NullInt64
		var value sql.NullString
		if err := rows.Scan(&row, &col, &value); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		if row != current {
			out = append(out, []string{})
			current = row
		}
		if !col.Valid {
			continue
		}
		last := len(out) - 1
		out[last] = tabular.Pad(out[last], int(col.Int64))
		out[last][col.Int64-1] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (s *Store) width(ctx context.Context, table string) (int, error) {
	var width int
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(col), 0) FROM sheet_headers WHERE sheet = ?),
			(SELECT COALESCE(MAX(col), 0) FROM sheet_cells WHERE sheet = ?)
		)
	`, table, table).Scan(&width)
	if err != nil {
		return 0, fmt.Errorf("failed to compute table width: %w", err)
	}
	return width, nil
}

func (s *Store) EnsureTable(ctx context.Context, table string, hdrs []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sheets (name) VALUES (?) ON CONFLICT (name) DO NOTHING
		`, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}

		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sheet_headers WHERE sheet = ?
		`, table).Scan(&n); err != nil {
			return fmt.Errorf("failed to count headers: %w", err)
		}
		if n > 0 {
			return nil
		}
		for i, h := range hdrs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sheet_headers (sheet, col, value) VALUES (?, ?, ?)
			`, table, i+1, h); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			slog.Error("failed to roll back transaction", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
