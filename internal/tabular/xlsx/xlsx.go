// Package xlsx keeps tables as worksheets of a single workbook on disk. Each
// sheet is a table and its first row is the header row.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/vbonduro/checkin/internal/tabular"
)

// Store serializes every operation on the workbook and saves it after each
// mutation.
type Store struct {
	mu   sync.Mutex
	path string
	file *excelize.File
	// rows tracks the last used row per sheet. GetRows drops trailing empty
	// rows, so an appended blank row would otherwise be reused.
	rows map[string]int
}

var _ tabular.Store = (*Store)(nil)

// Open loads the workbook at path, or starts a new one when it does not exist.
func Open(path string) (*Store, error) {
	f, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return &Store{path: path, file: f, rows: make(map[string]int)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *Store) requireSheet(name string) error {
	idx, err := s.file.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("failed to look up sheet: %w", err)
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", tabular.ErrUnknownTable, name)
	}
	return nil
}

func (s *Store) allRows(name string) ([][]string, error) {
	rows, err := s.file.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
	}
	return rows, nil
}

func (s *Store) lastRow(name string) (int, error) {
	if n, ok := s.rows[name]; ok {
		return n, nil
	}
	rows, err := s.allRows(name)
	if err != nil {
		return 0, err
	}
	n := max(len(rows), 1)
	s.rows[name] = n
	return n, nil
}

func (s *Store) save() error {
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (s *Store) HeaderRow(_ context.Context, table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSheet(table); err != nil {
		return nil, err
	}
	return s.headerRow(table)
}

func (s *Store) headerRow(table string) ([]string, error) {
	rows, err := s.allRows(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) AppendHeaderCell(_ context.Context, table, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSheet(table); err != nil {
		return 0, err
	}
	headers, err := s.headerRow(table)
	if err != nil {
		return 0, err
	}
	col := len(headers) + 1
	if err := s.setCell(table, 1, col, value); err != nil {
		return 0, err
	}
	if err := s.save(); err != nil {
		return 0, err
	}
	return col, nil
}

func (s *Store) AppendRow(_ context.Context, table string, values []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSheet(table); err != nil {
		return 0, err
	}
	last, err := s.lastRow(table)
	if err != nil {
		return 0, err
	}
	row := last + 1

	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return 0, err
	}
	if err := s.file.SetSheetRow(table, start, &cells); err != nil {
		return 0, fmt.Errorf("failed to write row: %w", err)
	}
	s.rows[table] = row
	if err := s.save(); err != nil {
		return 0, err
	}
	return row, nil
}

func (s *Store) SetCell(_ context.Context, table string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSheet(table); err != nil {
		return err
	}
	if row > 1 {
		last, err := s.lastRow(table)
		if err != nil {
			return err
		}
		if row > last {
			return fmt.Errorf("%w: %s row %d", tabular.ErrRowNotFound, table, row)
		}
	}
	if err := s.setCell(table, row, col, value); err != nil {
		return err
	}
	return s.save()
}

func (s *Store) setCell(table string, row, col int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := s.file.SetCellStr(table, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}

func (s *Store) Rows(_ context.Context, table string, fromRow, count int) ([][]string, error) {
	if fromRow < 1 {
		return nil, fmt.Errorf("invalid start row %d", fromRow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSheet(table); err != nil {
		return nil, err
	}
	all, err := s.allRows(table)
	if err != nil {
		return nil, err
	}
	last, err := s.lastRow(table)
	if err != nil {
		return nil, err
	}
	for len(all) < last {
		all = append(all, nil)
	}

	width := 0
	for _, r := range all {
		width = max(width, len(r))
	}

	start := fromRow - 1
	if start >= len(all) {
		return [][]string{}, nil
	}
	end := len(all)
	if count >= 0 {
		end = min(end, start+count)
	}

	out := make([][]string, 0, end-start)
	for _, r := range all[start:end] {
		out = append(out, tabular.Pad(append([]string(nil), r...), width))
	}
	return out, nil
}

func (s *Store) EnsureTable(_ context.Context, table string, headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.file.GetSheetIndex(table)
	if err != nil {
		return fmt.Errorf("failed to look up sheet: %w", err)
	}
	if idx < 0 {
		if _, err := s.file.NewSheet(table); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", table, err)
		}
	}

	existing, err := s.headerRow(table)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for i, h := range headers {
			if err := s.setCell(table, 1, i+1, h); err != nil {
				return err
			}
		}
	}
	return s.save()
}
