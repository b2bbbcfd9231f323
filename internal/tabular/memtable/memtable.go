// Package memtable is an in-memory tabular.Store for development and tests.
package memtable

import (
	"context"
	"fmt"
	"sync"

	"github.com/vbonduro/checkin/internal/tabular"
)

type table struct {
	headers []string
	rows    [][]string
}

type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var _ tabular.Store = (*Store)(nil)

func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) lookup(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tabular.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) HeaderRow(_ context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.headers...), nil
}

func (s *Store) AppendHeaderCell(_ context.Context, name, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	t.headers = append(t.headers, value)
	return len(t.headers), nil
}

func (s *Store) AppendRow(_ context.Context, name string, values []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	t.rows = append(t.rows, append([]string(nil), values...))
	return len(t.rows) + 1, nil
}

func (s *Store) SetCell(_ context.Context, name string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	if row == 1 {
		t.headers = tabular.Pad(t.headers, col)
		t.headers[col-1] = value
		return nil
	}
	if row-2 >= len(t.rows) {
		return fmt.Errorf("%w: %s row %d", tabular.ErrRowNotFound, name, row)
	}
	r := tabular.Pad(t.rows[row-2], col)
	r[col-1] = value
	t.rows[row-2] = r
	return nil
}

func (s *Store) Rows(_ context.Context, name string, fromRow, count int) ([][]string, error) {
	if fromRow < 1 {
		return nil, fmt.Errorf("invalid start row %d", fromRow)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	all := make([][]string, 0, len(t.rows)+1)
	all = append(all, t.headers)
	all = append(all, t.rows...)

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

func (s *Store) EnsureTable(_ context.Context, name string, headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &table{}
		s.tables[name] = t
	}
	if len(t.headers) == 0 {
		t.headers = append([]string(nil), headers...)
	}
	return nil
}
