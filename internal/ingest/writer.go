package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/schema"
)

// Table is the subset of tabular.Store the writer needs.
type Table interface {
	HeaderRow(ctx context.Context, table string) ([]string, error)
	AppendRow(ctx context.Context, table string, values []string) (int, error)
	SetCell(ctx context.Context, table string, row, col int, value string) error
}

// ColumnResolver establishes an area's status, notes and photos columns.
type ColumnResolver interface {
	EnsureColumns(ctx context.Context, table string, area domain.Area) (schema.Columns, error)
}

type Writer struct {
	table    Table
	resolver ColumnResolver
}

func NewWriter(table Table, resolver ColumnResolver) *Writer {
	return &Writer{table: table, resolver: resolver}
}

// WriteRow appends base, padded to the current header width, and returns the
// new row's index.
func (w *Writer) WriteRow(ctx context.Context, table string, base []string) (int, error) {
	headers, err := w.table.HeaderRow(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("read header row of %s: %w", table, err)
	}
	values := make([]string, len(base), max(len(base), len(headers)))
	copy(values, base)
	for len(values) < len(headers) {
		values = append(values, "")
	}

	row, err := w.table.AppendRow(ctx, table, values)
	if err != nil {
		return 0, fmt.Errorf("append row to %s: %w", table, err)
	}
	return row, nil
}

// WriteAreas ensures each area's columns exist and fills them on row. Status
// is always written; notes and photos only when non-empty. A failing area
// does not stop the others; the areas fully written are returned in lexical
// order with the joined errors of the rest.
func (w *Writer) WriteAreas(ctx context.Context, table string, row int, records map[domain.Area]domain.AreaRecord) ([]domain.Area, error) {
	written := make([]domain.Area, 0, len(records))
	var errs []error
	for _, area := range SortedAreas(records) {
		if err := w.writeArea(ctx, table, row, area, records[area]); err != nil {
			errs = append(errs, fmt.Errorf("area %s: %w", area, err))
			continue
		}
		written = append(written, area)
	}
	return written, errors.Join(errs...)
}

func (w *Writer) writeArea(ctx context.Context, table string, row int, area domain.Area, rec domain.AreaRecord) error {
	cols, err := w.resolver.EnsureColumns(ctx, table, area)
	if err != nil {
		return err
	}

	if err := w.table.SetCell(ctx, table, row, cols.Status, rec.Status); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if rec.Notes != "" {
		if err := w.table.SetCell(ctx, table, row, cols.Notes, rec.Notes); err != nil {
			return fmt.Errorf("write notes: %w", err)
		}
	}
	if len(rec.PhotoURLs) > 0 {
		if err := w.table.SetCell(ctx, table, row, cols.Photos, strings.Join(rec.PhotoURLs, "\n")); err != nil {
			return fmt.Errorf("write photos: %w", err)
		}
	}
	return nil
}
