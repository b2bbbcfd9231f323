// Package tabular defines the spreadsheet-like store that submissions are
// recorded in. Rows and columns are 1-based; row 1 is the header row.
package tabular

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownTable is returned when an operation names a table that has not
// been created.
var ErrUnknownTable = errors.New("unknown table")

// ErrRowNotFound is returned by SetCell for a row past the end of the table.
var ErrRowNotFound = errors.New("row not found")

// Store is a set of named tables whose header row is the table schema.
// Implementations must be safe for concurrent use, but compound sequences
// such as read-header-then-append are not atomic; callers that need that
// serialize through a lock.Locker.
type Store interface {
	// HeaderRow returns the current header cells in column order.
	HeaderRow(ctx context.Context, table string) ([]string, error)
	// AppendHeaderCell adds a header after the last column and returns its
	// 1-based column index.
	AppendHeaderCell(ctx context.Context, table, value string) (int, error)
	// AppendRow adds a data row and returns its 1-based row index.
	AppendRow(ctx context.Context, table string, values []string) (int, error)
	// SetCell overwrites one cell. Row 1 addresses the header row.
	SetCell(ctx context.Context, table string, row, col int, value string) error
	// Rows returns up to count rows starting at fromRow, each padded to the
	// table width. A negative count returns every remaining row.
	Rows(ctx context.Context, table string, fromRow, count int) ([][]string, error)
	// EnsureTable creates the table if needed and, when it has no headers
	// yet, writes the given header row.
	EnsureTable(ctx context.Context, table string, headers []string) error
}

// Pad extends row with empty cells up to width.
func Pad(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}

// ColumnIndex returns the 1-based index of the first header equal to name
// after trimming surrounding whitespace, or 0.
func ColumnIndex(headers []string, name string) int {
	for i, h := range headers {
		if strings.TrimSpace(h) == name {
			return i + 1
		}
	}
	return 0
}
