// Package rooms reads the Rooms registry and the reservation log.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vbonduro/checkin/internal/tabular"
)

// RowReader is the subset of tabular.Store the registry reads through.
type RowReader interface {
	Rows(ctx context.Context, table string, fromRow, count int) ([][]string, error)
}

// Config names the tables and headers the registry reads.
type Config struct {
	RoomsTable        string
	RoomHeader        string
	ReservationsTable string
	// ReservationCodeHeader is the reservation code column in RoomsTable.
	ReservationCodeHeader string
	// ReservationLogCodeHeader is the same code's column in ReservationsTable.
	ReservationLogCodeHeader string
	LineUserHeader           string
}

type Registry struct {
	rows RowReader
	cfg  Config
}

func NewRegistry(rows RowReader, cfg Config) *Registry {
	return &Registry{rows: rows, cfg: cfg}
}

// Room is one registry row keyed by trimmed header text.
type Room map[string]string

// Find returns the first Rooms row whose room id matches roomID ignoring case
// and surrounding whitespace. A missing table or room header is a miss, not
// an error.
func (r *Registry) Find(ctx context.Context, roomID string) (Room, bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, false, nil
	}

	rows, err := r.readAll(ctx, r.cfg.RoomsTable)
	if err != nil || len(rows) < 2 {
		return nil, false, err
	}
	headers := rows[0]
	col := tabular.ColumnIndex(headers, r.cfg.RoomHeader)
	if col == 0 {
		return nil, false, nil
	}

	for _, row := range rows[1:] {
		id := strings.TrimSpace(row[col-1])
		if id == "" || !strings.EqualFold(id, roomID) {
			continue
		}
		room := make(Room, len(headers))
		for i, h := range headers {
			h = strings.TrimSpace(h)
			if _, seen := room[h]; h == "" || seen {
				continue
			}
			room[h] = strings.TrimSpace(row[i])
		}
		return room, true, nil
	}
	return nil, false, nil
}

// LineUserID follows the room's reservation code into the reservation log
// and returns the chat user id recorded there.
func (r *Registry) LineUserID(ctx context.Context, roomID string) (string, bool, error) {
	room, ok, err := r.Find(ctx, roomID)
	if err != nil || !ok {
		return "", false, err
	}
	code := room[r.cfg.ReservationCodeHeader]
	if code == "" {
		return "", false, nil
	}

	rows, err := r.readAll(ctx, r.cfg.ReservationsTable)
	if err != nil || len(rows) < 2 {
		return "", false, err
	}
	codeCol := tabular.ColumnIndex(rows[0], r.cfg.ReservationLogCodeHeader)
	userCol := tabular.ColumnIndex(rows[0], r.cfg.LineUserHeader)
	if codeCol == 0 || userCol == 0 {
		return "", false, nil
	}

	for _, row := range rows[1:] {
		if strings.TrimSpace(row[codeCol-1]) != code {
			continue
		}
		id := strings.TrimSpace(row[userCol-1])
		return id, id != "", nil
	}
	return "", false, nil
}

func (r *Registry) readAll(ctx context.Context, table string) ([][]string, error) {
	rows, err := r.rows.Rows(ctx, table, 1, -1)
	if errors.Is(err, tabular.ErrUnknownTable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return rows, nil
}
