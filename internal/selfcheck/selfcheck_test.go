package selfcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/checkin/internal/tabular/memtable"
)

type fakeContainers map[string]bool

func (f fakeContainers) ContainerExists(_ context.Context, c string) (bool, error) {
	return f[c], nil
}

func TestRunAllPass(t *testing.T) {
	ctx := context.Background()
	tables := memtable.New()
	require.NoError(t, tables.EnsureTable(ctx, "Checkin_Log", []string{"Timestamp", "roomId"}))
	require.NoError(t, tables.EnsureTable(ctx, "Rooms", []string{"RoomID", "RoomFolderId"}))

	c := New(tables, fakeContainers{"default": true}, Config{
		LogTable:      "Checkin_Log",
		RoomsTable:    "Rooms",
		RoomHeaders:   []string{"RoomID", "RoomFolderId", "CheckInFolderId"},
		DefaultFolder: "default",
	}, Probe{Name: "chrome", Check: func(context.Context) error { return errors.New("not found") }})

	checks := c.Run(ctx)
	require.Len(t, checks, 4)
	assert.False(t, Failed(checks), "optional probe failure is a warning")

	assert.Equal(t, "[ok] sheet Checkin_Log: 2 columns", checks[0].String())
	assert.Equal(t, "[ok] sheet Rooms: headers present: RoomID, RoomFolderId; missing: CheckInFolderId", checks[1].String())
	assert.Equal(t, "[ok] default folder default", checks[2].String())
	assert.Equal(t, "[warn] chrome (not found)", checks[3].String())
}

func TestRunReportsMissingPieces(t *testing.T) {
	tables := memtable.New()
	c := New(tables, fakeContainers{}, Config{
		LogTable:      "Checkin_Log",
		RoomsTable:    "Rooms",
		DefaultFolder: "default",
	}, Probe{Name: "redis", Required: true, Check: func(context.Context) error { return nil }})

	checks := c.Run(context.Background())
	assert.True(t, Failed(checks))
	assert.True(t, checks[0].Failed())
	assert.EqualError(t, checks[1].Err, "sheet not found")
	assert.EqualError(t, checks[2].Err, "folder not found")
	assert.False(t, checks[3].Failed())
}
