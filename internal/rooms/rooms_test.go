package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/checkin/internal/tabular/memtable"
)

var testConfig = Config{
	RoomsTable:               "Rooms",
	RoomHeader:               "RoomID",
	ReservationsTable:        "Sheet1",
	ReservationCodeHeader:    "Hg Code",
	ReservationLogCodeHeader: "รหัสการจอง",
	LineUserHeader:           "Line User ID",
}

func seed(t *testing.T) *memtable.Store {
	t.Helper()
	ctx := context.Background()
	s := memtable.New()
	require.NoError(t, s.EnsureTable(ctx, "Rooms", []string{"RoomID", " Hg Code ", "RoomFolderId"}))
	for _, row := range [][]string{
		{"A101", "HG-1", "folder-a101"},
		{" a102 ", "HG-2", ""},
		{"A101", "HG-dup", "second"},
		{"B201", "", ""},
	} {
		_, err := s.AppendRow(ctx, "Rooms", row)
		require.NoError(t, err)
	}
	require.NoError(t, s.EnsureTable(ctx, "Sheet1", []string{"รหัสการจอง", "Guest", "Line User ID"}))
	for _, row := range [][]string{
		{"HG-1", "Somchai", " U123 "},
		{"HG-2", "Malee", ""},
	} {
		_, err := s.AppendRow(ctx, "Sheet1", row)
		require.NoError(t, err)
	}
	return s
}

func TestFind(t *testing.T) {
	r := NewRegistry(seed(t), testConfig)
	ctx := context.Background()

	room, ok, err := r.Find(ctx, "a101")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "folder-a101", room["RoomFolderId"], "first matching row wins")
	assert.Equal(t, "HG-1", room["Hg Code"])

	room, ok, err = r.Find(ctx, "A102")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "HG-2", room["Hg Code"])

	_, ok, err = r.Find(ctx, "Z999")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Find(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindMissingTableOrHeader(t *testing.T) {
	ctx := context.Background()

	r := NewRegistry(memtable.New(), testConfig)
	_, ok, err := r.Find(ctx, "A101")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg := testConfig
	cfg.RoomHeader = "Room"
	r = NewRegistry(seed(t), cfg)
	_, ok, err = r.Find(ctx, "A101")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLineUserID(t *testing.T) {
	r := NewRegistry(seed(t), testConfig)
	ctx := context.Background()

	id, ok, err := r.LineUserID(ctx, "A101")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "U123", id)

	_, ok, err = r.LineUserID(ctx, "A102")
	require.NoError(t, err)
	assert.False(t, ok, "blank user id")

	_, ok, err = r.LineUserID(ctx, "B201")
	require.NoError(t, err)
	assert.False(t, ok, "no reservation code")
}

type failingReader struct{}

func (failingReader) Rows(context.Context, string, int, int) ([][]string, error) {
	return nil, errors.New("backend down")
}

func TestFindPropagatesReadErrors(t *testing.T) {
	r := NewRegistry(failingReader{}, testConfig)

	_, _, err := r.Find(context.Background(), "A101")
	require.Error(t, err)
}
