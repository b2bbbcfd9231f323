package xlsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vbonduro/checkin/internal/tabular"
	"github.com/vbonduro/checkin/internal/tabular/tabulartest"
)

func TestStore(t *testing.T) {
	tabulartest.Run(t, func(t *testing.T) tabular.Store {
		s, err := Open(filepath.Join(t.TempDir(), "checkin.xlsx"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStoreWritesReadableWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkin.xlsx")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureTable(ctx, "Checkin_Log", []string{"Timestamp", "roomId"}))
	_, err = s.AppendRow(ctx, "Checkin_Log", []string{"2024-01-02 03:04:05", "A101"})
	require.NoError(t, err)
	_, err = s.AppendHeaderCell(ctx, "Checkin_Log", "BED_Status")
	require.NoError(t, err)
	require.NoError(t, s.SetCell(ctx, "Checkin_Log", 2, 3, "damaged"))
	require.NoError(t, s.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	rows, err := f.GetRows("Checkin_Log")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Timestamp", "roomId", "BED_Status"},
		{"2024-01-02 03:04:05", "A101", "damaged"},
	}, rows)
}

func TestBlankRowKeepsItsIndex(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "checkin.xlsx"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.EnsureTable(ctx, "Log", []string{"a"}))
	first, err := s.AppendRow(ctx, "Log", []string{""})
	require.NoError(t, err)
	second, err := s.AppendRow(ctx, "Log", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, first)
	assert.Equal(t, 3, second)
}

func TestOpenExistingWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.xlsx")
	f := excelize.NewFile()
	_, err := f.NewSheet("Rooms")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Rooms", "A1", &[]interface{}{"RoomID", "RoomFolderId"}))
	require.NoError(t, f.SetSheetRow("Rooms", "A2", &[]interface{}{"A101", "abcdefghijklmnopqrstuvwxyz"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rows, err := s.Rows(context.Background(), "Rooms", 2, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A101", "abcdefghijklmnopqrstuvwxyz"}}, rows)

	row, err := s.AppendRow(context.Background(), "Rooms", []string{"A102"})
	require.NoError(t, err)
	assert.Equal(t, 3, row)
}
