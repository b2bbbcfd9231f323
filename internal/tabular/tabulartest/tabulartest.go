// Package tabulartest holds behaviour tests shared by every tabular.Store
// backend.
package tabulartest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/checkin/internal/tabular"
)

// Run exercises newStore against the tabular.Store contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) tabular.Store) {
	t.Run("UnknownTable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.HeaderRow(ctx, "Nope")
		assert.ErrorIs(t, err, tabular.ErrUnknownTable)
		_, err = s.AppendRow(ctx, "Nope", []string{"x"})
		assert.ErrorIs(t, err, tabular.ErrUnknownTable)
		_, err = s.AppendHeaderCell(ctx, "Nope", "x")
		assert.ErrorIs(t, err, tabular.ErrUnknownTable)
		_, err = s.Rows(ctx, "Nope", 1, -1)
		assert.ErrorIs(t, err, tabular.ErrUnknownTable)
	})

	t.Run("EnsureTableKeepsExistingHeaders", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"Timestamp", "roomId"}))
		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"Other"}))

		headers, err := s.HeaderRow(ctx, "Log")
		require.NoError(t, err)
		assert.Equal(t, []string{"Timestamp", "roomId"}, headers)
	})

	t.Run("AppendHeaderCell", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"Timestamp"}))

		col, err := s.AppendHeaderCell(ctx, "Log", "BED_Status")
		require.NoError(t, err)
		assert.Equal(t, 2, col)
		col, err = s.AppendHeaderCell(ctx, "Log", "BED_Notes")
		require.NoError(t, err)
		assert.Equal(t, 3, col)

		headers, err := s.HeaderRow(ctx, "Log")
		require.NoError(t, err)
		assert.Equal(t, []string{"Timestamp", "BED_Status", "BED_Notes"}, headers)
	})

	t.Run("AppendRowReturnsIndex", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"a", "b"}))

		row, err := s.AppendRow(ctx, "Log", []string{"1", "2"})
		require.NoError(t, err)
		assert.Equal(t, 2, row)
		row, err = s.AppendRow(ctx, "Log", []string{"3", ""})
		require.NoError(t, err)
		assert.Equal(t, 3, row)

		rows, err := s.Rows(ctx, "Log", 1, -1)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", ""}}, rows)
	})

	t.Run("SetCellAndPadding", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"a"}))

		row, err := s.AppendRow(ctx, "Log", []string{"x"})
		require.NoError(t, err)
		col, err := s.AppendHeaderCell(ctx, "Log", "b")
		require.NoError(t, err)
		require.NoError(t, s.SetCell(ctx, "Log", row, col, "y"))

		rows, err := s.Rows(ctx, "Log", row, 1)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"x", "y"}}, rows)

		require.NoError(t, s.SetCell(ctx, "Log", 1, 3, "c"))
		headers, err := s.HeaderRow(ctx, "Log")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, headers)

		rows, err = s.Rows(ctx, "Log", 2, -1)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"x", "y", ""}}, rows)
	})

	t.Run("SetCellPastEnd", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"a"}))

		err := s.SetCell(ctx, "Log", 5, 1, "x")
		assert.ErrorIs(t, err, tabular.ErrRowNotFound)
	})

	t.Run("RowsWindow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx, "Rooms", []string{"RoomID"}))
		for _, id := range []string{"A101", "A102", "A103"} {
			_, err := s.AppendRow(ctx, "Rooms", []string{id})
			require.NoError(t, err)
		}

		rows, err := s.Rows(ctx, "Rooms", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"A101"}, {"A102"}}, rows)

		rows, err = s.Rows(ctx, "Rooms", 10, -1)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("ConcurrentAppendsGetDistinctRows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx, "Log", []string{"n"}))

		const n = 10
		var wg sync.WaitGroup
		rows := make([]int, n)
		for i := 0; i < n; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				row, err := s.AppendRow(ctx, "Log", []string{"v"})
				assert.NoError(t, err)
				rows[i] = row
			}()
		}
		wg.Wait()

		seen := make(map[int]bool)
		for _, r := range rows {
			assert.False(t, seen[r], "row %d allocated twice", r)
			seen[r] = true
			assert.GreaterOrEqual(t, r, 2)
			assert.LessOrEqual(t, r, n+1)
		}
	})
}
