package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTable_ColumnKind(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tbl := New(
		[]string{"region", "revenue", "order_date", "note"},
		[][]any{
			{"emea", int64(10), day, nil},
			{"apac", 2.5, nil, nil},
		},
	)

	require.Equal(t, KindOther, tbl.ColumnKind(0))
	require.Equal(t, KindNumeric, tbl.ColumnKind(1))
	require.Equal(t, KindDate, tbl.ColumnKind(2))
	require.Equal(t, KindOther, tbl.ColumnKind(3), "all-nil column has no kind")
}

func TestTable_Head(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 30)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	tbl := New([]string{"n"}, rows)

	head := tbl.Head(20)
	require.Equal(t, 20, head.Len())
	require.Equal(t, int64(19), head.Rows[19][0])
	require.Equal(t, 30, tbl.Head(50).Len())
}

func TestEqual(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", int64(3), 3.0, true},
		{"different numbers", 3, 4, false},
		{"nan", math.NaN(), math.NaN(), true},
		{"nil pair", nil, nil, true},
		{"nil vs zero", nil, 0, false},
		{"strings", "a", "a", true},
		{"string vs number", "3", 3, false},
		{"times", day, day.In(time.FixedZone("x", 3600)), true},
		{"bytes", []byte("ab"), []byte("ab"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Equal(tt.a, tt.b))
			if tt.want {
				require.Equal(t, Key(tt.a), Key(tt.b))
			}
		})
	}
}

func TestRowKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, RowKey([]any{"x", int64(1)}), RowKey([]any{"x", 1.0}))
	require.NotEqual(t, RowKey([]any{"x", 1}), RowKey([]any{"x", "1"}))
}
