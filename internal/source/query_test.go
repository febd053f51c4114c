package source

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestQueryValue(t *testing.T) {
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	stamp := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	num := pgtype.Numeric{Int: big.NewInt(1234), Exp: -2, Valid: true}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bytes", []byte("abc"), "abc"},
		{"date", day, "2024-03-09"},
		{"timestamp", stamp, "2024-03-09T14:05:00Z"},
		{"int", int64(7), int64(7)},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0, 1, 2, 3, 4, 5, 6, 7}, "12345678-9abc-def0-0001-020304050607"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queryValue(tt.in); got != tt.want {
				t.Errorf("queryValue(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}

	f, ok := queryValue(num).(float64)
	if !ok || math.Abs(f-12.34) > 1e-9 {
		t.Errorf("queryValue(numeric) = %v, want 12.34", queryValue(num))
	}
}
