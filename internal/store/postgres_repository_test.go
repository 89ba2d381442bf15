package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClampLedgerPage(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{name: "zero limit uses default", limit: 0, offset: 0, wantLimit: 50, wantOffset: 0},
		{name: "negative limit uses default", limit: -10, offset: 0, wantLimit: 50, wantOffset: 0},
		{name: "oversized limit is capped", limit: 10000, offset: 0, wantLimit: 200, wantOffset: 0},
		{name: "negative offset is zeroed", limit: 25, offset: -5, wantLimit: 25, wantOffset: 0},
		{name: "in-range values pass through", limit: 25, offset: 100, wantLimit: 25, wantOffset: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit, gotOffset := clampLedgerPage(tt.limit, tt.offset)
			if gotLimit != tt.wantLimit || gotOffset != tt.wantOffset {
				t.Fatalf("expected (%d, %d), got (%d, %d)", tt.wantLimit, tt.wantOffset, gotLimit, gotOffset)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation matches", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "wrapped unique violation matches", err: errors.Join(errors.New("insert payout"), &pgconn.PgError{Code: "23505"}), want: true},
		{name: "other pg error does not match", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "plain error does not match", err: errors.New("connection reset"), want: false},
		{name: "nil does not match", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Fatalf("expected %t, got %t", tt.want, got)
			}
		})
	}
}
