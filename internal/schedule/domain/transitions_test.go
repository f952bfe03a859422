package domain

import (
	"testing"
	"time"
)

func TestEvaluateGraceThenOverdueThenDefault(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	grace := 5 * 24 * time.Hour
	defaultAfter := 30 * 24 * time.Hour

	cases := []struct {
		name string
		now  time.Time
		want Status
	}{
		{"before due", due.Add(-time.Hour), StatusScheduled},
		{"T+3d in grace", due.Add(3 * 24 * time.Hour), StatusInGracePeriod},
		{"T+5d last grace moment", due.Add(5 * 24 * time.Hour), StatusInGracePeriod},
		{"T+6d overdue", due.Add(6 * 24 * time.Hour), StatusOverdue},
		{"T+35d still overdue", due.Add(35 * 24 * time.Hour), StatusOverdue},
		{"T+36d default", due.Add(36 * 24 * time.Hour), StatusDefault},
	}
	for _, tc := range cases {
		if got := Evaluate(0, 100_000, due, grace, defaultAfter, tc.now); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestEvaluateFullyPaidAlwaysWins(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// 40 days late but complete: must classify Paid, never Default
	now := due.Add(40 * 24 * time.Hour)
	if got := Evaluate(100_000, 100_000, due, 5*24*time.Hour, 30*24*time.Hour, now); got != StatusPaid {
		t.Fatalf("expected paid, got %s", got)
	}
	if got := Evaluate(150_000, 100_000, due, 0, 0, now); got != StatusPaid {
		t.Fatalf("expected paid on overpayment, got %s", got)
	}
}

func TestEvaluatePartialPayment(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := Evaluate(40_000, 100_000, due, 0, 0, due.Add(-time.Hour)); got != StatusPartiallyPaid {
		t.Fatalf("expected partially paid, got %s", got)
	}
	// a partial payment past due is still classified by time
	if got := Evaluate(40_000, 100_000, due, 5*24*time.Hour, 30*24*time.Hour, due.Add(24*time.Hour)); got != StatusInGracePeriod {
		t.Fatalf("expected in grace period, got %s", got)
	}
}

func TestCanTransitionMonotonicity(t *testing.T) {
	allowed := [][2]Status{
		{StatusScheduled, StatusPartiallyPaid},
		{StatusPartiallyPaid, StatusInGracePeriod},
		{StatusInGracePeriod, StatusOverdue},
		{StatusOverdue, StatusDefault},
		{StatusOverdue, StatusPaid},
		{StatusInGracePeriod, StatusPaid},
		{StatusDefault, StatusRecovered},
	}
	for _, c := range allowed {
		if !CanTransition(c[0], c[1]) {
			t.Fatalf("expected %s -> %s allowed", c[0], c[1])
		}
	}

	denied := [][2]Status{
		{StatusPaid, StatusOverdue},
		{StatusOverdue, StatusInGracePeriod},
		{StatusPartiallyPaid, StatusScheduled},
		{StatusDefault, StatusPaid},
		{StatusDefault, StatusOverdue},
		{StatusRecovered, StatusDefault},
		{StatusRecovered, StatusPaid},
	}
	for _, c := range denied {
		if CanTransition(c[0], c[1]) {
			t.Fatalf("expected %s -> %s denied", c[0], c[1])
		}
	}
}
