package domain

import (
	"testing"
	"time"
)

func TestAPYStepTable(t *testing.T) {
	cases := []struct {
		utilization int64
		want        int64
	}{
		{0, 400},
		{4999, 400},
		{5000, 600},
		{6999, 600},
		{7000, 800},
		{8499, 800},
		{8500, 1100},
		{9499, 1100},
		{9500, 1500},
		{10000, 1500},
	}
	for _, c := range cases {
		if got := APYForUtilization(c.utilization); got != c.want {
			t.Errorf("APYForUtilization(%d) = %d, want %d", c.utilization, got, c.want)
		}
	}
}

func TestAccrueReward(t *testing.T) {
	// 100,000 at 400 bps for a full year = 4,000
	if got := AccrueReward(100_000, 400, 365*24*time.Hour); got != 4_000 {
		t.Fatalf("full year accrual = %d, want 4000", got)
	}
	// half a year earns half
	if got := AccrueReward(100_000, 400, 365*12*time.Hour); got != 2_000 {
		t.Fatalf("half year accrual = %d, want 2000", got)
	}
	if got := AccrueReward(0, 400, time.Hour); got != 0 {
		t.Fatalf("zero assets accrual = %d, want 0", got)
	}
	if got := AccrueReward(100_000, 400, -time.Hour); got != 0 {
		t.Fatalf("negative elapsed accrual = %d, want 0", got)
	}
}

func TestUtilizationBps(t *testing.T) {
	p := Pool{TotalAssets: 200_000, TotalFinanced: 150_000}
	if got := p.UtilizationBps(); got != 7500 {
		t.Fatalf("utilization = %d, want 7500", got)
	}
	if got := (Pool{}).UtilizationBps(); got != 0 {
		t.Fatalf("empty pool utilization = %d, want 0", got)
	}
}
