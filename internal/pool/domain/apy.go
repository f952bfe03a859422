package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// APYForUtilization maps pool utilization to yield via a fixed step table.
// Higher utilization pays depositors more; the table makes yield a
// deterministic function of pool usage rather than an independent knob.
func APYForUtilization(utilizationBps int64) int64 {
	switch {
	case utilizationBps < 5000:
		return 400
	case utilizationBps < 7000:
		return 600
	case utilizationBps < 8500:
		return 800
	case utilizationBps < 9500:
		return 1100
	default:
		return 1500
	}
}

const yearSeconds = 365 * 24 * 60 * 60

// AccrueReward computes the reward earned by userAssets at apyBps over the
// elapsed interval, truncated to the smallest currency unit.
func AccrueReward(userAssets, apyBps int64, elapsed time.Duration) int64 {
	if userAssets <= 0 || apyBps <= 0 || elapsed <= 0 {
		return 0
	}
	reward := decimal.NewFromInt(userAssets).
		Mul(decimal.NewFromInt(apyBps)).
		Mul(decimal.NewFromInt(int64(elapsed / time.Second))).
		Div(decimal.NewFromInt(10000 * yearSeconds))
	return reward.IntPart()
}
