package domain

import "time"

// Evaluate computes the status a schedule should hold at now. Rule order
// matters: a fully paid schedule is Paid no matter how late the money
// arrived, so a late-but-complete payment can never land in Default.
func Evaluate(totalPaid, expected int64, due time.Time, grace, defaultAfter time.Duration, now time.Time) Status {
	if totalPaid >= expected {
		return StatusPaid
	}

	status := StatusScheduled
	if totalPaid > 0 {
		status = StatusPartiallyPaid
	}
	if now.After(due) {
		graceEnd := due.Add(grace)
		switch {
		case !now.After(graceEnd):
			status = StatusInGracePeriod
		case now.After(graceEnd.Add(defaultAfter)):
			status = StatusDefault
		default:
			status = StatusOverdue
		}
	}
	return status
}

// CanTransition reports whether moving from one status to another respects
// monotonicity. Default -> Recovered is the only explicit recovery move;
// everything else must not lower the rank.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from == StatusDefault {
		return to == StatusRecovered
	}
	if from == StatusRecovered {
		return false
	}
	return to.Rank() > from.Rank()
}
