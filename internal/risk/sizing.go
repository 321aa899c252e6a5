package risk

// AdjustedTradeSize applies the proactive soft throttle that shrinks trades
// before any hard check would deny them. Two factors are combined:
//
//   - Daily-loss usage: full size while usage is below 50% of the daily
//     budget, then linearly down to zero size at 100% of the budget.
//   - Consecutive failures: each failure recorded by the breaker halves the
//     marginal size via 1/(1 + failures/2).
func (g *Gate) AdjustedTradeSize(requested uint64) uint64 {
	g.mu.Lock()
	budget := g.dailyBudgetLocked()
	dailyLoss := g.ledger.DailyLoss()
	g.mu.Unlock()

	scale := 1.0
	if budget > 0 {
		usage := dailyLoss / budget
		switch {
		case usage >= 1:
			return 0
		case usage > 0.5:
			scale = (1 - usage) / 0.5
		}
	}

	failures := g.breaker.Failures()
	if failures > 0 {
		scale /= 1 + float64(failures)/2
	}

	return uint64(float64(requested) * scale)
}
