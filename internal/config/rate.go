package config

import (
	"math"

	"golang.org/x/time/rate"
)

// rateLimit maps refreshes per second onto a limiter rate. Zero keeps the
// session default, a negative value disables pacing.
func rateLimit(perSecond float64) rate.Limit {
	switch {
	case perSecond < 0, math.IsInf(perSecond, 1):
		return rate.Inf
	default:
		return rate.Limit(perSecond)
	}
}
