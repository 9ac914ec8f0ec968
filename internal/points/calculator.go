// Package points implements the presence-time to points formula.
package points

import (
	"time"

	"github.com/presence-engine/internal/config"
)

// Calculator maps accumulated presence seconds in a day to a points value.
// All methods are pure functions over integers; no I/O.
type Calculator struct {
	grace         time.Duration
	firstHour     int64
	perExtraHour  int64
	dailyCapHours int
}

// NewCalculator creates a calculator from the points configuration
func NewCalculator(cfg *config.PointsConfig) *Calculator {
	return &Calculator{
		grace:         cfg.Grace,
		firstHour:     cfg.FirstHour,
		perExtraHour:  cfg.PerExtraHour,
		dailyCapHours: cfg.DailyCapHours,
	}
}

// CreditedHours converts presence seconds to whole credited hours. The grace
// period is added before truncating so a user present for 58 minutes still
// credits the hour; hours beyond the daily cap are clamped off.
func (c *Calculator) CreditedHours(presenceSeconds int64) int {
	if presenceSeconds < 0 {
		presenceSeconds = 0
	}

	hours := int((presenceSeconds + int64(c.grace/time.Second)) / 3600)
	if hours > c.dailyCapHours {
		hours = c.dailyCapHours
	}
	return hours
}

// Points returns the points value for the given accumulated daily presence
// seconds: zero hours earn nothing, the first hour earns the first-hour
// reward, each further hour up to the cap earns the extra-hour reward.
func (c *Calculator) Points(presenceSeconds int64) int64 {
	hours := c.CreditedHours(presenceSeconds)
	if hours == 0 {
		return 0
	}
	return c.firstHour + c.perExtraHour*int64(hours-1)
}

// Delta returns the points awarded when a user's daily presence total moves
// from oldSeconds to newSeconds. A session entirely within an already-credited
// hour yields zero, which keeps the formula safe to recompute for auditing.
func (c *Calculator) Delta(oldSeconds, newSeconds int64) int64 {
	return c.Points(newSeconds) - c.Points(oldSeconds)
}

// MaxDailyPoints returns the flat value the formula reaches at the daily cap
func (c *Calculator) MaxDailyPoints() int64 {
	return c.firstHour + c.perExtraHour*int64(c.dailyCapHours-1)
}
