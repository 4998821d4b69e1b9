package workouts

import "time"

const trailingWeek = 7 * 24 * time.Hour

// Stats summarizes the visible workouts.
type Stats struct {
	TotalWorkouts    int     `json:"totalWorkouts"`
	WorkoutsThisWeek int     `json:"workoutsThisWeek"`
	TotalVolume      float64 `json:"totalVolume"`
	// AverageWorkoutsPerWeek divides TotalWorkouts by a fixed window of weeks
	// rather than the weeks elapsed since the first workout.
	AverageWorkoutsPerWeek float64 `json:"averageWorkoutsPerWeek"`
}

// ComputeStats aggregates workouts relative to now. A non-positive
// weeksWindow falls back to DefaultWeeksWindow.
func ComputeStats(workouts []Workout, now time.Time, weeksWindow int) Stats {
	if weeksWindow <= 0 {
		weeksWindow = DefaultWeeksWindow
	}
	weekStart := now.Add(-trailingWeek)

	stats := Stats{TotalWorkouts: len(workouts)}
	for _, workout := range workouts {
		if !workout.Date.Before(weekStart) {
			stats.WorkoutsThisWeek++
		}
		stats.TotalVolume += workout.Volume()
	}
	stats.AverageWorkoutsPerWeek = float64(stats.TotalWorkouts) / float64(weeksWindow)
	return stats
}
