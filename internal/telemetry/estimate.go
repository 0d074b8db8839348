// Package telemetry computes the depletion estimate over a device's gas readings.
package telemetry

import (
	"math"
	"sort"

	"tanklink/backend/internal/telemetry/domain"
)

// EstimateKind classifies a depletion estimate outcome.
type EstimateKind string

const (
	// EstimateIndeterminate means there are too few readings to project from.
	EstimateIndeterminate EstimateKind = "indeterminate"
	// EstimateStable means the level is flat or rising (e.g. a refill occurred).
	EstimateStable EstimateKind = "stable"
	// EstimateDays means Days holds a projected number of days until empty.
	EstimateDays EstimateKind = "days"
)

// DepletionEstimate is the advisory "days remaining" projection shown next to
// a device's history chart. It carries no alerting obligation.
type DepletionEstimate struct {
	Kind EstimateKind `json:"kind"`
	Days int          `json:"days,omitempty"` // meaningful only when Kind == EstimateDays
}

// EstimateDaysRemaining projects days until empty from a window of readings.
//
// The projection is a constant-rate line through only the oldest and newest
// sample in the window; intermediate points are deliberately ignored. That
// matches the shipped consumer app's behavior and must not be upgraded to a
// least-squares fit without changing this contract.
//
// Readings are sorted defensively by timestamp before use, since store order
// is not guaranteed. The elapsed time is floored at one day so that readings
// within a single day cannot blow up the rate.
func EstimateDaysRemaining(readings []*domain.Reading) DepletionEstimate {
	if len(readings) < 2 {
		return DepletionEstimate{Kind: EstimateIndeterminate}
	}

	sorted := make([]*domain.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})

	oldest := sorted[0]
	newest := sorted[len(sorted)-1]

	elapsedDays := newest.RecordedAt.Sub(oldest.RecordedAt).Hours() / 24
	if elapsedDays < 1 {
		elapsedDays = 1
	}

	if oldest.Level == newest.Level {
		return DepletionEstimate{Kind: EstimateStable}
	}

	dailyRate := (oldest.Level - newest.Level) / elapsedDays
	if dailyRate <= 0 {
		return DepletionEstimate{Kind: EstimateStable}
	}

	return DepletionEstimate{
		Kind: EstimateDays,
		Days: int(math.Round(newest.Level / dailyRate)),
	}
}
