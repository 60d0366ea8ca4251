// Package rating implements the Elo and Glicko-2 rating mathematics.
//
// The functions here are pure: no database access, no randomness. The rating
// engine loads current leaderboard values, runs these updates, and writes the
// results back inside its own transaction.
package rating

import "math"

// Outcome is the score a subject earned in one comparison.
type Outcome float64

const (
	Win  Outcome = 1.0
	Loss Outcome = 0.0
	Tie  Outcome = 0.5
)

// Opposite returns the opponent's outcome.
func (o Outcome) Opposite() Outcome {
	switch o {
	case Win:
		return Loss
	case Loss:
		return Win
	default:
		return Tie
	}
}

// EloExpectedScore returns the win probability of a player rated ratingA
// against a player rated ratingB.
func EloExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// EloUpdate returns the new rating after one comparison with the given
// K-factor, floored at minRating.
func EloUpdate(rating, expected float64, actual Outcome, kFactor, minRating float64) float64 {
	next := rating + kFactor*(float64(actual)-expected)
	return math.Max(minRating, next)
}

// EloPair applies a single comparison to both sides using their
// pre-comparison ratings and returns the new (a, b) ratings. The deltas are
// symmetric: whatever A gains, B loses, up to the minRating floor.
func EloPair(ratingA, ratingB float64, outcomeA Outcome, kFactor, minRating float64) (float64, float64) {
	expectedA := EloExpectedScore(ratingA, ratingB)
	expectedB := EloExpectedScore(ratingB, ratingA)
	newA := EloUpdate(ratingA, expectedA, outcomeA, kFactor, minRating)
	newB := EloUpdate(ratingB, expectedB, outcomeA.Opposite(), kFactor, minRating)
	return newA, newB
}
