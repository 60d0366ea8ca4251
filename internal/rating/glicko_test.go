package rating

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlickoUpdateGlickmanExample(t *testing.T) {
	// The worked example from Glickman's "Example of the Glicko-2 system":
	// a 1500/200 player beats a 1400/30 opponent, loses to 1550/100 and
	// 1700/300, with sigma = 0.06 and tau = 0.5.
	player := Glicko{Rating: 1500, Deviation: 200, Volatility: 0.06}
	results := []GlickoResult{
		{Opponent: Glicko{Rating: 1400, Deviation: 30, Volatility: 0.06}, Score: Win},
		{Opponent: Glicko{Rating: 1550, Deviation: 100, Volatility: 0.06}, Score: Loss},
		{Opponent: Glicko{Rating: 1700, Deviation: 300, Volatility: 0.06}, Score: Loss},
	}

	updated, err := GlickoUpdate(player, results)
	require.NoError(t, err)

	assert.InDelta(t, 1464.06, updated.Rating, 0.5)
	assert.InDelta(t, 151.52, updated.Deviation, 0.5)
	assert.InDelta(t, 0.05999, updated.Volatility, 0.001)
}

func TestGlickoUpdateWinAgainstUncertainOpponent(t *testing.T) {
	player := Glicko{Rating: 1500, Deviation: 200, Volatility: 0.06}
	opponent := Glicko{Rating: 1500, Deviation: 350, Volatility: 0.06}

	updated, err := GlickoUpdate(player, []GlickoResult{{Opponent: opponent, Score: Win}})
	require.NoError(t, err)

	assert.Greater(t, updated.Rating, player.Rating, "winning raises the rating")
	assert.Less(t, updated.Deviation, player.Deviation, "playing reduces uncertainty")
	assert.Greater(t, updated.Deviation, minDeviation)
}

func TestGlickoUpdateDeterministic(t *testing.T) {
	// Reprocessing the same comparison from the same starting state must be
	// bit-identical: the engine relies on this to make crash retries safe.
	player := Glicko{Rating: 1500, Deviation: 200, Volatility: 0.06}
	opponent := Glicko{Rating: 1500, Deviation: 350, Volatility: 0.06}
	results := []GlickoResult{{Opponent: opponent, Score: Win}}

	first, err := GlickoUpdate(player, results)
	require.NoError(t, err)
	second, err := GlickoUpdate(player, results)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGlickoUpdateNoResultsGrowsDeviation(t *testing.T) {
	player := Glicko{Rating: 1500, Deviation: 200, Volatility: 0.06}

	updated, err := GlickoUpdate(player, nil)
	require.NoError(t, err)

	assert.Equal(t, player.Rating, updated.Rating)
	assert.Greater(t, updated.Deviation, player.Deviation)
	assert.Equal(t, player.Volatility, updated.Volatility)
}

func TestGlickoDeviationBounds(t *testing.T) {
	// Grind a pair through many comparisons; RD must stay inside [30, 350].
	a := NewGlicko()
	b := NewGlicko()
	for i := 0; i < 500; i++ {
		outcome := Win
		if i%2 == 1 {
			outcome = Loss
		}
		var err error
		a, b, err = GlickoPair(a, b, outcome)
		require.NoError(t, err)
		require.GreaterOrEqual(t, a.Deviation, 30.0)
		require.LessOrEqual(t, a.Deviation, 350.0)
		require.GreaterOrEqual(t, b.Deviation, 30.0)
		require.LessOrEqual(t, b.Deviation, 350.0)
	}
}

func TestGlickoPairUsesPreComparisonValues(t *testing.T) {
	// Both updates must read the opponents' pre-comparison state: a tie
	// between identical ratings leaves both sides identical.
	a := Glicko{Rating: 1500, Deviation: 120, Volatility: 0.06}
	b := Glicko{Rating: 1500, Deviation: 120, Volatility: 0.06}

	newA, newB, err := GlickoPair(a, b, Tie)
	require.NoError(t, err)

	assert.InDelta(t, newA.Rating, newB.Rating, 1e-9)
	assert.InDelta(t, newA.Deviation, newB.Deviation, 1e-9)
}

func TestGlickoPairZeroSumDirection(t *testing.T) {
	a := Glicko{Rating: 1600, Deviation: 100, Volatility: 0.06}
	b := Glicko{Rating: 1400, Deviation: 100, Volatility: 0.06}

	newA, newB, err := GlickoPair(a, b, Loss)
	require.NoError(t, err)

	assert.Less(t, newA.Rating, a.Rating, "upset loss costs the favorite")
	assert.Greater(t, newB.Rating, b.Rating, "upset win rewards the underdog")
	// An upset moves ratings further than the symmetric expected case.
	assert.Greater(t, math.Abs(newA.Rating-a.Rating), 10.0)
}

func TestNewGlickoStartingValues(t *testing.T) {
	start := NewGlicko()
	assert.Equal(t, 1500.0, start.Rating)
	assert.Equal(t, 350.0, start.Deviation)
	assert.Equal(t, 0.06, start.Volatility)
}
