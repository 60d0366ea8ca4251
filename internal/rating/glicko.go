package rating

import (
	"errors"
	"math"
)

// Glicko-2 system constants. Tau constrains how fast volatility can move;
// epsilon is the convergence threshold of the volatility iteration.
const (
	glickoTau     = 0.5
	glickoEpsilon = 1e-6

	// glickoScale converts between the public 1500-centred scale and the
	// internal (mu, phi) scale: mu = (r - 1500) / glickoScale.
	glickoScale = 173.7178

	glickoCenter = 1500.0
	minDeviation = 30.0
	maxDeviation = 350.0
)

// ErrNonConvergent is returned when the volatility iteration fails to
// converge within its iteration budget. The affected comparison is skipped
// and retried on a later run.
var ErrNonConvergent = errors.New("rating: glicko volatility iteration did not converge")

// maxVolatilityIterations bounds the Illinois iteration. Convergence is
// typically reached in well under 30 steps.
const maxVolatilityIterations = 100

// Glicko is a Glicko-2 rating triple on the public 1500-centred scale.
type Glicko struct {
	Rating     float64
	Deviation  float64
	Volatility float64
}

// NewGlicko returns the starting rating for a subject with no history.
func NewGlicko() Glicko {
	return Glicko{Rating: glickoCenter, Deviation: maxDeviation, Volatility: 0.06}
}

// GlickoResult is one opponent and the score earned against them.
type GlickoResult struct {
	Opponent Glicko
	Score    Outcome
}

// g dampens an opponent's influence by their rating deviation.
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+(3.0*phi*phi)/(math.Pi*math.Pi))
}

// e is the expected score of mu against (muOpp, phiOpp), internal scale.
func e(mu, muOpp, phiOpp float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phiOpp)*(mu-muOpp)))
}

// volatilityF is the function whose root is the new volatility, in
// x = ln(sigma^2) space.
func volatilityF(x, delta2, phi2, v, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta2 - phi2 - v - ex)
	den := 2.0 * (phi2 + v + ex) * (phi2 + v + ex)
	return num/den - (x-a)/(glickoTau*glickoTau)
}

// GlickoUpdate runs one canonical Glicko-2 rating period for a subject with
// the given results. With no results the deviation grows and the rating is
// unchanged. The returned deviation is clamped to [30, 350].
func GlickoUpdate(r Glicko, results []GlickoResult) (Glicko, error) {
	mu := (r.Rating - glickoCenter) / glickoScale
	phi := r.Deviation / glickoScale
	sigma := r.Volatility

	if len(results) == 0 {
		phiStar := math.Sqrt(phi*phi + sigma*sigma)
		return Glicko{
			Rating:     r.Rating,
			Deviation:  clampDeviation(glickoScale * phiStar),
			Volatility: sigma,
		}, nil
	}

	// Estimated variance v and improvement delta over all results.
	var vInv, deltaSum float64
	for _, res := range results {
		muOpp := (res.Opponent.Rating - glickoCenter) / glickoScale
		phiOpp := res.Opponent.Deviation / glickoScale
		gOpp := g(phiOpp)
		expected := e(mu, muOpp, phiOpp)
		vInv += gOpp * gOpp * expected * (1 - expected)
		deltaSum += gOpp * (float64(res.Score) - expected)
	}
	if vInv == 0 {
		return Glicko{}, errors.New("rating: glicko variance is zero")
	}
	v := 1.0 / vInv
	delta := v * deltaSum

	// Solve for the new volatility with the Illinois-style iteration.
	phi2 := phi * phi
	delta2 := delta * delta
	a := math.Log(sigma * sigma)

	capitalA := a
	var capitalB float64
	if delta2 > phi2+v {
		capitalB = math.Log(delta2 - phi2 - v)
	} else {
		k := 1.0
		for volatilityF(a-k*glickoTau, delta2, phi2, v, a) < 0 {
			k++
		}
		capitalB = a - k*glickoTau
	}

	fA := volatilityF(capitalA, delta2, phi2, v, a)
	fB := volatilityF(capitalB, delta2, phi2, v, a)
	iterations := 0
	for math.Abs(capitalB-capitalA) > glickoEpsilon {
		if iterations++; iterations > maxVolatilityIterations {
			return Glicko{}, ErrNonConvergent
		}
		capitalC := capitalA + (capitalA-capitalB)*fA/(fB-fA)
		fC := volatilityF(capitalC, delta2, phi2, v, a)
		if fC*fB <= 0 {
			capitalA = capitalB
			fA = fB
		} else {
			fA /= 2
		}
		capitalB = capitalC
		fB = fC
	}
	sigmaPrime := math.Exp(capitalA / 2)

	// New deviation and rating.
	phiStar := math.Sqrt(phi2 + sigmaPrime*sigmaPrime)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)

	var improvement float64
	for _, res := range results {
		muOpp := (res.Opponent.Rating - glickoCenter) / glickoScale
		phiOpp := res.Opponent.Deviation / glickoScale
		improvement += g(phiOpp) * (float64(res.Score) - e(mu, muOpp, phiOpp))
	}
	muPrime := mu + phiPrime*phiPrime*improvement

	return Glicko{
		Rating:     glickoScale*muPrime + glickoCenter,
		Deviation:  clampDeviation(glickoScale * phiPrime),
		Volatility: sigmaPrime,
	}, nil
}

// GlickoPair applies one comparison to both sides from their pre-comparison
// values and returns the new (a, b) ratings.
func GlickoPair(a, b Glicko, outcomeA Outcome) (Glicko, Glicko, error) {
	newA, err := GlickoUpdate(a, []GlickoResult{{Opponent: b, Score: outcomeA}})
	if err != nil {
		return Glicko{}, Glicko{}, err
	}
	newB, err := GlickoUpdate(b, []GlickoResult{{Opponent: a, Score: outcomeA.Opposite()}})
	if err != nil {
		return Glicko{}, Glicko{}, err
	}
	return newA, newB, nil
}

func clampDeviation(rd float64) float64 {
	return math.Min(maxDeviation, math.Max(minDeviation, rd))
}
