package selection

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/storage"
)

// Pair is one selected pair of samples. The two candidates always come from
// the same correlation id and different models.
type Pair struct {
	Sample1 storage.SelectionCandidate
	Sample2 storage.SelectionCandidate
}

// Strategy picks up to k pairs from the eligible candidates. voteCounts maps
// model id to its global leaderboard vote count for the requested metric and
// test set; models without a row count as zero. Implementations must be safe
// for concurrent use.
type Strategy interface {
	SelectPairs(candidates []storage.SelectionCandidate, voteCounts map[int64]int, k int) []Pair
}

// correlationGroup is the samples sharing one correlation id, which by
// construction were produced from the same (template, prompt) pair.
type correlationGroup struct {
	id      uuid.UUID
	samples []storage.SelectionCandidate
	models  map[int64]struct{}
}

// groupByCorrelation buckets candidates and keeps only correlations with
// samples from at least two distinct models, the eligibility bar for pairing.
func groupByCorrelation(candidates []storage.SelectionCandidate) []correlationGroup {
	byID := make(map[uuid.UUID]*correlationGroup)
	var order []uuid.UUID
	for _, c := range candidates {
		grp, ok := byID[c.CorrelationID]
		if !ok {
			grp = &correlationGroup{id: c.CorrelationID, models: make(map[int64]struct{})}
			byID[c.CorrelationID] = grp
			order = append(order, c.CorrelationID)
		}
		grp.samples = append(grp.samples, c)
		grp.models[c.ModelID] = struct{}{}
	}

	var groups []correlationGroup
	for _, id := range order {
		if grp := byID[id]; len(grp.models) >= 2 {
			groups = append(groups, *grp)
		}
	}
	return groups
}

// pairWithin picks sample1 uniformly from the group, then sample2 from the
// remaining candidates under a caller-supplied ordering. pickSecond receives
// the candidates with a different model than sample1 and returns the chosen
// index.
func pairWithin(grp correlationGroup, rng *rand.Rand, pickSecond func([]storage.SelectionCandidate) int) (Pair, bool) {
	first := grp.samples[rng.IntN(len(grp.samples))]

	var rest []storage.SelectionCandidate
	for _, c := range grp.samples {
		if c.ModelID != first.ModelID && c.SampleID != first.SampleID {
			rest = append(rest, c)
		}
	}
	if len(rest) == 0 {
		return Pair{}, false
	}
	return Pair{Sample1: first, Sample2: rest[pickSecond(rest)]}, true
}

// UniformStrategy picks correlations and samples uniformly at random.
type UniformStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewUniformStrategy creates the uniform selector. rng may be seeded for
// deterministic tests; pass NewRand() in production.
func NewUniformStrategy(rng *rand.Rand) *UniformStrategy {
	return &UniformStrategy{rng: rng}
}

// SelectPairs picks up to k pairs from k distinct correlations, all choices
// uniform.
func (s *UniformStrategy) SelectPairs(candidates []storage.SelectionCandidate, _ map[int64]int, k int) []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := groupByCorrelation(candidates)
	s.rng.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })

	var pairs []Pair
	for _, grp := range groups {
		if len(pairs) == k {
			break
		}
		pair, ok := pairWithin(grp, s.rng, func(rest []storage.SelectionCandidate) int {
			return s.rng.IntN(len(rest))
		})
		if ok {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// PriorityStrategy biases selection toward under-voted models. With
// probability 0.8 it orders correlations by the mean priority of their
// participating models; otherwise the order is uniform random.
type PriorityStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPriorityStrategy creates the priority selector. rng may be seeded for
// deterministic tests; pass NewRand() in production.
func NewPriorityStrategy(rng *rand.Rand) *PriorityStrategy {
	return &PriorityStrategy{rng: rng}
}

// priorityMix is the probability of using priority ordering instead of
// uniform ordering for a batch.
const priorityMix = 0.8

// SelectPairs picks up to k pairs, weighting toward models with few votes.
func (s *PriorityStrategy) SelectPairs(candidates []storage.SelectionCandidate, voteCounts map[int64]int, k int) []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := groupByCorrelation(candidates)

	// One priority per model per batch, computed in sorted model order so a
	// seeded rng yields reproducible batches. The random band terms keep
	// models with identical vote counts from always colliding in the same
	// pair.
	avg := meanVotes(voteCounts)
	var modelIDs []int64
	seen := make(map[int64]struct{})
	for _, grp := range groups {
		for modelID := range grp.models {
			if _, ok := seen[modelID]; !ok {
				seen[modelID] = struct{}{}
				modelIDs = append(modelIDs, modelID)
			}
		}
	}
	slices.Sort(modelIDs)
	priorities := make(map[int64]float64, len(modelIDs))
	for _, modelID := range modelIDs {
		priorities[modelID] = s.priority(voteCounts[modelID], avg)
	}

	type scored struct {
		grp      correlationGroup
		score    float64
		tiebreak float64
	}
	ordered := make([]scored, len(groups))
	usePriority := s.rng.Float64() < priorityMix
	for i, grp := range groups {
		var sum float64
		for modelID := range grp.models {
			sum += priorities[modelID]
		}
		sc := scored{grp: grp, tiebreak: s.rng.Float64()}
		if usePriority {
			sc.score = sum / float64(len(grp.models))
		}
		ordered[i] = sc
	}
	slices.SortFunc(ordered, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		case a.tiebreak < b.tiebreak:
			return -1
		case a.tiebreak > b.tiebreak:
			return 1
		}
		return 0
	})

	var pairs []Pair
	for _, sc := range ordered {
		if len(pairs) == k {
			break
		}
		pair, ok := pairWithin(sc.grp, s.rng, func(rest []storage.SelectionCandidate) int {
			best, bestScore, bestTie := 0, -1.0, 0.0
			for i, c := range rest {
				tie := s.rng.Float64()
				score := priorities[c.ModelID]
				if score > bestScore || (score == bestScore && tie < bestTie) {
					best, bestScore, bestTie = i, score, tie
				}
			}
			return best
		})
		if ok {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// priority maps a model's vote count to its selection weight. The bands are
// relative to the mean vote count across models in the leaderboard; the
// uniform terms break ties at band boundaries.
func (s *PriorityStrategy) priority(votes int, avg float64) float64 {
	if votes == 0 {
		return 200
	}
	v := float64(votes)
	if thr := max(avg*0.1, 1); v < thr {
		return 150 + s.rng.Float64()*10 + (1 - v/thr)
	}
	if thr := max(avg*0.9, 1); v < thr {
		return 50 + s.rng.Float64()*10 + (1 - v/thr)
	}
	if thr := max(avg*0.99, 1); v < thr {
		return 10 + s.rng.Float64()*5 + (1 - v/thr)
	}
	return 1 - v/max(avg, 1)
}

func meanVotes(voteCounts map[int64]int) float64 {
	if len(voteCounts) == 0 {
		return 0
	}
	var sum int
	for _, v := range voteCounts {
		sum += v
	}
	return float64(sum) / float64(len(voteCounts))
}

// NewRand returns a PCG-backed rand source seeded from crypto-quality
// process entropy via the global generator.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
