package engine

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"

	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/rating"
	"github.com/ashita-ai/hikaku/internal/storage"
)

// rowKey identifies one leaderboard row within a run. tagID 0 means the
// global (tagless) row; real tag ids are always positive.
type rowKey struct {
	family    model.Subject
	subjectID int64
	metricID  int64
	testSetID int64
	tagID     int64
}

func (k rowKey) tagPtr() *int64 {
	if k.tagID == 0 {
		return nil
	}
	tag := k.tagID
	return &tag
}

// rowCache holds the leaderboard rows touched during a batch, read lazily
// from the run transaction and flushed back in one pass at commit time.
// Rows that were only read as opponents stay clean and are never written,
// so a comparison does not create phantom zero-vote rows for its opponent's
// missing tag variants.
type rowCache struct {
	tx     *storage.RatingTx
	system model.RatingSystem
	elo    map[rowKey]*model.LeaderboardRow
	glicko map[rowKey]*model.GlickoRow
	dirty  map[rowKey]struct{}
}

func newRowCache(tx *storage.RatingTx, system model.RatingSystem) *rowCache {
	return &rowCache{
		tx:     tx,
		system: system,
		elo:    make(map[rowKey]*model.LeaderboardRow),
		glicko: make(map[rowKey]*model.GlickoRow),
		dirty:  make(map[rowKey]struct{}),
	}
}

// counts is the win/loss/tie increment set of one staged update.
type counts struct {
	votes, wins, losses, ties int
}

func countsFor(outcomes ...rating.Outcome) counts {
	var c counts
	for _, o := range outcomes {
		c.votes++
		switch o {
		case rating.Win:
			c.wins++
		case rating.Loss:
			c.losses++
		default:
			c.ties++
		}
	}
	return c
}

// eloStage and glickoStage are computed updates awaiting apply. Elo stages
// carry deltas so updates to an aliased row (both sides of a comparison
// resolving to the same prompt) accumulate; Glicko stages carry the full
// new triple, with aliased rows collapsed into a single stage upstream.
type eloStage struct {
	key    rowKey
	delta  float64
	counts counts
}

type glickoStage struct {
	key    rowKey
	next   rating.Glicko
	counts counts
}

// stage computes and applies every leaderboard touch of one comparison. All
// new values derive from pre-comparison state; the cache is mutated only
// after the whole comparison computed cleanly.
func (c *rowCache) stage(ctx context.Context, u comparisonUpdate) error {
	var eloStages []eloStage
	var glickoStages []glickoStage

	for _, family := range []model.Subject{model.SubjectModel, model.SubjectPrompt, model.SubjectSample} {
		sa := u.a.subjectID(family)
		sb := u.b.subjectID(family)

		if sa == sb {
			// Both sides resolve to the same subject, the common case for
			// prompts since pairs share a correlation. One stage absorbs
			// both results.
			for _, tagID := range unionVariants(u.a.sample.TagIDs, u.b.sample.TagIDs) {
				key := rowKey{family, sa, u.metricID, u.testSetID, tagID}
				if c.system == model.SystemElo {
					row, err := c.eloRow(ctx, key)
					if err != nil {
						return err
					}
					expected := rating.EloExpectedScore(row.Rating, row.Rating)
					delta := model.EloKFactor * ((float64(u.a.outcome) - expected) + (float64(u.b.outcome) - expected))
					eloStages = append(eloStages, eloStage{key, delta, countsFor(u.a.outcome, u.b.outcome)})
					continue
				}
				row, err := c.glickoRow(ctx, key)
				if err != nil {
					return err
				}
				self := rating.Glicko{Rating: row.Rating, Deviation: row.Deviation, Volatility: row.Volatility}
				next, err := rating.GlickoUpdate(self, []rating.GlickoResult{
					{Opponent: self, Score: u.a.outcome},
					{Opponent: self, Score: u.b.outcome},
				})
				if err != nil {
					return err
				}
				glickoStages = append(glickoStages, glickoStage{key, next, countsFor(u.a.outcome, u.b.outcome)})
			}
			continue
		}

		for _, pair := range []struct{ side, opp pairSide }{{u.a, u.b}, {u.b, u.a}} {
			subj := pair.side.subjectID(family)
			opp := pair.opp.subjectID(family)
			for _, tagID := range sideVariants(pair.side.sample.TagIDs) {
				key := rowKey{family, subj, u.metricID, u.testSetID, tagID}
				oppKey := rowKey{family, opp, u.metricID, u.testSetID, tagID}

				if c.system == model.SystemElo {
					row, err := c.eloRow(ctx, key)
					if err != nil {
						return err
					}
					oppRow, err := c.eloRow(ctx, oppKey)
					if err != nil {
						return err
					}
					expected := rating.EloExpectedScore(row.Rating, oppRow.Rating)
					delta := model.EloKFactor * (float64(pair.side.outcome) - expected)
					eloStages = append(eloStages, eloStage{key, delta, countsFor(pair.side.outcome)})
					continue
				}

				row, err := c.glickoRow(ctx, key)
				if err != nil {
					return err
				}
				oppRow, err := c.glickoRow(ctx, oppKey)
				if err != nil {
					return err
				}
				next, err := rating.GlickoUpdate(
					rating.Glicko{Rating: row.Rating, Deviation: row.Deviation, Volatility: row.Volatility},
					[]rating.GlickoResult{{
						Opponent: rating.Glicko{Rating: oppRow.Rating, Deviation: oppRow.Deviation, Volatility: oppRow.Volatility},
						Score:    pair.side.outcome,
					}},
				)
				if err != nil {
					return err
				}
				glickoStages = append(glickoStages, glickoStage{key, next, countsFor(pair.side.outcome)})
			}
		}
	}

	for _, st := range eloStages {
		row := c.elo[st.key]
		row.Rating = math.Max(model.EloMinRating, row.Rating+st.delta)
		applyCounts := st.counts
		row.VoteCount += applyCounts.votes
		row.WinCount += applyCounts.wins
		row.LossCount += applyCounts.losses
		row.TieCount += applyCounts.ties
		c.dirty[st.key] = struct{}{}
	}
	for _, st := range glickoStages {
		row := c.glicko[st.key]
		row.Rating = st.next.Rating
		row.Deviation = st.next.Deviation
		row.Volatility = st.next.Volatility
		row.VoteCount += st.counts.votes
		row.WinCount += st.counts.wins
		row.LossCount += st.counts.losses
		row.TieCount += st.counts.ties
		c.dirty[st.key] = struct{}{}
	}
	return nil
}

// flush upserts every dirty row, in deterministic key order.
func (c *rowCache) flush(ctx context.Context) error {
	keys := make([]rowKey, 0, len(c.dirty))
	for key := range c.dirty {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b rowKey) int {
		if cmp := strings.Compare(string(a.family), string(b.family)); cmp != 0 {
			return cmp
		}
		switch {
		case a.subjectID != b.subjectID:
			return int(a.subjectID - b.subjectID)
		case a.metricID != b.metricID:
			return int(a.metricID - b.metricID)
		case a.testSetID != b.testSetID:
			return int(a.testSetID - b.testSetID)
		default:
			return int(a.tagID - b.tagID)
		}
	})

	for _, key := range keys {
		if c.system == model.SystemElo {
			if err := c.tx.UpsertEloRow(ctx, key.family, *c.elo[key]); err != nil {
				return err
			}
			continue
		}
		if err := c.tx.UpsertGlickoRow(ctx, key.family, *c.glicko[key]); err != nil {
			return err
		}
	}
	return nil
}

func (c *rowCache) eloRow(ctx context.Context, key rowKey) (*model.LeaderboardRow, error) {
	if row, ok := c.elo[key]; ok {
		return row, nil
	}
	row, err := c.tx.EloRow(ctx, key.family, key.subjectID, key.metricID, key.testSetID, key.tagPtr())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		row = model.LeaderboardRow{
			SubjectID: key.subjectID,
			MetricID:  key.metricID,
			TestSetID: key.testSetID,
			TagID:     key.tagPtr(),
			Rating:    model.EloInitialRating,
		}
	}
	c.elo[key] = &row
	return &row, nil
}

func (c *rowCache) glickoRow(ctx context.Context, key rowKey) (*model.GlickoRow, error) {
	if row, ok := c.glicko[key]; ok {
		return row, nil
	}
	row, err := c.tx.GlickoRow(ctx, key.family, key.subjectID, key.metricID, key.testSetID, key.tagPtr())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		row = model.GlickoRow{
			SubjectID:  key.subjectID,
			MetricID:   key.metricID,
			TestSetID:  key.testSetID,
			TagID:      key.tagPtr(),
			Rating:     model.GlickoInitialRating,
			Deviation:  model.GlickoInitialDeviation,
			Volatility: model.GlickoInitialVolatility,
		}
	}
	c.glicko[key] = &row
	return &row, nil
}

// sideVariants is the tagless variant plus the side's own tag variants.
func sideVariants(tagIDs []int64) []int64 {
	return append([]int64{0}, tagIDs...)
}

// unionVariants is the tagless variant plus the union of both sides' tags.
func unionVariants(a, b []int64) []int64 {
	out := []int64{0}
	seen := make(map[int64]struct{})
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}
