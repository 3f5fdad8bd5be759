package matching

import (
	"sort"

	"forecast-reconciliation/internal/models"
)

// Pairing is one accepted order/GL pair produced by a run.
type Pairing struct {
	OrderForecastID int64
	GLEntryID       int64
	Status          string // models.StatusMatched or models.StatusFuzzy
	Confidence      float64
}

// RunResult carries the pairings and statistics of a single run. A fresh
// value is produced per invocation; the engine keeps no state between runs.
type RunResult struct {
	Pairings            []Pairing
	UnmatchedOrderIDs   []int64
	UnmatchedGLIDs      []int64
	MatchedCount        int
	FuzzyMatchedCount   int
	UnmatchedOrderCount int
	UnmatchedGLCount    int
	TotalOrderCount     int
	TotalGLCount        int
}

// Engine pairs order-forecast lines with GL entries for one period. It is a
// pure computation: callers load the pools and persist the result.
type Engine struct {
	scorer *Scorer
}

func NewEngine(cfg Config) *Engine {
	return &Engine{scorer: NewScorer(cfg)}
}

type fuzzyCandidate struct {
	order *models.OrderForecastLine
	gl    *models.GLEntry
	score Score
}

// Run executes the exact pass, then (in fuzzy mode) the fuzzy pass, over the
// given pools. Excluded GL entries are never candidates but still count
// toward the totals and the unmatched GL count. Inputs are not mutated.
//
// Determinism: the exact pass walks order lines in ascending (createdAt, id)
// order and takes the first exact candidate in the same GL ordering. Fuzzy
// candidates are processed in descending confidence, ties broken by ascending
// order id then ascending GL id, so results reproduce across runs over
// unchanged data.
func (e *Engine) Run(orders []*models.OrderForecastLine, gls []*models.GLEntry, mode string) *RunResult {
	result := &RunResult{
		TotalOrderCount: len(orders),
		TotalGLCount:    len(gls),
	}

	sortedOrders := make([]*models.OrderForecastLine, len(orders))
	copy(sortedOrders, orders)
	sort.Slice(sortedOrders, func(i, j int) bool {
		if !sortedOrders[i].CreatedAt.Equal(sortedOrders[j].CreatedAt) {
			return sortedOrders[i].CreatedAt.Before(sortedOrders[j].CreatedAt)
		}
		return sortedOrders[i].ID < sortedOrders[j].ID
	})

	var pool []*models.GLEntry
	for _, gl := range gls {
		if !gl.IsExcluded {
			pool = append(pool, gl)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].CreatedAt.Equal(pool[j].CreatedAt) {
			return pool[i].CreatedAt.Before(pool[j].CreatedAt)
		}
		return pool[i].ID < pool[j].ID
	})

	pairedOrders := make(map[int64]bool)
	pairedGLs := make(map[int64]bool)

	for _, order := range sortedOrders {
		for _, gl := range pool {
			if pairedGLs[gl.ID] {
				continue
			}
			if score := e.scorer.Score(order, gl); score.Classification == ClassExact {
				result.Pairings = append(result.Pairings, Pairing{
					OrderForecastID: order.ID,
					GLEntryID:       gl.ID,
					Status:          models.StatusMatched,
					Confidence:      score.Confidence,
				})
				pairedOrders[order.ID] = true
				pairedGLs[gl.ID] = true
				result.MatchedCount++
				break
			}
		}
	}

	if mode == models.ModeFuzzy {
		var candidates []fuzzyCandidate
		for _, order := range sortedOrders {
			if pairedOrders[order.ID] {
				continue
			}
			for _, gl := range pool {
				if pairedGLs[gl.ID] {
					continue
				}
				if score := e.scorer.Score(order, gl); score.Classification == ClassFuzzy {
					candidates = append(candidates, fuzzyCandidate{order: order, gl: gl, score: score})
				}
			}
		}

		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].score.Confidence != candidates[j].score.Confidence {
				return candidates[i].score.Confidence > candidates[j].score.Confidence
			}
			if candidates[i].order.ID != candidates[j].order.ID {
				return candidates[i].order.ID < candidates[j].order.ID
			}
			return candidates[i].gl.ID < candidates[j].gl.ID
		})

		for _, c := range candidates {
			if pairedOrders[c.order.ID] || pairedGLs[c.gl.ID] {
				continue
			}
			result.Pairings = append(result.Pairings, Pairing{
				OrderForecastID: c.order.ID,
				GLEntryID:       c.gl.ID,
				Status:          models.StatusFuzzy,
				Confidence:      c.score.Confidence,
			})
			pairedOrders[c.order.ID] = true
			pairedGLs[c.gl.ID] = true
			result.FuzzyMatchedCount++
		}
	}

	for _, order := range sortedOrders {
		if !pairedOrders[order.ID] {
			result.UnmatchedOrderIDs = append(result.UnmatchedOrderIDs, order.ID)
			result.UnmatchedOrderCount++
		}
	}
	for _, gl := range gls {
		if !pairedGLs[gl.ID] {
			result.UnmatchedGLIDs = append(result.UnmatchedGLIDs, gl.ID)
			result.UnmatchedGLCount++
		}
	}

	return result
}
