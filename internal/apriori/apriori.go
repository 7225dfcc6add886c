// Package apriori is a level-wise frequent itemset miner producing the rule
// statistics consumed through rules.Miner.
//
// Supports are counted on a vertical layout: every frequent itemset carries
// the bitset of transactions containing it, and a candidate's bitset is the
// intersection of the two itemsets it was joined from.
package apriori

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/nvandessel/rulesim/internal/rules"
)

// Miner mines frequent itemsets with the Apriori candidate scheme.
type Miner struct {
	// MaxLength bounds itemset size; 0 means unbounded.
	MaxLength int
}

// New returns a Miner with no length bound.
func New() *Miner {
	return &Miner{}
}

type frequent struct {
	items rules.Itemset
	tids  bitset
	count int
}

// Mine returns every itemset with support >= minSupport together with the
// base => add splits whose confidence is >= minConfidence. Itemsets with no
// surviving split are omitted. The empty base is included, so single-item
// itemsets yield {} => {item} statistics that rules.Flatten later discards.
func (m *Miner) Mine(ctx context.Context, txs [][]int, minSupport, minConfidence float64) ([]rules.MinedItemset, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("apriori: %w: no transactions", rules.ErrDegenerateMining)
	}
	if minSupport < 0 || minSupport > 1 || minConfidence < 0 || minConfidence > 1 {
		return nil, fmt.Errorf("apriori: thresholds must be in [0, 1], got support=%v confidence=%v", minSupport, minConfidence)
	}

	total := float64(len(txs))
	supports := make(map[string]float64)
	var all []frequent

	level := m.firstLevel(txs, minSupport)
	for size := 1; len(level) > 0; size++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, f := range level {
			supports[f.items.Key()] = float64(f.count) / total
		}
		all = append(all, level...)
		if m.MaxLength > 0 && size >= m.MaxLength {
			break
		}
		level = nextLevel(level, supports, total, minSupport)
	}

	var out []rules.MinedItemset
	for _, f := range all {
		support := supports[f.items.Key()]
		stats := orderedStatistics(f.items, support, supports, minConfidence)
		if len(stats) == 0 {
			continue
		}
		out = append(out, rules.MinedItemset{Items: f.items, Support: support, Statistics: stats})
	}
	return out, nil
}

func (m *Miner) firstLevel(txs [][]int, minSupport float64) []frequent {
	maxItem := 0
	for _, tx := range txs {
		for _, item := range tx {
			maxItem = max(maxItem, item)
		}
	}
	columns := make([]bitset, maxItem+1)
	for t, tx := range txs {
		for _, item := range tx {
			if item < 1 {
				continue
			}
			if columns[item] == nil {
				columns[item] = newBitset(len(txs))
			}
			columns[item].set(t)
		}
	}

	total := float64(len(txs))
	var level []frequent
	for item := 1; item <= maxItem; item++ {
		if columns[item] == nil {
			continue
		}
		count := columns[item].count()
		if float64(count)/total >= minSupport {
			level = append(level, frequent{items: rules.Itemset{item}, tids: columns[item], count: count})
		}
	}
	return level
}

// nextLevel joins itemsets sharing all but their last item and keeps the
// candidates whose every subset is frequent and whose support clears the
// threshold.
func nextLevel(level []frequent, supports map[string]float64, total, minSupport float64) []frequent {
	var next []frequent
	for i := 0; i < len(level); i++ {
		a := level[i].items
		for j := i + 1; j < len(level); j++ {
			b := level[j].items
			if !samePrefix(a, b) {
				break
			}
			cand := make(rules.Itemset, len(a)+1)
			copy(cand, a)
			cand[len(a)] = b[len(b)-1]
			if !subsetsFrequent(cand, supports) {
				continue
			}
			tids := level[i].tids.and(level[j].tids)
			count := tids.count()
			if float64(count)/total >= minSupport {
				next = append(next, frequent{items: cand, tids: tids, count: count})
			}
		}
	}
	return next
}

func samePrefix(a, b rules.Itemset) bool {
	for k := 0; k < len(a)-1; k++ {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func subsetsFrequent(cand rules.Itemset, supports map[string]float64) bool {
	sub := make(rules.Itemset, 0, len(cand)-1)
	for skip := range cand {
		sub = sub[:0]
		for k, item := range cand {
			if k != skip {
				sub = append(sub, item)
			}
		}
		if _, ok := supports[sub.Key()]; !ok {
			return false
		}
	}
	return true
}

// orderedStatistics enumerates every proper base of items, smallest first
// and lexicographically within a size.
func orderedStatistics(items rules.Itemset, support float64, supports map[string]float64, minConfidence float64) []rules.OrderedStatistic {
	var stats []rules.OrderedStatistic
	for size := 0; size < len(items); size++ {
		combinations(len(items), size, func(idx []int) {
			base := make(rules.Itemset, len(idx))
			inBase := make(map[int]bool, len(idx))
			for k, i := range idx {
				base[k] = items[i]
				inBase[i] = true
			}
			add := make(rules.Itemset, 0, len(items)-len(idx))
			for i, item := range items {
				if !inBase[i] {
					add = append(add, item)
				}
			}

			baseSupport := 1.0
			if len(base) > 0 {
				baseSupport = supports[base.Key()]
			}
			if baseSupport == 0 {
				return
			}
			confidence := support / baseSupport
			if confidence < minConfidence {
				return
			}
			lift := 0.0
			if addSupport := supports[add.Key()]; addSupport > 0 {
				lift = confidence / addSupport
			}
			stats = append(stats, rules.OrderedStatistic{Base: base, Add: add, Confidence: confidence, Lift: lift})
		})
	}
	return stats
}

// combinations calls fn with every k-combination of [0, n) in lexicographic
// order. fn must not retain idx.
func combinations(n, k int, fn func(idx []int)) {
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i int) {
	b[i/64] |= 1 << (uint(i) % 64)
}

func (b bitset) and(o bitset) bitset {
	out := make(bitset, len(b))
	for i := range b {
		out[i] = b[i] & o[i]
	}
	return out
}

func (b bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}
