// Package rules defines association rules, the boundary to rule miners, and
// the accuracy measures used to compare a mined rule set with the true one.
package rules

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// ErrDegenerateMining is returned by miners that cannot produce rules from a
// batch, e.g. an empty one. Callers treat it as an empty rule set.
var ErrDegenerateMining = errors.New("degenerate mining input")

// Itemset is a sorted, duplicate-free list of item ids.
type Itemset []int

// NewItemset returns the sorted, de-duplicated itemset of items.
func NewItemset(items ...int) Itemset {
	s := slices.Clone(items)
	sort.Ints(s)
	return Itemset(slices.Compact(s))
}

// Key is the canonical encoding of the itemset, e.g. "1,3,4".
func (s Itemset) Key() string {
	var b strings.Builder
	for i, item := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(item))
	}
	return b.String()
}

// ParseItemset decodes a Key.
func ParseItemset(key string) (Itemset, error) {
	if key == "" {
		return Itemset{}, nil
	}
	parts := strings.Split(key, ",")
	items := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		items[i] = n
	}
	return NewItemset(items...), nil
}

func (s Itemset) String() string {
	return "{" + s.Key() + "}"
}

// Rule is an implication Antecedent => Consequent. Two rules are the same
// rule when both sides match; statistics are not part of identity.
type Rule struct {
	Antecedent Itemset `json:"antecedent"`
	Consequent Itemset `json:"consequent"`
}

// Key identifies the rule within a Set.
func (r Rule) Key() string {
	return r.Antecedent.Key() + "=>" + r.Consequent.Key()
}

func (r Rule) String() string {
	return r.Antecedent.String() + " => " + r.Consequent.String()
}

// Record is a mined rule with the statistics it was mined with.
type Record struct {
	Rule
	Support    float64 `json:"support"`
	Confidence float64 `json:"confidence"`
}

// OrderedStatistic is one base => add split of a frequent itemset.
type OrderedStatistic struct {
	Base       Itemset
	Add        Itemset
	Confidence float64
	Lift       float64
}

// MinedItemset is a frequent itemset with the rule statistics that cleared the
// confidence threshold.
type MinedItemset struct {
	Items      Itemset
	Support    float64
	Statistics []OrderedStatistic
}

// Miner mines association rules from basket transactions.
type Miner interface {
	Mine(ctx context.Context, txs [][]int, minSupport, minConfidence float64) ([]MinedItemset, error)
}

// Flatten turns mined itemsets into rule records, discarding rules with an
// empty antecedent or consequent. Both sides are normalized with NewItemset,
// so miners may report items in any order.
func Flatten(mined []MinedItemset) []Record {
	var out []Record
	for _, m := range mined {
		for _, st := range m.Statistics {
			if len(st.Base) == 0 || len(st.Add) == 0 {
				continue
			}
			out = append(out, Record{
				Rule:       Rule{Antecedent: NewItemset(st.Base...), Consequent: NewItemset(st.Add...)},
				Support:    m.Support,
				Confidence: st.Confidence,
			})
		}
	}
	return out
}

// Set is a set of rules keyed by Rule.Key.
type Set map[string]Rule

// NewSet builds a Set from records.
func NewSet(records []Record) Set {
	s := make(Set, len(records))
	for _, r := range records {
		s[r.Key()] = r.Rule
	}
	return s
}

// Add inserts r.
func (s Set) Add(r Rule) {
	s[r.Key()] = r
}

// Contains reports whether r is in the set.
func (s Set) Contains(r Rule) bool {
	_, ok := s[r.Key()]
	return ok
}

// Sorted returns the rules ordered by key.
func (s Set) Sorted() []Rule {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Rule, len(keys))
	for i, k := range keys {
		out[i] = s[k]
	}
	return out
}
