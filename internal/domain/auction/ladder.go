package auction

import (
	"fmt"
	"sort"

	"github.com/allabud/auction-backend/internal/domain/values"
)

// LadderRule maps a price band to its minimum bid increment. Bands are
// identified by their inclusive lower bound in cents; a rule applies from its
// lower bound up to the next rule's lower bound, the last rule extending to
// infinity.
type LadderRule struct {
	Lower     int64 `koanf:"lower" json:"lower"`
	Increment int64 `koanf:"increment" json:"increment"`
}

// Ladder is the table-driven step function from current price to minimum
// increment. Rules form a sorted, non-overlapping, contiguous partition of
// [0, inf).
type Ladder struct {
	rules []LadderRule
}

// NewLadder validates and builds a ladder from a rule table.
func NewLadder(rules []LadderRule) (*Ladder, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("ladder requires at least one rule")
	}
	sorted := make([]LadderRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lower < sorted[j].Lower })

	if sorted[0].Lower != 0 {
		return nil, fmt.Errorf("first ladder band must start at 0, got %d", sorted[0].Lower)
	}
	for i, r := range sorted {
		if r.Increment <= 0 {
			return nil, fmt.Errorf("ladder increment must be positive at band %d", r.Lower)
		}
		if i > 0 && r.Lower == sorted[i-1].Lower {
			return nil, fmt.Errorf("duplicate ladder band %d", r.Lower)
		}
	}
	return &Ladder{rules: sorted}, nil
}

// DefaultLadderRules is the production increment table, in cents.
func DefaultLadderRules() []LadderRule {
	return []LadderRule{
		{Lower: 0, Increment: 5},
		{Lower: 100, Increment: 25},
		{Lower: 500, Increment: 50},
		{Lower: 1_000, Increment: 100},
		{Lower: 2_500, Increment: 250},
		{Lower: 5_000, Increment: 500},
		{Lower: 10_000, Increment: 1_000},
		{Lower: 25_000, Increment: 2_500},
		{Lower: 50_000, Increment: 5_000},
		{Lower: 100_000, Increment: 10_000},
		{Lower: 250_000, Increment: 25_000},
		{Lower: 500_000, Increment: 50_000},
	}
}

// DefaultLadder builds the production ladder.
func DefaultLadder() *Ladder {
	l, err := NewLadder(DefaultLadderRules())
	if err != nil {
		panic(err)
	}
	return l
}

// Increment returns the minimum increment for the band containing price.
func (l *Ladder) Increment(price values.Money) values.Money {
	cents := price.Cents()
	inc := l.rules[0].Increment
	for _, r := range l.rules {
		if cents < r.Lower {
			break
		}
		inc = r.Increment
	}
	return values.Cents(inc)
}

// MinNextBid returns the lowest acceptable next bid at the given price.
func (l *Ladder) MinNextBid(price values.Money) values.Money {
	return price.Add(l.Increment(price))
}

// Rules returns a copy of the rule table.
func (l *Ladder) Rules() []LadderRule {
	out := make([]LadderRule, len(l.rules))
	copy(out, l.rules)
	return out
}
