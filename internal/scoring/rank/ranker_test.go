package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type entry struct {
	name  string
	score int
}

func TestRankTieGroups(t *testing.T) {
	entries := []entry{
		{"a", 100},
		{"b", 100},
		{"c", 90},
		{"d", 80},
		{"e", 80},
		{"f", 70},
	}

	var ranks []int
	var names []string
	for r, e := range Rank(entries, func(e entry) int { return e.score }) {
		ranks = append(ranks, r)
		names = append(names, e.name)
	}

	assert.Equal(t, []int{1, 1, 3, 4, 4, 6}, ranks)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, names)
}

func TestRankEmpty(t *testing.T) {
	count := 0
	for range Rank(nil, func(e entry) int { return e.score }) {
		count++
	}
	assert.Zero(t, count)
}

func TestRankSingleGroup(t *testing.T) {
	entries := []entry{{"a", 5}, {"b", 5}, {"c", 5}}
	for r := range Rank(entries, func(e entry) int { return e.score }) {
		assert.Equal(t, 1, r)
	}
}

func TestRankRestartable(t *testing.T) {
	entries := []entry{{"a", 2}, {"b", 1}}
	seq := Rank(entries, func(e entry) int { return e.score })

	for pass := 0; pass < 2; pass++ {
		var ranks []int
		for r := range seq {
			ranks = append(ranks, r)
		}
		assert.Equal(t, []int{1, 2}, ranks, "pass %d", pass)
	}
}

func TestRankLazyStopsEarly(t *testing.T) {
	entries := []entry{{"a", 3}, {"b", 2}, {"c", 1}}
	seen := 0
	for range Rank(entries, func(e entry) int { return e.score }) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestConstant(t *testing.T) {
	entries := []entry{{"a", 3}, {"b", 2}}
	var ranks []int
	for r := range Constant(entries, 0) {
		ranks = append(ranks, r)
	}
	assert.Equal(t, []int{0, 0}, ranks)
}
