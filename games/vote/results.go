/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package vote

import (
	"cmp"
	"math"
	"slices"
)

type OptionResult struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Votes   int     `json:"votes"`
	Percent float64 `json:"percent"`
}

// Results is the tally of a poll, options kept in poll order.
type Results struct {
	PollID  string         `json:"poll_id"`
	Variant Variant        `json:"variant"`
	Total   int            `json:"total"`
	Options []OptionResult `json:"options"`
}

// Compute tallies a poll. Total counts votes, not voters: a multi-select
// ballot contributes once to every option it picked.
func Compute(p Poll) Results {
	total := 0
	for _, o := range p.Options {
		total += o.Votes
	}

	res := Results{
		PollID:  p.ID,
		Variant: p.Variant,
		Total:   total,
		Options: make([]OptionResult, len(p.Options)),
	}
	for i, o := range p.Options {
		res.Options[i] = OptionResult{ID: o.ID, Text: o.Text, Votes: o.Votes}
		if total > 0 {
			res.Options[i].Percent = float64(o.Votes) / float64(total) * 100
		}
	}

	return res
}

// Round converts percentages to whole numbers summing to 100 using the
// largest remainder method. Ties go to the earlier option. All zeros are
// returned when nobody has voted.
func Round(r Results) []int {
	out := make([]int, len(r.Options))
	if r.Total == 0 {
		return out
	}

	type rem struct {
		i    int
		frac float64
	}
	rems := make([]rem, len(r.Options))
	left := 100
	for i, o := range r.Options {
		whole := math.Floor(o.Percent)
		out[i] = int(whole)
		left -= out[i]
		rems[i] = rem{i: i, frac: o.Percent - whole}
	}

	slices.SortStableFunc(rems, func(a, b rem) int { return cmp.Compare(b.frac, a.frac) })
	for k := 0; k < left && k < len(rems); k++ {
		out[rems[k].i]++
	}

	return out
}
