package engine

// Call Sequencer: per-bar processing order within a group

import "sort"

// CallSequence returns indexes into the group's columns in processing
// order. Auto mode puts prospective sells ahead of buys so freed cash
// can fund same-bar purchases; ties keep declared order. The sequence
// is recomputed every bar since directions change.
func CallSequence(mode CallSeqMode, plans []barPlan) []int {
	order := make([]int, len(plans))
	for i := range order {
		order[i] = i
	}
	if mode != CallSeqAuto {
		return order
	}
	sort.SliceStable(order, func(a, b int) bool {
		return seqRank(plans[order[a]]) < seqRank(plans[order[b]])
	})
	return order
}

// seqRank: sells 0, inactive 1, buys 2.
func seqRank(p barPlan) int {
	if !p.hasOrder {
		return 1
	}
	if p.side == Sell {
		return 0
	}
	return 2
}
