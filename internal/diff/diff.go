package diff

import (
	"sort"

	"ProposalTracker/internal/domain"
)

// Result is the outcome of comparing a fresh listing with the cached snapshot.
type Result struct {
	// New holds full records whose numbers were absent from the snapshot,
	// ascending by number.
	New []domain.Proposal
	// Missing lists snapshot numbers that the fresh listing no longer carries.
	Missing []int
	// Baseline is true when no snapshot existed and nothing is reported as new.
	Baseline bool
	// Current is the number set to persist as the next snapshot.
	Current []int
}

// Compute diffs current against previous by proposal number only. When
// hadSnapshot is false the call establishes a baseline and reports no new items.
func Compute(current []domain.Proposal, previous []int, hadSnapshot bool) Result {
	res := Result{Current: domain.SortedNumbers(current)}

	if !hadSnapshot {
		res.Baseline = true
		res.New = []domain.Proposal{}
		return res
	}

	known := make(map[int]struct{}, len(previous))
	for _, n := range previous {
		known[n] = struct{}{}
	}

	seen := make(map[int]struct{}, len(current))
	fresh := make([]domain.Proposal, 0)
	for _, p := range current {
		if _, ok := known[p.Number]; ok {
			continue
		}
		if _, dup := seen[p.Number]; dup {
			continue
		}
		seen[p.Number] = struct{}{}
		fresh = append(fresh, p)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Number < fresh[j].Number })
	res.New = fresh

	present := make(map[int]struct{}, len(res.Current))
	for _, n := range res.Current {
		present[n] = struct{}{}
	}
	for _, n := range previous {
		if _, ok := present[n]; !ok {
			res.Missing = append(res.Missing, n)
		}
	}
	sort.Ints(res.Missing)

	return res
}
