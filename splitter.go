package main

import (
	"fmt"
	"math/rand"
	"sort"

	"abide_site_adaptation/logx"
)

// SplitKind is a closed enumeration of cross-validation strategies.
type SplitKind int

const (
	SplitStratifiedKFold SplitKind = iota
	SplitLeavePGroupsOut
)

// ParseSplit resolves a split tag, failing with a named error on an
// unrecognized tag.
func ParseSplit(name string) (SplitKind, error) {
	switch name {
	case "skf":
		return SplitStratifiedKFold, nil
	case "lpgo":
		return SplitLeavePGroupsOut, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSplit, name)
}

// TrainTest is one train/test partition of row indices.
type TrainTest struct {
	Train []int
	Test  []int
}

// Splitter generates train/test index pairs from class labels and group
// identifiers. Implementations must be deterministic for a fixed receiver:
// calling Split twice yields identical partitions.
type Splitter interface {
	Split(y []int, groups []string) ([]TrainTest, error)
	Name() string
}

// newSplitter builds the configured cross-validation splitter. The seed is
// only consumed by the stratified k-fold strategy; leave-p-groups-out is
// exhaustive over group combinations and ignores it.
func newSplitter(split string, numFolds, numRepeats int, seed int64, log logx.Logger) (Splitter, error) {
	kind, err := ParseSplit(split)
	if err != nil {
		return nil, err
	}

	log.Infof("Creating %s cross-validation splitter...", split)
	log.Infof("Number of folds: %d", numFolds)
	log.Infof("Number of repeats: %d", numRepeats)

	switch kind {
	case SplitLeavePGroupsOut:
		return &LeavePGroupsOut{P: numFolds}, nil
	default:
		return &RepeatedStratifiedKFold{
			NumFolds:   numFolds,
			NumRepeats: numRepeats,
			Seed:       seed,
		}, nil
	}
}

// RepeatedStratifiedKFold shuffles subjects within each class and deals them
// round-robin into folds, preserving the class ratio per fold. Each repeat
// reshuffles with a fresh sub-seed drawn from the splitter's seed stream.
type RepeatedStratifiedKFold struct {
	NumFolds   int
	NumRepeats int
	Seed       int64
}

func (s *RepeatedStratifiedKFold) Name() string { return "skf" }

func (s *RepeatedStratifiedKFold) Split(y []int, groups []string) ([]TrainTest, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("stratified k-fold: no samples")
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	for label, members := range byClass {
		if len(members) < s.NumFolds {
			return nil, fmt.Errorf("stratified k-fold: class %d has %d members, need at least %d",
				label, len(members), s.NumFolds)
		}
	}

	// Deterministic class order regardless of map iteration.
	classes := make([]int, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	sort.Ints(classes)

	seeds := rand.New(rand.NewSource(s.Seed))
	var out []TrainTest
	for r := 0; r < s.NumRepeats; r++ {
		rng := rand.New(rand.NewSource(seeds.Int63()))

		foldOf := make([]int, len(y))
		for _, label := range classes {
			members := append([]int(nil), byClass[label]...)
			rng.Shuffle(len(members), func(i, j int) {
				members[i], members[j] = members[j], members[i]
			})
			for k, idx := range members {
				foldOf[idx] = k % s.NumFolds
			}
		}

		for f := 0; f < s.NumFolds; f++ {
			var tt TrainTest
			for i := range y {
				if foldOf[i] == f {
					tt.Test = append(tt.Test, i)
				} else {
					tt.Train = append(tt.Train, i)
				}
			}
			out = append(out, tt)
		}
	}
	return out, nil
}

// LeavePGroupsOut holds out every combination of P distinct group labels as
// the test set. The enumeration is exhaustive and ordered, so there is no
// randomness to seed.
type LeavePGroupsOut struct {
	P int
}

func (s *LeavePGroupsOut) Name() string { return "lpgo" }

func (s *LeavePGroupsOut) Split(y []int, groups []string) ([]TrainTest, error) {
	if len(groups) != len(y) {
		return nil, fmt.Errorf("leave-p-groups-out: %d labels but %d group ids", len(y), len(groups))
	}

	uniq := uniqueSorted(groups)
	if s.P < 1 || s.P >= len(uniq) {
		return nil, fmt.Errorf("leave-p-groups-out: p=%d needs 1 <= p < %d distinct groups", s.P, len(uniq))
	}

	var out []TrainTest
	forEachCombination(len(uniq), s.P, func(chosen []int) {
		held := make(map[string]bool, s.P)
		for _, c := range chosen {
			held[uniq[c]] = true
		}
		var tt TrainTest
		for i, g := range groups {
			if held[g] {
				tt.Test = append(tt.Test, i)
			} else {
				tt.Train = append(tt.Train, i)
			}
		}
		out = append(out, tt)
	})
	return out, nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// forEachCombination visits every k-combination of {0..n-1} in lexicographic
// order. The callback must not retain the slice.
func forEachCombination(n, k int, visit func([]int)) {
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		visit(idx)

		// Advance the rightmost index that can still move.
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
