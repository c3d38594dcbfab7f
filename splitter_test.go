package main

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balancedLabels(perClass int) []int {
	y := make([]int, 0, 2*perClass)
	for i := 0; i < perClass; i++ {
		y = append(y, 0, 1)
	}
	return y
}

func TestStratifiedKFoldPartitionsEverySample(t *testing.T) {
	y := balancedLabels(10)
	s := &RepeatedStratifiedKFold{NumFolds: 5, NumRepeats: 1, Seed: 42}

	splits, err := s.Split(y, nil)
	require.NoError(t, err)
	require.Len(t, splits, 5)

	seen := make([]int, len(y))
	for _, tt := range splits {
		assert.Len(t, tt.Train, len(y)-len(tt.Test))
		for _, i := range tt.Test {
			seen[i]++
		}
		both := make(map[int]bool)
		for _, i := range tt.Train {
			both[i] = true
		}
		for _, i := range tt.Test {
			assert.False(t, both[i], "index %d in both train and test", i)
		}
	}
	// Each sample is tested exactly once per repeat.
	for i, n := range seen {
		assert.Equal(t, 1, n, "sample %d", i)
	}
}

func TestStratifiedKFoldPreservesClassRatio(t *testing.T) {
	y := balancedLabels(10)
	s := &RepeatedStratifiedKFold{NumFolds: 5, NumRepeats: 1, Seed: 7}

	splits, err := s.Split(y, nil)
	require.NoError(t, err)

	for _, tt := range splits {
		counts := map[int]int{}
		for _, i := range tt.Test {
			counts[y[i]]++
		}
		assert.Equal(t, counts[0], counts[1], "test fold must stay balanced")
	}
}

func TestStratifiedKFoldRepeatsDiffer(t *testing.T) {
	y := balancedLabels(20)
	s := &RepeatedStratifiedKFold{NumFolds: 5, NumRepeats: 2, Seed: 1}

	splits, err := s.Split(y, nil)
	require.NoError(t, err)
	require.Len(t, splits, 10)

	same := true
	for f := 0; f < 5; f++ {
		a := append([]int(nil), splits[f].Test...)
		b := append([]int(nil), splits[5+f].Test...)
		sort.Ints(a)
		sort.Ints(b)
		if !assert.ObjectsAreEqual(a, b) {
			same = false
		}
	}
	assert.False(t, same, "repeats must reshuffle the fold assignment")
}

func TestStratifiedKFoldIsDeterministic(t *testing.T) {
	y := balancedLabels(15)
	a := &RepeatedStratifiedKFold{NumFolds: 3, NumRepeats: 2, Seed: 99}
	b := &RepeatedStratifiedKFold{NumFolds: 3, NumRepeats: 2, Seed: 99}

	sa, err := a.Split(y, nil)
	require.NoError(t, err)
	sb, err := b.Split(y, nil)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestStratifiedKFoldSeedChangesFolds(t *testing.T) {
	y := balancedLabels(20)
	a := &RepeatedStratifiedKFold{NumFolds: 5, NumRepeats: 1, Seed: 1}
	b := &RepeatedStratifiedKFold{NumFolds: 5, NumRepeats: 1, Seed: 2}

	sa, err := a.Split(y, nil)
	require.NoError(t, err)
	sb, err := b.Split(y, nil)
	require.NoError(t, err)
	assert.NotEqual(t, sa, sb)
}

func TestStratifiedKFoldRejectsTinyClass(t *testing.T) {
	y := []int{0, 0, 0, 0, 0, 1, 1} // class 1 has 2 members
	s := &RepeatedStratifiedKFold{NumFolds: 3, NumRepeats: 1, Seed: 0}
	_, err := s.Split(y, nil)
	require.Error(t, err)
}

func TestLeavePGroupsOutEnumeratesCombinations(t *testing.T) {
	y := []int{0, 1, 0, 1, 0, 1}
	groups := []string{"NYU", "NYU", "UCLA", "UCLA", "YALE", "YALE"}

	s := &LeavePGroupsOut{P: 1}
	splits, err := s.Split(y, groups)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	// Groups enumerate in sorted order, so the first fold holds out NYU.
	assert.Equal(t, []int{0, 1}, splits[0].Test)
	assert.Equal(t, []int{2, 3}, splits[1].Test)
	assert.Equal(t, []int{4, 5}, splits[2].Test)

	for _, tt := range splits {
		heldOut := map[string]bool{}
		for _, i := range tt.Test {
			heldOut[groups[i]] = true
		}
		assert.Len(t, heldOut, 1)
		for _, i := range tt.Train {
			assert.False(t, heldOut[groups[i]], "train row leaks a held-out group")
		}
	}
}

func TestLeavePGroupsOutPairCount(t *testing.T) {
	groups := []string{"A", "B", "C", "D"}
	y := []int{0, 1, 0, 1}

	s := &LeavePGroupsOut{P: 2}
	splits, err := s.Split(y, groups)
	require.NoError(t, err)
	assert.Len(t, splits, 6) // C(4,2)
}

func TestLeavePGroupsOutRejectsBadP(t *testing.T) {
	groups := []string{"A", "A", "B"}
	y := []int{0, 1, 0}

	for _, p := range []int{0, 2, 3} {
		s := &LeavePGroupsOut{P: p}
		_, err := s.Split(y, groups)
		require.Error(t, err, "p=%d", p)
	}
}

func TestNewSplitterFactory(t *testing.T) {
	log := silentLog()

	s, err := newSplitter("skf", 5, 2, 3, log)
	require.NoError(t, err)
	assert.Equal(t, "skf", s.Name())

	s, err = newSplitter("lpgo", 1, 1, 3, log)
	require.NoError(t, err)
	assert.Equal(t, "lpgo", s.Name())

	_, err = newSplitter("holdout", 5, 1, 3, log)
	require.ErrorIs(t, err, ErrUnknownSplit)
}
