package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abide_site_adaptation/logx"
)

func silentLog() logx.Logger {
	return logx.New("test", 0)
}

// phenoTable builds a minimal raw table with the eight required columns and
// one row per entry of values, which overrides the defaults per column.
func phenoTable(t *testing.T, rows []map[string]string) *RawTable {
	t.Helper()
	cols := []string{"SUB_ID", "SITE_ID", "SEX", "AGE_AT_SCAN", "FIQ",
		"HANDEDNESS_CATEGORY", "EYE_STATUS_AT_SCAN", "DX_GROUP", "EXTRA_COL"}

	var out [][]string
	for i, overrides := range rows {
		row := map[string]string{
			"SUB_ID":              string(rune('a' + i)),
			"SITE_ID":             "NYU",
			"SEX":                 "1",
			"AGE_AT_SCAN":         "14.5",
			"FIQ":                 "110",
			"HANDEDNESS_CATEGORY": "R",
			"EYE_STATUS_AT_SCAN":  "1",
			"DX_GROUP":            "1",
			"EXTRA_COL":           "ignored",
		}
		for k, v := range overrides {
			row[k] = v
		}
		rec := make([]string, len(cols))
		for j, c := range cols {
			rec[j] = row[c]
		}
		out = append(out, rec)
	}
	return NewRawTable(cols, out)
}

func TestHandednessRecoding(t *testing.T) {
	cases := map[string]string{
		"L":     "LEFT",
		"R":     "RIGHT",
		"Mixed": "AMBIDEXTROUS",
		"Ambi":  "AMBIDEXTROUS",
		"L->R":  "AMBIDEXTROUS",
		"R->L":  "AMBIDEXTROUS",
		"-9999": "LEFT",
		"":      "LEFT",
		"what":  "LEFT",
	}

	var rows []map[string]string
	var want []string
	for raw, expected := range cases {
		rows = append(rows, map[string]string{"HANDEDNESS_CATEGORY": raw})
		want = append(want, expected)
	}

	p, err := processPhenotypes(phenoTable(t, rows), silentLog())
	require.NoError(t, err)

	valid := map[string]bool{"LEFT": true, "RIGHT": true, "AMBIDEXTROUS": true}
	for i, got := range p.Handedness {
		assert.Equal(t, want[i], got, "raw value %q", rows[i]["HANDEDNESS_CATEGORY"])
		assert.True(t, valid[got], "output %q outside the canonical label set", got)
	}
}

func TestFIQImputation(t *testing.T) {
	rows := []map[string]string{
		{"FIQ": "-9999"},
		{"FIQ": ""},
		{"FIQ": "NaN"},
		{"FIQ": "85"},
		{"FIQ": "121.5"},
	}
	p, err := processPhenotypes(phenoTable(t, rows), silentLog())
	require.NoError(t, err)

	assert.Equal(t, []float64{100, 100, 100, 85, 121.5}, p.FIQ)
}

func TestCategoricalRecoding(t *testing.T) {
	rows := []map[string]string{
		{"SEX": "1", "EYE_STATUS_AT_SCAN": "1", "DX_GROUP": "1"},
		{"SEX": "2", "EYE_STATUS_AT_SCAN": "2", "DX_GROUP": "2"},
	}
	p, err := processPhenotypes(phenoTable(t, rows), silentLog())
	require.NoError(t, err)

	assert.Equal(t, []string{"MALE", "FEMALE"}, p.Sex)
	assert.Equal(t, []string{"OPEN", "CLOSED"}, p.EyeStatus)
	assert.Equal(t, []string{"CONTROL", "ASD"}, p.Diagnosis)
	assert.Equal(t, []int{0, 1}, p.Labels())
}

func TestMissingRequiredColumnIsFatal(t *testing.T) {
	raw := NewRawTable([]string{"SUB_ID", "SITE_ID"}, [][]string{{"a", "NYU"}})
	_, err := processPhenotypes(raw, silentLog())
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestDuplicateSubjectIsFatal(t *testing.T) {
	rows := []map[string]string{
		{"SUB_ID": "x"},
		{"SUB_ID": "x"},
	}
	_, err := processPhenotypes(phenoTable(t, rows), silentLog())
	require.ErrorIs(t, err, ErrDuplicateSubject)
}

func TestFactorsDropFirstLevel(t *testing.T) {
	rows := []map[string]string{
		{"SUB_ID": "s1", "SITE_ID": "NYU", "SEX": "1"},
		{"SUB_ID": "s2", "SITE_ID": "UCLA", "SEX": "2"},
		{"SUB_ID": "s3", "SITE_ID": "YALE", "SEX": "1"},
	}
	p, err := processPhenotypes(phenoTable(t, rows), silentLog())
	require.NoError(t, err)

	factors, names := p.Factors()
	r, c := factors.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, len(names), c)

	// AGE, FIQ, SITE_ID (3 levels -> 2 dummies), SEX (2 levels -> 1 dummy).
	// Handedness and eye status are constant, so they contribute nothing.
	assert.Equal(t, []string{"AGE_AT_SCAN", "FIQ", "SITE_ID_UCLA", "SITE_ID_YALE", "SEX_MALE"}, names)

	// s2 is the only UCLA subject and the only FEMALE (MALE dummy = 0).
	assert.Equal(t, 1.0, factors.At(1, 2))
	assert.Equal(t, 0.0, factors.At(0, 2))
	assert.Equal(t, 0.0, factors.At(1, 4))
	assert.Equal(t, 1.0, factors.At(0, 4))
}

func TestSitesAreCVGroups(t *testing.T) {
	rows := []map[string]string{
		{"SUB_ID": "s1", "SITE_ID": "NYU"},
		{"SUB_ID": "s2", "SITE_ID": "UCLA"},
	}
	p, err := processPhenotypes(phenoTable(t, rows), silentLog())
	require.NoError(t, err)
	assert.Equal(t, []string{"NYU", "UCLA"}, p.Sites())
}
