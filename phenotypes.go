package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"abide_site_adaptation/logx"
)

// ErrMissingColumn is returned when a required phenotype column is absent.
var ErrMissingColumn = errors.New("missing required phenotype column")

// ErrDuplicateSubject is returned when SUB_ID values are not unique.
var ErrDuplicateSubject = errors.New("duplicate subject identifier")

// The eight phenotype columns kept by the processor, in output order.
var selectedPhenotypes = []string{
	"SUB_ID",
	"SITE_ID",
	"SEX",
	"AGE_AT_SCAN",
	"FIQ",
	"HANDEDNESS_CATEGORY",
	"EYE_STATUS_AT_SCAN",
	"DX_GROUP",
}

// Canonical recodings for the categorical phenotype columns.
var (
	sexMapping = map[string]string{"1": "MALE", "2": "FEMALE"}
	eyeMapping = map[string]string{"1": "OPEN", "2": "CLOSED"}
	dxMapping  = map[string]string{"1": "CONTROL", "2": "ASD"}

	// Handedness variants collapse to three canonical labels. Anything not
	// listed here, including -9999 and empty cells, defaults to LEFT. The
	// default mirrors the upstream ABIDE processing convention.
	handednessMapping = map[string]string{
		"L":     "LEFT",
		"R":     "RIGHT",
		"Mixed": "AMBIDEXTROUS",
		"Ambi":  "AMBIDEXTROUS",
		"L->R":  "AMBIDEXTROUS",
		"R->L":  "AMBIDEXTROUS",
	}
)

const (
	fiqMissingSentinel = -9999
	fiqImputedValue    = 100
	handednessDefault  = "LEFT"
)

// Phenotypes is the processed subject table, indexed by subject identifier.
// Column slices are index-aligned; categorical columns hold only canonical
// label values.
type Phenotypes struct {
	SubID      []string
	Site       []string
	Sex        []string
	Age        []float64
	FIQ        []float64
	Handedness []string
	EyeStatus  []string
	Diagnosis  []string

	index map[string]int
}

// Len returns the number of subjects.
func (p *Phenotypes) Len() int { return len(p.SubID) }

// RowOf returns the row index for a subject identifier.
func (p *Phenotypes) RowOf(subID string) (int, bool) {
	i, ok := p.index[subID]
	return i, ok
}

// processPhenotypes selects the eight required columns, imputes missing FIQ
// values, and recodes the categorical columns. Extra columns in the input are
// ignored; a missing required column is a fatal error.
func processPhenotypes(raw *RawTable, log logx.Logger) (*Phenotypes, error) {
	log.Infof("Imputing missing values and encoding handedness...")

	for _, col := range selectedPhenotypes {
		if !raw.HasColumn(col) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	n := raw.Len()
	p := &Phenotypes{
		SubID:      make([]string, 0, n),
		Site:       make([]string, 0, n),
		Sex:        make([]string, 0, n),
		Age:        make([]float64, 0, n),
		FIQ:        make([]float64, 0, n),
		Handedness: make([]string, 0, n),
		EyeStatus:  make([]string, 0, n),
		Diagnosis:  make([]string, 0, n),
		index:      make(map[string]int, n),
	}

	for i := 0; i < n; i++ {
		subID := raw.Value(i, "SUB_ID")
		if _, dup := p.index[subID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubject, subID)
		}
		p.index[subID] = len(p.SubID)

		age, _ := strconv.ParseFloat(raw.Value(i, "AGE_AT_SCAN"), 64)

		p.SubID = append(p.SubID, subID)
		p.Site = append(p.Site, raw.Value(i, "SITE_ID"))
		p.Sex = append(p.Sex, recode(sexMapping, raw.Value(i, "SEX"), ""))
		p.Age = append(p.Age, age)
		p.FIQ = append(p.FIQ, imputeFIQ(raw.Value(i, "FIQ")))
		p.Handedness = append(p.Handedness, recode(handednessMapping, raw.Value(i, "HANDEDNESS_CATEGORY"), handednessDefault))
		p.EyeStatus = append(p.EyeStatus, recode(eyeMapping, raw.Value(i, "EYE_STATUS_AT_SCAN"), ""))
		p.Diagnosis = append(p.Diagnosis, recode(dxMapping, raw.Value(i, "DX_GROUP"), ""))
	}

	log.Infof("Imputation and encoding completed (%d subjects)", p.Len())
	return p, nil
}

// imputeFIQ replaces the -9999 sentinel and unparseable/missing values
// with the population-centered default of 100.
func imputeFIQ(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v == fiqMissingSentinel {
		return fiqImputedValue
	}
	return v
}

func recode(mapping map[string]string, value, fallback string) string {
	if out, ok := mapping[value]; ok {
		return out
	}
	return fallback
}

// Labels returns the diagnosis as binary targets: CONTROL=0, ASD=1.
func (p *Phenotypes) Labels() []int {
	y := make([]int, p.Len())
	for i, dx := range p.Diagnosis {
		if dx == "ASD" {
			y[i] = 1
		}
	}
	return y
}

// Sites returns the acquisition-site labels used as CV groups and as the
// domain factor for site adaptation.
func (p *Phenotypes) Sites() []string {
	out := make([]string, p.Len())
	copy(out, p.Site)
	return out
}

// Factors builds the factor matrix driving the data distribution: the
// numeric columns pass through, the categorical columns (except diagnosis)
// are one-hot encoded with the first level dropped. Returns the matrix and
// its column names.
func (p *Phenotypes) Factors() (*mat.Dense, []string) {
	n := p.Len()

	type catColumn struct {
		name   string
		values []string
	}
	cats := []catColumn{
		{"SITE_ID", p.Site},
		{"SEX", p.Sex},
		{"HANDEDNESS_CATEGORY", p.Handedness},
		{"EYE_STATUS_AT_SCAN", p.EyeStatus},
	}

	names := []string{"AGE_AT_SCAN", "FIQ"}
	type dummy struct {
		values []string
		level  string
	}
	var dummies []dummy
	for _, c := range cats {
		for _, level := range dummyLevels(c.values) {
			names = append(names, c.name+"_"+level)
			dummies = append(dummies, dummy{values: c.values, level: level})
		}
	}

	out := mat.NewDense(n, len(names), nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, p.Age[i])
		out.Set(i, 1, p.FIQ[i])
		for j, d := range dummies {
			if d.values[i] == d.level {
				out.Set(i, 2+j, 1)
			}
		}
	}
	return out, names
}

// dummyLevels returns the sorted unique levels of a categorical column with
// the first level dropped (it is implied by the others).
func dummyLevels(values []string) []string {
	seen := make(map[string]bool)
	var levels []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	if len(levels) <= 1 {
		return nil
	}
	return levels[1:]
}

// WriteCSV exports the processed table, SUB_ID first, in the fixed
// eight-column order.
func (p *Phenotypes) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(selectedPhenotypes); err != nil {
		return err
	}
	for i := 0; i < p.Len(); i++ {
		rec := []string{
			p.SubID[i],
			p.Site[i],
			p.Sex[i],
			formatFloat(p.Age[i]),
			formatFloat(p.FIQ[i]),
			p.Handedness[i],
			p.EyeStatus[i],
			p.Diagnosis[i],
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
