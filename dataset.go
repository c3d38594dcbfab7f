package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"abide_site_adaptation/logx"
)

const (
	phenotypeFile = "Phenotypic_V1_0b_preprocessed1.csv"
	pcpRoot       = "ABIDE_pcp"
	pcpPipeline   = "cpac"
)

// Quality-control rater columns checked when --quality-checked is on.
// A subject is dropped when any rater marked it "fail".
var qcColumns = []string{
	"qc_rater_1",
	"qc_anat_rater_2",
	"qc_func_rater_2",
	"qc_anat_rater_3",
	"qc_func_rater_3",
}

// RawTable is a plain string table with named columns, one row per subject.
type RawTable struct {
	Columns []string
	Rows    [][]string

	colIdx map[string]int
}

// NewRawTable builds a table and its column index.
func NewRawTable(columns []string, rows [][]string) *RawTable {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &RawTable{Columns: columns, Rows: rows, colIdx: idx}
}

// HasColumn reports whether the named column exists.
func (t *RawTable) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// Value returns the cell at (row, column name). Missing columns yield "".
func (t *RawTable) Value(row int, name string) string {
	i, ok := t.colIdx[name]
	if !ok || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// Len returns the number of rows.
func (t *RawTable) Len() int { return len(t.Rows) }

// Dataset pairs the raw phenotype rows with per-subject ROI time series.
// TimeSeries[i] belongs to Phenotypes.Rows[i]; each matrix is
// timepoints x regions.
type Dataset struct {
	Phenotypes *RawTable
	TimeSeries []*mat.Dense
}

// derivativeFolder maps the preprocessing toggles onto the on-disk strategy
// folder used by the ABIDE preprocessed connectomes release
// (filt_global, filt_noglobal, nofilt_global, nofilt_noglobal).
func derivativeFolder(bandPass, globalSignal bool) string {
	filt := "nofilt"
	if bandPass {
		filt = "filt"
	}
	gsr := "noglobal"
	if globalSignal {
		gsr = "global"
	}
	return filt + "_" + gsr
}

// fetchDataset loads the ABIDE preprocessed-connectomes cache below inputDir.
// Downloading and cache population are someone else's job; an absent cache is
// a fatal error. Subjects failing quality control, lacking a FILE_ID, or
// missing their time-series file are dropped so that the phenotype rows and
// the series stay index-aligned.
func fetchDataset(cfg Config, log logx.Logger) (*Dataset, error) {
	phenoPath := filepath.Join(cfg.InputDir, pcpRoot, phenotypeFile)
	raw, err := loadCSVTable(phenoPath)
	if err != nil {
		return nil, fmt.Errorf("loading phenotype table: %w (populate the ABIDE cache under %s first)", err, cfg.InputDir)
	}
	log.Infof("Loaded %d phenotype rows from %s", raw.Len(), phenoPath)

	if !raw.HasColumn("FILE_ID") {
		return nil, fmt.Errorf("phenotype table %s has no FILE_ID column", phenoPath)
	}

	seriesDir := filepath.Join(cfg.InputDir, pcpRoot, pcpPipeline,
		derivativeFolder(cfg.BandPassFiltering, cfg.GlobalSignalRegression))

	var (
		keptRows [][]string
		series   []*mat.Dense
		missing  int
	)
	for i := 0; i < raw.Len(); i++ {
		fileID := raw.Value(i, "FILE_ID")
		if fileID == "" || fileID == "no_filename" {
			continue
		}
		if cfg.QualityChecked && qcFailed(raw, i) {
			continue
		}

		path := filepath.Join(seriesDir, fmt.Sprintf("%s_rois_%s.1D", fileID, cfg.Atlas))
		ts, err := loadTimeSeries1D(path)
		if err != nil {
			if os.IsNotExist(err) {
				missing++
				log.Warnf("No %s time series for subject %s, dropping", cfg.Atlas, fileID)
				continue
			}
			return nil, fmt.Errorf("loading time series for %s: %w", fileID, err)
		}
		keptRows = append(keptRows, raw.Rows[i])
		series = append(series, ts)
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("no usable subjects under %s (derivative rois_%s)", seriesDir, cfg.Atlas)
	}
	if missing > 0 {
		log.Warnf("Dropped %d subjects with missing time-series files", missing)
	}
	log.Infof("Dataset ready: %d subjects, derivative rois_%s (%s)",
		len(series), cfg.Atlas, derivativeFolder(cfg.BandPassFiltering, cfg.GlobalSignalRegression))

	return &Dataset{
		Phenotypes: NewRawTable(raw.Columns, keptRows),
		TimeSeries: series,
	}, nil
}

func qcFailed(t *RawTable, row int) bool {
	for _, col := range qcColumns {
		if !t.HasColumn(col) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(t.Value(row, col)), "fail") {
			return true
		}
	}
	return false
}

// loadCSVTable reads a header-first CSV file into a RawTable.
func loadCSVTable(path string) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]string, len(rec))
		copy(row, rec)
		rows = append(rows, row)
	}
	return NewRawTable(header, rows), nil
}

// loadTimeSeries1D reads a whitespace-separated ROI time-series file
// (.1D): one row per timepoint, one column per region. Lines starting
// with '#' are header lines and skipped.
func loadTimeSeries1D(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		data []float64
		rows int
		cols int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if cols == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%s: ragged row %d (%d fields, want %d)", path, rows+1, len(fields), cols)
		}
		for _, fstr := range fields {
			v, err := strconv.ParseFloat(fstr, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, rows+1, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%s: empty time series", path)
	}
	return mat.NewDense(rows, cols, data), nil
}
