// Package dataset loads tabular regression data and splits it for
// held-out scoring and cross-validation.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
)

// Dataset is a feature matrix with one target value per row.
type Dataset struct {
	X        *mat.Dense
	Y        []float64
	Features []string
	Target   string
}

// New builds a dataset from row-major features.
func New(rows [][]float64, y []float64) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, apperrors.Configuration("dataset has no rows")
	}
	if len(rows) != len(y) {
		return nil, apperrors.Configuration("dataset has %d rows but %d targets", len(rows), len(y))
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, apperrors.Configuration("dataset has no features")
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, apperrors.Configuration("row %d has %d features, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	features := make([]string, cols)
	for j := range features {
		features[j] = fmt.Sprintf("x%d", j)
	}
	return &Dataset{
		X:        mat.NewDense(len(rows), cols, data),
		Y:        append([]float64(nil), y...),
		Features: features,
		Target:   "y",
	}, nil
}

// LoadCSV reads a CSV with a header row. The target column is the one
// named target, or the last column when target is empty; every other
// column is a numeric feature.
func LoadCSV(r io.Reader, target string) (*Dataset, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, apperrors.Wrap(err, "reading csv")
	}
	if len(records) < 2 {
		return nil, apperrors.Configuration("csv needs a header and at least one row")
	}

	header := records[0]
	targetCol := len(header) - 1
	if target != "" {
		targetCol = -1
		for i, h := range header {
			if strings.TrimSpace(h) == target {
				targetCol = i
			}
		}
		if targetCol < 0 {
			return nil, apperrors.Configuration("csv has no column %q", target)
		}
	}
	if len(header) < 2 {
		return nil, apperrors.Configuration("csv needs at least one feature and a target column")
	}

	var features []string
	for i, h := range header {
		if i != targetCol {
			features = append(features, strings.TrimSpace(h))
		}
	}

	rows := make([][]float64, 0, len(records)-1)
	y := make([]float64, 0, len(records)-1)
	for line, rec := range records[1:] {
		row := make([]float64, 0, len(features))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, apperrors.Configuration("line %d column %q: %v", line+2, header[i], err)
			}
			if i == targetCol {
				y = append(y, v)
			} else {
				row = append(row, v)
			}
		}
		rows = append(rows, row)
	}

	d, err := New(rows, y)
	if err != nil {
		return nil, err
	}
	d.Features = features
	d.Target = strings.TrimSpace(header[targetCol])
	return d, nil
}

// LoadCSVFile opens path and reads it with LoadCSV.
func LoadCSVFile(path, target string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "opening dataset %s", path)
	}
	defer f.Close()
	return LoadCSV(f, target)
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Y) }

// Subset returns the rows at idx, in that order.
func (d *Dataset) Subset(idx []int) *Dataset {
	_, cols := d.X.Dims()
	x := mat.NewDense(len(idx), cols, nil)
	y := make([]float64, len(idx))
	for i, r := range idx {
		x.SetRow(i, d.X.RawRowView(r))
		y[i] = d.Y[r]
	}
	return &Dataset{X: x, Y: y, Features: d.Features, Target: d.Target}
}

func permutation(n int, seed int64) []int {
	rng := rand.New(rand.NewPCG(uint64(seed), 0x6461746173657473))
	return rng.Perm(n)
}

// Split shuffles rows with seed and holds out testFraction of them.
func Split(d *Dataset, testFraction float64, seed int64) (train, test *Dataset, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, apperrors.ConfigurationParam("test_fraction", "must be in (0, 1), got %v", testFraction)
	}
	n := d.Len()
	nTest := int(float64(n)*testFraction + 0.5)
	if nTest < 1 || nTest >= n {
		return nil, nil, apperrors.ConfigurationParam("test_fraction", "%v of %d rows leaves an empty split", testFraction, n)
	}
	perm := permutation(n, seed)
	return d.Subset(perm[nTest:]), d.Subset(perm[:nTest]), nil
}

// Fold is one train/test partition of row indices.
type Fold struct {
	Train []int
	Test  []int
}

// KFold partitions n shuffled rows into k folds of near-equal size.
func KFold(n, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, apperrors.ConfigurationParam("folds", "must be at least 2, got %d", k)
	}
	if k > n {
		return nil, apperrors.ConfigurationParam("folds", "%d folds for %d rows", k, n)
	}
	perm := permutation(n, seed)
	folds := make([]Fold, k)
	start := 0
	for i := range folds {
		size := n / k
		if i < n%k {
			size++
		}
		test := perm[start : start+size]
		train := make([]int, 0, n-size)
		train = append(train, perm[:start]...)
		train = append(train, perm[start+size:]...)
		folds[i] = Fold{Train: train, Test: append([]int(nil), test...)}
		start += size
	}
	return folds, nil
}
