package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
)

const sample = `a,b,price
1,2,10
3,4,20
5,6,30
7,8,40
`

func TestLoadCSV(t *testing.T) {
	d, err := LoadCSV(strings.NewReader(sample), "")
	require.NoError(t, err)

	assert.Equal(t, 4, d.Len())
	assert.Equal(t, []string{"a", "b"}, d.Features)
	assert.Equal(t, "price", d.Target)
	assert.Equal(t, []float64{10, 20, 30, 40}, d.Y)
	assert.Equal(t, []float64{5, 6}, d.X.RawRowView(2))
}

func TestLoadCSVNamedTarget(t *testing.T) {
	d, err := LoadCSV(strings.NewReader(sample), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "price"}, d.Features)
	assert.Equal(t, []float64{1, 3, 5, 7}, d.Y)
	assert.Equal(t, []float64{4, 20}, d.X.RawRowView(1))
}

func TestLoadCSVErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		target string
	}{
		{"header only", "a,b\n", ""},
		{"missing target", sample, "volume"},
		{"not numeric", "a,y\nx,1\n", ""},
		{"single column", "y\n1\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCSV(strings.NewReader(tt.input), tt.target)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}

	_, err := LoadCSV(strings.NewReader("a,y\n1,2,3\n"), "")
	assert.Error(t, err)
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	d, err := LoadCSVFile(path, "price")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Len())

	_, err = LoadCSVFile(filepath.Join(t.TempDir(), "missing.csv"), "")
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = New([][]float64{{1}, {2}}, []float64{1})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = New([][]float64{{1}, {2, 3}}, []float64{1, 2})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func linearRows(n int) ([][]float64, []float64) {
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		rows[i] = []float64{float64(i)}
		y[i] = float64(i)
	}
	return rows, y
}

func TestSplit(t *testing.T) {
	rows, y := linearRows(10)
	d, err := New(rows, y)
	require.NoError(t, err)

	train, test, err := Split(d, 0.3, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, test.Len())

	all := append(append([]float64(nil), train.Y...), test.Y...)
	sort.Float64s(all)
	assert.Equal(t, y, all, "split is a partition")
	for i := 0; i < train.Len(); i++ {
		assert.Equal(t, train.Y[i], train.X.At(i, 0), "rows keep their targets")
	}

	train2, test2, err := Split(d, 0.3, 7)
	require.NoError(t, err)
	assert.Equal(t, train.Y, train2.Y)
	assert.Equal(t, test.Y, test2.Y)

	_, _, err = Split(d, 0, 7)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, _, err = Split(d, 0.01, 7)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestKFold(t *testing.T) {
	folds, err := KFold(10, 3, 1)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	var sizes []int
	seen := map[int]int{}
	for _, f := range folds {
		sizes = append(sizes, len(f.Test))
		assert.Len(t, f.Train, 10-len(f.Test))
		for _, i := range f.Test {
			seen[i]++
		}
		for _, i := range f.Train {
			assert.NotContains(t, f.Test, i)
		}
	}
	assert.Equal(t, []int{4, 3, 3}, sizes)
	assert.Len(t, seen, 10)
	for _, c := range seen {
		assert.Equal(t, 1, c, "every row is tested exactly once")
	}

	_, err = KFold(10, 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = KFold(2, 3, 1)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
