package trials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hyperopt/internal/optimization"
)

func record(t *testing.T, tr *Tracker, x, value float64) Trial {
	t.Helper()
	trial, err := tr.Record(optimization.Params{"x": x}, value, value, time.Unix(0, 0).UTC(), time.Millisecond)
	require.NoError(t, err)
	return trial
}

func TestTrackerBestMinimize(t *testing.T) {
	tr := NewTracker("")
	assert.Equal(t, optimization.Minimize, tr.Direction())
	_, ok := tr.Best()
	assert.False(t, ok)

	record(t, tr, 1, 5)
	record(t, tr, 2, 3)
	record(t, tr, 3, 3)
	record(t, tr, 4, 4)

	best, ok := tr.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.Index, "first of equal values wins")
	assert.Equal(t, 3.0, best.Value)
	assert.Equal(t, 4, tr.Len())
}

func TestTrackerBestMaximize(t *testing.T) {
	tr := NewTracker(optimization.Maximize)
	record(t, tr, 1, 0.2)
	record(t, tr, 2, 0.9)
	record(t, tr, 3, 0.5)

	best, ok := tr.Best()
	require.True(t, ok)
	assert.Equal(t, 0.9, best.Value)
	assert.Equal(t, optimization.Params{"x": 2.0}, best.Params)
}

func TestTrackerIndicesAndIsolation(t *testing.T) {
	tr := NewTracker(optimization.Minimize)
	params := optimization.Params{"x": 1.0}
	trial, err := tr.Record(params, 1, 1, time.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, trial.Index)

	params["x"] = 99.0
	got := tr.Trials()
	assert.Equal(t, 1.0, got[0].Params["x"], "recorded params are copied")

	got[0].Value = -1
	assert.Equal(t, 1.0, tr.Trials()[0].Value, "Trials returns a copy")

	tr.Reset()
	assert.Zero(t, tr.Len())
	assert.Equal(t, 0, record(t, tr, 1, 1).Index)
}

type failingLog struct{ appended int }

func (f *failingLog) Append(Trial) error { f.appended++; return errors.New("disk full") }
func (f *failingLog) Close() error       { return nil }

func TestTrackerObserversAndLogErrors(t *testing.T) {
	var observed []int
	log := &failingLog{}
	tr := NewTracker(optimization.Minimize,
		WithLog(log),
		WithObserver(func(tr Trial) { observed = append(observed, tr.Index) }),
		WithObserver(nil),
	)

	_, err := tr.Record(optimization.Params{"x": 1}, 1, 1, time.Now(), 0)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, tr.Len(), "trial is kept in memory")
	assert.Equal(t, []int{0}, observed)
	assert.Equal(t, 1, log.appended)
}

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trials.jsonl")
	log, err := OpenJSONL(path, "s1")
	require.NoError(t, err)
	assert.Equal(t, path, log.Path())

	tr := NewTracker(optimization.Minimize, WithLog(log))
	record(t, tr, 1, 2)
	record(t, tr, 2, 1)

	got, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, 2.0, got[1].Params["x"])
	assert.Equal(t, time.Millisecond, got[1].Duration)

	require.NoError(t, log.Close())
	require.NoError(t, log.Close())
	assert.Error(t, log.Append(Trial{}))

	// Reopening appends instead of truncating.
	log, err = OpenJSONL(path, "s1")
	require.NoError(t, err)
	require.NoError(t, log.Append(Trial{Index: 2, Params: optimization.Params{"x": 3.0}}))
	require.NoError(t, log.Close())

	got, err = ReadJSONLFile(path, "s1")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestJSONLSessionsShareAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.jsonl")
	a, err := OpenJSONL(path, "a")
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenJSONL(path, "b")
	require.NoError(t, err)
	defer b.Close()

	ta := NewTracker(optimization.Minimize, WithLog(a))
	tb := NewTracker(optimization.Minimize, WithLog(b))
	record(t, ta, 1, 1)
	record(t, tb, 5, 5)
	record(t, ta, 2, 2)
	record(t, tb, 6, 6)

	indices := func(trials []Trial) []int {
		out := make([]int, len(trials))
		for i, trial := range trials {
			out[i] = trial.Index
		}
		return out
	}

	gotA, err := a.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indices(gotA))
	assert.Equal(t, 2.0, gotA[1].Params["x"])

	gotB, err := ReadJSONLFile(path, "b")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indices(gotB))
	assert.Equal(t, 6.0, gotB[1].Params["x"])

	all, err := ReadJSONLFile(path, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestReadJSONLTruncatedTail(t *testing.T) {
	input := `{"index":0,"params":{"x":1},"value":1,"loss":1}
{"index":1,"params":{"x":2},"value":2,"loss":2}
{"index":2,"par`
	got, err := ReadJSONL(strings.NewReader(input), "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = ReadJSONL(strings.NewReader("{bad}\n{\"index\":1}\n"), "")
	assert.Error(t, err, "corruption before the tail is an error")
}

func TestReadJSONLFileMissing(t *testing.T) {
	_, err := ReadJSONLFile(filepath.Join(t.TempDir(), "missing.jsonl"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBadgerLog(t *testing.T) {
	log, err := OpenBadger(BadgerConfig{InMemory: true, Session: "s1"})
	require.NoError(t, err)
	defer log.Close()

	tr := NewTracker(optimization.Minimize, WithLog(log))
	for i := 0; i < 300; i++ {
		record(t, tr, float64(i), float64(300-i))
	}

	got, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 300)
	for i, trial := range got {
		assert.Equal(t, i, trial.Index, "big-endian keys keep index order")
	}
}

func TestBadgerSessionsAreIsolated(t *testing.T) {
	dir := t.TempDir()

	a, err := OpenBadger(BadgerConfig{Path: dir, Session: "a"})
	require.NoError(t, err)
	require.NoError(t, a.Append(Trial{Index: 0, Params: optimization.Params{"x": 1.0}}))
	require.NoError(t, a.Close())
	assert.Error(t, a.Append(Trial{Index: 1}))

	b, err := OpenBadger(BadgerConfig{Path: dir, Session: "b"})
	require.NoError(t, err)
	got, err := b.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, b.Close())

	a, err = OpenBadger(BadgerConfig{Path: dir, Session: "a"})
	require.NoError(t, err)
	defer a.Close()
	got, err = a.ReadAll()
	require.NoError(t, err)
	assert.Len(t, got, 1, "trials survive reopening")
}

func TestOpenBadgerValidation(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{InMemory: true})
	assert.Error(t, err)
	_, err = OpenBadger(BadgerConfig{Session: "s"})
	assert.Error(t, err)
}
