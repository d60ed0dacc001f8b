package jobfactory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.sqlite")
	db, err := store.Open("sqlite://"+path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDecodeSourceRequiresExactlyOneInput(t *testing.T) {
	_, err := decodeSource(map[string]any{})
	require.Error(t, err)

	_, err = decodeSource(map[string]any{"inputfile": "a.txt", "inputcmd": "echo hi"})
	require.Error(t, err)

	s, err := decodeSource(map[string]any{"inputfile": "a.txt"})
	require.NoError(t, err)
	require.Equal(t, "a.txt", s.InputFile)
}

func TestDecodeInputListFlattensScalarsAndRows(t *testing.T) {
	s, err := decodeSource(map[string]any{
		"inputlist": []any{
			[]any{"chr1", 100},
			"chr2",
		},
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"chr1", "100"}, {"chr2"}}, s.InputList)
}

func TestWriteOutputEmitsOneJobParamsPerRowOnDefaultBranch(t *testing.T) {
	factory := New(nil)
	job, err := factory(map[string]any{
		"inputlist": []any{
			[]any{"chr1", "100"},
			[]any{"chr2", "200"},
		},
		"column_names": []any{"chrom", "start"},
	})
	require.NoError(t, err)

	withRows, err := job.FetchInput(context.Background(), map[string]any{})
	require.NoError(t, err)

	out, err := job.WriteOutput(context.Background(), withRows)
	require.NoError(t, err)
	require.Len(t, out["1"], 2)
	require.Equal(t, "chr1", out["1"][0]["chrom"])
	require.Equal(t, "100", out["1"][0]["start"])
}

func TestFormatRowFallsBackToPositionalWhenNoColumnNames(t *testing.T) {
	row := formatRow([]string{"a", "b"}, nil)
	require.Equal(t, "a", row["_0"])
	require.Equal(t, "b", row["_1"])
	require.Equal(t, []any{"a", "b"}, row["_"])
}

func TestStringSuccessorCarriesLikeAnOdometer(t *testing.T) {
	require.Equal(t, "2", stringSuccessor("1"))
	require.Equal(t, "10", stringSuccessor("9"))
	require.Equal(t, "b", stringSuccessor("a"))
	require.Equal(t, "aa", stringSuccessor("z"))
	require.Equal(t, "B", stringSuccessor("A"))
	require.Equal(t, "chr2", stringSuccessor("chr1"))
	require.Equal(t, "!", stringSuccessor("!"), "non-alphanumeric input has no predictable successor")
}

func TestMinibatchGroupsContiguousKeysUpToStep(t *testing.T) {
	cols := []string{"pos"}
	rows := [][]string{{"1"}, {"2"}, {"3"}, {"5"}, {"6"}}

	batches, err := minibatch(rows, cols, "pos", 2)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	require.Equal(t, "1", batches[0]["pos"])
	require.Equal(t, "2", batches[0]["pos_end"])

	require.Equal(t, "3", batches[1]["pos"])
	require.Equal(t, "3", batches[1]["pos_end"], "a non-consecutive key ends the batch early")

	require.Equal(t, "5", batches[2]["pos"])
	require.Equal(t, "6", batches[2]["pos_end"])
}

func TestMinibatchUnknownKeyColumnIsAnError(t *testing.T) {
	_, err := minibatch([][]string{{"1"}}, []string{"pos"}, "missing", 2)
	require.Error(t, err)
}

func TestWriteOutputAppliesMinibatchingWhenConfigured(t *testing.T) {
	factory := New(nil)
	job, err := factory(map[string]any{
		"inputlist":    []any{[]any{"1"}, []any{"2"}, []any{"3"}, []any{"4"}},
		"column_names": []any{"pos"},
		"step":         2,
		"key_column":   "pos",
	})
	require.NoError(t, err)

	withRows, err := job.FetchInput(context.Background(), map[string]any{})
	require.NoError(t, err)
	out, err := job.WriteOutput(context.Background(), withRows)
	require.NoError(t, err)
	require.Len(t, out["1"], 2)
	require.Equal(t, "1", out["1"][0]["pos"])
	require.Equal(t, "2", out["1"][0]["pos_end"])
}

func TestReadRowsFromInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.tsv")
	require.NoError(t, os.WriteFile(path, []byte("chrom\tstart\nchr1\t100\nchr2\t200\n"), 0o644))

	factory := New(nil)
	job, err := factory(map[string]any{
		"inputfile":    path,
		"column_names": true,
	})
	require.NoError(t, err)

	j := job.(*Job)
	rows, cols, err := j.readRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"chrom", "start"}, cols)
	require.Equal(t, [][]string{{"chr1", "100"}, {"chr2", "200"}}, rows)
}

func TestReadRowsFromInputCmd(t *testing.T) {
	factory := New(nil)
	job, err := factory(map[string]any{"inputcmd": "printf 'a\\tb\\nc\\td\\n'"})
	require.NoError(t, err)

	j := job.(*Job)
	rows, _, err := j.readRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, rows)
}

func TestReadRowsFromInputQuery(t *testing.T) {
	db := newTestDB(t)
	_, err := db.CreateAnalysis(&model.Analysis{LogicName: "a", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)

	factory := New(db)
	job, err := factory(map[string]any{"inputquery": "SELECT logic_name FROM analysis"})
	require.NoError(t, err)

	j := job.(*Job)
	rows, cols, err := j.readRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"logic_name"}, cols)
	require.Equal(t, [][]string{{"a"}}, rows)
}

func TestShuffleIsAPermutation(t *testing.T) {
	rows := [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}}
	before := append([][]string{}, rows...)
	shuffle(rows)
	require.ElementsMatch(t, before, rows)
}
