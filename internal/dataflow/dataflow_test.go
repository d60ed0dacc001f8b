package dataflow

import (
	"context"
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

func TestPropagateDefaultBranchCreatesChild(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAnalysis(&model.Analysis{LogicName: "from", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	to, err := db.CreateAnalysis(&model.Analysis{LogicName: "to", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)

	sourceJob, err := db.CreateJob(store.CreateJobParams{InputID: map[string]any{"seed": 1}, AnalysisID: from})
	require.NoError(t, err)

	_, err = db.CreateDataflowRule(model.DataflowRule{FromAnalysisID: from, BranchCode: "1", ToAnalysisID: &to})
	require.NoError(t, err)

	e := New(db, nil, zap.NewNop())
	err = e.Propagate(Flow{JobID: *sourceJob, AnalysisID: from, Branch: "1", Params: map[string]any{"x": 1}})
	require.NoError(t, err)

	stats, err := db.GetStats(to)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalJobCount)
}

func TestPropagateWithNoMatchingRuleIsANoop(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAnalysis(&model.Analysis{LogicName: "from", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	sourceJob, err := db.CreateJob(store.CreateJobParams{InputID: map[string]any{"seed": 1}, AnalysisID: from})
	require.NoError(t, err)

	e := New(db, nil, zap.NewNop())
	err = e.Propagate(Flow{JobID: *sourceJob, AnalysisID: from, Branch: "1", Params: map[string]any{}})
	require.NoError(t, err)
}

func TestPropagateFanBranchBootstrapsItsOwnFunnel(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAnalysis(&model.Analysis{LogicName: "take_b_apart", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	fanTarget, err := db.CreateAnalysis(&model.Analysis{LogicName: "part_multiply", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	funnelAnalysis, err := db.CreateAnalysis(&model.Analysis{LogicName: "add_together", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)

	seed, err := db.CreateJob(store.CreateJobParams{InputID: map[string]any{"a": "9650156169", "b": "327358"}, AnalysisID: from})
	require.NoError(t, err)

	_, err = db.CreateDataflowRule(model.DataflowRule{FromAnalysisID: from, BranchCode: "1", ToAnalysisID: &funnelAnalysis})
	require.NoError(t, err)
	_, err = db.CreateDataflowRule(model.DataflowRule{FromAnalysisID: from, BranchCode: "2", ToAnalysisID: &fanTarget})
	require.NoError(t, err)

	e := New(db, nil, zap.NewNop())

	// A seed job with no pre-existing funnel fans out with no job
	// factory step in between: the engine must establish the funnel
	// itself on the first fan child.
	err = e.Propagate(Flow{JobID: *seed, AnalysisID: from, Branch: "2", Params: map[string]any{"digit": 9}})
	require.NoError(t, err)
	err = e.Propagate(Flow{JobID: *seed, AnalysisID: from, Branch: "2", Params: map[string]any{"digit": 6}})
	require.NoError(t, err)

	funnelStats, err := db.GetStats(funnelAnalysis)
	require.NoError(t, err)
	require.EqualValues(t, 1, funnelStats.TotalJobCount, "every fan child bootstraps into the same single funnel job")

	funnelID, err := db.FindChildJob(*seed, funnelAnalysis)
	require.NoError(t, err)
	require.NotNil(t, funnelID)

	funnel, err := db.GetJob(*funnelID)
	require.NoError(t, err)
	require.Equal(t, 2, funnel.SemaphoreCount, "each fan child pre-increments the shared funnel before it is created")

	fanStats, err := db.GetStats(fanTarget)
	require.NoError(t, err)
	require.EqualValues(t, 2, fanStats.TotalJobCount)
}

func TestFlowToResourceAccumulator(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAnalysis(&model.Analysis{LogicName: "from", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	funnelID, err := db.CreateJob(store.CreateJobParams{InputID: map[string]any{"funnel": 1}, AnalysisID: from})
	require.NoError(t, err)
	emittingJob, err := db.CreateJob(store.CreateJobParams{
		InputID: map[string]any{"emitter": 1}, AnalysisID: from, SemaphoredJobID: funnelID,
	})
	require.NoError(t, err)

	_, err = db.CreateDataflowRule(model.DataflowRule{
		FromAnalysisID: from, BranchCode: "3", TargetURL: "?accu_name=total",
	})
	require.NoError(t, err)

	e := New(db, nil, zap.NewNop())
	err = e.Propagate(Flow{JobID: *emittingJob, AnalysisID: from, Branch: "3", Params: map[string]any{"v": 42}})
	require.NoError(t, err)

	values, err := db.ListAccuForFunnel(*funnelID)
	require.NoError(t, err)
	require.Len(t, values, 1)
	require.Equal(t, "total", values[0].AccuName)
}

func TestFlowToResourceNakedTable(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAnalysis(&model.Analysis{LogicName: "from", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	sourceJob, err := db.CreateJob(store.CreateJobParams{InputID: map[string]any{"seed": 1}, AnalysisID: from})
	require.NoError(t, err)

	_, _, err = db.QueryRows(context.Background(), `CREATE TABLE hits (chrom TEXT, start INTEGER)`)
	require.NoError(t, err)

	_, err = db.CreateDataflowRule(model.DataflowRule{
		FromAnalysisID: from, BranchCode: "1", TargetURL: ":////hits",
	})
	require.NoError(t, err)

	e := New(db, nil, zap.NewNop())
	err = e.Propagate(Flow{JobID: *sourceJob, AnalysisID: from, Branch: "1", Params: map[string]any{"chrom": "1", "start": 100}})
	require.NoError(t, err)

	rows, cols, err := db.QueryRows(context.Background(), `SELECT chrom, start FROM hits`)
	require.NoError(t, err)
	require.Equal(t, []string{"chrom", "start"}, cols)
	require.Equal(t, [][]string{{"1", "100"}}, rows)
}

func TestApplyRuleSubstitutesInputIDTemplate(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAnalysis(&model.Analysis{LogicName: "from", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	to, err := db.CreateAnalysis(&model.Analysis{LogicName: "to", Module: "m", BatchSize: 1, HiveCapacity: 1})
	require.NoError(t, err)
	sourceJob, err := db.CreateJob(store.CreateJobParams{InputID: map[string]any{"seed": 1}, AnalysisID: from})
	require.NoError(t, err)

	_, err = db.CreateDataflowRule(model.DataflowRule{
		FromAnalysisID: from, BranchCode: "1", ToAnalysisID: &to,
		InputIDTemplate: `{"region":"#region#"}`,
	})
	require.NoError(t, err)

	e := New(db, nil, zap.NewNop())
	err = e.Propagate(Flow{JobID: *sourceJob, AnalysisID: from, Branch: "1", Params: map[string]any{"region": "chr1"}})
	require.NoError(t, err)

	stats, err := db.GetStats(to)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalJobCount)
}
