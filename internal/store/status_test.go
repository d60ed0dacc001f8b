package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gohive/beehive/internal/model"
)

func TestUpdateStatusTxDecrementsFunnelOnChildDone(t *testing.T) {
	db := newTestDB(t)
	analysisID := mustCreateAnalysis(t, db, &model.Analysis{LogicName: "a", Module: "m", BatchSize: 1, HiveCapacity: 1})

	funnelID, err := db.CreateJob(CreateJobParams{InputID: map[string]any{"f": 1}, AnalysisID: analysisID})
	require.NoError(t, err)

	// The caller pre-increments an explicit funnel before creating the child.
	require.NoError(t, db.IncrementSemaphoreCount(*funnelID))
	childID, err := db.CreateJob(CreateJobParams{
		InputID: map[string]any{"c": 1}, AnalysisID: analysisID, SemaphoredJobID: funnelID,
	})
	require.NoError(t, err)

	funnel, err := db.GetJob(*funnelID)
	require.NoError(t, err)
	require.Equal(t, 1, funnel.SemaphoreCount)

	require.NoError(t, db.UpdateStatusTx(*childID, model.JobDone, nil))

	funnel, err = db.GetJob(*funnelID)
	require.NoError(t, err)
	require.Zero(t, funnel.SemaphoreCount, "a fan child's DONE transition must decrement its funnel atomically")

	stats, err := db.GetStats(analysisID)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.DoneJobCount)
}

func TestUpdateStatusTxDecrementsFunnelOnPassedOn(t *testing.T) {
	db := newTestDB(t)
	analysisID := mustCreateAnalysis(t, db, &model.Analysis{LogicName: "a", Module: "m", BatchSize: 1, HiveCapacity: 1})

	funnelID, err := db.CreateJob(CreateJobParams{InputID: map[string]any{"f": 1}, AnalysisID: analysisID})
	require.NoError(t, err)
	require.NoError(t, db.IncrementSemaphoreCount(*funnelID))
	childID, err := db.CreateJob(CreateJobParams{
		InputID: map[string]any{"c": 1}, AnalysisID: analysisID, SemaphoredJobID: funnelID,
	})
	require.NoError(t, err)

	require.NoError(t, db.UpdateStatusTx(*childID, model.JobPassedOn, nil))

	funnel, err := db.GetJob(*funnelID)
	require.NoError(t, err)
	require.Zero(t, funnel.SemaphoreCount)

	stats, err := db.GetStats(analysisID)
	require.NoError(t, err)
	require.Zero(t, stats.DoneJobCount, "PASSED_ON must not count toward done_job_count")
}

func TestUpdateStatusTxBumpsFailedCount(t *testing.T) {
	db := newTestDB(t)
	analysisID := mustCreateAnalysis(t, db, &model.Analysis{LogicName: "a", Module: "m", BatchSize: 1, HiveCapacity: 1})
	jobID, err := db.CreateJob(CreateJobParams{InputID: map[string]any{"x": 1}, AnalysisID: analysisID})
	require.NoError(t, err)

	require.NoError(t, db.UpdateStatusTx(*jobID, model.JobFailed, nil))

	stats, err := db.GetStats(analysisID)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.FailedJobCount)
}

func TestUpdateStatusRecordsRuntimeOnDone(t *testing.T) {
	db := newTestDB(t)
	analysisID := mustCreateAnalysis(t, db, &model.Analysis{LogicName: "a", Module: "m", BatchSize: 1, HiveCapacity: 1})
	jobID, err := db.CreateJob(CreateJobParams{InputID: map[string]any{"x": 1}, AnalysisID: analysisID})
	require.NoError(t, err)

	require.NoError(t, db.UpdateStatus(*jobID, model.JobDone, &UpdateStatusResult{RuntimeMsec: 1234, QueryCount: 3}))

	j, err := db.GetJob(*jobID)
	require.NoError(t, err)
	require.Equal(t, int64(1234), j.RuntimeMsec)
	require.Equal(t, int64(3), j.QueryCount)
	require.NotNil(t, j.Completed)
}
