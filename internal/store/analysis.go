package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gohive/beehive/internal/model"
)

// CreateAnalysis inserts a new analysis and its zeroed stats row.
// Analyses are immutable after pipeline init except capacity knobs
// (spec.md §3), so there is deliberately no UpdateAnalysis.
func (db *DB) CreateAnalysis(a *model.Analysis) (int64, error) {
	paramsJSON, err := json.Marshal(a.Parameters)
	if err != nil {
		return 0, fmt.Errorf("store: marshal analysis parameters: %w", err)
	}

	res, err := db.conn.Exec(
		`INSERT INTO analysis (logic_name, module, parameters, batch_size, hive_capacity, max_retry_count, failed_job_tolerance)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.LogicName, a.Module, string(paramsJSON), a.BatchSize, a.HiveCapacity, a.MaxRetryCount, a.FailedJobTolerance,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create analysis %s: %w", a.LogicName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create analysis %s: %w", a.LogicName, err)
	}

	if _, err := db.conn.Exec(
		`INSERT INTO analysis_stats (analysis_id, status) VALUES (?, 'LOADING')`, id,
	); err != nil {
		return 0, fmt.Errorf("store: create analysis_stats for %s: %w", a.LogicName, err)
	}

	return id, nil
}

// GetAnalysis retrieves an analysis by id.
func (db *DB) GetAnalysis(id int64) (*model.Analysis, error) {
	return db.scanAnalysis(db.conn.QueryRow(
		`SELECT analysis_id, logic_name, module, parameters, batch_size, hive_capacity, max_retry_count, failed_job_tolerance
		 FROM analysis WHERE analysis_id = ?`, id))
}

// GetAnalysisByName retrieves an analysis by its unique logic_name.
func (db *DB) GetAnalysisByName(logicName string) (*model.Analysis, error) {
	return db.scanAnalysis(db.conn.QueryRow(
		`SELECT analysis_id, logic_name, module, parameters, batch_size, hive_capacity, max_retry_count, failed_job_tolerance
		 FROM analysis WHERE logic_name = ?`, logicName))
}

func (db *DB) scanAnalysis(row *sql.Row) (*model.Analysis, error) {
	var a model.Analysis
	var paramsJSON sql.NullString
	err := row.Scan(&a.AnalysisID, &a.LogicName, &a.Module, &paramsJSON, &a.BatchSize, &a.HiveCapacity, &a.MaxRetryCount, &a.FailedJobTolerance)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get analysis: %w", err)
	}
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &a.Parameters); err != nil {
			return nil, fmt.Errorf("store: unmarshal analysis parameters: %w", err)
		}
	}
	return &a, nil
}

// ListAnalyses returns all analyses, for use by the stats and GC
// sweepers.
func (db *DB) ListAnalyses() ([]*model.Analysis, error) {
	rows, err := db.conn.Query(
		`SELECT analysis_id, logic_name, module, parameters, batch_size, hive_capacity, max_retry_count, failed_job_tolerance FROM analysis`)
	if err != nil {
		return nil, fmt.Errorf("store: list analyses: %w", err)
	}
	defer rows.Close()

	var out []*model.Analysis
	for rows.Next() {
		var a model.Analysis
		var paramsJSON sql.NullString
		if err := rows.Scan(&a.AnalysisID, &a.LogicName, &a.Module, &paramsJSON, &a.BatchSize, &a.HiveCapacity, &a.MaxRetryCount, &a.FailedJobTolerance); err != nil {
			return nil, fmt.Errorf("store: scan analysis: %w", err)
		}
		if paramsJSON.Valid && paramsJSON.String != "" {
			if err := json.Unmarshal([]byte(paramsJSON.String), &a.Parameters); err != nil {
				return nil, fmt.Errorf("store: unmarshal analysis parameters: %w", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// GetStats reads the cached counters row for an analysis.
func (db *DB) GetStats(analysisID int64) (*model.AnalysisStats, error) {
	var s model.AnalysisStats
	s.AnalysisID = analysisID
	err := db.conn.QueryRow(
		`SELECT total_job_count, unclaimed_job_count, done_job_count, failed_job_count, num_required_workers, status
		 FROM analysis_stats WHERE analysis_id = ?`, analysisID,
	).Scan(&s.TotalJobCount, &s.UnclaimedJobCount, &s.DoneJobCount, &s.FailedJobCount, &s.NumRequiredWorkers, &s.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get stats: %w", err)
	}
	return &s, nil
}

// SaveStats writes a fully-derived stats row back, as computed by
// internal/stats. This is the one stats write that is NOT an
// incremental counter bump — see spec.md §4.4.
func (db *DB) SaveStats(s *model.AnalysisStats) error {
	_, err := db.conn.Exec(
		`UPDATE analysis_stats SET total_job_count=?, unclaimed_job_count=?, done_job_count=?, failed_job_count=?, num_required_workers=?, status=?
		 WHERE analysis_id=?`,
		s.TotalJobCount, s.UnclaimedJobCount, s.DoneJobCount, s.FailedJobCount, s.NumRequiredWorkers, s.Status, s.AnalysisID,
	)
	if err != nil {
		return fmt.Errorf("store: save stats: %w", err)
	}
	return nil
}

// ListControlRulesFor returns the control rules that gate
// controlledAnalysisID,
// used by internal/stats to decide BLOCKED status.
func (db *DB) ListControlRulesFor(controlledAnalysisID int64) ([]model.ControlRule, error) {
	rows, err := db.conn.Query(
		`SELECT condition_analysis_id, controlled_analysis_id FROM analysis_ctrl_rule WHERE controlled_analysis_id = ?`,
		controlledAnalysisID)
	if err != nil {
		return nil, fmt.Errorf("store: list control rules: %w", err)
	}
	defer rows.Close()

	var out []model.ControlRule
	for rows.Next() {
		var r model.ControlRule
		if err := rows.Scan(&r.ConditionAnalysisID, &r.ControlledAnalysisID); err != nil {
			return nil, fmt.Errorf("store: scan control rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateControlRule registers a condition -> controlled pair.
func (db *DB) CreateControlRule(r model.ControlRule) error {
	_, err := db.conn.Exec(
		`INSERT INTO analysis_ctrl_rule (condition_analysis_id, controlled_analysis_id) VALUES (?, ?)`,
		r.ConditionAnalysisID, r.ControlledAnalysisID)
	if err != nil {
		return fmt.Errorf("store: create control rule: %w", err)
	}
	return nil
}
