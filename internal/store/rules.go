package store

import (
	"database/sql"
	"fmt"

	"github.com/gohive/beehive/internal/model"
)

// CreateDataflowRule registers a (from_analysis, branch_code) -> target
// edge.
func (db *DB) CreateDataflowRule(r model.DataflowRule) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO dataflow_rule (from_analysis_id, branch_code, to_analysis_id, target_url, input_id_template)
		 VALUES (?, ?, ?, ?, ?)`,
		r.FromAnalysisID, r.BranchCode, r.ToAnalysisID, r.TargetURL, r.InputIDTemplate)
	if err != nil {
		return 0, fmt.Errorf("store: create dataflow rule: %w", err)
	}
	return res.LastInsertId()
}

// ListDataflowRules returns every rule whose (from_analysis, branch)
// matches, the lookup the dataflow engine performs on every emitted
// dataflow_output_id (spec.md §4.3 step 1).
func (db *DB) ListDataflowRules(fromAnalysisID int64, branchCode string) ([]model.DataflowRule, error) {
	rows, err := db.conn.Query(
		`SELECT rule_id, from_analysis_id, branch_code, to_analysis_id, target_url, input_id_template
		 FROM dataflow_rule WHERE from_analysis_id = ? AND branch_code = ?`,
		fromAnalysisID, branchCode)
	if err != nil {
		return nil, fmt.Errorf("store: list dataflow rules: %w", err)
	}
	return scanDataflowRules(rows)
}

// ListDataflowRulesForAnalysis returns every rule defined on an
// analysis, used by gc_dataflow to check whether a symbolic branch
// (MEMLIMIT, ANYFAILURE) has a configured handler (spec.md §4.5).
func (db *DB) ListDataflowRulesForAnalysis(fromAnalysisID int64) ([]model.DataflowRule, error) {
	rows, err := db.conn.Query(
		`SELECT rule_id, from_analysis_id, branch_code, to_analysis_id, target_url, input_id_template
		 FROM dataflow_rule WHERE from_analysis_id = ?`, fromAnalysisID)
	if err != nil {
		return nil, fmt.Errorf("store: list dataflow rules for analysis: %w", err)
	}
	return scanDataflowRules(rows)
}

func scanDataflowRules(rows *sql.Rows) ([]model.DataflowRule, error) {
	defer rows.Close()
	var out []model.DataflowRule
	for rows.Next() {
		var r model.DataflowRule
		var toAnalysisID sql.NullInt64
		var targetURL, tmpl sql.NullString
		if err := rows.Scan(&r.RuleID, &r.FromAnalysisID, &r.BranchCode, &toAnalysisID, &targetURL, &tmpl); err != nil {
			return nil, fmt.Errorf("store: scan dataflow rule: %w", err)
		}
		if toAnalysisID.Valid {
			r.ToAnalysisID = &toAnalysisID.Int64
		}
		r.TargetURL = targetURL.String
		r.InputIDTemplate = tmpl.String
		out = append(out, r)
	}
	return out, rows.Err()
}
