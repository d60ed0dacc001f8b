// Package dataflow implements the propagation engine of spec.md §4.3:
// it takes a (job, branch_code, params) dataflow event emitted by a
// finishing job and fans it out across every matching dataflow_rule,
// creating fan children against a pre-incremented funnel semaphore,
// writing naked-table rows, or appending accumulator values.
package dataflow

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gohive/beehive/internal/events"
	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/paramset"
	"github.com/gohive/beehive/internal/resourceurl"
	"github.com/gohive/beehive/internal/store"
)

// Engine propagates a job's dataflow_output events to every analysis,
// naked table, or accumulator wired to receive them.
type Engine struct {
	db  *store.DB
	bus *events.Bus
	log *zap.Logger
}

// New builds an Engine. bus may be nil.
func New(db *store.DB, bus *events.Bus, log *zap.Logger) *Engine {
	return &Engine{db: db, bus: bus, log: log}
}

func (e *Engine) emit(ev events.Event) {
	if e.bus != nil {
		e.bus.Emit(ev)
	}
}

// Flow is one emitted dataflow_output_id event: the job that emitted
// it, which branch it went out on, and the params to propagate.
type Flow struct {
	JobID      int64
	AnalysisID int64
	Branch     string
	Params     map[string]any
}

// Propagate runs every dataflow_rule matching f.AnalysisID/f.Branch.
// Per spec.md §4.3, a rule whose branch is not "1" (a fan branch)
// requires the funnel job's semaphore_count to be pre-incremented
// before the fan child is created, since store.CreateJob only cancels
// a caller-owned increment on collision rather than ever adding its
// own for an explicit funnel.
func (e *Engine) Propagate(f Flow) error {
	rules, err := e.db.ListDataflowRules(f.AnalysisID, f.Branch)
	if err != nil {
		return fmt.Errorf("dataflow: propagate: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	for _, rule := range rules {
		if err := e.applyRule(f, rule); err != nil {
			return fmt.Errorf("dataflow: apply rule %d: %w", rule.RuleID, err)
		}
	}
	e.emit(events.NewEvent(events.DataflowPropagated).WithJob(f.JobID).WithAnalysis(f.AnalysisID).
		WithPayload(map[string]any{"branch_code": f.Branch, "rule_count": len(rules)}))
	return nil
}

func (e *Engine) applyRule(f Flow, rule model.DataflowRule) error {
	params := f.Params
	if rule.InputIDTemplate != "" {
		substituted, err := paramset.SubstituteTemplate(rule.InputIDTemplate, params)
		if err != nil {
			return fmt.Errorf("substitute input_id_template: %w", err)
		}
		expanded, err := paramset.Parse(substituted)
		if err != nil {
			// Templates that don't expand to a JSON object are taken as
			// a single scalar input_id value, passed through verbatim.
			params = map[string]any{"_value": substituted}
		} else {
			params = expanded
		}
	}

	if rule.ToAnalysisID != nil {
		return e.flowToAnalysis(f, rule, params)
	}
	return e.flowToResource(f, rule, params)
}

func (e *Engine) flowToAnalysis(f Flow, rule model.DataflowRule, params map[string]any) error {
	var funnel *int64
	if rule.IsFan() {
		funnelID, err := e.resolveFunnel(f)
		if err != nil {
			return fmt.Errorf("resolve funnel for fan branch %q: %w", rule.BranchCode, err)
		}
		funnel = &funnelID
		if err := e.db.IncrementSemaphoreCount(*funnel); err != nil {
			return fmt.Errorf("pre-increment funnel semaphore: %w", err)
		}
		e.emit(events.NewEvent(events.FunnelIncremented).WithJob(*funnel).WithAnalysis(f.AnalysisID))
	}

	jobID, err := e.db.CreateJob(store.CreateJobParams{
		InputID:         params,
		AnalysisID:      *rule.ToAnalysisID,
		PrevJobID:       &f.JobID,
		SemaphoredJobID: funnel,
	})
	if err != nil {
		return fmt.Errorf("create fan child: %w", err)
	}
	if jobID == nil {
		e.log.Debug("dataflow: fan child deduplicated", zap.Int64("from_job", f.JobID), zap.Int64("to_analysis", *rule.ToAnalysisID))
	}
	return nil
}

// resolveFunnel returns the funnel job id for f's emitting job,
// creating it first if this is the first fan child seen for it
// (spec.md §4.3 step 3: "the engine first calls CreateJob(funnel_params,
// funnel_analysis, semaphore_count=0)"). The funnel's target analysis
// and input_id_template are read off the branch-1 rule declared from
// the same from_analysis_id as the fan rule, since branch 1 is the
// pipeline's conventional default/funnel branch. Idempotent across the
// repeated calls one job's several fan children produce: a prior
// funnel is found by its (prev_job_id, analysis_id) pair before a new
// one is created.
func (e *Engine) resolveFunnel(f Flow) (int64, error) {
	rules, err := e.db.ListDataflowRules(f.AnalysisID, "1")
	if err != nil {
		return 0, fmt.Errorf("load branch-1 rule: %w", err)
	}
	if len(rules) == 0 || rules[0].ToAnalysisID == nil {
		return 0, fmt.Errorf("no branch-1 rule from analysis %d to establish a funnel analysis from", f.AnalysisID)
	}
	funnelAnalysisID := *rules[0].ToAnalysisID

	if existing, err := e.db.FindChildJob(f.JobID, funnelAnalysisID); err != nil {
		return 0, fmt.Errorf("look up existing funnel: %w", err)
	} else if existing != nil {
		return *existing, nil
	}

	funnelParams := f.Params
	if tmpl := rules[0].InputIDTemplate; tmpl != "" {
		substituted, err := paramset.SubstituteTemplate(tmpl, f.Params)
		if err != nil {
			return 0, fmt.Errorf("substitute funnel input_id_template: %w", err)
		}
		if expanded, err := paramset.Parse(substituted); err == nil {
			funnelParams = expanded
		} else {
			funnelParams = map[string]any{"_value": substituted}
		}
	}

	jobID, err := e.db.CreateJob(store.CreateJobParams{
		InputID:    funnelParams,
		AnalysisID: funnelAnalysisID,
		PrevJobID:  &f.JobID,
	})
	if err != nil {
		return 0, fmt.Errorf("create funnel job: %w", err)
	}
	if jobID != nil {
		e.emit(events.NewEvent(events.FunnelCreated).WithJob(*jobID).WithAnalysis(funnelAnalysisID))
		return *jobID, nil
	}

	// Collided with a funnel another concurrent call already created.
	existing, err := e.db.FindChildJob(f.JobID, funnelAnalysisID)
	if err != nil {
		return 0, fmt.Errorf("look up funnel after collision: %w", err)
	}
	if existing == nil {
		return 0, fmt.Errorf("funnel job for analysis %d vanished after collision", funnelAnalysisID)
	}
	return *existing, nil
}

// flowToResource handles targets that are not analyses: a naked table
// or an accumulator, both addressed via the rule's target_url
// (spec.md §3/§4.3).
func (e *Engine) flowToResource(f Flow, rule model.DataflowRule, params map[string]any) error {
	res, err := resourceurl.Parse(rule.TargetURL)
	if err != nil {
		return fmt.Errorf("parse target_url: %w", err)
	}

	switch res.ObjectType {
	case resourceurl.ObjectNakedTable:
		return e.db.InsertNakedTableRow(res.TableName, params)
	case resourceurl.ObjectAccumulator:
		value, err := paramset.Stringify(params)
		if err != nil {
			return fmt.Errorf("stringify accu value: %w", err)
		}
		job, err := e.db.GetJob(f.JobID)
		if err != nil {
			return fmt.Errorf("load emitting job: %w", err)
		}
		if job.SemaphoredJobID == nil {
			return fmt.Errorf("accumulator target %q has no funnel job to harvest into", res.AccuName)
		}
		return e.db.AppendAccu(model.Accu{
			SemaphoredJobID: *job.SemaphoredJobID,
			AccuName:        res.AccuName,
			AccuAddress:     res.AccuAddress,
			Value:           value,
		})
	default:
		return fmt.Errorf("unsupported dataflow target object type %q", res.ObjectType)
	}
}
