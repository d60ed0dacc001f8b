// Package jobfactory implements the parameter-expansion runnable of
// spec.md §4.6: a module that turns one batch source (a literal list,
// a file, a SQL query, or a command's output) into many downstream
// jobs, one per row or one per contiguous minibatch of rows.
package jobfactory

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gohive/beehive/internal/runnable"
	"github.com/gohive/beehive/internal/store"
)

// Source is the module's configuration, decoded from an analysis's
// module parameters. Exactly one of InputList/InputFile/InputQuery/
// InputCmd is expected to be set.
type Source struct {
	InputList [][]string

	InputFile   string
	Delimiter   string
	ColumnNames any // false, true (parse from header), or a list of names ([]any)

	InputQuery string

	InputCmd string

	Randomize bool
	Step      int
	KeyColumn string
}

// Job is the Runnable that expands a Source into emitted rows.
type Job struct {
	db *store.DB
	src Source
}

// New returns a runnable.Factory for the job factory module, bound to
// db so an InputQuery source can run against the pipeline's own store.
func New(db *store.DB) runnable.Factory {
	return func(moduleParams map[string]any) (runnable.Runnable, error) {
		src, err := decodeSource(moduleParams)
		if err != nil {
			return nil, fmt.Errorf("jobfactory: %w", err)
		}
		return &Job{db: db, src: src}, nil
	}
}

func decodeSource(p map[string]any) (Source, error) {
	var s Source
	set := 0
	if v, ok := p["inputlist"]; ok {
		rows, err := decodeInputList(v)
		if err != nil {
			return s, err
		}
		s.InputList = rows
		set++
	}
	if v, ok := p["inputfile"].(string); ok && v != "" {
		s.InputFile = v
		set++
	}
	if v, ok := p["inputquery"].(string); ok && v != "" {
		s.InputQuery = v
		set++
	}
	if v, ok := p["inputcmd"].(string); ok && v != "" {
		s.InputCmd = v
		set++
	}
	if set != 1 {
		return s, fmt.Errorf("exactly one of inputlist/inputfile/inputquery/inputcmd is required, got %d", set)
	}

	if v, ok := p["delimiter"].(string); ok {
		s.Delimiter = v
	} else {
		s.Delimiter = "\t"
	}
	s.ColumnNames = p["column_names"]
	if v, ok := p["randomize"].(bool); ok {
		s.Randomize = v
	}
	if v, ok := p["step"]; ok {
		n, err := toInt(v)
		if err != nil {
			return s, fmt.Errorf("step: %w", err)
		}
		s.Step = n
	}
	if v, ok := p["key_column"].(string); ok {
		s.KeyColumn = v
	}
	return s, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func decodeInputList(v any) ([][]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("inputlist: expected a list")
	}
	rows := make([][]string, 0, len(raw))
	for _, item := range raw {
		switch t := item.(type) {
		case []any:
			row := make([]string, len(t))
			for i, cell := range t {
				row[i] = fmt.Sprint(cell)
			}
			rows = append(rows, row)
		default:
			rows = append(rows, []string{fmt.Sprint(t)})
		}
	}
	return rows, nil
}

// ParamDefaults has none; every knob comes from module_params.
func (j *Job) ParamDefaults() map[string]any { return map[string]any{} }

// FetchInput materializes the configured source into rows and, where
// known, column names, stashed under reserved keys for Run/WriteOutput.
func (j *Job) FetchInput(ctx context.Context, params map[string]any) (map[string]any, error) {
	rows, cols, err := j.readRows(ctx)
	if err != nil {
		return nil, err
	}
	out := cloneParams(params)
	out["_rows"] = rows
	out["_columns"] = cols
	return out, nil
}

// Run performs no computation of its own; all of the module's work is
// fetching and formatting rows, done in FetchInput and WriteOutput.
func (j *Job) Run(ctx context.Context, params map[string]any) (map[string]any, error) {
	return params, nil
}

// WriteOutput formats the fetched rows (randomizing and minibatching
// per the Source's options) and emits one flow per resulting job on
// the default branch "1".
func (j *Job) WriteOutput(ctx context.Context, params map[string]any) (map[string][]map[string]any, error) {
	rows, _ := params["_rows"].([][]string)
	cols, _ := params["_columns"].([]string)

	if j.src.Randomize {
		shuffle(rows)
	}

	var jobParams []map[string]any
	if j.src.Step > 0 && j.src.KeyColumn != "" {
		batches, err := minibatch(rows, cols, j.src.KeyColumn, j.src.Step)
		if err != nil {
			return nil, fmt.Errorf("jobfactory: minibatch: %w", err)
		}
		jobParams = batches
	} else {
		for _, row := range rows {
			jobParams = append(jobParams, formatRow(row, cols))
		}
	}
	return map[string][]map[string]any{"1": jobParams}, nil
}

func cloneParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func shuffle(rows [][]string) {
	for i := len(rows) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		rows[i], rows[j] = rows[j], rows[i]
	}
}

// formatRow produces {column_name: value} when names are known, or
// the positional fallback {_: [row], _0: v0, _1: v1, ...} otherwise
// (spec.md §4.6).
func formatRow(row []string, cols []string) map[string]any {
	out := make(map[string]any, len(row)+1)
	if len(cols) == len(row) && len(cols) > 0 {
		for i, c := range cols {
			out[c] = row[i]
		}
		return out
	}
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
		out[fmt.Sprintf("_%d", i)] = v
	}
	out["_"] = cells
	return out
}

// minibatch groups consecutive rows into contiguous ranges of up to
// step values on keyColumn. A range ends as soon as the next row's key
// is not the predicted stringwise successor of the current one, per
// the source's own "_substitute_minibatched_rows" convention: keys are
// compared after an "increment" modeled on the classic odometer-style
// string increment (so "a".."z" and "1".."9" both range correctly),
// not as integers.
func minibatch(rows [][]string, cols []string, keyColumn string, step int) ([]map[string]any, error) {
	keyIdx := -1
	for i, c := range cols {
		if c == keyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("key_column %q not found among columns %v", keyColumn, cols)
	}

	var out []map[string]any
	i := 0
	for i < len(rows) {
		start := i
		startKey := rows[i][keyIdx]
		expectedNext := stringSuccessor(startKey)
		count := 1
		for i+1 < len(rows) && count < step {
			actualNext := rows[i+1][keyIdx]
			if actualNext != expectedNext {
				break
			}
			expectedNext = stringSuccessor(actualNext)
			count++
			i++
		}
		endKey := rows[i][keyIdx]

		params := formatRow(rows[start], cols)
		params[keyColumn] = startKey
		params[keyColumn+"_end"] = endKey
		out = append(out, params)
		i++
	}
	return out, nil
}

// stringSuccessor predicts the next key value the way
// "_substitute_minibatched_rows" did: an odometer-style increment over
// the trailing run of alphanumerics, carrying left, case-preserving.
// Non-alphanumeric input is returned unchanged (no successor can be
// predicted, so the range always ends after one row).
func stringSuccessor(s string) string {
	if s == "" {
		return "1"
	}
	b := []byte(s)
	i := len(b) - 1
	for i >= 0 {
		c := b[i]
		switch {
		case c >= '0' && c < '9', c >= 'a' && c < 'z', c >= 'A' && c < 'Z':
			b[i] = c + 1
			return string(b)
		case c == '9':
			b[i] = '0'
			i--
		case c == 'z':
			b[i] = 'a'
			i--
		case c == 'Z':
			b[i] = 'A'
			i--
		default:
			return s
		}
	}
	switch {
	case s[0] >= '0' && s[0] <= '9':
		return "1" + string(b)
	case s[0] >= 'a' && s[0] <= 'z':
		return "a" + string(b)
	case s[0] >= 'A' && s[0] <= 'Z':
		return "A" + string(b)
	default:
		return s
	}
}

func (j *Job) readRows(ctx context.Context) ([][]string, []string, error) {
	switch {
	case j.src.InputList != nil:
		var cols []string
		if names, ok := j.src.ColumnNames.([]any); ok {
			for _, c := range names {
				cols = append(cols, fmt.Sprint(c))
			}
		}
		return j.src.InputList, cols, nil
	case j.src.InputFile != "":
		return readDelimited(j.src.InputFile, j.src.Delimiter, j.src.ColumnNames)
	case j.src.InputCmd != "":
		return readCmd(ctx, j.src.InputCmd, j.src.Delimiter, j.src.ColumnNames)
	case j.src.InputQuery != "":
		return j.readQuery(ctx, j.src.InputQuery)
	default:
		return nil, nil, fmt.Errorf("no input source configured")
	}
}

func readDelimited(path string, delim string, columnNames any) ([][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return scanDelimited(bufio.NewScanner(f), delim, columnNames)
}

func readCmd(ctx context.Context, cmd string, delim string, columnNames any) ([][]string, []string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", cmd).Output()
	if err != nil {
		return nil, nil, fmt.Errorf("run inputcmd: %w", err)
	}
	return scanDelimited(bufio.NewScanner(strings.NewReader(string(out))), delim, columnNames)
}

func scanDelimited(sc *bufio.Scanner, delim string, columnNames any) ([][]string, []string, error) {
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(lines) == 0 {
		return nil, nil, nil
	}

	var cols []string
	start := 0
	switch v := columnNames.(type) {
	case bool:
		if v {
			cols = strings.Split(lines[0], delim)
			start = 1
		}
	case []any:
		for _, c := range v {
			cols = append(cols, fmt.Sprint(c))
		}
	}

	rows := make([][]string, 0, len(lines)-start)
	for _, l := range lines[start:] {
		rows = append(rows, strings.Split(l, delim))
	}
	return rows, cols, nil
}

func (j *Job) readQuery(ctx context.Context, query string) ([][]string, []string, error) {
	return j.db.QueryRows(ctx, query)
}
