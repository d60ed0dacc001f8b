// Package paramset turns structured job parameters into the canonical
// strings the store dedups on, and evaluates input_id_template
// substitutions (spec.md §3/§4.1/§4.3).
package paramset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// OffloadThreshold is the input_id length above which CreateJob offloads
// the payload to analysis_data and references it by token (spec.md §3).
const OffloadThreshold = 255

// OffloadPrefix is the token format written in place of an oversized
// input_id: "_ext_input_analysis_data_id N".
const OffloadPrefix = "_ext_input_analysis_data_id"

// Stringify canonicalizes a parameter mapping to a stable string so
// dedup is content-based: encoding/json already sorts map keys, which
// is exactly the "sorted-keys serialization" spec.md §4.1 asks for.
func Stringify(params map[string]any) (string, error) {
	canon := canonicalize(params)
	b, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("paramset: stringify: %w", err)
	}
	return string(b), nil
}

// canonicalize returns a deep copy of nested maps and slices. It adds
// no ordering of its own: encoding/json sorts map keys at every depth,
// including maps nested inside slices.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

// Parse reverses Stringify, returning the parameter mapping encoded in
// s. Used by param_init / the round-trip law of spec.md §8.
func Parse(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("paramset: parse: %w", err)
	}
	return out, nil
}

// ContentHash returns a stable content address for an oversized
// payload, used by the analysis_data store-if-needed offload.
func ContentHash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// OffloadToken formats the `_ext_input_analysis_data_id N` indirection
// string for an analysis_data row id.
func OffloadToken(analysisDataID int64) string {
	return fmt.Sprintf("%s %d", OffloadPrefix, analysisDataID)
}

// IsOffloadToken reports whether s is an offload indirection and
// returns the referenced analysis_data id.
func IsOffloadToken(s string) (int64, bool) {
	if !strings.HasPrefix(s, OffloadPrefix+" ") {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscanf(s, OffloadPrefix+" %d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// SubstituteTemplate evaluates an input_id_template string against
// params, resolving "#param#" placeholders (spec.md §4.3). It sees only
// the map it is given: the dataflow engine passes the emitted output
// params, so the emitting job's own input params are not consulted. A
// placeholder with no matching key is a data error: templates never
// silently drop data.
func SubstituteTemplate(tmpl string, params map[string]any) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '#' {
			b.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '#')
		if end < 0 {
			return "", fmt.Errorf("paramset: unterminated #param# placeholder in template %q", tmpl)
		}
		name := tmpl[i+1 : i+1+end]
		val, ok := params[name]
		if !ok {
			return "", fmt.Errorf("paramset: template references unknown param %q", name)
		}
		fmt.Fprintf(&b, "%v", val)
		i = i + 1 + end + 1
	}
	return b.String(), nil
}

// Merge returns a new map containing base overlaid with override. The
// worker uses it to layer a job's input params over its analysis's
// parameters.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
