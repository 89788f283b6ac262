package workflow

import (
	"regexp"
	"strings"
)

// StepRef points at a field in another step's output. Path is a dot path
// inside that output, e.g. "response.items".
type StepRef struct {
	Step string
	Path string
}

// ParamValue is either a literal or a reference to a prior step's output.
// References resolve at run time, after the referenced step completes.
type ParamValue struct {
	Literal interface{}
	Ref     *StepRef
}

// LiteralParam wraps a plain value.
func LiteralParam(v interface{}) ParamValue {
	return ParamValue{Literal: v}
}

// RefParam builds a reference to step output.
func RefParam(step, path string) ParamValue {
	return ParamValue{Ref: &StepRef{Step: step, Path: path}}
}

var refPattern = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_-]+)\.([A-Za-z0-9_.\-]+)\s*\}\}$`)

// ParseParamValue converts a raw YAML value into a ParamValue. A string of
// the exact form "{{step_id.field.path}}" becomes a reference; anything
// else stays literal. Nested maps and slices are walked so references
// inside structured params resolve too.
func ParseParamValue(raw interface{}) ParamValue {
	switch v := raw.(type) {
	case string:
		if m := refPattern.FindStringSubmatch(v); m != nil {
			return RefParam(m[1], m[2])
		}
		return LiteralParam(v)
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(v))
		for k, elem := range v {
			nested[k] = ParseParamValue(elem)
		}
		return LiteralParam(nested)
	case []interface{}:
		nested := make([]interface{}, len(v))
		for i, elem := range v {
			nested[i] = ParseParamValue(elem)
		}
		return LiteralParam(nested)
	default:
		return LiteralParam(raw)
	}
}

// ParseParams converts a raw params map from the loader.
func ParseParams(raw map[string]interface{}) map[string]ParamValue {
	if len(raw) == 0 {
		return nil
	}
	params := make(map[string]ParamValue, len(raw))
	for k, v := range raw {
		params[k] = ParseParamValue(v)
	}
	return params
}

// ResolveParams materializes a step's params against the outputs collected
// so far. Unresolvable references become nil so a step can decide how to
// handle missing inputs.
func ResolveParams(params map[string]ParamValue, outputs map[string]map[string]interface{}) map[string]interface{} {
	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		resolved[k] = resolveValue(v, outputs)
	}
	return resolved
}

func resolveValue(v ParamValue, outputs map[string]map[string]interface{}) interface{} {
	if v.Ref != nil {
		output, ok := outputs[v.Ref.Step]
		if !ok {
			return nil
		}
		return LookupPath(output, v.Ref.Path)
	}
	switch lit := v.Literal.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(lit))
		for k, elem := range lit {
			if pv, ok := elem.(ParamValue); ok {
				out[k] = resolveValue(pv, outputs)
			} else {
				out[k] = elem
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(lit))
		for i, elem := range lit {
			if pv, ok := elem.(ParamValue); ok {
				out[i] = resolveValue(pv, outputs)
			} else {
				out[i] = elem
			}
		}
		return out
	default:
		return v.Literal
	}
}

// LookupPath walks a dot path through nested maps. Missing segments
// return nil.
func LookupPath(data map[string]interface{}, path string) interface{} {
	if path == "" {
		return data
	}
	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// ReferencedSteps returns the ids of steps referenced by a param map.
func ReferencedSteps(params map[string]ParamValue) []string {
	seen := make(map[string]bool)
	var collect func(v ParamValue)
	collect = func(v ParamValue) {
		if v.Ref != nil {
			seen[v.Ref.Step] = true
			return
		}
		switch lit := v.Literal.(type) {
		case map[string]interface{}:
			for _, elem := range lit {
				if pv, ok := elem.(ParamValue); ok {
					collect(pv)
				}
			}
		case []interface{}:
			for _, elem := range lit {
				if pv, ok := elem.(ParamValue); ok {
					collect(pv)
				}
			}
		}
	}
	for _, v := range params {
		collect(v)
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}
