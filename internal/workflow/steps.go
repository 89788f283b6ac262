package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// executeStep dispatches a single attempt of a step. Params arrive already
// resolved against prior step outputs; outputs is a snapshot taken when the
// step launched.
func (e *Engine) executeStep(ctx context.Context, step *Step, params, triggerData map[string]interface{}, outputs map[string]map[string]interface{}) (map[string]interface{}, error) {
	switch step.Type {
	case StepServiceAction:
		return e.executeServiceAction(ctx, step, params)
	case StepCondition:
		return executeConditionStep(step, triggerData, outputs)
	case StepDelay:
		return e.executeDelay(ctx, step)
	case StepWebhook:
		return e.executeWebhook(ctx, step, params)
	case StepDataTransform:
		return executeTransform(step, params)
	default:
		return nil, NewValidationError("step.type", "unknown step type %q", step.Type)
	}
}

func (e *Engine) executeServiceAction(ctx context.Context, step *Step, params map[string]interface{}) (map[string]interface{}, error) {
	handler, ok := e.actions.Get(step.Service, step.Action)
	if !ok {
		return nil, NewValidationError("step.action", "no handler registered for %s.%s", step.Service, step.Action)
	}
	return handler(ctx, params)
}

// executeConditionStep never fails on a false result; the boolean lands in
// the step output so downstream conditions and params can branch on it.
func executeConditionStep(step *Step, triggerData map[string]interface{}, outputs map[string]map[string]interface{}) (map[string]interface{}, error) {
	result, err := EvaluateCondition(step.Condition, triggerData, outputs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"result": result}, nil
}

func (e *Engine) executeDelay(ctx context.Context, step *Step) (map[string]interface{}, error) {
	if step.Delay <= 0 {
		return nil, NewValidationError("step.delay", "delay must be positive")
	}
	start := time.Now()
	if err := sleepCtx(ctx, step.Delay); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"delayed_ms": time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) executeWebhook(ctx context.Context, step *Step, params map[string]interface{}) (map[string]interface{}, error) {
	url := step.URL
	if v, ok := params["url"].(string); ok && v != "" {
		url = v
	}
	if url == "" {
		return nil, NewValidationError("step.url", "webhook step requires a url")
	}
	method := step.Method
	if method == "" {
		method = http.MethodPost
	}

	payload := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "url" {
			continue
		}
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewValidationError("step.url", "bad webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("webhook request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read webhook response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
	}
	var parsed map[string]interface{}
	if json.Unmarshal(respBody, &parsed) == nil {
		output["response"] = parsed
	} else {
		output["response"] = string(respBody)
	}
	return output, nil
}

func executeTransform(step *Step, params map[string]interface{}) (map[string]interface{}, error) {
	spec := step.Transform
	if spec == nil {
		return nil, NewValidationError("step.transform", "data_transform step requires a transform spec")
	}
	input, ok := params["input"].([]interface{})
	if !ok {
		return nil, NewValidationError("step.transform", "transform input must be a list")
	}

	switch spec.Operation {
	case TransformFilter:
		return transformFilter(spec, input)
	case TransformMap:
		return transformMap(spec, input)
	case TransformAggregate:
		return transformAggregate(spec, input)
	default:
		return nil, NewValidationError("step.transform", "unknown operation %q", spec.Operation)
	}
}

func transformFilter(spec *TransformSpec, input []interface{}) (map[string]interface{}, error) {
	if spec.Field == "" || spec.Operator == "" {
		return nil, NewValidationError("step.transform", "filter requires field and operator")
	}
	var kept []interface{}
	for _, raw := range input {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		match, err := compareValues(LookupPath(item, spec.Field), spec.Operator, spec.Value)
		if err != nil {
			return nil, err
		}
		if match {
			kept = append(kept, item)
		}
	}
	if kept == nil {
		kept = []interface{}{}
	}
	return map[string]interface{}{"items": kept, "count": len(kept)}, nil
}

func transformMap(spec *TransformSpec, input []interface{}) (map[string]interface{}, error) {
	if len(spec.Fields) == 0 {
		return nil, NewValidationError("step.transform", "map requires fields")
	}
	projected := make([]interface{}, 0, len(input))
	for _, raw := range input {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		row := make(map[string]interface{}, len(spec.Fields))
		for _, field := range spec.Fields {
			row[field] = LookupPath(item, field)
		}
		projected = append(projected, row)
	}
	return map[string]interface{}{"items": projected, "count": len(projected)}, nil
}

func transformAggregate(spec *TransformSpec, input []interface{}) (map[string]interface{}, error) {
	if spec.Func == "count" {
		return map[string]interface{}{"value": float64(len(input))}, nil
	}
	if spec.Field == "" {
		return nil, NewValidationError("step.transform", "aggregate %s requires a field", spec.Func)
	}

	var values []float64
	for _, raw := range input {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if f, ok := toFloat(LookupPath(item, spec.Field)); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return map[string]interface{}{"value": nil, "count": 0}, nil
	}

	var result float64
	switch spec.Func {
	case "sum", "avg":
		for _, v := range values {
			result += v
		}
		if spec.Func == "avg" {
			result /= float64(len(values))
		}
	case "min":
		result = values[0]
		for _, v := range values[1:] {
			if v < result {
				result = v
			}
		}
	case "max":
		result = values[0]
		for _, v := range values[1:] {
			if v > result {
				result = v
			}
		}
	default:
		return nil, NewValidationError("step.transform", "unknown aggregate func %q", spec.Func)
	}
	return map[string]interface{}{"value": result, "count": len(values)}, nil
}
