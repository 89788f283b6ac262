package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_Filter(t *testing.T) {
	step := &Step{ID: "t", Type: StepDataTransform, Transform: &TransformSpec{
		Operation: TransformFilter,
		Field:     "score",
		Operator:  ">=",
		Value:     0.5,
	}}
	input := []interface{}{
		map[string]interface{}{"id": "a", "score": 0.9},
		map[string]interface{}{"id": "b", "score": 0.2},
		map[string]interface{}{"id": "c", "score": 0.5},
	}

	out, err := executeTransform(step, map[string]interface{}{"input": input})
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])
}

func TestTransform_Map(t *testing.T) {
	step := &Step{ID: "t", Type: StepDataTransform, Transform: &TransformSpec{
		Operation: TransformMap,
		Fields:    []string{"id"},
	}}
	input := []interface{}{
		map[string]interface{}{"id": "a", "noise": 1},
		map[string]interface{}{"id": "b", "noise": 2},
	}

	out, err := executeTransform(step, map[string]interface{}{"input": input})
	require.NoError(t, err)
	items := out["items"].([]interface{})
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "a", first["id"])
	assert.NotContains(t, first, "noise")
}

func TestTransform_Aggregate(t *testing.T) {
	input := []interface{}{
		map[string]interface{}{"v": 1.0},
		map[string]interface{}{"v": 2.0},
		map[string]interface{}{"v": 3.0},
	}
	tests := []struct {
		fn   string
		want float64
	}{
		{"sum", 6},
		{"avg", 2},
		{"min", 1},
		{"max", 3},
		{"count", 3},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			step := &Step{ID: "t", Type: StepDataTransform, Transform: &TransformSpec{
				Operation: TransformAggregate,
				Field:     "v",
				Func:      tt.fn,
			}}
			out, err := executeTransform(step, map[string]interface{}{"input": input})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["value"])
		})
	}
}

func TestTransform_BadInput(t *testing.T) {
	step := &Step{ID: "t", Type: StepDataTransform, Transform: &TransformSpec{Operation: TransformFilter, Field: "f", Operator: "=="}}
	_, err := executeTransform(step, map[string]interface{}{"input": "not a list"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestWebhookStep(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true})
	}))
	defer srv.Close()

	engine, _ := newTestEngine(t, fastConfig(), nil)
	step := &Step{ID: "hook", Type: StepWebhook, URL: srv.URL}
	out, err := engine.executeWebhook(context.Background(), step, map[string]interface{}{"event": "done"})
	require.NoError(t, err)

	assert.Equal(t, 200, out["status_code"])
	assert.Equal(t, "done", received["event"])
	resp := out["response"].(map[string]interface{})
	assert.Equal(t, true, resp["accepted"])
}

func TestWebhookStep_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	engine, _ := newTestEngine(t, fastConfig(), nil)
	step := &Step{ID: "hook", Type: StepWebhook, URL: srv.URL}
	_, err := engine.executeWebhook(context.Background(), step, nil)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestWebhookStep_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	engine, _ := newTestEngine(t, fastConfig(), nil)
	step := &Step{ID: "hook", Type: StepWebhook, URL: srv.URL}
	_, err := engine.executeWebhook(context.Background(), step, nil)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestConditionStepOutput(t *testing.T) {
	step := &Step{ID: "gate", Type: StepCondition, Condition: `trigger.go == true`}
	out, err := executeConditionStep(step, map[string]interface{}{"go": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])

	out, err = executeConditionStep(step, map[string]interface{}{"go": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out["result"])
}
