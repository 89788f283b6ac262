package workflow

import (
	"testing"
)

func TestEvaluateCondition(t *testing.T) {
	trigger := map[string]interface{}{
		"priority": "high",
		"count":    float64(3),
		"flag":     true,
		"meta":     map[string]interface{}{"source": "crm"},
	}
	outputs := map[string]map[string]interface{}{
		"fetch": {
			"response": map[string]interface{}{"count": float64(7), "items": []interface{}{"a", "b"}},
			"ok":       true,
		},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`trigger.priority == "high"`, true},
		{`trigger.priority == "low"`, false},
		{`trigger.priority != "low"`, true},
		{`trigger.count > 2`, true},
		{`trigger.count >= 3`, true},
		{`trigger.count < 3`, false},
		{`trigger.count <= 3`, true},
		{`trigger.flag == true`, true},
		{`steps.fetch.response.count > 5`, true},
		{`steps.fetch.ok == true`, true},
		{`steps.fetch.response.items contains "a"`, true},
		{`steps.fetch.response.items contains "z"`, false},
		{`trigger.priority contains "hi"`, true},
		{`trigger.count > 2 && trigger.priority == "high"`, true},
		{`trigger.count > 5 && trigger.priority == "high"`, false},
		{`trigger.count > 5 || trigger.priority == "high"`, true},
		{`!(trigger.count > 5)`, true},
		{`(trigger.count > 5 || trigger.flag == true) && steps.fetch.ok == true`, true},
		{`exists(steps.fetch.response)`, true},
		{`exists(steps.fetch.missing)`, false},
		{`exists(trigger.meta.source)`, true},
		{`exists(steps.ghost.anything)`, false},
		{`trigger.missing == null`, true},
		{`trigger.missing > 1`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateCondition(tt.expr, trigger, outputs)
			if err != nil {
				t.Fatalf("EvaluateCondition(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateCondition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_ParseErrors(t *testing.T) {
	exprs := []string{
		"",
		"trigger.count >",
		"trigger.count = 3",
		"trigger.count & 1",
		"(trigger.count > 1",
		"exists trigger.count",
		`trigger.priority == "unterminated`,
		"trigger.count > 1 extra",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			if _, err := EvaluateCondition(expr, nil, nil); err == nil {
				t.Errorf("EvaluateCondition(%q) error = nil, want parse error", expr)
			}
		})
	}
}

func TestValidateCondition(t *testing.T) {
	if err := ValidateCondition(`steps.a.value > 1 && exists(trigger.x)`); err != nil {
		t.Errorf("ValidateCondition() error = %v", err)
	}
	if err := ValidateCondition(`steps.a.value >`); err == nil {
		t.Error("ValidateCondition() accepted malformed expression")
	}
}
