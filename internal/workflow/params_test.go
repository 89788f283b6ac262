package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParamValue(t *testing.T) {
	ref := ParseParamValue("{{fetch.response.count}}")
	if assert.NotNil(t, ref.Ref) {
		assert.Equal(t, "fetch", ref.Ref.Step)
		assert.Equal(t, "response.count", ref.Ref.Path)
	}

	lit := ParseParamValue("plain string")
	assert.Nil(t, lit.Ref)
	assert.Equal(t, "plain string", lit.Literal)

	// templates embedded inside a longer string stay literal
	embedded := ParseParamValue("prefix {{fetch.count}} suffix")
	assert.Nil(t, embedded.Ref)

	num := ParseParamValue(42)
	assert.Equal(t, 42, num.Literal)

	spaced := ParseParamValue("{{ fetch.count }}")
	if assert.NotNil(t, spaced.Ref) {
		assert.Equal(t, "fetch", spaced.Ref.Step)
	}
}

func TestParseParamValue_Nested(t *testing.T) {
	v := ParseParamValue(map[string]interface{}{
		"limit": 10,
		"from":  "{{lookup.user.id}}",
		"tags":  []interface{}{"x", "{{lookup.tag}}"},
	})

	nested, ok := v.Literal.(map[string]interface{})
	if !ok {
		t.Fatalf("Literal = %T, want map", v.Literal)
	}
	from := nested["from"].(ParamValue)
	assert.NotNil(t, from.Ref)
	tags := nested["tags"].(ParamValue).Literal.([]interface{})
	assert.NotNil(t, tags[1].(ParamValue).Ref)
}

func TestResolveParams(t *testing.T) {
	outputs := map[string]map[string]interface{}{
		"fetch": {"response": map[string]interface{}{"count": 7}},
	}
	params := map[string]ParamValue{
		"count":   RefParam("fetch", "response.count"),
		"missing": RefParam("fetch", "response.nope"),
		"ghost":   RefParam("never-ran", "value"),
		"static":  LiteralParam("hello"),
	}

	resolved := ResolveParams(params, outputs)
	assert.Equal(t, 7, resolved["count"])
	assert.Nil(t, resolved["missing"])
	assert.Nil(t, resolved["ghost"])
	assert.Equal(t, "hello", resolved["static"])
}

func TestResolveParams_NestedRefs(t *testing.T) {
	outputs := map[string]map[string]interface{}{
		"lookup": {"user": map[string]interface{}{"id": "u1"}},
	}
	params := ParseParams(map[string]interface{}{
		"body": map[string]interface{}{
			"user_id": "{{lookup.user.id}}",
			"note":    "static",
		},
	})

	resolved := ResolveParams(params, outputs)
	body := resolved["body"].(map[string]interface{})
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, "static", body["note"])
}

func TestLookupPath(t *testing.T) {
	data := map[string]interface{}{
		"a": map[string]interface{}{"b": map[string]interface{}{"c": 1}},
	}
	assert.Equal(t, 1, LookupPath(data, "a.b.c"))
	assert.Nil(t, LookupPath(data, "a.b.x"))
	assert.Nil(t, LookupPath(data, "a.b.c.d"))
	assert.Equal(t, data, LookupPath(data, ""))
}

func TestReferencedSteps(t *testing.T) {
	params := ParseParams(map[string]interface{}{
		"x": "{{a.v}}",
		"y": map[string]interface{}{"z": "{{b.v}}"},
		"w": "literal",
	})
	refs := ReferencedSteps(params)
	assert.ElementsMatch(t, []string{"a", "b"}, refs)
}
