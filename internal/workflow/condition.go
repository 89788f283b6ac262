package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition expressions gate steps on trigger data and prior step outputs.
// The language is deliberately tiny: dot paths, literals, comparison
// operators, exists(), !, && and ||. Nothing is ever executed or
// interpolated, so workflow authors cannot reach outside the execution's
// own data.
//
//	steps.fetch.response.count > 0 && trigger.priority == "high"
//	exists(steps.lookup.user) || trigger.fallback == true

type condLookup func(path string) (interface{}, bool)

// EvaluateCondition parses and evaluates expr against the execution's
// trigger data and step outputs. Parse failures return a ValidationError.
func EvaluateCondition(expr string, triggerData map[string]interface{}, outputs map[string]map[string]interface{}) (bool, error) {
	lookup := func(path string) (interface{}, bool) {
		switch {
		case strings.HasPrefix(path, "steps."):
			rest := strings.TrimPrefix(path, "steps.")
			stepID, fieldPath, _ := strings.Cut(rest, ".")
			output, ok := outputs[stepID]
			if !ok {
				return nil, false
			}
			if fieldPath == "" {
				return output, true
			}
			v := LookupPath(output, fieldPath)
			return v, v != nil
		case strings.HasPrefix(path, "trigger."):
			v := LookupPath(triggerData, strings.TrimPrefix(path, "trigger."))
			return v, v != nil
		default:
			return nil, false
		}
	}

	tokens, err := tokenizeCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{tokens: tokens, lookup: lookup}
	result, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, NewValidationError("condition", "unexpected token %q", p.tokens[p.pos].text)
	}
	return result, nil
}

// ValidateCondition parses expr without evaluating path values, so the
// loader can reject malformed expressions up front.
func ValidateCondition(expr string) error {
	tokens, err := tokenizeCondition(expr)
	if err != nil {
		return err
	}
	p := &condParser{tokens: tokens, lookup: func(string) (interface{}, bool) { return nil, false }}
	if _, err := p.parseOr(); err != nil {
		return err
	}
	if p.pos != len(p.tokens) {
		return NewValidationError("condition", "unexpected token %q", p.tokens[p.pos].text)
	}
	return nil
}

type condTokenKind int

const (
	tokPath condTokenKind = iota
	tokString
	tokNumber
	tokBool
	tokNull
	tokOp     // == != > >= < <= contains
	tokAnd    // &&
	tokOr     // ||
	tokNot    // !
	tokLParen // (
	tokRParen // )
	tokExists // exists
)

type condToken struct {
	kind condTokenKind
	text string
}

func tokenizeCondition(expr string) ([]condToken, error) {
	var tokens []condToken
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			tokens = append(tokens, condToken{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, condToken{tokRParen, ")"})
			i++
		case c == '&':
			if i+1 >= len(expr) || expr[i+1] != '&' {
				return nil, NewValidationError("condition", "expected && at offset %d", i)
			}
			tokens = append(tokens, condToken{tokAnd, "&&"})
			i += 2
		case c == '|':
			if i+1 >= len(expr) || expr[i+1] != '|' {
				return nil, NewValidationError("condition", "expected || at offset %d", i)
			}
			tokens = append(tokens, condToken{tokOr, "||"})
			i += 2
		case c == '!':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, condToken{tokOp, "!="})
				i += 2
			} else {
				tokens = append(tokens, condToken{tokNot, "!"})
				i++
			}
		case c == '=':
			if i+1 >= len(expr) || expr[i+1] != '=' {
				return nil, NewValidationError("condition", "expected == at offset %d", i)
			}
			tokens = append(tokens, condToken{tokOp, "=="})
			i += 2
		case c == '>' || c == '<':
			op := string(c)
			i++
			if i < len(expr) && expr[i] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, condToken{tokOp, op})
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				j++
			}
			if j >= len(expr) {
				return nil, NewValidationError("condition", "unterminated string at offset %d", i)
			}
			tokens = append(tokens, condToken{tokString, expr[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(expr) && expr[i+1] >= '0' && expr[i+1] <= '9':
			j := i + 1
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, condToken{tokNumber, expr[i:j]})
			i = j
		case isPathChar(c):
			j := i
			for j < len(expr) && isPathChar(expr[j]) {
				j++
			}
			word := expr[i:j]
			switch word {
			case "true", "false":
				tokens = append(tokens, condToken{tokBool, word})
			case "null":
				tokens = append(tokens, condToken{tokNull, word})
			case "contains":
				tokens = append(tokens, condToken{tokOp, word})
			case "exists":
				tokens = append(tokens, condToken{tokExists, word})
			default:
				tokens = append(tokens, condToken{tokPath, word})
			}
			i = j
		default:
			return nil, NewValidationError("condition", "unexpected character %q at offset %d", string(c), i)
		}
	}
	if len(tokens) == 0 {
		return nil, NewValidationError("condition", "empty expression")
	}
	return tokens, nil
}

func isPathChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-'
}

type condParser struct {
	tokens []condToken
	pos    int
	lookup condLookup
}

func (p *condParser) peek() (condToken, bool) {
	if p.pos >= len(p.tokens) {
		return condToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *condParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
}

func (p *condParser) parseAnd() (bool, error) {
	left, err := p.parseUnary()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
}

func (p *condParser) parseUnary() (bool, error) {
	tok, ok := p.peek()
	if !ok {
		return false, NewValidationError("condition", "unexpected end of expression")
	}
	if tok.kind == tokNot {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		return !v, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (bool, error) {
	tok, ok := p.peek()
	if !ok {
		return false, NewValidationError("condition", "unexpected end of expression")
	}
	switch tok.kind {
	case tokLParen:
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if next, ok := p.peek(); !ok || next.kind != tokRParen {
			return false, NewValidationError("condition", "missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case tokExists:
		p.pos++
		if next, ok := p.peek(); !ok || next.kind != tokLParen {
			return false, NewValidationError("condition", "exists requires parentheses")
		}
		p.pos++
		path, ok := p.peek()
		if !ok || path.kind != tokPath {
			return false, NewValidationError("condition", "exists requires a path argument")
		}
		p.pos++
		if next, ok := p.peek(); !ok || next.kind != tokRParen {
			return false, NewValidationError("condition", "exists missing closing parenthesis")
		}
		p.pos++
		_, found := p.lookup(path.text)
		return found, nil
	default:
		return p.parseComparison()
	}
}

func (p *condParser) parseComparison() (bool, error) {
	left, err := p.parseOperand()
	if err != nil {
		return false, err
	}
	tok, ok := p.peek()
	if !ok || tok.kind != tokOp {
		return false, NewValidationError("condition", "expected comparison operator")
	}
	p.pos++
	right, err := p.parseOperand()
	if err != nil {
		return false, err
	}
	return compareValues(left, tok.text, right)
}

func (p *condParser) parseOperand() (interface{}, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, NewValidationError("condition", "unexpected end of expression")
	}
	p.pos++
	switch tok.kind {
	case tokPath:
		v, _ := p.lookup(tok.text)
		return v, nil
	case tokString:
		return tok.text, nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, NewValidationError("condition", "bad number %q", tok.text)
		}
		return f, nil
	case tokBool:
		return tok.text == "true", nil
	case tokNull:
		return nil, nil
	default:
		return nil, NewValidationError("condition", "unexpected token %q", tok.text)
	}
}

func compareValues(left interface{}, op string, right interface{}) (bool, error) {
	switch op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "contains":
		return containsValue(left, right), nil
	case ">", ">=", "<", "<=":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	default:
		return false, NewValidationError("condition", "unknown operator %q", op)
	}
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && (a == nil) == (b == nil)
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []interface{}:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
