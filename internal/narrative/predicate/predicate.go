// Package predicate parses and evaluates branch activation conditions.
//
// Conditions are small boolean expressions over a typed fact context
// ("flag:met_fixer && reputation_arasaka >= 50"), parsed once into an
// AST at graph load time. Evaluation is side-effect free; there is no
// dynamic code execution.
package predicate

import (
	"fmt"
	"strconv"
	"strings"
)

// Facts is the typed context a predicate evaluates against.
type Facts struct {
	Flags      map[string]struct{}
	Events     map[string]struct{}
	Stats      map[string]int
	QuestState string
}

// HasFlag reports whether the named flag is active.
func (f Facts) HasFlag(name string) bool {
	_, ok := f.Flags[name]
	return ok
}

// HasEvent reports whether the named world event is active.
func (f Facts) HasEvent(name string) bool {
	_, ok := f.Events[name]
	return ok
}

// Expr is a parsed condition node.
type Expr interface {
	Eval(facts Facts) bool
	String() string
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(facts Facts) bool { return e.left.Eval(facts) && e.right.Eval(facts) }
func (e andExpr) String() string        { return fmt.Sprintf("(%s && %s)", e.left, e.right) }

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(facts Facts) bool { return e.left.Eval(facts) || e.right.Eval(facts) }
func (e orExpr) String() string        { return fmt.Sprintf("(%s || %s)", e.left, e.right) }

type notExpr struct{ inner Expr }

func (e notExpr) Eval(facts Facts) bool { return !e.inner.Eval(facts) }
func (e notExpr) String() string        { return "!" + e.inner.String() }

type flagExpr struct{ name string }

func (e flagExpr) Eval(facts Facts) bool { return facts.HasFlag(e.name) }
func (e flagExpr) String() string        { return "flag:" + e.name }

type eventExpr struct{ name string }

func (e eventExpr) Eval(facts Facts) bool { return facts.HasEvent(e.name) }
func (e eventExpr) String() string        { return "event:" + e.name }

// stateExpr compares the quest state string with == or !=.
type stateExpr struct {
	op    string
	value string
}

func (e stateExpr) Eval(facts Facts) bool {
	if e.op == "!=" {
		return facts.QuestState != e.value
	}
	return facts.QuestState == e.value
}

func (e stateExpr) String() string { return fmt.Sprintf("state %s %s", e.op, e.value) }

// statExpr compares a numeric stat against a literal. An absent stat
// evaluates as zero so fresh characters fail positive thresholds
// instead of erroring at resolve time.
type statExpr struct {
	stat  string
	op    string
	value int
}

func (e statExpr) Eval(facts Facts) bool {
	actual := facts.Stats[e.stat]
	switch e.op {
	case ">=":
		return actual >= e.value
	case "<=":
		return actual <= e.value
	case ">":
		return actual > e.value
	case "<":
		return actual < e.value
	case "!=":
		return actual != e.value
	default:
		return actual == e.value
	}
}

func (e statExpr) String() string { return fmt.Sprintf("%s %s %d", e.stat, e.op, e.value) }

// Parse compiles a condition string into an expression tree.
func Parse(input string) (Expr, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q in condition %q", p.tokens[p.pos], input)
	}
	return expr, nil
}

// MustParse is Parse for statically-known conditions in tests and seeds.
func MustParse(input string) Expr {
	expr, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return expr
}

var operators = []string{">=", "<=", "==", "!=", ">", "<", "&&", "||", "!", "(", ")"}

func tokenize(input string) ([]string, error) {
	var tokens []string
	rest := strings.TrimSpace(input)
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		matched := false
		for _, op := range operators {
			if strings.HasPrefix(rest, op) {
				tokens = append(tokens, op)
				rest = rest[len(op):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		end := 0
		for end < len(rest) && isWordChar(rest[end]) {
			end++
		}
		if end == 0 {
			return nil, fmt.Errorf("unexpected character %q in condition", rest[0])
		}
		tokens = append(tokens, rest[:end])
		rest = rest[end:]
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	return tokens, nil
}

func isWordChar(c byte) bool {
	return c == '_' || c == ':' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *parser) next() string {
	token := p.peek()
	if token != "" {
		p.pos++
	}
	return token
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "&&" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek() {
	case "!":
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	case "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	}
	return p.parseTerm()
}

func (p *parser) parseTerm() (Expr, error) {
	word := p.next()
	if word == "" {
		return nil, fmt.Errorf("unexpected end of condition")
	}

	if name, ok := strings.CutPrefix(word, "flag:"); ok {
		if name == "" {
			return nil, fmt.Errorf("flag predicate requires a name")
		}
		return flagExpr{name: name}, nil
	}
	if name, ok := strings.CutPrefix(word, "event:"); ok {
		if name == "" {
			return nil, fmt.Errorf("event predicate requires a name")
		}
		return eventExpr{name: name}, nil
	}
	if strings.Contains(word, ":") {
		return nil, fmt.Errorf("unknown predicate namespace in %q", word)
	}

	op := p.next()
	switch op {
	case ">=", "<=", ">", "<", "==", "!=":
	default:
		return nil, fmt.Errorf("expected comparison operator after %q, got %q", word, op)
	}

	operand := p.next()
	if operand == "" {
		return nil, fmt.Errorf("expected operand after %q %s", word, op)
	}

	if word == "state" {
		if op != "==" && op != "!=" {
			return nil, fmt.Errorf("state comparisons support only == and !=, got %s", op)
		}
		return stateExpr{op: op, value: operand}, nil
	}

	value, err := strconv.Atoi(operand)
	if err != nil {
		return nil, fmt.Errorf("stat comparison %q requires an integer operand, got %q", word, operand)
	}
	return statExpr{stat: word, op: op, value: value}, nil
}
