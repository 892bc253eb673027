package survey

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Logic condition parser and evaluator
//
// Conditions are single predicates of the form
//
//	<field> <op> <literal>
//
// with no boolean combinators and no parentheses. The field is either a
// key of the node's own answer ("selected", "value", "text", or any
// free-form key) or "<node_id>.<key>" to read another node's recorded
// answer. Operators: ==, contains, >=, <=, >, <.
//
// Conditions are parsed once when the graph is loaded (Graph.Prepare),
// producing a tagged Condition value that evaluation switches on. A
// condition that fails to parse never matches and is reported by the
// graph validator.
// ---------------------------------------------------------------------------

// CondOp identifies the comparison a condition performs.
type CondOp int

const (
	OpEq       CondOp = iota // string equality
	OpContains               // list membership or substring
	OpGte
	OpLte
	OpGt
	OpLt
)

func (op CondOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpContains:
		return "contains"
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	default:
		return fmt.Sprintf("CondOp(%d)", int(op))
	}
}

// CondField names the value a condition reads. NodeID is empty for fields
// of the answer under evaluation; otherwise the field reads the recorded
// answer of that node.
type CondField struct {
	NodeID string
	Key    string
}

// Condition is one parsed predicate. For the ordered operators the literal
// is held as an integer (Number); Eq and Contains compare the Literal
// string form.
type Condition struct {
	Field   CondField
	Op      CondOp
	Literal string
	Number  int64
}

// String renders the condition back to its textual form.
func (c *Condition) String() string {
	field := c.Field.Key
	if c.Field.NodeID != "" {
		field = c.Field.NodeID + "." + c.Field.Key
	}
	switch c.Op {
	case OpEq, OpContains:
		return fmt.Sprintf("%s %s '%s'", field, c.Op, c.Literal)
	default:
		return fmt.Sprintf("%s %s %d", field, c.Op, c.Number)
	}
}

// ParseCondition parses a condition string into its tagged form.
func ParseCondition(expr string) (*Condition, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("empty condition")
	}

	// Field: everything up to whitespace or an operator character.
	i := 0
	for i < len(s) && !isCondBoundary(s[i]) {
		i++
	}
	field := s[:i]
	if field == "" {
		return nil, fmt.Errorf("condition %q: missing field", expr)
	}

	rest := strings.TrimLeft(s[i:], " \t")
	op, rest, err := parseCondOp(rest)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", expr, err)
	}

	lit, ok := parseCondLiteral(rest)
	if !ok {
		return nil, fmt.Errorf("condition %q: missing literal after %q", expr, op.String())
	}

	c := &Condition{Field: splitCondField(field), Op: op, Literal: lit}
	if op == OpGte || op == OpLte || op == OpGt || op == OpLt {
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("condition %q: operator %q needs an integer literal, got %q", expr, op.String(), lit)
		}
		c.Number = n
	}
	return c, nil
}

// isCondBoundary reports whether a byte ends the field token.
func isCondBoundary(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '<' || ch == '>' || ch == '='
}

// parseCondOp reads the operator from the start of rest and returns the
// remainder.
func parseCondOp(rest string) (CondOp, string, error) {
	switch {
	case strings.HasPrefix(rest, "contains") && condWordEnds(rest, len("contains")):
		return OpContains, rest[len("contains"):], nil
	case strings.HasPrefix(rest, "=="):
		return OpEq, rest[2:], nil
	case strings.HasPrefix(rest, ">="):
		return OpGte, rest[2:], nil
	case strings.HasPrefix(rest, "<="):
		return OpLte, rest[2:], nil
	case strings.HasPrefix(rest, ">"):
		return OpGt, rest[1:], nil
	case strings.HasPrefix(rest, "<"):
		return OpLt, rest[1:], nil
	default:
		return 0, "", fmt.Errorf("missing or unknown operator")
	}
}

// condWordEnds reports whether a word operator at [0:n) is followed by a
// boundary, so that a field literal starting with "contains..." cannot be
// mistaken for the operator.
func condWordEnds(s string, n int) bool {
	if len(s) == n {
		return true
	}
	ch := s[n]
	return ch == ' ' || ch == '\t' || ch == '\'' || ch == '"'
}

// parseCondLiteral trims the literal and strips one level of matching
// quotes. Quoted empty strings are valid literals; a fully absent literal
// is not.
func parseCondLiteral(rest string) (string, bool) {
	lit := strings.TrimSpace(rest)
	if lit == "" {
		return "", false
	}
	if len(lit) >= 2 {
		if (lit[0] == '\'' && lit[len(lit)-1] == '\'') || (lit[0] == '"' && lit[len(lit)-1] == '"') {
			return lit[1 : len(lit)-1], true
		}
	}
	return lit, true
}

// splitCondField splits "node_id.key" on the first dot; a bare name reads
// the answer under evaluation.
func splitCondField(field string) CondField {
	if dot := strings.Index(field, "."); dot > 0 && dot < len(field)-1 {
		return CondField{NodeID: field[:dot], Key: field[dot+1:]}
	}
	return CondField{Key: field}
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Eval evaluates the condition against the answer under evaluation and
// the answers recorded for other nodes. It never panics and never
// errors: a missing field, unknown node reference, or failed numeric
// coercion makes the condition false.
func (c *Condition) Eval(answer Answer, prior AnswerContext) bool {
	v := c.resolve(answer, prior)

	switch c.Op {
	case OpEq:
		if v == nil {
			return false
		}
		return stringForm(v) == c.Literal

	case OpContains:
		switch t := v.(type) {
		case nil:
			return false
		case []any:
			for _, e := range t {
				if stringForm(e) == c.Literal {
					return true
				}
			}
			return false
		default:
			return strings.Contains(stringForm(v), c.Literal)
		}

	default:
		n, ok := intForm(v)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGte:
			return n >= c.Number
		case OpLte:
			return n <= c.Number
		case OpGt:
			return n > c.Number
		case OpLt:
			return n < c.Number
		}
		return false
	}
}

func (c *Condition) resolve(answer Answer, prior AnswerContext) any {
	if c.Field.NodeID != "" {
		return prior.Answer(c.Field.NodeID).Field(c.Field.Key)
	}
	return answer.Field(c.Field.Key)
}

// EvaluateCondition parses and evaluates a raw condition string in one
// step. Malformed conditions evaluate to false. Traversal uses the forms
// parsed at graph load; this entry point serves ad hoc callers and tests.
func EvaluateCondition(expr string, answer Answer, prior AnswerContext) bool {
	c, err := ParseCondition(expr)
	if err != nil {
		return false
	}
	return c.Eval(answer, prior)
}
