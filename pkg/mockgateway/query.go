package mockgateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

// predicate is a compiled readByQuery filter.
type predicate func(core.Record) bool

// compileQuery understands the subset of the query grammar used against the
// mock: comparisons (= != <> < <= > >=), IN lists, LIKE with % wildcards,
// IS [NOT] NULL, AND, OR and parentheses. An empty query matches everything.
func compileQuery(q string) (predicate, error) {
	toks, err := tokenize(q)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return func(core.Record) bool { return true }, nil
	}
	p := &parser{toks: toks}
	pred, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q", p.peek().text)
	}
	return pred, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(q string) ([]token, error) {
	var out []token
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			var sb strings.Builder
			i++
			for {
				if i >= len(q) {
					return nil, fmt.Errorf("unterminated string")
				}
				if q[i] == '\'' {
					if i+1 < len(q) && q[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteByte(q[i])
				i++
			}
			out = append(out, token{tokString, sb.String()})
		case c == '(' || c == ')' || c == ',':
			out = append(out, token{tokPunct, string(c)})
			i++
		case c == '=' || c == '<' || c == '>' || c == '!':
			j := i + 1
			if j < len(q) && (q[j] == '=' || (c == '<' && q[j] == '>')) {
				j++
			}
			op := q[i:j]
			if op == "!" {
				return nil, fmt.Errorf("unexpected '!'")
			}
			out = append(out, token{tokOp, op})
			i = j
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(q) && (q[j] == '.' || (q[j] >= '0' && q[j] <= '9')) {
				j++
			}
			out = append(out, token{tokNumber, q[i:j]})
			i = j
		case isIdentByte(c):
			j := i + 1
			for j < len(q) && isIdentByte(q[j]) {
				j++
			}
			out = append(out, token{tokIdent, q[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return out, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) punct(s string) bool {
	t := p.peek()
	if t.kind == tokPunct && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (predicate, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(r core.Record) bool { return l(r) || right(r) }
	}
	return left, nil
}

func (p *parser) and() (predicate, error) {
	left, err := p.cond()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.cond()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(r core.Record) bool { return l(r) && right(r) }
	}
	return left, nil
}

func (p *parser) cond() (predicate, error) {
	if p.punct("(") {
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if !p.punct(")") {
			return nil, fmt.Errorf("missing ')'")
		}
		return inner, nil
	}
	field := p.next()
	if field.kind != tokIdent {
		return nil, fmt.Errorf("expected field name, got %q", field.text)
	}
	name := field.text

	negate := p.keyword("not")
	switch {
	case p.keyword("in"):
		values, err := p.list()
		if err != nil {
			return nil, err
		}
		return func(r core.Record) bool {
			v, ok := lookup(r, name)
			if !ok {
				return false
			}
			for _, want := range values {
				if compare(v, want) == 0 {
					return !negate
				}
			}
			return negate
		}, nil
	case p.keyword("like"):
		pat := p.next()
		if pat.kind != tokString {
			return nil, fmt.Errorf("like expects a string")
		}
		re, err := likePattern(pat.text)
		if err != nil {
			return nil, err
		}
		return func(r core.Record) bool {
			v, _ := lookup(r, name)
			return re.MatchString(v) != negate
		}, nil
	case negate:
		return nil, fmt.Errorf("expected IN or LIKE after NOT")
	case p.keyword("is"):
		isNot := p.keyword("not")
		if !p.keyword("null") {
			return nil, fmt.Errorf("expected NULL")
		}
		return func(r core.Record) bool {
			v, ok := lookup(r, name)
			return (ok && v != "") == isNot
		}, nil
	}

	op := p.next()
	if op.kind != tokOp {
		return nil, fmt.Errorf("expected operator after %s", name)
	}
	val := p.next()
	if val.kind != tokString && val.kind != tokNumber {
		return nil, fmt.Errorf("expected value after %s %s", name, op.text)
	}
	want := val.text
	return func(r core.Record) bool {
		v, ok := lookup(r, name)
		if !ok {
			return false
		}
		c := compare(v, want)
		switch op.text {
		case "=":
			return c == 0
		case "!=", "<>":
			return c != 0
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		case ">=":
			return c >= 0
		}
		return false
	}, nil
}

func (p *parser) list() ([]string, error) {
	if !p.punct("(") {
		return nil, fmt.Errorf("expected '(' after IN")
	}
	var out []string
	for {
		v := p.next()
		if v.kind != tokString && v.kind != tokNumber {
			return nil, fmt.Errorf("expected value in list")
		}
		out = append(out, v.text)
		if p.punct(")") {
			return out, nil
		}
		if !p.punct(",") {
			return nil, fmt.Errorf("expected ',' or ')'")
		}
	}
}

func likePattern(s string) (*regexp.Regexp, error) {
	parts := strings.Split(s, "%")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
}

// compare orders numerically when both sides are numbers, otherwise
// case-insensitively as text.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func lookup(r core.Record, name string) (string, bool) {
	if _, ok := r.Get(name); ok {
		return r.Text(name), true
	}
	for k := range r.Fields {
		if strings.EqualFold(k, name) {
			return r.Text(k), true
		}
	}
	return "", false
}
