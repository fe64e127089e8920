package contentdir

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"dlnamedia/internal/catalog"
)

var ErrUnsupportedCriteria = errors.New("unsupported search criteria")

// SearchCapabilities lists the properties ParseCriteria understands.
const SearchCapabilities = "@id,@refID,dc:title,dc:creator,upnp:class,upnp:artist,upnp:album,upnp:genre"

var fields = map[string]catalog.Field{
	"dc:title":    catalog.FieldTitle,
	"dc:creator":  catalog.FieldArtist,
	"upnp:artist": catalog.FieldArtist,
	"upnp:album":  catalog.FieldAlbum,
	"upnp:genre":  catalog.FieldGenre,
}

// ParseCriteria compiles a ContentDirectory SearchCriteria string:
//
//	criteria  = "*" | orExpr
//	orExpr    = andExpr { "or" andExpr }
//	andExpr   = primary { "and" primary }
//	primary   = "(" orExpr ")" | property op value | property "exists" bool
//	op        = "=" | "!=" | "contains" | "doesNotContain" | "derivedfrom"
func ParseCriteria(s string) (catalog.Criteria, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return catalog.All{}, nil
	}

	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	c, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return c, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokOpen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokClose, text: ")", pos: i})
			i++
		case r == '"':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(rs) {
				c := rs[i]
				if c == '\\' && i+1 < len(rs) {
					b.WriteRune(rs[i+1])
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrUnsupportedCriteria, start)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: start})
		default:
			start := i
			for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != '(' && rs[i] != ')' && rs[i] != '"' {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: string(rs[start:i]), pos: start})
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokWord, pos: -1}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedCriteria, fmt.Sprintf(format, args...))
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokWord && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) orExpr() (catalog.Criteria, error) {
	first, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	terms := catalog.Or{first}
	for p.keyword("or") {
		c, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		terms = append(terms, c)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *parser) andExpr() (catalog.Criteria, error) {
	first, err := p.primary()
	if err != nil {
		return nil, err
	}
	terms := catalog.And{first}
	for p.keyword("and") {
		c, err := p.primary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, c)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *parser) primary() (catalog.Criteria, error) {
	if p.done() {
		return nil, p.errorf("unexpected end of criteria")
	}
	if p.peek().kind == tokOpen {
		p.next()
		c, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokClose {
			return nil, p.errorf("missing ) at %d", t.pos)
		}
		return c, nil
	}

	prop := p.next()
	if prop.kind != tokWord {
		return nil, p.errorf("expected property at %d, got %q", prop.pos, prop.text)
	}
	op := p.next()
	if op.kind != tokWord {
		return nil, p.errorf("expected operator after %s", prop.text)
	}

	if op.text == "exists" {
		v := p.next()
		if v.kind != tokWord || (v.text != "true" && v.text != "false") {
			return nil, p.errorf("exists takes true or false, got %q", v.text)
		}
		return existsCriteria(prop.text, v.text == "true")
	}

	val := p.next()
	if val.kind != tokString {
		return nil, p.errorf("expected quoted value after %s %s", prop.text, op.text)
	}
	return relCriteria(prop.text, op.text, val.text)
}

func existsCriteria(prop string, want bool) (catalog.Criteria, error) {
	var c catalog.Criteria
	switch prop {
	case "@id", "upnp:class":
		c = catalog.All{}
	case "@refID":
		c = catalog.None{}
	default:
		f, ok := fields[prop]
		if !ok {
			return nil, fmt.Errorf("%w: property %s", ErrUnsupportedCriteria, prop)
		}
		c = catalog.FieldExists{Field: f}
	}
	if want {
		return c, nil
	}
	return catalog.Not{Term: c}, nil
}

func relCriteria(prop, op, value string) (catalog.Criteria, error) {
	var eq, contains catalog.Criteria
	switch prop {
	case "upnp:class":
		if op == "derivedfrom" {
			return catalog.ClassDerivedFrom{Class: value}, nil
		}
		eq, contains = catalog.ClassIs{Class: value}, classContains(value)
	case "@id":
		eq, contains = idEquals(value), idContains(value)
	case "@refID":
		eq, contains = catalog.None{}, catalog.None{}
	default:
		f, ok := fields[prop]
		if !ok {
			return nil, fmt.Errorf("%w: property %s", ErrUnsupportedCriteria, prop)
		}
		eq = catalog.FieldEquals{Field: f, Value: value}
		contains = catalog.FieldContains{Field: f, Substr: value}
	}

	switch op {
	case "=":
		return eq, nil
	case "!=":
		return catalog.Not{Term: eq}, nil
	case "contains":
		return contains, nil
	case "doesNotContain":
		return catalog.Not{Term: contains}, nil
	default:
		return nil, fmt.Errorf("%w: operator %s on %s", ErrUnsupportedCriteria, op, prop)
	}
}

type idEquals string

func (id idEquals) Match(obj *catalog.Object) bool { return obj.ID == string(id) }

type idContains string

func (id idContains) Match(obj *catalog.Object) bool { return strings.Contains(obj.ID, string(id)) }

type classContains string

func (c classContains) Match(obj *catalog.Object) bool {
	return strings.Contains(strings.ToLower(obj.Kind.Class()), strings.ToLower(string(c)))
}
