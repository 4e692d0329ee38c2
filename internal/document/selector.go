package document

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadSelector = errors.New("bad selector")

type attrMatch struct {
	name  string
	value string
	// exists-only match, e.g. [data-page]
	any bool
}

// selector is one compound selector: tag#id.class[attr="v"]. Combinators
// are not supported.
type selector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

func parseSelector(raw string) (selector, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " >+~,") && !insideBrackets(s) {
		return selector{}, fmt.Errorf("%w: %q", ErrBadSelector, raw)
	}
	var sel selector
	i := 0
	readName := func() string {
		start := i
		for i < len(s) && isNameByte(s[i]) {
			i++
		}
		return s[start:i]
	}
	if i < len(s) && isNameByte(s[i]) {
		sel.tag = strings.ToLower(readName())
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			id := readName()
			if id == "" || sel.id != "" {
				return selector{}, fmt.Errorf("%w: %q", ErrBadSelector, raw)
			}
			sel.id = id
		case '.':
			i++
			class := readName()
			if class == "" {
				return selector{}, fmt.Errorf("%w: %q", ErrBadSelector, raw)
			}
			sel.classes = append(sel.classes, class)
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return selector{}, fmt.Errorf("%w: %q", ErrBadSelector, raw)
			}
			m, err := parseAttr(s[i+1 : i+end])
			if err != nil {
				return selector{}, fmt.Errorf("%w: %q", err, raw)
			}
			sel.attrs = append(sel.attrs, m)
			i += end + 1
		default:
			return selector{}, fmt.Errorf("%w: %q", ErrBadSelector, raw)
		}
	}
	return sel, nil
}

func parseAttr(body string) (attrMatch, error) {
	name, value, hasValue := strings.Cut(body, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return attrMatch{}, ErrBadSelector
	}
	if !hasValue {
		return attrMatch{name: name, any: true}, nil
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	return attrMatch{name: name, value: value}, nil
}

func (sel selector) matches(el *Element) bool {
	if sel.tag != "" && sel.tag != el.tag {
		return false
	}
	if sel.id != "" && sel.id != el.id {
		return false
	}
	for _, c := range sel.classes {
		if !el.hasClassLocked(c) {
			return false
		}
	}
	for _, a := range sel.attrs {
		v, ok := el.attrLocked(a.name)
		if !ok || (!a.any && v != a.value) {
			return false
		}
	}
	return true
}

func isNameByte(b byte) bool {
	return b == '-' || b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// insideBrackets reports whether every combinator-like byte sits inside an
// attribute value, e.g. [data-title="Risk Register"].
func insideBrackets(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ' ', '>', '+', '~', ',':
			if depth == 0 {
				return false
			}
		}
	}
	return true
}
