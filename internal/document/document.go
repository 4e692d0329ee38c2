// Package document is the in-memory page model the shell renders: page
// sections, navigation items, title, location and meta tags. Feature
// modules write their markup into sections; the control API serves the
// rendered HTML or a JSON view.
package document

import (
	"fmt"
	"html/template"
	"sort"
	"strings"
	"sync"
)

const (
	// SectionClass marks page sections; exactly one carries ActiveClass.
	SectionClass = "page-content"
	NavItemClass = "nav-item"
	ActiveClass  = "active"
	PageAttr     = "data-page"
)

type Document struct {
	mu       sync.RWMutex
	body     *Element
	title    string
	location string
	meta     map[string]string
}

type Element struct {
	doc      *Document
	tag      string
	id       string
	classes  []string
	attrs    map[string]string
	content  template.HTML
	children []*Element
	parent   *Element
}

func New() *Document {
	d := &Document{meta: map[string]string{}}
	d.body = &Element{doc: d, tag: "body", attrs: map[string]string{}}
	return d
}

// NewShell builds the standard layout: a sidebar with one nav item per page
// and a main area with one "<page>-content" section per page.
func NewShell(appName string, pages []string) *Document {
	d := New()
	d.title = appName
	nav := d.CreateElement("nav")
	nav.SetID("sidebar")
	main := d.CreateElement("main")
	main.SetID("main-content")
	d.Append(d.body, nav)
	d.Append(d.body, main)
	for _, page := range pages {
		item := d.CreateElement("a")
		item.AddClass(NavItemClass)
		item.SetAttr(PageAttr, page)
		item.SetAttr("href", "/"+page)
		item.SetText(page)
		d.Append(nav, item)

		section := d.CreateElement("section")
		section.SetID(page + "-content")
		section.AddClass(SectionClass)
		d.Append(main, section)
	}
	return d
}

func (d *Document) Body() *Element { return d.body }

// CreateElement returns a detached element owned by d.
func (d *Document) CreateElement(tag string) *Element {
	return &Element{doc: d, tag: strings.ToLower(tag), attrs: map[string]string{}}
}

// Append moves child under parent.
func (d *Document) Append(parent, child *Element) {
	if parent == nil || child == nil || child.doc != d || parent.doc != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if child.parent != nil {
		child.parent.removeChildLocked(child)
	}
	child.parent = parent
	parent.children = append(parent.children, child)
}

func (d *Document) Remove(el *Element) {
	if el == nil || el.doc != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if el.parent != nil {
		el.parent.removeChildLocked(el)
		el.parent = nil
	}
}

// Query returns the first element in document order matching selector, or
// nil.
func (d *Document) Query(sel string) (*Element, error) {
	all, err := d.query(sel, true)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (d *Document) QueryAll(sel string) ([]*Element, error) {
	return d.query(sel, false)
}

func (d *Document) ByID(id string) *Element {
	if id == "" {
		return nil
	}
	el, _ := d.Query("#" + id)
	return el
}

func (d *Document) query(raw string, first bool) ([]*Element, error) {
	sel, err := parseSelector(raw)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Element
	var walk func(el *Element) bool
	walk = func(el *Element) bool {
		for _, c := range el.children {
			if sel.matches(c) {
				out = append(out, c)
				if first {
					return true
				}
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(d.body)
	return out, nil
}

func (d *Document) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.title
}

func (d *Document) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	d.mu.Unlock()
}

func (d *Document) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.location
}

func (d *Document) SetLocation(loc string) {
	d.mu.Lock()
	d.location = loc
	d.mu.Unlock()
}

func (d *Document) Meta(name string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.meta[name]
}

func (d *Document) SetMeta(name, content string) {
	d.mu.Lock()
	d.meta[name] = content
	d.mu.Unlock()
}

func (e *Element) Tag() string { return e.tag }

func (e *Element) ID() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.id
}

func (e *Element) SetID(id string) {
	e.doc.mu.Lock()
	e.id = id
	e.doc.mu.Unlock()
}

func (e *Element) HasClass(name string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.hasClassLocked(name)
}

func (e *Element) AddClass(name string) { e.SetClass(name, true) }

func (e *Element) RemoveClass(name string) { e.SetClass(name, false) }

// SetClass adds or removes name.
func (e *Element) SetClass(name string, on bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	has := e.hasClassLocked(name)
	switch {
	case on && !has:
		e.classes = append(e.classes, name)
	case !on && has:
		out := e.classes[:0]
		for _, c := range e.classes {
			if c != name {
				out = append(out, c)
			}
		}
		e.classes = out
	}
}

func (e *Element) Classes() []string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return append([]string(nil), e.classes...)
}

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.attrLocked(name)
}

func (e *Element) SetAttr(name, value string) {
	switch name {
	case "id":
		e.SetID(value)
		return
	case "class":
		e.doc.mu.Lock()
		e.classes = strings.Fields(value)
		e.doc.mu.Unlock()
		return
	}
	e.doc.mu.Lock()
	e.attrs[name] = value
	e.doc.mu.Unlock()
}

func (e *Element) RemoveAttr(name string) {
	e.doc.mu.Lock()
	delete(e.attrs, name)
	e.doc.mu.Unlock()
}

// SetHTML replaces the element's own markup. Children are kept and render
// after it.
func (e *Element) SetHTML(html template.HTML) {
	e.doc.mu.Lock()
	e.content = html
	e.doc.mu.Unlock()
}

func (e *Element) SetText(text string) {
	e.SetHTML(template.HTML(template.HTMLEscapeString(text)))
}

func (e *Element) HTML() template.HTML {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.content
}

func (e *Element) Children() []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return append([]*Element(nil), e.children...)
}

func (e *Element) Parent() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.parent
}

func (e *Element) String() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var b strings.Builder
	b.WriteString(e.tag)
	if e.id != "" {
		b.WriteString("#" + e.id)
	}
	for _, c := range e.classes {
		b.WriteString("." + c)
	}
	return b.String()
}

func (e *Element) hasClassLocked(name string) bool {
	for _, c := range e.classes {
		if c == name {
			return true
		}
	}
	return false
}

func (e *Element) attrLocked(name string) (string, bool) {
	switch name {
	case "id":
		return e.id, e.id != ""
	case "class":
		return strings.Join(e.classes, " "), len(e.classes) > 0
	}
	v, ok := e.attrs[name]
	return v, ok
}

func (e *Element) removeChildLocked(child *Element) {
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i], e.children[i+1:]...)
			return
		}
	}
}

// markupLocked writes the element and its subtree. Attribute values and
// ids are escaped; content is trusted markup.
func (e *Element) markupLocked(b *strings.Builder) {
	fmt.Fprintf(b, "<%s", e.tag)
	if e.id != "" {
		fmt.Fprintf(b, ` id="%s"`, template.HTMLEscapeString(e.id))
	}
	if len(e.classes) > 0 {
		fmt.Fprintf(b, ` class="%s"`, template.HTMLEscapeString(strings.Join(e.classes, " ")))
	}
	names := make([]string, 0, len(e.attrs))
	for name := range e.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, ` %s="%s"`, template.HTMLEscapeString(name), template.HTMLEscapeString(e.attrs[name]))
	}
	b.WriteString(">")
	b.WriteString(string(e.content))
	for _, c := range e.children {
		c.markupLocked(b)
	}
	fmt.Fprintf(b, "</%s>", e.tag)
}
