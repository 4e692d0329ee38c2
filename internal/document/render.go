package document

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="id">
<head>
<meta charset="utf-8">
{{- range .Meta}}
<meta name="{{.Name}}" content="{{.Content}}">
{{- end}}
<title>{{.Title}}</title>
</head>
{{.Body}}
</html>
`))

type metaTag struct {
	Name    string
	Content string
}

// Render returns the full HTML page.
func (d *Document) Render() (string, error) {
	d.mu.RLock()
	var body strings.Builder
	d.body.markupLocked(&body)
	data := struct {
		Title string
		Meta  []metaTag
		Body  template.HTML
	}{
		Title: d.title,
		Meta:  sortedMeta(d.meta),
		Body:  template.HTML(body.String()),
	}
	d.mu.RUnlock()

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return buf.String(), nil
}

// RenderElement returns the markup of a single subtree.
func (d *Document) RenderElement(el *Element) template.HTML {
	if el == nil {
		return ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	el.markupLocked(&b)
	return template.HTML(b.String())
}

type View struct {
	Title      string            `json:"title"`
	Location   string            `json:"location"`
	Meta       map[string]string `json:"meta,omitempty"`
	ActivePage string            `json:"active_page,omitempty"`
	Sections   []SectionView     `json:"sections"`
	Nav        []NavView         `json:"nav"`
}

type SectionView struct {
	ID     string `json:"id"`
	Page   string `json:"page"`
	Active bool   `json:"active"`
	HTML   string `json:"html,omitempty"`
}

type NavView struct {
	Page   string `json:"page"`
	Active bool   `json:"active"`
}

// Snapshot returns a JSON-friendly view of sections and navigation.
func (d *Document) Snapshot() View {
	sections, _ := d.QueryAll("." + SectionClass)
	nav, _ := d.QueryAll("." + NavItemClass + "[" + PageAttr + "]")

	d.mu.RLock()
	defer d.mu.RUnlock()
	v := View{
		Title:    d.title,
		Location: d.location,
		Sections: make([]SectionView, 0, len(sections)),
		Nav:      make([]NavView, 0, len(nav)),
	}
	if len(d.meta) > 0 {
		v.Meta = make(map[string]string, len(d.meta))
		for k, val := range d.meta {
			v.Meta[k] = val
		}
	}
	for _, s := range sections {
		sv := SectionView{
			ID:     s.id,
			Page:   SectionPage(s.id, s.attrs[PageAttr]),
			Active: s.hasClassLocked(ActiveClass),
			HTML:   string(s.content),
		}
		if sv.Active && v.ActivePage == "" {
			v.ActivePage = sv.Page
		}
		v.Sections = append(v.Sections, sv)
	}
	for _, n := range nav {
		v.Nav = append(v.Nav, NavView{Page: n.attrs[PageAttr], Active: n.hasClassLocked(ActiveClass)})
	}
	return v
}

// SectionPage derives the page a section belongs to from its data-page
// attribute or its "<page>-content" id.
func SectionPage(id, dataPage string) string {
	if dataPage != "" {
		return dataPage
	}
	return strings.TrimSuffix(id, "-content")
}

func sortedMeta(meta map[string]string) []metaTag {
	out := make([]metaTag, 0, len(meta))
	for k, v := range meta {
		out = append(out, metaTag{Name: k, Content: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
