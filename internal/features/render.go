package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
)

const emptyMessage = "Belum ada data"

var (
	tableView = template.Must(template.New("table").Parse(
		`<div class="card"><div class="card-header"><h3>{{.Title}}</h3></div>` +
			`{{if .Rows}}<table class="table" data-rows="{{len .Rows}}"><thead><tr>{{range .Labels}}<th>{{.}}</th>{{end}}</tr></thead>` +
			`<tbody>{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}</tbody></table>` +
			`{{else}}<p class="empty-state">{{.Empty}}</p>{{end}}</div>`))
	cardsView = template.Must(template.New("cards").Parse(
		`<div class="summary-cards">{{range .Cards}}` +
			`<div class="summary-card"><span class="summary-label">{{.Label}}</span><strong class="summary-value">{{.Value}}</strong></div>` +
			`{{end}}</div>`))
)

type card struct {
	Label string
	Value string
}

// render turns a backend payload into container markup. Tables accept a bare
// array or an object with a "data" array; cards expect an object.
func render(def Definition, raw json.RawMessage) (template.HTML, error) {
	var buf bytes.Buffer
	switch def.Layout {
	case LayoutCards:
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("decode %s summary: %w", def.Page, err)
		}
		if data, ok := obj["data"].(map[string]any); ok {
			obj = data
		}
		cards := make([]card, 0, len(def.Fields))
		for _, f := range def.Fields {
			cards = append(cards, card{Label: f.Label, Value: formatValue(obj[f.Key])})
		}
		if err := cardsView.Execute(&buf, struct{ Cards []card }{cards}); err != nil {
			return "", err
		}
	default:
		rows, err := decodeRows(raw)
		if err != nil {
			return "", fmt.Errorf("decode %s rows: %w", def.Page, err)
		}
		labels := make([]string, 0, len(def.Fields))
		for _, f := range def.Fields {
			labels = append(labels, f.Label)
		}
		cells := make([][]string, 0, len(rows))
		for _, row := range rows {
			line := make([]string, 0, len(def.Fields))
			for _, f := range def.Fields {
				line = append(line, formatValue(row[f.Key]))
			}
			cells = append(cells, line)
		}
		err = tableView.Execute(&buf, struct {
			Title  string
			Labels []string
			Rows   [][]string
			Empty  string
		}{def.Title, labels, cells, emptyMessage})
		if err != nil {
			return "", err
		}
	}
	return template.HTML(buf.String()), nil
}

func decodeRows(raw json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "Ya"
		}
		return "Tidak"
	default:
		return fmt.Sprint(t)
	}
}
