// Package output renders CLI results as tables, markdown, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension used when writing a format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// Tabular is a result that can be shown as a table and serialized as data.
type Tabular interface {
	Title() string
	Header() table.Row
	Rows() []table.Row
	Data() any
}

// footered results add a summary row under the table.
type footered interface {
	Footer() table.Row
}

// Render renders v in format.
func Render(format Format, v Tabular) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v.Data(), "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatYAML:
		data, err := yaml.Marshal(v.Data())
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case FormatMarkdown:
		t := newTable(v)
		rendered := t.RenderMarkdown()
		if title := v.Title(); title != "" {
			rendered = "## " + title + "\n\n" + rendered
		}
		return rendered, nil
	default:
		t := newTable(v)
		t.SetStyle(table.StyleRounded)
		if title := v.Title(); title != "" {
			t.SetTitle(title)
		}
		return t.Render(), nil
	}
}

func newTable(v Tabular) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(v.Header())
	for _, row := range v.Rows() {
		t.AppendRow(row)
	}
	if f, ok := v.(footered); ok {
		if footer := f.Footer(); footer != nil {
			t.AppendFooter(footer)
		}
	}
	return t
}

// formatFloat prints v with at most two decimals and no trailing zeros.
func formatFloat(v float64) string {
	formatted := strconv.FormatFloat(v, 'f', 2, 64)
	formatted = strings.TrimRight(formatted, "0")
	return strings.TrimSuffix(formatted, ".")
}
