package analysis

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Report is the tabular result of an analysis.
type Report struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Render formats the report as a table. styled adds colors and borders for
// terminals.
func (r Report) Render(styled bool) string {
	var b strings.Builder
	if styled {
		b.WriteString(titleStyle.Render(r.Title))
	} else {
		b.WriteString(r.Title)
	}
	b.WriteByte('\n')
	if len(r.Rows) == 0 {
		b.WriteString("(no data)\n")
		return b.String()
	}

	t := table.New().Headers(r.Headers...).Rows(r.Rows...)
	if styled {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
			StyleFunc(func(int, int) lipgloss.Style { return cellStyle })
	}
	b.WriteString(t.String())
	b.WriteByte('\n')
	return b.String()
}
