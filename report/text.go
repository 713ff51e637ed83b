package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pythseq/compleconta/classify"
	"github.com/pythseq/compleconta/lca"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

// Text renders the report as titled tables for a terminal.
type Text struct{}

// Name implements Format.
func (Text) Name() string { return "text" }

// Write implements Format.
func (Text) Write(w io.Writer, r classify.Report) error {
	call := r.Genome.Call
	title := titleStyle.Render(fmt.Sprintf("%s (%s, taxid %d)", call.Name, call.Rank, call.TaxID))
	summary := mutedStyle.Render(fmt.Sprintf("%d sequences voted, %d excluded", r.Voters, r.Failed))

	path := newTable("Rank", "Taxon", "TaxID", "Support")
	for _, row := range pathRows(r.Genome) {
		path.Row(row...)
	}

	seqs := newTable("Sequence", "Family", "Hits", "Call", "Rank", "Support")
	var failedRows []int
	for i, s := range r.Sequences {
		if s.Err != nil {
			seqs.Row(s.SequenceID, s.MarkerFamily, strconv.Itoa(s.Hits), "-", "-", oneLine(s.Err.Error()))
			failedRows = append(failedRows, i)
			continue
		}
		c := s.Result.Call
		seqs.Row(s.SequenceID, s.MarkerFamily, strconv.Itoa(s.Hits), c.Name, c.Rank, callSupport(s.Result))
	}
	seqs.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		for _, f := range failedRows {
			if f == row {
				return errorStyle
			}
		}
		return cellStyle
	})

	_, err := fmt.Fprintf(w, "%s\n%s\n\n%s\n\n%s\n",
		title, summary, path.Render(), seqs.Render())
	return err
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func pathRows(res lca.Result) [][]string {
	rows := make([][]string, len(res.Levels))
	for i, l := range res.Levels {
		rows[i] = []string{l.Node.Rank, l.Node.Name, strconv.Itoa(l.Node.TaxID), formatSupport(l.Support)}
	}
	return rows
}

// callSupport is the support of the level that was called, or "-" for a
// root call.
func callSupport(res lca.Result) string {
	for _, l := range res.Levels {
		if l.Node.TaxID == res.Call.TaxID {
			return formatSupport(l.Support)
		}
	}
	return "-"
}
