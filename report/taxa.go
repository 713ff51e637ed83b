package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/taxonomy"
)

// WriteTaxa renders a list of taxa, such as a lineage or the leaves of a
// subtree, in the named format: a table for "text", "taxid<TAB>rank<TAB>name"
// lines for "tsv" and an array of TaxonV1 for "json".
func WriteTaxa(w io.Writer, format string, nodes []taxonomy.Node) error {
	switch strings.ToLower(format) {
	case "text":
		t := newTable("TaxID", "Rank", "Name")
		for _, n := range nodes {
			t.Row(strconv.Itoa(n.TaxID), n.Rank, n.Name)
		}
		_, err := fmt.Fprintln(w, t.Render())
		return err
	case "tsv":
		bw := bufio.NewWriter(w)
		for _, n := range nodes {
			fmt.Fprintf(bw, "%d\t%s\t%s\n", n.TaxID, n.Rank, n.Name)
		}
		return bw.Flush()
	case "json":
		out := make([]TaxonV1, len(nodes))
		for i, n := range nodes {
			out[i] = taxonV1(n)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return compleconta.NewConfigurationError("report.WriteTaxa",
		fmt.Errorf("%w: unknown format %q", compleconta.ErrInvalidConfig, format))
}
