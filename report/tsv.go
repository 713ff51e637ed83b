package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pythseq/compleconta/classify"
	"github.com/pythseq/compleconta/lca"
)

// TSV renders the report as plain tab-separated sections: the genome call,
// the genome consensus path, then one line per sequence with its own path.
// A path entry is "<name> <support>". Sequences excluded from the vote end
// with an "error: ..." column instead of a path.
type TSV struct{}

// Name implements Format.
func (TSV) Name() string { return "tsv" }

// Write implements Format.
func (TSV) Write(w io.Writer, r classify.Report) error {
	bw := bufio.NewWriter(w)
	call := r.Genome.Call

	fmt.Fprintf(bw, "ncbi_taxid\ttaxon_name\ttaxon_rank\n%d\t%s\t%s\n", call.TaxID, call.Name, call.Rank)

	fmt.Fprintf(bw, "\nLCA path and percentage of marker genes assignment:\n")
	fmt.Fprintf(bw, "%s\n", tsvPath(r.Genome))

	fmt.Fprintf(bw, "\nLCA per sequence of identified marker genes:\n")
	for _, s := range r.Sequences {
		if s.Err != nil {
			fmt.Fprintf(bw, "%s\t%s\terror: %s\n", s.SequenceID, s.MarkerFamily, oneLine(s.Err.Error()))
			continue
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\n", s.SequenceID, s.MarkerFamily, tsvPath(s.Result))
	}
	return bw.Flush()
}

func tsvPath(res lca.Result) string {
	parts := make([]string, len(res.Levels))
	for i, l := range res.Levels {
		parts[i] = l.Node.Name + " " + formatSupport(l.Support)
	}
	return strings.Join(parts, "\t")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
