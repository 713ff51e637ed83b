package report

import (
	"encoding/json"
	"io"

	"github.com/pythseq/compleconta/classify"
	"github.com/pythseq/compleconta/lca"
	"github.com/pythseq/compleconta/taxonomy"
)

// SchemaV1 identifies the GenomeV1 document layout.
const SchemaV1 = "compleconta.genome.v1"

// GenomeV1 is the stable JSON form of a classification report. Fields are
// only ever added to it.
type GenomeV1 struct {
	Schema    string       `json:"schema"`
	Call      TaxonV1      `json:"call"`
	Path      []LevelV1    `json:"path"`
	Voters    int          `json:"voters"`
	Failed    int          `json:"failed"`
	Sequences []SequenceV1 `json:"sequences"`
}

// TaxonV1 identifies a taxon.
type TaxonV1 struct {
	TaxID int    `json:"taxid"`
	Name  string `json:"name"`
	Rank  string `json:"rank"`
}

// LevelV1 is one entry of a consensus path.
type LevelV1 struct {
	TaxonV1
	Support float64 `json:"support"`
}

// SequenceV1 is the call of one marker sequence. Call and Path are absent
// when Error is set.
type SequenceV1 struct {
	ID     string    `json:"id"`
	Family string    `json:"family"`
	Hits   int       `json:"hits"`
	Call   *TaxonV1  `json:"call,omitempty"`
	Path   []LevelV1 `json:"path,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewGenomeV1 converts a report to its JSON form.
func NewGenomeV1(r classify.Report) GenomeV1 {
	g := GenomeV1{
		Schema:    SchemaV1,
		Call:      taxonV1(r.Genome.Call),
		Path:      pathV1(r.Genome),
		Voters:    r.Voters,
		Failed:    r.Failed,
		Sequences: make([]SequenceV1, len(r.Sequences)),
	}
	for i, s := range r.Sequences {
		seq := SequenceV1{ID: s.SequenceID, Family: s.MarkerFamily, Hits: s.Hits}
		if s.Err != nil {
			seq.Error = s.Err.Error()
		} else {
			call := taxonV1(s.Result.Call)
			seq.Call = &call
			seq.Path = pathV1(s.Result)
		}
		g.Sequences[i] = seq
	}
	return g
}

func taxonV1(n taxonomy.Node) TaxonV1 {
	return TaxonV1{TaxID: n.TaxID, Name: n.Name, Rank: n.Rank}
}

func pathV1(res lca.Result) []LevelV1 {
	out := make([]LevelV1, len(res.Levels))
	for i, l := range res.Levels {
		out[i] = LevelV1{TaxonV1: taxonV1(l.Node), Support: l.Support}
	}
	return out
}

// JSON renders the report as a GenomeV1 document.
type JSON struct {
	// Indent, if set, pretty-prints the document.
	Indent string
}

// Name implements Format.
func (JSON) Name() string { return "json" }

// Write implements Format.
func (j JSON) Write(w io.Writer, r classify.Report) error {
	enc := json.NewEncoder(w)
	if j.Indent != "" {
		enc.SetIndent("", j.Indent)
	}
	return enc.Encode(NewGenomeV1(r))
}
