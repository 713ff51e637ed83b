// Package search finds candidate taxids for marker sequences.
//
// A Provider runs a sequence-similarity search of every marker sequence
// against the reference database of its family and reduces the hits to a
// top-hit set of taxids. The Blast provider runs blastp; candidates can be
// filtered with a CEL expression and cached in Redis.
package search

import (
	"context"

	"github.com/pythseq/compleconta/markers"
)

// Candidates are the candidate taxids of one marker sequence.
//
// Err is set when the lookup failed; TaxIDs is then empty and must not be
// read as "no hits".
type Candidates struct {
	SequenceID   string
	MarkerFamily string
	TaxIDs       []int
	Err          error
}

// Failed reports whether the lookup for this sequence failed.
func (c Candidates) Failed() bool {
	return c.Err != nil
}

// Provider looks up candidate taxids for every sequence of every family.
//
// Results are ordered by family, then by sequence within the family, and
// contain one entry per input sequence. The returned error is reserved for
// failures that prevent any lookup; per-family failures are reported on the
// affected entries.
type Provider interface {
	LookupCandidates(ctx context.Context, databaseDir string, families []markers.Family) ([]Candidates, error)
}

// Columns splits candidates into the three aligned lists used by callers
// that work column-wise: taxid lists, sequence ids and family names.
func Columns(cands []Candidates) (taxids [][]int, sequenceIDs, families []string) {
	taxids = make([][]int, len(cands))
	sequenceIDs = make([]string, len(cands))
	families = make([]string, len(cands))
	for i, c := range cands {
		taxids[i] = c.TaxIDs
		sequenceIDs[i] = c.SequenceID
		families[i] = c.MarkerFamily
	}
	return taxids, sequenceIDs, families
}
