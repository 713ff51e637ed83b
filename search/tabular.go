package search

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pythseq/compleconta"
)

// tabularFields is the column count of BLAST -outfmt 6.
const tabularFields = 12

// Hit is one row of BLAST tabular output (-outfmt 6).
type Hit struct {
	Query    string
	Subject  string
	PIdent   float64
	Length   int
	Mismatch int
	GapOpen  int
	QStart   int
	QEnd     int
	SStart   int
	SEnd     int
	EValue   float64
	BitScore float64
}

// ParseHit parses one tabular row.
func ParseHit(line string) (Hit, error) {
	f := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(f) < tabularFields {
		return Hit{}, fmt.Errorf("expected %d tab-separated fields, got %d", tabularFields, len(f))
	}

	var h Hit
	var err error
	h.Query, h.Subject = f[0], f[1]

	floats := []struct {
		dst  *float64
		name string
		s    string
	}{
		{&h.PIdent, "pident", f[2]},
		{&h.EValue, "evalue", f[10]},
		{&h.BitScore, "bitscore", f[11]},
	}
	for _, v := range floats {
		if *v.dst, err = strconv.ParseFloat(strings.TrimSpace(v.s), 64); err != nil {
			return Hit{}, fmt.Errorf("invalid %s %q", v.name, v.s)
		}
	}

	ints := []struct {
		dst  *int
		name string
		s    string
	}{
		{&h.Length, "length", f[3]},
		{&h.Mismatch, "mismatch", f[4]},
		{&h.GapOpen, "gapopen", f[5]},
		{&h.QStart, "qstart", f[6]},
		{&h.QEnd, "qend", f[7]},
		{&h.SStart, "sstart", f[8]},
		{&h.SEnd, "send", f[9]},
	}
	for _, v := range ints {
		if *v.dst, err = strconv.Atoi(strings.TrimSpace(v.s)); err != nil {
			return Hit{}, fmt.Errorf("invalid %s %q", v.name, v.s)
		}
	}
	return h, nil
}

// ReadHits parses tabular output. Blank lines and '#' comment lines (as
// written by -outfmt 7) are skipped.
func ReadHits(r io.Reader) ([]Hit, error) {
	var hits []Hit
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		h, err := ParseHit(line)
		if err != nil {
			return nil, compleconta.NewCandidateLookupError("search.ReadHits",
				fmt.Errorf("line %d: %w", lineNo, err))
		}
		hits = append(hits, h)
	}
	if err := sc.Err(); err != nil {
		return nil, compleconta.NewCandidateLookupError("search.ReadHits", err)
	}
	return hits, nil
}

// TopHits groups hits by query and keeps each query's leading run of hits
// that share the highest percent identity seen so far: the run ends at the
// first hit whose identity is lower.
func TopHits(hits []Hit) map[string][]Hit {
	out := make(map[string][]Hit)
	best := make(map[string]float64)
	done := make(map[string]bool)
	for _, h := range hits {
		if done[h.Query] {
			continue
		}
		if top, seen := best[h.Query]; seen && h.PIdent < top {
			done[h.Query] = true
			continue
		}
		best[h.Query] = max(best[h.Query], h.PIdent)
		out[h.Query] = append(out[h.Query], h)
	}
	return out
}

// SubjectTaxID returns the taxid encoded as the leading integer of a
// reference sequence id, e.g. 562 for "562", "562|WP_000123" or "562.WP_1".
func SubjectTaxID(subject string) (int, error) {
	end := 0
	for end < len(subject) && subject[end] >= '0' && subject[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("subject id %q does not start with a taxid", subject)
	}
	taxid, err := strconv.Atoi(subject[:end])
	if err != nil {
		return 0, fmt.Errorf("subject id %q: %w", subject, err)
	}
	return taxid, nil
}

// HitTaxIDs converts hits to the taxids of their subjects, keeping
// repeats.
func HitTaxIDs(hits []Hit) ([]int, error) {
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		id, err := SubjectTaxID(h.Subject)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
