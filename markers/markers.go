// Package markers holds the marker-gene protein sequences of a genome,
// grouped by the marker family each one was assigned to.
package markers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/pythseq/compleconta"
)

// fastaWidth is the line width used when writing query files.
const fastaWidth = 60

// Sequence is one marker protein.
type Sequence struct {
	ID       string
	Residues string
}

// Family is a marker family and the genome's sequences assigned to it.
type Family struct {
	Name      string
	Sequences []Sequence
}

// Collection is the set of marker families found in a genome.
type Collection struct {
	families map[string]*Family
}

// Load reads a protein FASTA file and a family assignment file.
func Load(proteinPath, assignmentsPath string) (*Collection, error) {
	pf, err := os.Open(proteinPath)
	if err != nil {
		return nil, fmt.Errorf("open proteins: %w", err)
	}
	defer compleconta.CloseWithLog(pf, nil, proteinPath)

	af, err := os.Open(assignmentsPath)
	if err != nil {
		return nil, fmt.Errorf("open assignments: %w", err)
	}
	defer compleconta.CloseWithLog(af, nil, assignmentsPath)

	return Read(pf, af)
}

// Read builds a Collection from protein FASTA and an assignment table.
//
// The assignment table has one "sequence_id<TAB>family" pair per line;
// further columns, blank lines and lines starting with '#' are ignored. A
// sequence may belong to several families. Assigned sequences missing from
// the FASTA input are an error; unassigned proteins are skipped.
func Read(proteins, assignments io.Reader) (*Collection, error) {
	seqs, err := ReadFASTA(proteins)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Sequence, len(seqs))
	for _, s := range seqs {
		byID[s.ID] = s
	}

	pairs, err := readAssignments(assignments)
	if err != nil {
		return nil, err
	}

	c := &Collection{families: make(map[string]*Family)}
	for _, p := range pairs {
		s, ok := byID[p.seqID]
		if !ok {
			return nil, fmt.Errorf("assignment line %d: sequence %q not in protein file", p.line, p.seqID)
		}
		c.add(p.family, s)
	}
	return c, nil
}

// New builds a Collection from families, merging any with the same name.
func New(families ...Family) *Collection {
	c := &Collection{families: make(map[string]*Family)}
	for _, f := range families {
		for _, s := range f.Sequences {
			c.add(f.Name, s)
		}
		if _, ok := c.families[f.Name]; !ok {
			c.families[f.Name] = &Family{Name: f.Name}
		}
	}
	return c
}

func (c *Collection) add(family string, s Sequence) {
	f, ok := c.families[family]
	if !ok {
		f = &Family{Name: family}
		c.families[family] = f
	}
	for _, existing := range f.Sequences {
		if existing.ID == s.ID {
			return
		}
	}
	f.Sequences = append(f.Sequences, s)
}

type assignment struct {
	seqID, family string
	line          int
}

func readAssignments(r io.Reader) ([]assignment, error) {
	var out []assignment
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			return nil, fmt.Errorf("assignment line %d: expected sequence id and family", lineNo)
		}
		out = append(out, assignment{
			seqID:  strings.TrimSpace(fields[0]),
			family: strings.TrimSpace(fields[1]),
			line:   lineNo,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read assignments: %w", err)
	}
	return out, nil
}

// Len returns the number of families.
func (c *Collection) Len() int {
	return len(c.families)
}

// Profile returns the family names in sorted order.
func (c *Collection) Profile() []string {
	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Families returns the families sorted by name.
func (c *Collection) Families() []Family {
	out := make([]Family, 0, len(c.families))
	for _, name := range c.Profile() {
		out = append(out, *c.families[name])
	}
	return out
}

// SequencesByFamily returns the sequences assigned to name.
func (c *Collection) SequencesByFamily(name string) []Sequence {
	f, ok := c.families[name]
	if !ok {
		return nil
	}
	return f.Sequences
}

// Subset returns a collection restricted to the named families. Names that
// are not present are ignored.
func (c *Collection) Subset(names []string) *Collection {
	sub := &Collection{families: make(map[string]*Family)}
	for _, name := range names {
		if f, ok := c.families[name]; ok {
			sub.families[name] = f
		}
	}
	return sub
}

// ReadFASTA reads protein records.
func ReadFASTA(r io.Reader) ([]Sequence, error) {
	sc := seqio.NewScanner(fasta.NewReader(r, linear.NewSeq("", nil, alphabet.Protein)))

	var out []Sequence
	for sc.Next() {
		s, ok := sc.Seq().(*linear.Seq)
		if !ok {
			return nil, errors.New("unexpected sequence type from FASTA reader")
		}
		out = append(out, Sequence{
			ID:       s.ID,
			Residues: alphabet.Letters(s.Seq).String(),
		})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("read FASTA: %w", err)
	}
	return out, nil
}

// WriteFASTA writes seqs as protein FASTA.
func WriteFASTA(w io.Writer, seqs []Sequence) error {
	fw := fasta.NewWriter(w, fastaWidth)
	for _, s := range seqs {
		ls := linear.NewSeq(s.ID, alphabet.BytesToLetters([]byte(s.Residues)), alphabet.Protein)
		if _, err := fw.Write(ls); err != nil {
			return fmt.Errorf("write %s: %w", s.ID, err)
		}
	}
	return nil
}

// LogValue summarizes the collection for structured logs.
func (c *Collection) LogValue() slog.Value {
	n := 0
	for _, f := range c.families {
		n += len(f.Sequences)
	}
	return slog.GroupValue(
		slog.Int("families", len(c.families)),
		slog.Int("sequences", n))
}
