// Package taxonomy loads the NCBI taxonomy dump files into an immutable,
// indexed node table and answers lineage and traversal queries over it.
//
// A Store is built once with Build or Load and never changes afterwards, so
// it is safe for concurrent use by any number of goroutines.
package taxonomy

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pythseq/compleconta"
)

const (
	// NamesFile is the file name of the names dump inside a taxonomy directory.
	NamesFile = "names.dmp"

	// NodesFile is the file name of the nodes dump inside a taxonomy directory.
	NodesFile = "nodes.dmp"

	scientificName = "scientific name"

	// maxReported caps how many offending taxids a validation error lists.
	maxReported = 10
)

// Store is the loaded taxonomy.
//
// Nodes live in an arena: a slice of slots appended in first-seen order and
// a taxid index into it. A slot created from a parent reference is a stub
// until its own nodes record is read; Build refuses to return a Store that
// still holds stubs.
type Store struct {
	nodes []Node
	index map[int]int
	root  int // slot of the root
}

// Option configures Build and Load.
type Option func(*buildConfig)

type buildConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report load progress.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

// Load builds a Store from the names.dmp and nodes.dmp files in dir. Files
// ending in .gz (names.dmp.gz, nodes.dmp.gz) are used when the plain files
// are absent.
func Load(dir string, opts ...Option) (*Store, error) {
	cfg := newBuildConfig(opts)

	names, err := openDump(dir, NamesFile)
	if err != nil {
		return nil, err
	}
	defer compleconta.CloseWithLog(names, cfg.logger, NamesFile)

	nodes, err := openDump(dir, NodesFile)
	if err != nil {
		return nil, err
	}
	defer compleconta.CloseWithLog(nodes, cfg.logger, NodesFile)

	return Build(names, nodes, opts...)
}

// Build parses the names and nodes dumps and returns the validated Store.
//
// Any inconsistency in the dumps is returned as a parse error and no Store
// is produced: malformed lines, parents that never get their own nodes
// record, nodes without a scientific name, conflicting duplicate records,
// self-references other than the root's, a missing root, and nodes that
// cannot be reached from the root.
func Build(names, nodes io.Reader, opts ...Option) (*Store, error) {
	cfg := newBuildConfig(opts)
	start := time.Now()

	nameOf, err := readNames(names)
	if err != nil {
		return nil, err
	}

	b := &builder{
		names:    nameOf,
		index:    make(map[int]int, len(nameOf)),
		nodes:    make([]Node, 0, len(nameOf)),
		complete: make([]bool, 0, len(nameOf)),
	}
	if err := b.readNodes(nodes); err != nil {
		return nil, err
	}

	s, err := b.finish()
	if err != nil {
		return nil, err
	}

	cfg.logger.Debug("taxonomy loaded",
		"nodes", len(s.nodes),
		"duration_ms", time.Since(start).Milliseconds())

	return s, nil
}

func newBuildConfig(opts []Option) *buildConfig {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

func openDump(dir, name string) (io.ReadCloser, error) {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, compleconta.NewParseError("taxonomy.Load", err)
	}

	gz, gzErr := os.Open(path + ".gz")
	if gzErr != nil {
		return nil, compleconta.NewParseError("taxonomy.Load",
			fmt.Errorf("open %s: %w", path, err))
	}
	zr, err := gzip.NewReader(gz)
	if err != nil {
		_ = gz.Close()
		return nil, compleconta.NewParseError("taxonomy.Load",
			fmt.Errorf("open %s.gz: %w", path, err))
	}
	return &gzipFile{Reader: zr, f: gz}, nil
}

func parseError(file string, line int, format string, args ...any) error {
	return compleconta.NewParseError("taxonomy.Build",
		fmt.Errorf("%s line %d: %s: %w", file, line, fmt.Sprintf(format, args...), compleconta.ErrMalformedDump)).
		WithContext(map[string]any{"file": file, "line": line})
}

func validationError(format string, args ...any) error {
	return compleconta.NewParseError("taxonomy.Build",
		fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), compleconta.ErrMalformedDump))
}

// splitFields splits a dump line on '|' and trims every field.
func splitFields(line string) []string {
	fields := strings.Split(line, "|")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}

// readNames returns the scientific name of every taxid in the names dump.
func readNames(r io.Reader) (map[int]string, error) {
	names := make(map[int]string)
	sc := newScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitFields(line)
		if len(fields) < 4 {
			return nil, parseError(NamesFile, lineNo, "expected 4 fields, got %d", len(fields))
		}
		if fields[3] != scientificName {
			continue
		}
		taxid, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, parseError(NamesFile, lineNo, "invalid taxid %q", fields[0])
		}
		if _, seen := names[taxid]; !seen {
			names[taxid] = fields[1]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, compleconta.NewParseError("taxonomy.Build", fmt.Errorf("read %s: %w", NamesFile, err))
	}
	return names, nil
}

type builder struct {
	names    map[int]string
	index    map[int]int
	nodes    []Node
	complete []bool
}

// slot returns the arena slot for taxid, creating a stub when it is new.
func (b *builder) slot(taxid int) int {
	if i, ok := b.index[taxid]; ok {
		return i
	}
	i := len(b.nodes)
	b.nodes = append(b.nodes, Node{TaxID: taxid, Name: b.names[taxid]})
	b.complete = append(b.complete, false)
	b.index[taxid] = i
	delete(b.names, taxid)
	return i
}

func (b *builder) readNodes(r io.Reader) error {
	sc := newScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitFields(line)
		if len(fields) < 3 {
			return parseError(NodesFile, lineNo, "expected at least 3 fields, got %d", len(fields))
		}
		taxid, err := strconv.Atoi(fields[0])
		if err != nil {
			return parseError(NodesFile, lineNo, "invalid taxid %q", fields[0])
		}
		parent, err := strconv.Atoi(fields[1])
		if err != nil {
			return parseError(NodesFile, lineNo, "invalid parent taxid %q", fields[1])
		}
		rank := fields[2]
		if rank == "" {
			rank = NoRank
		}
		if taxid == parent && taxid != RootTaxID {
			return parseError(NodesFile, lineNo, "taxid %d is its own parent", taxid)
		}

		i := b.slot(taxid)
		if b.complete[i] {
			if b.nodes[i].Parent != parent || b.nodes[i].Rank != rank {
				return parseError(NodesFile, lineNo, "conflicting duplicate record for taxid %d", taxid)
			}
			continue
		}
		b.nodes[i].Parent = parent
		b.nodes[i].Rank = rank
		b.complete[i] = true

		p := b.slot(parent)
		b.nodes[p].Children = append(b.nodes[p].Children, taxid)
	}
	if err := sc.Err(); err != nil {
		return compleconta.NewParseError("taxonomy.Build", fmt.Errorf("read %s: %w", NodesFile, err))
	}
	return nil
}

func (b *builder) finish() (*Store, error) {
	var stubs, unnamed []int
	for i, n := range b.nodes {
		if !b.complete[i] {
			stubs = append(stubs, n.TaxID)
		}
		if n.Name == "" {
			unnamed = append(unnamed, n.TaxID)
		}
	}
	if len(stubs) > 0 {
		return nil, validationError("%d parent taxids have no nodes record: %s", len(stubs), listTaxids(stubs))
	}
	if len(unnamed) > 0 {
		return nil, validationError("%d taxids have no scientific name: %s", len(unnamed), listTaxids(unnamed))
	}

	root, ok := b.index[RootTaxID]
	if !ok {
		return nil, validationError("root taxid %d is missing", RootTaxID)
	}
	if b.nodes[root].Parent != RootTaxID {
		return nil, validationError("root taxid %d has parent %d", RootTaxID, b.nodes[root].Parent)
	}

	s := &Store{nodes: b.nodes, index: b.index, root: root}
	s.fixUpRoot()

	if reached := s.countReachable(); reached != len(s.nodes) {
		return nil, validationError("%d of %d nodes are not reachable from the root", len(s.nodes)-reached, len(s.nodes))
	}
	return s, nil
}

// fixUpRoot removes the root's self-reference: the dump lists the root as
// its own parent, which also made it one of its own children.
func (s *Store) fixUpRoot() {
	root := &s.nodes[s.root]
	root.Parent = 0
	children := root.Children[:0]
	for _, c := range root.Children {
		if c != root.TaxID {
			children = append(children, c)
		}
	}
	root.Children = children
}

// countReachable counts the nodes reachable from the root. Nodes on a
// parent cycle are never reached.
func (s *Store) countReachable() int {
	seen := make([]bool, len(s.nodes))
	stack := []int{s.root}
	count := 0
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		count++
		for _, c := range s.nodes[i].Children {
			stack = append(stack, s.index[c])
		}
	}
	return count
}

func listTaxids(ids []int) string {
	n := min(len(ids), maxReported)
	parts := make([]string, n)
	for i := range n {
		parts[i] = strconv.Itoa(ids[i])
	}
	out := strings.Join(parts, ", ")
	if len(ids) > n {
		out += ", ..."
	}
	return out
}

// Len returns the number of nodes in the store.
func (s *Store) Len() int {
	return len(s.nodes)
}

// Root returns the root node.
func (s *Store) Root() Node {
	return s.node(s.root)
}

// Contains reports whether taxid is in the store.
func (s *Store) Contains(taxid int) bool {
	_, ok := s.index[taxid]
	return ok
}

// Node returns the node for taxid.
func (s *Store) Node(taxid int) (Node, error) {
	i, ok := s.index[taxid]
	if !ok {
		return Node{}, notFound("taxonomy.Store.Node", taxid)
	}
	return s.node(i), nil
}

// node returns a copy of slot i that shares nothing with the arena.
func (s *Store) node(i int) Node {
	n := s.nodes[i]
	n.Children = slices.Clone(n.Children)
	return n
}

func notFound(op string, taxid int) *compleconta.Error {
	return compleconta.NewNotFoundError(op,
		fmt.Errorf("taxid %d: %w", taxid, compleconta.ErrTaxonNotFound)).
		WithContext(map[string]any{"taxid": taxid})
}
