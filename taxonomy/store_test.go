package taxonomy

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pythseq/compleconta"
)

func loadTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load("testdata")
	require.NoError(t, err)
	return s
}

type row struct {
	taxid, parent int
	rank, name    string
}

// dumps renders rows as a names/nodes dump pair.
func dumps(rows ...row) (names, nodes string) {
	var nb, db strings.Builder
	for _, r := range rows {
		if r.name != "" {
			fmt.Fprintf(&nb, "%d\t|\t%s\t|\t\t|\tscientific name\t|\n", r.taxid, r.name)
		}
		fmt.Fprintf(&db, "%d\t|\t%d\t|\t%s\t|\t\t|\t0\t|\n", r.taxid, r.parent, r.rank)
	}
	return nb.String(), db.String()
}

func build(names, nodes string) (*Store, error) {
	return Build(strings.NewReader(names), strings.NewReader(nodes))
}

func TestLoadTestdata(t *testing.T) {
	s := loadTestStore(t)

	assert.Equal(t, 30, s.Len())

	root := s.Root()
	assert.Equal(t, RootTaxID, root.TaxID)
	assert.Equal(t, "root", root.Name)
	assert.True(t, root.IsRoot())
	assert.Equal(t, []int{131567, 28384}, root.Children, "root must not list itself as a child")

	ecoli, err := s.Node(562)
	require.NoError(t, err)
	assert.Equal(t, "Escherichia coli", ecoli.Name, "only the scientific name is kept")
	assert.Equal(t, "species", ecoli.Rank)
	assert.Equal(t, 561, ecoli.Parent)
	assert.Equal(t, []int{83333}, ecoli.Children)

	bacteria, err := s.Node(2)
	require.NoError(t, err)
	assert.Equal(t, "Bacteria", bacteria.Name)
}

func TestLoadGzip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{NamesFile, NodesFile} {
		data, err := os.ReadFile(filepath.Join("testdata", name))
		require.NoError(t, err)

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err = zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".gz"), buf.Bytes(), 0o644))
	}

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, s.Len())
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, compleconta.IsParse(err))
}

func TestNodeNotFound(t *testing.T) {
	s := loadTestStore(t)

	_, err := s.Node(424242)
	require.Error(t, err)
	assert.True(t, compleconta.IsNotFound(err))
	assert.ErrorIs(t, err, compleconta.ErrTaxonNotFound)
	assert.False(t, s.Contains(424242))
	assert.True(t, s.Contains(562))
}

func TestBuildRejectsInconsistentDumps(t *testing.T) {
	rootRow := row{1, 1, NoRank, "root"}

	tests := []struct {
		name  string
		names string
		nodes string
		want  string
	}{
		{
			name: "dangling parent",
			names: func() string {
				n, _ := dumps(rootRow, row{5, 4, "genus", "Five"}, row{4, 4, "", "Four"})
				return n
			}(),
			nodes: func() string {
				_, d := dumps(rootRow, row{5, 4, "genus", "Five"})
				return d
			}(),
			want: "no nodes record: 4",
		},
		{
			name: "missing scientific name",
			names: func() string {
				n, _ := dumps(rootRow)
				return n
			}(),
			nodes: func() string {
				_, d := dumps(rootRow, row{5, 1, "genus", ""})
				return d
			}(),
			want: "no scientific name: 5",
		},
		{
			name:  "non integer taxid",
			names: "1\t|\troot\t|\t\t|\tscientific name\t|\n",
			nodes: "1\t|\t1\t|\tno rank\t|\nabc\t|\t1\t|\tgenus\t|\n",
			want:  "nodes.dmp line 2: invalid taxid \"abc\"",
		},
		{
			name:  "non integer parent",
			names: "1\t|\troot\t|\t\t|\tscientific name\t|\n",
			nodes: "1\t|\tx\t|\tno rank\t|\n",
			want:  "invalid parent taxid",
		},
		{
			name:  "too few node fields",
			names: "1\t|\troot\t|\t\t|\tscientific name\t|\n",
			nodes: "1\t|\t1\n",
			want:  "expected at least 3 fields",
		},
		{
			name:  "too few name fields",
			names: "1\t|\troot\n",
			nodes: "1\t|\t1\t|\tno rank\t|\n",
			want:  "names.dmp line 1: expected 4 fields",
		},
		{
			name: "conflicting duplicate",
			names: func() string {
				n, _ := dumps(rootRow, row{5, 1, "genus", "Five"})
				return n
			}(),
			nodes: func() string {
				_, d := dumps(rootRow, row{5, 1, "genus", ""}, row{5, 1, "family", ""})
				return d
			}(),
			want: "conflicting duplicate record for taxid 5",
		},
		{
			name: "self parent",
			names: func() string {
				n, _ := dumps(rootRow, row{5, 5, "genus", "Five"})
				return n
			}(),
			nodes: func() string {
				_, d := dumps(rootRow, row{5, 5, "genus", ""})
				return d
			}(),
			want: "taxid 5 is its own parent",
		},
		{
			name: "missing root",
			names: func() string {
				n, _ := dumps(row{5, 6, "genus", "Five"}, row{6, 5, "family", "Six"})
				return n
			}(),
			nodes: func() string {
				_, d := dumps(row{5, 6, "genus", ""}, row{6, 5, "family", ""})
				return d
			}(),
			want: "root taxid 1 is missing",
		},
		{
			name: "cycle unreachable from root",
			names: func() string {
				n, _ := dumps(rootRow, row{5, 6, "genus", "Five"}, row{6, 5, "family", "Six"})
				return n
			}(),
			nodes: func() string {
				_, d := dumps(rootRow, row{5, 6, "genus", ""}, row{6, 5, "family", ""})
				return d
			}(),
			want: "2 of 3 nodes are not reachable from the root",
		},
		{
			name: "root with a parent",
			names: func() string {
				n, _ := dumps(row{1, 7, NoRank, "root"}, row{7, 1, NoRank, "seven"})
				return n
			}(),
			nodes: func() string {
				_, d := dumps(row{1, 7, NoRank, ""}, row{7, 1, NoRank, ""})
				return d
			}(),
			want: "root taxid 1 has parent 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := build(tt.names, tt.nodes)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, compleconta.IsParse(err), "got %v", err)
			assert.True(t, errors.Is(err, compleconta.ErrMalformedDump))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildIgnoresIdenticalDuplicates(t *testing.T) {
	names, nodes := dumps(row{1, 1, NoRank, "root"}, row{5, 1, "genus", "Five"})
	nodes += "5\t|\t1\t|\tgenus\t|\n"

	s, err := build(names, nodes)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int{5}, s.Root().Children)
}

func TestBuildSkipsBlankLinesAndDefaultsRank(t *testing.T) {
	names := "\n1\t|\troot\t|\t\t|\tscientific name\t|\n\n5\t|\tFive\t|\t\t|\tscientific name\t|\n"
	nodes := "1\t|\t1\t|\tno rank\t|\n\n5\t|\t1\t|\t\t|\n"

	s, err := build(names, nodes)
	require.NoError(t, err)

	n, err := s.Node(5)
	require.NoError(t, err)
	assert.Equal(t, NoRank, n.Rank)
}

func TestBatchLookups(t *testing.T) {
	s := loadTestStore(t)

	parents := s.Parents(562, 1, 777)
	assert.Equal(t, map[int]int{562: 561, 1: 0}, parents.Values)
	assert.Equal(t, []int{777}, parents.Missing)
	require.Error(t, parents.Err())
	assert.True(t, compleconta.IsNotFound(parents.Err()))
	assert.Contains(t, parents.Err().Error(), "777")

	ranks := s.Ranks(562, 543, 83333)
	assert.Equal(t, map[int]string{562: "species", 543: "family", 83333: NoRank}, ranks.Values)
	assert.NoError(t, ranks.Err())

	names := s.Names(2, 2157)
	assert.Equal(t, "Bacteria", names.Values[2])
	assert.Equal(t, "Archaea", names.Values[2157])

	children := s.Children(543)
	assert.Equal(t, []int{561, 590, 620, 99001, 99002}, children.Values[543])
	assert.Equal(t, "1 found", children.String())
	assert.Equal(t, "0 found, missing 8, 9", s.Children(8, 9).String())
}

func TestStandardRankLevel(t *testing.T) {
	level, ok := StandardRankLevel("genus")
	assert.True(t, ok)
	assert.Equal(t, Genus, level)

	level, ok = StandardRankLevel("superkingdom")
	assert.True(t, ok)
	assert.Equal(t, Superkingdom, level)

	_, ok = StandardRankLevel(NoRank)
	assert.False(t, ok)
	assert.False(t, IsStandardRank("subspecies"))
	assert.True(t, IsStandardRank("phylum"))
}

func TestReturnedNodesDoNotAliasStore(t *testing.T) {
	s := loadTestStore(t)

	n, err := s.Node(543)
	require.NoError(t, err)
	want := append([]int(nil), n.Children...)
	n.Children[0] = 424242

	kids := s.Children(543)
	kids.Values[543][0] = 424242

	nodes, err := s.DescendantNodes(543)
	require.NoError(t, err)
	nodes[0].Children[0] = 424242

	root := s.Root()
	root.Children[0] = 424242

	lineage, err := s.Ascendants(561, false)
	require.NoError(t, err)
	lineage[1].Children[0] = 424242

	again, err := s.Node(543)
	require.NoError(t, err)
	assert.Equal(t, want, again.Children)
	assert.NotContains(t, s.Root().Children, 424242)

	got, err := s.Descendants(543)
	require.NoError(t, err)
	assert.NotContains(t, got, 424242)
}
