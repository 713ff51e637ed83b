package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/markers"
)

// fakeBlastp stands in for blastp. It copies <db>.out to the -out file,
// records each query sequence in <db>.calls and each query file in
// <db>.queries, and fails when <db>.fail exists.
const fakeBlastp = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -db) db="$2"; shift 2 ;;
    -query) query="$2"; shift 2 ;;
    -out) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
grep '^>' "$query" | sed 's/^>//' >> "$db.calls"
echo "$query" >> "$db.queries"
if [ -f "$db.fail" ]; then
  cat "$db.fail" >&2
  exit 2
fi
if [ -f "$db.sleep" ]; then
  sleep "$(cat "$db.sleep")"
fi
if [ -f "$db.out" ]; then
  cat "$db.out" > "$out"
else
  : > "$out"
fi
`

type fixture struct {
	binary string
	dbDir  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "blastp")
	require.NoError(t, os.WriteFile(bin, []byte(fakeBlastp), 0o755))
	dbDir := filepath.Join(dir, "databases")
	require.NoError(t, os.MkdirAll(dbDir, 0o755))
	return fixture{binary: bin, dbDir: dbDir}
}

// database creates <family>.fa with canned output rows.
func (f fixture) database(t *testing.T, family string, rows ...string) {
	t.Helper()
	db := filepath.Join(f.dbDir, family+DatabaseSuffix)
	require.NoError(t, os.WriteFile(db, []byte(">ref\nMKV\n"), 0o644))
	out := strings.Join(rows, "\n")
	if out != "" {
		out += "\n"
	}
	require.NoError(t, os.WriteFile(db+".out", []byte(out), 0o644))
}

func (f fixture) calls(t *testing.T, family string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dbDir, family+DatabaseSuffix+".calls"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func row(query, subject string, pident float64) string {
	return fmt.Sprintf("%s\t%s\t%.2f\t100\t0\t0\t1\t100\t1\t100\t1e-50\t200", query, subject, pident)
}

func families() []markers.Family {
	return []markers.Family{
		{Name: "COG0090", Sequences: []markers.Sequence{
			{ID: "s1", Residues: "MAVVKCKPTSPGRR"},
			{ID: "s2", Residues: "MAVVKCKPTSPGRK"},
		}},
		{Name: "COG0092", Sequences: []markers.Sequence{
			{ID: "s3", Residues: "MGQKVHPNGIRLGI"},
		}},
	}
}

func TestBlastLookupCandidates(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090",
		row("s1", "562|a", 99),
		row("s1", "562|b", 99),
		row("s1", "561|c", 95),
		row("s2", "28901", 90),
	)
	f.database(t, "COG0092")

	scratch := t.TempDir()
	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: scratch})
	require.NoError(t, err)

	got, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, Candidates{SequenceID: "s1", MarkerFamily: "COG0090", TaxIDs: []int{562, 562}}, got[0])
	assert.Equal(t, Candidates{SequenceID: "s2", MarkerFamily: "COG0090", TaxIDs: []int{28901}}, got[1])
	assert.Equal(t, "s3", got[2].SequenceID)
	assert.NoError(t, got[2].Err)
	assert.Empty(t, got[2].TaxIDs, "no rows means no hits")

	assert.Equal(t, []string{"s1", "s2"}, f.calls(t, "COG0090"))

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files are removed")
}

func TestBlastFailuresAreCandidateLookupErrors(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090", row("s1", "562", 99))
	require.NoError(t, os.WriteFile(filepath.Join(f.dbDir, "COG0090.fa.fail"), []byte("BLAST engine error"), 0o644))
	// COG0092 has no database at all.

	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir()})
	require.NoError(t, err)

	got, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)
	require.Len(t, got, 3)

	for _, c := range got {
		require.Error(t, c.Err, c.SequenceID)
		assert.True(t, c.Failed())
		assert.True(t, compleconta.IsCandidateLookup(c.Err), "%s: %v", c.SequenceID, c.Err)
		assert.Nil(t, c.TaxIDs)
	}
	assert.Contains(t, got[0].Err.Error(), "BLAST engine error")
	assert.Contains(t, got[2].Err.Error(), "not found")
	assert.Empty(t, f.calls(t, "COG0092"), "the tool is not run without a database")
}

func TestBlastUnparsableOutput(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090", "s1\tgarbage")
	f.database(t, "COG0092", row("s3", "not-a-taxid", 99))

	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir()})
	require.NoError(t, err)

	got, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)
	for _, c := range got {
		assert.True(t, compleconta.IsCandidateLookup(c.Err), "%s: %v", c.SequenceID, c.Err)
	}
}

func TestBlastTimeout(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090", row("s1", "562", 99))
	f.database(t, "COG0092", row("s3", "1423", 99))
	require.NoError(t, os.WriteFile(filepath.Join(f.dbDir, "COG0090.fa.sleep"), []byte("5"), 0o644))

	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir(), Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	got, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)

	assert.True(t, compleconta.IsCandidateLookup(got[0].Err))
	assert.Equal(t, compleconta.KindCandidateLookup, compleconta.KindOf(got[0].Err))
	assert.NoError(t, got[2].Err)
	assert.Equal(t, []int{1423}, got[2].TaxIDs)
}

func TestBlastHitFilter(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090",
		row("s1", "562", 99),
		row("s1", "561", 98),
		row("s2", "28901", 40),
	)
	f.database(t, "COG0092")

	filter, err := NewHitFilter(`!subject.startsWith("562")`)
	require.NoError(t, err)

	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir(), HitFilter: filter})
	require.NoError(t, err)

	got, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)
	assert.Equal(t, []int{561}, got[0].TaxIDs, "filtering happens before top-hit reduction")
	assert.Equal(t, []int{28901}, got[1].TaxIDs)
}

func TestBlastCache(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090", row("s1", "562", 99), row("s2", "590", 99))
	f.database(t, "COG0092", row("s3", "1423", 99))

	_, cache := setupTestRedis(t)
	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir()}, WithCache(cache))
	require.NoError(t, err)

	first, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)

	second, err := b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"s1", "s2"}, f.calls(t, "COG0090"), "second run is served from the cache")
	assert.Equal(t, []string{"s3"}, f.calls(t, "COG0092"))

	fams := families()
	fams[0].Sequences = append(fams[0].Sequences, markers.Sequence{ID: "s9", Residues: "MNEW"})
	_, err = b.LookupCandidates(context.Background(), f.dbDir, fams)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s9"}, f.calls(t, "COG0090"), "only the uncached sequence is searched")
}

func TestBlastProgressAndTracing(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090")
	f.database(t, "COG0092")

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var mu sync.Mutex
	var progress []int
	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir(), Concurrency: 1},
		WithTracer(tp.Tracer("test")),
		WithProgress(func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 2, total)
			progress = append(progress, done)
		}))
	require.NoError(t, err)

	_, err = b.LookupCandidates(context.Background(), f.dbDir, families())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, progress)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "search.family", s.Name())
	}
}

func TestBlastCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090")
	f.database(t, "COG0092")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir()})
	require.NoError(t, err)

	got, err := b.LookupCandidates(ctx, f.dbDir, families())
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.True(t, compleconta.IsCandidateLookup(c.Err))
	}
}

func TestDatabaseFingerprint(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "COG0090.fa")

	_, err := databaseFingerprint(db)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(db+".pin", []byte("index"), 0o644))
	a, err := databaseFingerprint(db)
	require.NoError(t, err)
	assert.Len(t, a, 16)

	require.NoError(t, os.WriteFile(db+".pin", []byte("rebuilt index"), 0o644))
	b, err := databaseFingerprint(db)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestBlastSameFamilyNameUsesSeparateScratchFiles(t *testing.T) {
	f := newFixture(t)
	f.database(t, "COG0090", row("s1", "562", 99), row("s2", "590", 99))

	fams := []markers.Family{
		{Name: "COG0090", Sequences: []markers.Sequence{{ID: "s1", Residues: "MAVVKCKPTSPGRR"}}},
		{Name: "COG0090", Sequences: []markers.Sequence{{ID: "s2", Residues: "MAVVKCKPTSPGRK"}}},
	}
	b, err := NewBlast(BlastConfig{Binary: f.binary, ScratchDir: t.TempDir(), Concurrency: 2})
	require.NoError(t, err)

	got, err := b.LookupCandidates(context.Background(), f.dbDir, fams)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int{562}, got[0].TaxIDs)
	assert.Equal(t, []int{590}, got[1].TaxIDs)

	assert.ElementsMatch(t, []string{"s1", "s2"}, f.calls(t, "COG0090"))

	data, err := os.ReadFile(filepath.Join(f.dbDir, "COG0090"+DatabaseSuffix+".queries"))
	require.NoError(t, err)
	queries := strings.Fields(string(data))
	require.Len(t, queries, 2)
	assert.NotEqual(t, queries[0], queries[1])
}
