package classify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/lca"
	"github.com/pythseq/compleconta/markers"
	"github.com/pythseq/compleconta/search"
	"github.com/pythseq/compleconta/taxonomy"
)

var (
	storeOnce sync.Once
	store     *taxonomy.Store
	storeErr  error
)

func testStore(t *testing.T) *taxonomy.Store {
	t.Helper()
	storeOnce.Do(func() {
		store, storeErr = taxonomy.Load("../taxonomy/testdata")
	})
	require.NoError(t, storeErr)
	return store
}

func cand(id string, taxids ...int) search.Candidates {
	return search.Candidates{SequenceID: id, MarkerFamily: "COG0090", TaxIDs: taxids}
}

func failed(id string) search.Candidates {
	return search.Candidates{
		SequenceID:   id,
		MarkerFamily: "COG0092",
		Err:          compleconta.NewCandidateLookupError("test", compleconta.ErrCandidateLookup),
	}
}

func newClassifier(t *testing.T, opts ...Option) *Classifier {
	t.Helper()
	c, err := New(testStore(t), opts...)
	require.NoError(t, err)
	return c
}

func TestClassifyAgreeingSequences(t *testing.T) {
	c := newClassifier(t)

	report, err := c.Classify(context.Background(), []search.Candidates{
		cand("a", 562, 562),
		cand("b", 562),
		cand("c", 83333),
	})
	require.NoError(t, err)

	assert.Equal(t, 561, report.Genome.Call.TaxID)
	assert.Equal(t, 3, report.Voters)
	assert.Zero(t, report.Failed)
	for _, s := range report.Sequences {
		assert.True(t, s.Voted())
		assert.Equal(t, 561, s.Result.Call.TaxID, s.SequenceID)
	}
	assert.Equal(t, 2, report.Sequences[0].Hits)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1}, report.Genome.Supports())
}

func TestClassifyFailedLookupsDoNotVote(t *testing.T) {
	c := newClassifier(t)

	report, err := c.Classify(context.Background(), []search.Candidates{
		cand("a", 562),
		failed("b"),
		failed("c"),
	})
	require.NoError(t, err)

	assert.Equal(t, 561, report.Genome.Call.TaxID, "failed lookups are not votes for root")
	assert.Equal(t, 1, report.Voters)
	assert.Equal(t, 2, report.Failed)

	b := report.Sequences[1]
	assert.Equal(t, "b", b.SequenceID)
	assert.False(t, b.Voted())
	assert.True(t, compleconta.IsCandidateLookup(b.Err))
	assert.Empty(t, b.Result.Levels)
}

func TestClassifyEmptyHitsVoteForRoot(t *testing.T) {
	c := newClassifier(t)

	report, err := c.Classify(context.Background(), []search.Candidates{
		cand("a", 562),
		cand("b"),
	})
	require.NoError(t, err)

	assert.Equal(t, taxonomy.RootTaxID, report.Sequences[1].Result.Call.TaxID)
	assert.True(t, report.Sequences[1].Voted())
	assert.Equal(t, 2, report.Voters)
	assert.Equal(t, taxonomy.RootTaxID, report.Genome.Call.TaxID)
	require.NotEmpty(t, report.Genome.Levels)
	assert.InDelta(t, 0.5, report.Genome.Levels[0].Support, 1e-9)
}

func TestClassifyNoCandidates(t *testing.T) {
	c := newClassifier(t)

	report, err := c.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, taxonomy.RootTaxID, report.Genome.Call.TaxID)
	assert.Zero(t, report.Voters)
	assert.Empty(t, report.Sequences)
}

func TestClassifyUnknownTaxid(t *testing.T) {
	cands := []search.Candidates{
		cand("a", 562),
		cand("b", 562),
		cand("c", 562, 424242),
	}

	_, err := newClassifier(t).Classify(context.Background(), cands)
	require.Error(t, err)
	assert.True(t, compleconta.IsNotFound(err))
	assert.Contains(t, err.Error(), "sequence c")

	report, err := newClassifier(t, WithTolerant(true)).Classify(context.Background(), cands)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Voters)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, compleconta.IsNotFound(report.Sequences[2].Err))
	assert.Equal(t, 561, report.Genome.Call.TaxID)
}

func TestClassifyConsensusApplesToBothStages(t *testing.T) {
	c := newClassifier(t, WithConsensus(lca.Config{RankFloor: taxonomy.Species, MajorityThreshold: 0.6}))

	report, err := c.Classify(context.Background(), []search.Candidates{
		cand("a", 562, 562, 28901),
		cand("b", 83333),
		cand("c", 620),
	})
	require.NoError(t, err)

	assert.Equal(t, 562, report.Sequences[0].Result.Call.TaxID)
	assert.Equal(t, 562, report.Sequences[1].Result.Call.TaxID)
	assert.Equal(t, 562, report.Genome.Call.TaxID)
	assert.Equal(t, lca.Config{RankFloor: taxonomy.Species, MajorityThreshold: 0.6}, c.Consensus())
}

func TestClassifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClassifier(t).Classify(ctx, []search.Candidates{cand("a", 562)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	c := newClassifier(t, WithTracer(tp.Tracer("test")), WithWorkers(2))
	_, err := c.Classify(context.Background(), []search.Candidates{
		cand("a", 562),
		cand("b", 1423),
		failed("c"),
	})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, map[string]int{"classify.genome": 1, "classify.sequence": 2}, names)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.Equal(t, compleconta.KindConfiguration, compleconta.KindOf(err))

	_, err = New(testStore(t), WithConsensus(lca.Config{RankFloor: 7, MajorityThreshold: 0.9}))
	assert.ErrorIs(t, err, compleconta.ErrInvalidConfig)
}

type fakeProvider struct {
	cands []search.Candidates
	err   error

	gotDir      string
	gotFamilies []markers.Family
}

func (p *fakeProvider) LookupCandidates(_ context.Context, databaseDir string, families []markers.Family) ([]search.Candidates, error) {
	p.gotDir = databaseDir
	p.gotFamilies = families
	return p.cands, p.err
}

func TestClassifyFamilies(t *testing.T) {
	c := newClassifier(t)
	families := []markers.Family{{Name: "COG0090", Sequences: []markers.Sequence{{ID: "a", Residues: "MKV"}}}}

	p := &fakeProvider{cands: []search.Candidates{cand("a", 1423)}}
	report, err := c.ClassifyFamilies(context.Background(), p, "/db", families)
	require.NoError(t, err)
	assert.Equal(t, "/db", p.gotDir)
	assert.Equal(t, families, p.gotFamilies)
	assert.Equal(t, 1386, report.Genome.Call.TaxID)

	boom := errors.New("boom")
	_, err = c.ClassifyFamilies(context.Background(), &fakeProvider{err: boom}, "/db", families)
	assert.ErrorIs(t, err, boom)
}
