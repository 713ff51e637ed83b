// Package classify assigns a genome to a taxon from the candidate taxids of
// its marker sequences.
//
// Classification runs the consensus LCA twice. Each sequence is first
// called from its own candidate taxids; the genome is then called from the
// per-sequence calls, with the same rank floor and majority threshold.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/lca"
	"github.com/pythseq/compleconta/markers"
	"github.com/pythseq/compleconta/search"
	"github.com/pythseq/compleconta/worker"
)

const instrumentationName = "github.com/pythseq/compleconta/classify"

// SequenceCall is the classification of one marker sequence.
type SequenceCall struct {
	SequenceID   string
	MarkerFamily string

	// Hits is the number of candidate taxids the call was made from.
	Hits int

	Result lca.Result

	// Err is set when the sequence takes no part in the genome vote: its
	// candidate lookup failed, or one of its taxids was unknown and the
	// classifier is tolerant.
	Err error
}

// Voted reports whether the sequence's call counts in the genome vote.
func (s SequenceCall) Voted() bool {
	return s.Err == nil
}

// Report is the result of classifying a genome.
type Report struct {
	// Genome is the consensus over the voting sequence calls.
	Genome lca.Result

	// Sequences holds one call per input candidate, in input order.
	Sequences []SequenceCall

	// Voters is the number of sequences whose call took part in the vote.
	Voters int

	// Failed is the number of sequences excluded from the vote.
	Failed int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithTracer sets the tracer used for genome and sequence spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Classifier) {
		c.tracer = tracer
	}
}

// WithMeter sets the meter used for classification metrics.
func WithMeter(meter metric.Meter) Option {
	return func(c *Classifier) {
		c.meter = meter
	}
}

// WithConsensus sets the rank floor and majority threshold used for both
// the sequence and the genome calls. Default: lca.DefaultConfig().
func WithConsensus(cfg lca.Config) Option {
	return func(c *Classifier) {
		c.consensus = cfg
	}
}

// WithWorkers sets how many sequence calls run at once.
// Default: worker.DefaultConcurrency.
func WithWorkers(n int) Option {
	return func(c *Classifier) {
		c.workers = n
	}
}

// WithTolerant makes an unknown taxid exclude its sequence from the vote
// instead of aborting the classification.
func WithTolerant(tolerant bool) Option {
	return func(c *Classifier) {
		c.tolerant = tolerant
	}
}

// Classifier runs the two-stage consensus. It is safe for concurrent use.
type Classifier struct {
	resolver  lca.Resolver
	consensus lca.Config
	workers   int
	tolerant  bool

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	sequences metric.Int64Counter
	support   metric.Float64Histogram
	duration  metric.Float64Histogram
}

// New returns a Classifier over resolver.
func New(resolver lca.Resolver, opts ...Option) (*Classifier, error) {
	if resolver == nil {
		return nil, compleconta.NewConfigurationError("classify.New", errors.New("resolver is required"))
	}

	c := &Classifier{
		resolver:  resolver,
		consensus: lca.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.consensus.Validate(); err != nil {
		return nil, err
	}
	if c.workers <= 0 {
		c.workers = worker.DefaultConcurrency
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if c.meter == nil {
		c.meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}

	var err error
	c.sequences, err = c.meter.Int64Counter(
		"compleconta.classify.sequences",
		metric.WithDescription("Number of classified sequences by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sequences counter: %w", err)
	}
	c.support, err = c.meter.Float64Histogram(
		"compleconta.classify.support",
		metric.WithDescription("Support of the deepest genome-level vote"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create support histogram: %w", err)
	}
	c.duration, err = c.meter.Float64Histogram(
		"compleconta.classify.duration",
		metric.WithDescription("Genome classification duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return c, nil
}

// Consensus returns the consensus parameters in use.
func (c *Classifier) Consensus() lca.Config {
	return c.consensus
}

// Classify calls every sequence from its candidates, then the genome from
// the sequence calls.
//
// Candidates whose lookup failed are reported with their error and do not
// vote. A sequence without candidates is called root and votes. An unknown
// taxid aborts with a not-found error unless the classifier is tolerant.
func (c *Classifier) Classify(ctx context.Context, cands []search.Candidates) (_ Report, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "classify.genome",
		trace.WithAttributes(attribute.Int("sequences", len(cands))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	report := Report{Sequences: make([]SequenceCall, len(cands))}

	var tasks []worker.Task[lca.Result]
	var slots []int
	for i, cand := range cands {
		report.Sequences[i] = SequenceCall{
			SequenceID:   cand.SequenceID,
			MarkerFamily: cand.MarkerFamily,
			Hits:         len(cand.TaxIDs),
		}
		if cand.Failed() {
			report.Sequences[i].Err = cand.Err
			continue
		}
		tasks = append(tasks, func(ctx context.Context) (lca.Result, error) {
			return c.classifySequence(ctx, cand)
		})
		slots = append(slots, i)
	}

	results := worker.Run(ctx, worker.Options{
		Name:        "classify",
		Concurrency: c.workers,
		Logger:      c.logger,
	}, tasks)

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	var calls []int
	for j, res := range results {
		seq := &report.Sequences[slots[j]]
		if res.Err != nil {
			if !c.tolerant || !compleconta.IsNotFound(res.Err) {
				return Report{}, fmt.Errorf("classify sequence %s: %w", seq.SequenceID, res.Err)
			}
			seq.Err = res.Err
			c.logger.Warn("sequence excluded from vote",
				"sequence", seq.SequenceID,
				"family", seq.MarkerFamily,
				"error", res.Err)
			continue
		}
		seq.Result = res.Value
		calls = append(calls, res.Value.Call.TaxID)
	}
	report.Voters = len(calls)
	report.Failed = len(cands) - len(calls)

	for _, s := range report.Sequences {
		outcome := "voted"
		if !s.Voted() {
			outcome = "excluded"
		}
		c.sequences.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	report.Genome, err = lca.Compute(c.resolver, calls, c.consensus)
	if err != nil {
		return Report{}, err
	}

	if n := len(report.Genome.Levels); n > 0 {
		c.support.Record(ctx, report.Genome.Levels[n-1].Support)
	}
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))

	call := report.Genome.Call
	span.SetAttributes(
		attribute.Int("call.taxid", call.TaxID),
		attribute.String("call.rank", call.Rank),
		attribute.Int("voters", report.Voters),
		attribute.Int("failed", report.Failed),
	)
	c.logger.Info("genome classified",
		"taxid", call.TaxID,
		"name", call.Name,
		"rank", call.Rank,
		"voters", report.Voters,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	return report, nil
}

func (c *Classifier) classifySequence(ctx context.Context, cand search.Candidates) (lca.Result, error) {
	_, span := c.tracer.Start(ctx, "classify.sequence",
		trace.WithAttributes(
			attribute.String("sequence", cand.SequenceID),
			attribute.String("family", cand.MarkerFamily),
			attribute.Int("hits", len(cand.TaxIDs)),
		))
	defer span.End()

	res, err := lca.Compute(c.resolver, cand.TaxIDs, c.consensus)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return lca.Result{}, err
	}
	span.SetAttributes(attribute.Int("call.taxid", res.Call.TaxID))
	return res, nil
}

// ClassifyFamilies looks up the candidates of every sequence with provider
// and classifies them.
func (c *Classifier) ClassifyFamilies(ctx context.Context, provider search.Provider, databaseDir string, families []markers.Family) (Report, error) {
	cands, err := provider.LookupCandidates(ctx, databaseDir, families)
	if err != nil {
		return Report{}, err
	}
	return c.Classify(ctx, cands)
}
