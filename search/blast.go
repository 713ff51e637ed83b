package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/exec"
	"github.com/pythseq/compleconta/markers"
	"github.com/pythseq/compleconta/worker"
)

const (
	// DefaultBinary is the search program run by Blast.
	DefaultBinary = "blastp"

	// DatabaseSuffix is appended to a family name to form its database path.
	DatabaseSuffix = ".fa"

	instrumentationName = "github.com/pythseq/compleconta/search"
)

// BlastConfig configures the Blast provider.
type BlastConfig struct {
	// Binary is the blastp executable. If empty, DefaultBinary is used.
	Binary string

	// ExtraArgs are appended to every invocation (e.g., "-num_threads", "2").
	ExtraArgs []string

	// Concurrency is the number of families searched at once.
	// If 0, worker.DefaultConcurrency is used.
	Concurrency int

	// Timeout bounds the search of one family. If 0, only ctx bounds it.
	Timeout time.Duration

	// ScratchDir is where per-run query and output files are written.
	// If empty, os.TempDir() is used.
	ScratchDir string

	// HitFilter, if set, drops tabular rows before top-hit reduction.
	HitFilter *HitFilter
}

// BlastOption configures optional collaborators of the Blast provider.
type BlastOption func(*Blast)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) BlastOption {
	return func(b *Blast) {
		b.logger = logger
	}
}

// WithTracer sets the tracer used for per-family spans.
func WithTracer(tracer trace.Tracer) BlastOption {
	return func(b *Blast) {
		b.tracer = tracer
	}
}

// WithMeter sets the meter used for search metrics.
func WithMeter(meter metric.Meter) BlastOption {
	return func(b *Blast) {
		b.meter = meter
	}
}

// WithCache enables the candidate cache.
func WithCache(cache Cache) BlastOption {
	return func(b *Blast) {
		b.cache = cache
	}
}

// WithProgress registers a callback invoked after every family search with
// the number of finished and total families. It is called concurrently.
func WithProgress(fn func(done, total int)) BlastOption {
	return func(b *Blast) {
		b.progress = fn
	}
}

// Blast is a Provider that runs blastp once per marker family against
// <databaseDir>/<family>.fa with tabular output.
type Blast struct {
	cfg      BlastConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	cache    Cache
	progress func(done, total int)

	jobs     metric.Int64Counter
	duration metric.Float64Histogram
}

var _ Provider = (*Blast)(nil)

// NewBlast returns a Blast provider.
func NewBlast(cfg BlastConfig, opts ...BlastOption) (*Blast, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = worker.DefaultConcurrency
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}

	b := &Blast{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.tracer == nil {
		b.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if b.meter == nil {
		b.meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}

	var err error
	b.jobs, err = b.meter.Int64Counter(
		"compleconta.search.jobs",
		metric.WithDescription("Number of family searches by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create jobs counter: %w", err)
	}
	b.duration, err = b.meter.Float64Histogram(
		"compleconta.search.duration",
		metric.WithDescription("Family search duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return b, nil
}

// LookupCandidates implements Provider.
func (b *Blast) LookupCandidates(ctx context.Context, databaseDir string, families []markers.Family) ([]Candidates, error) {
	runID := worker.NewRunID()
	scratch := filepath.Join(b.cfg.ScratchDir, "compleconta-"+runID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, compleconta.NewCandidateLookupError("search.Blast.LookupCandidates",
			fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			b.logger.Warn("failed to remove scratch dir", "dir", scratch, "error", err)
		}
	}()

	logger := b.logger.With("run_id", runID)
	logger.Info("searching marker families",
		"families", len(families),
		"database_dir", databaseDir,
		"concurrency", b.cfg.Concurrency)

	var finished atomic.Int64
	tasks := make([]worker.Task[map[string][]int], len(families))
	for i, fam := range families {
		tasks[i] = func(ctx context.Context) (map[string][]int, error) {
			return b.searchFamily(ctx, logger, filepath.Join(scratch, strconv.Itoa(i)+"-"+fam.Name), databaseDir, fam)
		}
	}

	results := worker.Run(ctx, worker.Options{
		Name:        "blastp",
		Concurrency: b.cfg.Concurrency,
		TaskTimeout: b.cfg.Timeout,
		Logger:      logger,
		OnDone: func(int, error) {
			n := finished.Add(1)
			if b.progress != nil {
				b.progress(int(n), len(families))
			}
		},
	}, tasks)

	var out []Candidates
	for i, fam := range families {
		res := results[i]
		var famErr error
		if res.Err != nil {
			famErr = asLookupError(fam.Name, res.Err)
		}
		for _, s := range fam.Sequences {
			c := Candidates{SequenceID: s.ID, MarkerFamily: fam.Name}
			if famErr != nil {
				c.Err = famErr
			} else {
				c.TaxIDs = res.Value[s.ID]
			}
			out = append(out, c)
		}
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func asLookupError(family string, err error) error {
	if compleconta.IsCandidateLookup(err) {
		return err
	}
	return compleconta.NewCandidateLookupError("search.Blast",
		fmt.Errorf("family %s: %w: %w", family, compleconta.ErrCandidateLookup, err)).
		WithContext(map[string]any{"family": family})
}

// searchFamily returns the top-hit taxids of every sequence in fam, keyed
// by sequence id. Its scratch file paths start with prefix, which is unique
// per task.
func (b *Blast) searchFamily(ctx context.Context, logger *slog.Logger, prefix, databaseDir string, fam markers.Family) (_ map[string][]int, err error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "search.family",
		trace.WithAttributes(
			attribute.String("family", fam.Name),
			attribute.Int("sequences", len(fam.Sequences)),
		))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		b.jobs.Add(ctx, 1, attrs)
		b.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}()

	logger = logger.With("family", fam.Name)

	db := filepath.Join(databaseDir, fam.Name+DatabaseSuffix)
	fingerprint, err := databaseFingerprint(db)
	if err != nil {
		return nil, compleconta.NewCandidateLookupError("search.Blast",
			fmt.Errorf("family %s: %w: %w", fam.Name, compleconta.ErrCandidateLookup, err)).
			WithContext(map[string]any{"family": fam.Name, "database": db})
	}

	out := make(map[string][]int, len(fam.Sequences))
	misses := b.fromCache(ctx, logger, fam, fingerprint, out)
	span.SetAttributes(attribute.Int("cached", len(fam.Sequences)-len(misses)))
	if len(misses) == 0 {
		logger.Debug("family fully cached")
		return out, nil
	}

	query := prefix + ".query.fa"
	output := prefix + ".blast.tsv"
	if err := writeQuery(query, misses); err != nil {
		return nil, err
	}

	args := []string{"-db", db, "-query", query, "-out", output, "-outfmt", "6"}
	args = append(args, b.cfg.ExtraArgs...)
	res, err := exec.Run(ctx, exec.Config{Command: b.cfg.Binary, Args: args})
	if err != nil {
		return nil, err
	}
	if err := res.ExitError(); err != nil {
		return nil, err
	}

	hits, err := readHitsFile(output)
	if err != nil {
		return nil, err
	}
	if hits, err = b.cfg.HitFilter.Apply(hits); err != nil {
		return nil, err
	}

	top := TopHits(hits)
	for _, s := range misses {
		taxids, err := HitTaxIDs(top[s.ID])
		if err != nil {
			return nil, err
		}
		out[s.ID] = taxids
		if b.cache != nil {
			if err := b.cache.Set(ctx, CacheKey(fam.Name, fingerprint, s.Residues), taxids); err != nil {
				logger.Warn("failed to cache candidates", "sequence", s.ID, "error", err)
			}
		}
	}

	logger.Debug("family searched",
		"sequences", len(misses),
		"hits", len(hits),
		"duration_ms", res.Duration.Milliseconds())
	return out, nil
}

// fromCache fills out from the cache and returns the sequences still to be
// searched. Cache errors count as misses.
func (b *Blast) fromCache(ctx context.Context, logger *slog.Logger, fam markers.Family, fingerprint string, out map[string][]int) []markers.Sequence {
	if b.cache == nil {
		return fam.Sequences
	}
	var misses []markers.Sequence
	for _, s := range fam.Sequences {
		taxids, ok, err := b.cache.Get(ctx, CacheKey(fam.Name, fingerprint, s.Residues))
		if err != nil {
			logger.Warn("candidate cache lookup failed", "sequence", s.ID, "error", err)
		}
		if err != nil || !ok {
			misses = append(misses, s)
			continue
		}
		out[s.ID] = taxids
	}
	return misses
}

func writeQuery(path string, seqs []markers.Sequence) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return compleconta.NewCandidateLookupError("search.Blast", fmt.Errorf("create query file: %w", err))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = compleconta.NewCandidateLookupError("search.Blast", fmt.Errorf("close query file: %w", cerr))
		}
	}()
	if err := markers.WriteFASTA(f, seqs); err != nil {
		return compleconta.NewCandidateLookupError("search.Blast", err)
	}
	return nil
}

func readHitsFile(path string) ([]Hit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, compleconta.NewCandidateLookupError("search.Blast", fmt.Errorf("open search output: %w", err))
	}
	defer compleconta.CloseWithLog(f, nil, path)
	return ReadHits(f)
}

// databaseFingerprint identifies the version of a BLAST database from the
// size and modification time of its files. A database is either the FASTA
// file itself or the index files makeblastdb wrote next to it.
func databaseFingerprint(db string) (string, error) {
	candidates := []string{db, db + ".pin", db + ".pal", db + ".psq"}
	h := sha256.New()
	found := false
	for _, p := range candidates {
		fi, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		found = true
		fmt.Fprintf(h, "%s|%d|%d\n", filepath.Base(p), fi.Size(), fi.ModTime().UnixNano())
	}
	if !found {
		return "", fmt.Errorf("database %s not found", db)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
