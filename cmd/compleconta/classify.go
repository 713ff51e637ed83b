package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gopkg.in/cheggaaa/pb.v1"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/classify"
	"github.com/pythseq/compleconta/config"
	"github.com/pythseq/compleconta/lca"
	"github.com/pythseq/compleconta/markers"
	"github.com/pythseq/compleconta/report"
	"github.com/pythseq/compleconta/search"
	"github.com/pythseq/compleconta/taxonomy"
)

// Instrumentation scopes handed to the global otel providers. Both are
// noop until a program embedding the CLI installs real ones.
const (
	searchScope   = "github.com/pythseq/compleconta/search"
	classifyScope = "github.com/pythseq/compleconta/classify"
)

// consensusFlags are shared by the classify and lca commands.
type consensusFlags struct {
	rankFloor string
	threshold float64
}

func (f *consensusFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.rankFloor, "rank-floor", "", "finest rank a call may reach: a standard rank name or level 0-6 (default: genus)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "minimum fraction of votes for a call (default: 0.9)")
}

// apply overrides cfg with the flags that were set.
func (f *consensusFlags) apply(cmd *cobra.Command, cfg lca.Config) (lca.Config, error) {
	if cmd.Flags().Changed("rank-floor") {
		level, err := parseRankFloor(f.rankFloor)
		if err != nil {
			return cfg, err
		}
		cfg.RankFloor = level
	}
	if cmd.Flags().Changed("threshold") {
		cfg.MajorityThreshold = f.threshold
	}
	return cfg, cfg.Validate()
}

func parseRankFloor(s string) (int, error) {
	if level, ok := taxonomy.StandardRankLevel(strings.ToLower(s)); ok {
		return level, nil
	}
	level, err := strconv.Atoi(s)
	if err != nil {
		return 0, usageError{fmt.Errorf("invalid rank floor %q: want one of %s or 0-%d",
			s, strings.Join(taxonomy.StandardRanks[:], ", "), len(taxonomy.StandardRanks)-1)}
	}
	return level, nil
}

type classifyOptions struct {
	consensus consensusFlags

	databaseDir string
	binary      string
	blastArgs   []string
	concurrency int
	timeout     time.Duration
	hitFilter   string
	scratchDir  string
	redisURL    string
	families    []string
	tolerant    bool
	progress    bool
}

func (a *app) classifyCmd() *cobra.Command {
	var o classifyOptions
	cmd := &cobra.Command{
		Use:   "classify <proteins.faa> <assignments.tsv>",
		Short: "Classify a genome from its marker proteins",
		Long: `Classify a genome from its marker proteins.

The assignments file maps protein ids to marker families, one
"<protein id><TAB><family>" per line. Every family is searched against
<database-dir>/<family>.fa with blastp.`,
		Args: args(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.runClassify(cmd, &o, argv[0], argv[1])
		},
	}

	o.consensus.register(cmd)
	f := cmd.Flags()
	f.StringVar(&o.databaseDir, "database-dir", "", "directory holding one <family>.fa search database per marker family")
	f.StringVar(&o.binary, "blast", "", "blastp executable (default: blastp)")
	f.StringSliceVar(&o.blastArgs, "blast-arg", nil, "extra blastp argument, repeatable")
	f.IntVarP(&o.concurrency, "concurrency", "j", 0, "families searched at once (default: 5)")
	f.DurationVar(&o.timeout, "timeout", 0, "time limit for one family search")
	f.StringVar(&o.hitFilter, "hit-filter", "", "CEL expression selecting search hits, e.g. 'evalue < 1e-10'")
	f.StringVar(&o.scratchDir, "scratch-dir", "", "directory for temporary search files")
	f.StringVar(&o.redisURL, "redis-url", "", "Redis URL of the candidate cache")
	f.StringSliceVar(&o.families, "families", nil, "only use these marker families")
	f.BoolVar(&o.tolerant, "tolerant", false, "exclude sequences with taxids unknown to the taxonomy instead of failing")
	f.BoolVar(&o.progress, "progress", false, "show a progress bar on stderr")
	return cmd
}

// searchConfig merges the search flags that were set over the file
// configuration.
func (o *classifyOptions) searchConfig(cmd *cobra.Command, file *config.SearchConfig) *config.SearchConfig {
	sc := config.SearchConfig{}
	if file != nil {
		sc = *file
	}
	flags := cmd.Flags()
	if flags.Changed("blast") {
		sc.Binary = o.binary
	}
	if flags.Changed("blast-arg") {
		sc.ExtraArgs = o.blastArgs
	}
	if flags.Changed("concurrency") {
		sc.Concurrency = o.concurrency
	}
	if flags.Changed("timeout") {
		sc.Timeout = o.timeout.String()
	}
	if flags.Changed("hit-filter") {
		sc.HitFilter = o.hitFilter
	}
	if flags.Changed("scratch-dir") {
		sc.ScratchDir = o.scratchDir
	}
	return &sc
}

func (a *app) runClassify(cmd *cobra.Command, o *classifyOptions, proteins, assignments string) error {
	ctx := cmd.Context()

	consensus, err := o.consensus.apply(cmd, a.cfg.GetConsensus())
	if err != nil {
		return err
	}

	sc := o.searchConfig(cmd, a.cfg.Search)
	blastCfg, err := sc.BlastConfig()
	if err != nil {
		return err
	}

	databaseDir := a.cfg.DatabaseDir
	if cmd.Flags().Changed("database-dir") {
		databaseDir = o.databaseDir
	}
	if databaseDir == "" {
		return compleconta.NewConfigurationError("classify",
			fmt.Errorf("%w: database directory not set (use --database-dir or database_dir)", compleconta.ErrInvalidConfig))
	}

	store, err := a.loadStore()
	if err != nil {
		return err
	}

	coll, err := markers.Load(proteins, assignments)
	if err != nil {
		return err
	}
	if len(o.families) > 0 {
		coll = coll.Subset(o.families)
	}
	a.logger.Info("marker proteins loaded", "markers", coll)

	opts := []search.BlastOption{
		search.WithLogger(a.logger),
		search.WithTracer(otel.Tracer(searchScope)),
		search.WithMeter(otel.Meter(searchScope)),
	}

	redisURL := ""
	ttl := a.cfg.Cache.GetTTL()
	if a.cfg.Cache.Enabled() {
		redisURL = a.cfg.Cache.RedisURL
	}
	if cmd.Flags().Changed("redis-url") {
		redisURL = o.redisURL
	}
	if redisURL != "" {
		cache, err := search.NewRedisCache(search.RedisOptions{URL: redisURL, TTL: ttl})
		if err != nil {
			a.logger.Warn("candidate cache unavailable, searching uncached", "error", err)
		} else {
			defer compleconta.CloseWithLog(cache, a.logger, "candidate cache")
			opts = append(opts, search.WithCache(cache))
		}
	}

	families := coll.Families()
	if o.progress && len(families) > 0 {
		bar := pb.New(len(families))
		bar.Output = a.stderr
		bar.Prefix("searching ")
		bar.Start()
		defer bar.Finish()
		opts = append(opts, search.WithProgress(func(done, _ int) {
			bar.Set(done)
		}))
	}

	provider, err := search.NewBlast(blastCfg, opts...)
	if err != nil {
		return err
	}
	classifier, err := classify.New(store,
		classify.WithLogger(a.logger),
		classify.WithTracer(otel.Tracer(classifyScope)),
		classify.WithMeter(otel.Meter(classifyScope)),
		classify.WithConsensus(consensus),
		classify.WithWorkers(sc.GetConcurrency()),
		classify.WithTolerant(o.tolerant))
	if err != nil {
		return err
	}

	rep, err := classifier.ClassifyFamilies(ctx, provider, databaseDir, families)
	if err != nil {
		return err
	}
	return report.Write(a.stdout, a.format, rep)
}
