package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/config"
	"github.com/pythseq/compleconta/report"
	"github.com/pythseq/compleconta/taxonomy"
)

var version = "0.1.0-dev"

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// reportsConfig annotates commands that report an invalid configuration
// themselves instead of refusing to run.
const reportsConfig = "reports-config"

// usageError marks command-line mistakes.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &ue), compleconta.KindOf(err) == compleconta.KindConfiguration:
		return exitUsage
	default:
		return exitFailure
	}
}

// app carries what every command shares: the resolved configuration, the
// logger and the output streams.
type app struct {
	stdout, stderr io.Writer

	configPath  string
	taxonomyDir string
	logLevel    string
	logFormat   string
	format      string

	cfg    *config.Config
	logger *slog.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if code == exitUsage {
			fmt.Fprintf(stderr, "Run 'compleconta --help' for usage.\n")
		}
	}
	return code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "compleconta",
		Short: "Classify genomes by consensus over marker gene hits",
		Long: `compleconta assigns a genome to a taxon. Each marker protein is searched
against the reference database of its family, called by majority vote
over its best hits, and the genome is called by majority vote over the
per-protein calls.

Settings are read from compleconta.yaml in the current directory or a
parent; command-line flags take precedence.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              args(cobra.NoArgs),
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "configuration file or directory (default: search upwards for "+config.FileName+")")
	f.StringVar(&a.taxonomyDir, "taxonomy-dir", "", "directory holding names.dmp and nodes.dmp")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")
	f.StringVar(&a.logFormat, "log-format", "", "log format: text|json")
	f.StringVarP(&a.format, "format", "o", "text", "output format: "+strings.Join(report.Formats(), "|"))

	root.AddCommand(
		a.classifyCmd(),
		a.lcaCmd(),
		a.lineageCmd(),
		a.descendantsCmd(),
		a.leavesCmd(),
		a.rankCmd(),
		a.doctorCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads the configuration, applies the persistent flags over it and
// builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("taxonomy-dir") {
		cfg.TaxonomyDir = a.taxonomyDir
	}
	if cfg.Log == nil {
		cfg.Log = &config.LogConfig{}
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if _, ok := report.Lookup(a.format); !ok {
		return usageError{fmt.Errorf("unknown output format %q, want one of %s", a.format, strings.Join(report.Formats(), ", "))}
	}

	if cmd.Annotations[reportsConfig] == "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	a.cfg = cfg
	a.logger = newLogger(a.stderr, cfg.Log)
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromDir(wd)
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), nil
	}
	return cfg, err
}

func newLogger(w io.Writer, cfg *config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.GetLevel()}
	if cfg.GetFormat() == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadStore loads the taxonomy named by the configuration.
func (a *app) loadStore() (*taxonomy.Store, error) {
	if a.cfg.TaxonomyDir == "" {
		return nil, compleconta.NewConfigurationError("compleconta",
			fmt.Errorf("%w: taxonomy directory not set (use --taxonomy-dir or taxonomy_dir)", compleconta.ErrInvalidConfig))
	}
	return taxonomy.Load(a.cfg.TaxonomyDir, taxonomy.WithLogger(a.logger))
}

// args wraps a cobra positional-argument validator so that its failures
// count as usage errors.
func args(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := v(cmd, a); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "compleconta %s\n", version)
			return err
		},
	}
}
