package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pythseq/compleconta/classify"
	"github.com/pythseq/compleconta/lca"
	"github.com/pythseq/compleconta/report"
	"github.com/pythseq/compleconta/taxonomy"
)

func parseTaxids(argv []string) ([]int, error) {
	out := make([]int, len(argv))
	for i, s := range argv {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			return nil, usageError{fmt.Errorf("invalid taxid %q", s)}
		}
		out[i] = id
	}
	return out, nil
}

func (a *app) lcaCmd() *cobra.Command {
	var flags consensusFlags
	cmd := &cobra.Command{
		Use:   "lca <taxid>...",
		Short: "Compute the consensus lowest common ancestor of taxids",
		Long: `Compute the consensus lowest common ancestor of taxids.

The output shows the call and, for every standard rank from superkingdom
down to the rank floor, the winning taxon and the fraction of taxids that
voted for it.`,
		Args: args(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			cfg, err := flags.apply(cmd, a.cfg.GetConsensus())
			if err != nil {
				return err
			}
			taxids, err := parseTaxids(argv)
			if err != nil {
				return err
			}
			store, err := a.loadStore()
			if err != nil {
				return err
			}
			res, err := lca.Compute(store, taxids, cfg)
			if err != nil {
				return err
			}
			return report.Write(a.stdout, a.format, classify.Report{Genome: res, Voters: len(taxids)})
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) lineageCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "lineage <taxid>",
		Short: "List the ancestors of a taxon, from the taxon up to the root",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			taxids, err := parseTaxids(argv)
			if err != nil {
				return err
			}
			store, err := a.loadStore()
			if err != nil {
				return err
			}
			nodes, err := store.Ascendants(taxids[0], !all)
			if err != nil {
				return err
			}
			return report.WriteTaxa(a.stdout, a.format, nodes)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include ancestors without a standard rank")
	return cmd
}

func (a *app) descendantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "descendants <taxid>",
		Short: "List a taxon and every taxon below it, in pre-order",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.subtree(argv, (*taxonomy.Store).DescendantNodes)
		},
	}
}

func (a *app) leavesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaves <taxid>",
		Short: "List the taxa without children below a taxon",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.subtree(argv, (*taxonomy.Store).LeafNodes)
		},
	}
}

func (a *app) subtree(argv []string, list func(*taxonomy.Store, int) ([]taxonomy.Node, error)) error {
	taxids, err := parseTaxids(argv)
	if err != nil {
		return err
	}
	store, err := a.loadStore()
	if err != nil {
		return err
	}
	nodes, err := list(store, taxids[0])
	if err != nil {
		return err
	}
	return report.WriteTaxa(a.stdout, a.format, nodes)
}

func (a *app) rankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank <rank>",
		Short: "List every taxon of a rank, by taxid",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			store, err := a.loadStore()
			if err != nil {
				return err
			}
			ids := store.TaxidsAtRank(argv[0])
			nodes := make([]taxonomy.Node, 0, len(ids))
			for _, id := range ids {
				n, err := store.Node(id)
				if err != nil {
					return err
				}
				nodes = append(nodes, n)
			}
			return report.WriteTaxa(a.stdout, a.format, nodes)
		},
	}
}
