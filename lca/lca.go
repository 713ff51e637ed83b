// Package lca computes majority-supported lowest common ancestors.
//
// Compute walks the standard ranks from superkingdom down to a configurable
// floor. At every rank level the candidate lineages vote; the winner's share
// of all inputs is that level's support, and the deepest winner whose support
// reaches the majority threshold becomes the call.
package lca

import (
	"errors"
	"fmt"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/taxonomy"
)

// BacteriaTaxID is the NCBI taxid of the Bacteria superkingdom.
const BacteriaTaxID = 2

// Defaults for Config.
const (
	DefaultRankFloor         = taxonomy.Genus
	DefaultMajorityThreshold = 0.9
)

// Resolver provides the lineages Compute votes over. *taxonomy.Store
// implements it.
type Resolver interface {
	Ascendants(taxid int, onlyStandardRanks bool) ([]taxonomy.Node, error)
	Root() taxonomy.Node
}

// Config controls the consensus.
type Config struct {
	// RankFloor is the finest rank level (index into taxonomy.StandardRanks)
	// that is voted on. 0 is species, 6 is superkingdom.
	RankFloor int `json:"rank_floor" yaml:"rank_floor"`

	// MajorityThreshold is the minimum support, in (0, 1], for a level's
	// winner to become the call.
	MajorityThreshold float64 `json:"majority_threshold" yaml:"majority_threshold"`
}

// DefaultConfig returns a genus floor with a 0.9 majority.
func DefaultConfig() Config {
	return Config{
		RankFloor:         DefaultRankFloor,
		MajorityThreshold: DefaultMajorityThreshold,
	}
}

// Validate checks the floor and threshold ranges.
func (c Config) Validate() error {
	var errs []error
	if c.RankFloor < 0 || c.RankFloor >= len(taxonomy.StandardRanks) {
		errs = append(errs, fmt.Errorf("rank floor %d outside [0, %d]", c.RankFloor, len(taxonomy.StandardRanks)-1))
	}
	if !(c.MajorityThreshold > 0 && c.MajorityThreshold <= 1) {
		errs = append(errs, fmt.Errorf("majority threshold %v outside (0, 1]", c.MajorityThreshold))
	}
	if len(errs) > 0 {
		return compleconta.NewConfigurationError("lca.Config.Validate",
			fmt.Errorf("%w: %w", compleconta.ErrInvalidConfig, errors.Join(errs...)))
	}
	return nil
}

// Level is the winner of one rank level and its support.
type Level struct {
	Node    taxonomy.Node
	Support float64
}

// Result is the outcome of a consensus. Levels run from the coarsest rank
// examined to the finest and stop at the first level without votes.
type Result struct {
	Call   taxonomy.Node
	Levels []Level
}

// Calls returns the winning node of every level, coarse to fine.
func (r Result) Calls() []taxonomy.Node {
	out := make([]taxonomy.Node, len(r.Levels))
	for i, l := range r.Levels {
		out[i] = l.Node
	}
	return out
}

// Supports returns the support of every level, coarse to fine.
func (r Result) Supports() []float64 {
	out := make([]float64, len(r.Levels))
	for i, l := range r.Levels {
		out[i] = l.Support
	}
	return out
}

// Compute returns the consensus over taxids.
//
// Every support is the winner's count divided by the total number of
// inputs, so inputs whose lineage ends above a level count against it. Ties
// go to the lowest taxid. A Bacteria call is replaced by the root: the
// reference data only holds bacteria, so it cannot tell bacteria apart from
// anything else.
func Compute(r Resolver, taxids []int, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	root := r.Root()
	res := Result{Call: root}
	if len(taxids) == 0 {
		return res, nil
	}

	paths := make([][]taxonomy.Node, len(taxids))
	for i, id := range taxids {
		p, err := path(r, id, cfg.RankFloor)
		if err != nil {
			return Result{}, err
		}
		paths[i] = p
	}

	total := float64(len(taxids))
	for level := 0; level < len(taxonomy.StandardRanks)-cfg.RankFloor; level++ {
		winner, count, ok := vote(paths, level)
		if !ok {
			break
		}
		support := float64(count) / total
		res.Levels = append(res.Levels, Level{Node: winner, Support: support})
		if support >= cfg.MajorityThreshold {
			res.Call = winner
		}
	}

	if res.Call.TaxID == BacteriaTaxID {
		res.Call = root
	}
	return res, nil
}

// path returns the standard-rank lineage of taxid from coarse to fine,
// cut after the floor rank. Above species floor, a species node ends the
// path without being included.
func path(r Resolver, taxid, floor int) ([]taxonomy.Node, error) {
	lineage, err := r.Ascendants(taxid, true)
	if err != nil {
		return nil, err
	}

	floorRank := taxonomy.StandardRanks[floor]
	speciesRank := taxonomy.StandardRanks[taxonomy.Species]

	out := make([]taxonomy.Node, 0, len(lineage))
	for i := len(lineage) - 1; i >= 0; i-- {
		n := lineage[i]
		if floor != taxonomy.Species && n.Rank == speciesRank {
			break
		}
		out = append(out, n)
		if n.Rank == floorRank {
			break
		}
	}
	return out, nil
}

// vote tallies position level across paths long enough to have one.
func vote(paths [][]taxonomy.Node, level int) (taxonomy.Node, int, bool) {
	counts := make(map[int]int)
	nodes := make(map[int]taxonomy.Node)
	for _, p := range paths {
		if level >= len(p) {
			continue
		}
		n := p[level]
		counts[n.TaxID]++
		nodes[n.TaxID] = n
	}
	if len(counts) == 0 {
		return taxonomy.Node{}, 0, false
	}

	best, bestCount := 0, -1
	for id, c := range counts {
		if c > bestCount || (c == bestCount && id < best) {
			best, bestCount = id, c
		}
	}
	return nodes[best], bestCount, true
}
