package taxonomy

// NoRank is the rank string NCBI uses for nodes without a Linnaean rank.
const NoRank = "no rank"

// RootTaxID is the taxid of the root of the NCBI taxonomy.
const RootTaxID = 1

// StandardRanks lists the seven standard ranks from finest (index 0) to
// coarsest (index 6). The index of a rank is its rank level.
var StandardRanks = [...]string{
	"species",
	"genus",
	"family",
	"order",
	"class",
	"phylum",
	"superkingdom",
}

// Rank levels, usable as indexes into StandardRanks.
const (
	Species = iota
	Genus
	Family
	Order
	Class
	Phylum
	Superkingdom
)

// StandardRankLevel returns the level of rank in StandardRanks.
func StandardRankLevel(rank string) (int, bool) {
	for i, r := range StandardRanks {
		if r == rank {
			return i, true
		}
	}
	return -1, false
}

// IsStandardRank reports whether rank is one of StandardRanks.
func IsStandardRank(rank string) bool {
	_, ok := StandardRankLevel(rank)
	return ok
}
