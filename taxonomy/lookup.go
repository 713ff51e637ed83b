package taxonomy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pythseq/compleconta"
)

// Lookup is the outcome of a batch query. Values holds the result for every
// taxid that was found; Missing lists the others in query order.
type Lookup[T any] struct {
	Values  map[int]T
	Missing []int
}

// Err returns a not-found error naming every missing taxid, or nil.
func (l Lookup[T]) Err() error {
	if len(l.Missing) == 0 {
		return nil
	}
	return compleconta.NewNotFoundError("taxonomy.Lookup",
		fmt.Errorf("taxids %s: %w", listTaxids(l.Missing), compleconta.ErrTaxonNotFound)).
		WithContext(map[string]any{"missing": len(l.Missing)})
}

// String renders the lookup for logs.
func (l Lookup[T]) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d found", len(l.Values))
	if len(l.Missing) > 0 {
		fmt.Fprintf(&b, ", missing %s", listTaxids(l.Missing))
	}
	return b.String()
}

func batch[T any](s *Store, taxids []int, get func(Node) T) Lookup[T] {
	out := Lookup[T]{Values: make(map[int]T, len(taxids))}
	for _, id := range taxids {
		i, ok := s.index[id]
		if !ok {
			out.Missing = append(out.Missing, id)
			continue
		}
		out.Values[id] = get(s.nodes[i])
	}
	return out
}

// Parents returns the parent taxid of each taxid; the root maps to 0.
func (s *Store) Parents(taxids ...int) Lookup[int] {
	return batch(s, taxids, func(n Node) int { return n.Parent })
}

// Ranks returns the rank of each taxid.
func (s *Store) Ranks(taxids ...int) Lookup[string] {
	return batch(s, taxids, func(n Node) string { return n.Rank })
}

// Names returns the scientific name of each taxid.
func (s *Store) Names(taxids ...int) Lookup[string] {
	return batch(s, taxids, func(n Node) string { return n.Name })
}

// Children returns the direct children of each taxid.
func (s *Store) Children(taxids ...int) Lookup[[]int] {
	return batch(s, taxids, func(n Node) []int { return slices.Clone(n.Children) })
}
