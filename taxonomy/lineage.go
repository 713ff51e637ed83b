package taxonomy

// Ascendants returns the lineage of taxid ordered from the node itself up to
// the root.
//
// With onlyStandardRanks set, the lineage keeps only nodes whose rank is in
// StandardRanks, plus the queried node itself when its rank is "no rank".
// Ascendants of the root is always just the root.
func (s *Store) Ascendants(taxid int, onlyStandardRanks bool) ([]Node, error) {
	i, ok := s.index[taxid]
	if !ok {
		return nil, notFound("taxonomy.Store.Ascendants", taxid)
	}

	var raw []Node
	for {
		n := s.node(i)
		raw = append(raw, n)
		if n.Parent == 0 {
			break
		}
		i = s.index[n.Parent]
	}

	if !onlyStandardRanks {
		return raw, nil
	}

	out := make([]Node, 0, len(StandardRanks)+1)
	if raw[0].Rank == NoRank {
		out = append(out, raw[0])
	}
	for _, n := range raw {
		if IsStandardRank(n.Rank) {
			out = append(out, n)
		}
	}
	return out, nil
}

// AscendantsBatch resolves the lineage of every taxid, collecting unknown
// taxids instead of failing on the first one.
func (s *Store) AscendantsBatch(taxids []int, onlyStandardRanks bool) Lookup[[]Node] {
	out := Lookup[[]Node]{Values: make(map[int][]Node, len(taxids))}
	for _, id := range taxids {
		lineage, err := s.Ascendants(id, onlyStandardRanks)
		if err != nil {
			out.Missing = append(out.Missing, id)
			continue
		}
		out.Values[id] = lineage
	}
	return out
}
