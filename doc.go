// Package compleconta assigns a taxonomic call to a genome from the marker
// genes found in it.
//
// The work is split across a small number of packages:
//
//   - taxonomy: parses the NCBI names.dmp and nodes.dmp dumps into an
//     immutable node table and answers lineage, descendant and rank queries
//   - lca: majority-vote lowest common ancestor over a set of taxids, with a
//     support value for every standard rank that was examined
//   - classify: runs the consensus once per marker sequence over its search
//     hits and once more over the per-sequence calls for the genome call
//   - search: finds candidate taxids for marker sequences with blastp and
//     reduces the tabular output to a top-hit set
//   - markers: marker protein FASTA and family assignments
//   - report: text, tsv and json renderings of a classification
//
// # Getting Started
//
//	store, err := taxonomy.Load("/data/taxonomy")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res, err := lca.Compute(store, []int{562, 562, 620}, lca.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Call.Name, res.Supports())
//
// # Errors
//
// Every package reports failures as *Error values carrying the failed
// operation and one of the Kind constants. Use errors.Is with the sentinel
// errors or the IsNotFound, IsParse and IsCandidateLookup helpers to branch
// on them.
package compleconta
