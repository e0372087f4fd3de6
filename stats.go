package galign

// Stats accumulates per-worker counters across the pipeline phases.  Each
// worker owns a private copy; the orchestrator merges them at phase joins
// and reports the totals in verbose mode.
type Stats struct {
	// Seeds is the number of adaptive seed records emitted.
	Seeds int64
	// APositions is the number of T1 positions that produced at least one
	// seed.
	APositions int64
	// LCPWeight is the sum of lcp * freq over all emissions, a proxy for
	// the total seeded bases.
	LCPWeight int64
	// Chains counts chains handed to the aligner: they passed both
	// coverage filters and the rediscovery guard.
	Chains int64
	// ChainsDropped counts chains rejected by the coverage filters or the
	// rediscovery guard.
	ChainsDropped int64
	// AlignerFailures counts chains the local aligner could not extend or
	// extended to fewer than AlignMin a-bases.
	AlignerFailures int64
	// Alignments counts overlaps written before the redundancy filter.
	Alignments int64
	// Eliminated counts overlaps removed by the redundancy filter.
	Eliminated int64
}

// Merge adds the field values of the two Stats objects and creates new
// Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Seeds += o.Seeds
	s.APositions += o.APositions
	s.LCPWeight += o.LCPWeight
	s.Chains += o.Chains
	s.ChainsDropped += o.ChainsDropped
	s.AlignerFailures += o.AlignerFailures
	s.Alignments += o.Alignments
	s.Eliminated += o.Eliminated
	return s
}
