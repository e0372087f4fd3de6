package galign

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"

	"github.com/grailbio/galign/encoding/las"
	"github.com/grailbio/galign/lasmerge"
)

// sources bundles the three per-genome inputs.
type sources struct {
	ktab *KmerTable
	post *PostTable
	gdb  *GDB
}

func openSources(root string) (sources, error) {
	var s sources
	var err error
	if s.ktab, err = OpenKmerTable(root); err != nil {
		return s, err
	}
	if s.post, err = OpenPostTable(root); err != nil {
		return s, err
	}
	if s.gdb, err = OpenGDB(root); err != nil {
		return s, err
	}
	if s.gdb.NumContigs() != s.post.Nctg {
		return s, fmt.Errorf("%s: assembly has %d contigs, position table %d",
			root, s.gdb.NumContigs(), s.post.Nctg)
	}
	if s.ktab.Nthr != s.post.Nthr {
		return s, fmt.Errorf("%s: k-mer table has %d shards, position table %d",
			root, s.ktab.Nthr, s.post.Nthr)
	}
	return s, nil
}

func isqrt(n int) int {
	r := 0
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// Run executes the whole pipeline: seed merge, per-part seed sorts, chain
// search, redundancy filter, and the final sort/merge into
// <out_root>.las.
func Run(opts Opts, src1, src2 string) error {
	if err := opts.Valid(); err != nil {
		return err
	}
	a, err := openSources(src1)
	if err != nil {
		return err
	}
	b, err := openSources(src2)
	if err != nil {
		return err
	}
	if a.ktab.Kmer != b.ktab.Kmer {
		return fmt.Errorf("k-mer lengths disagree: %s has %d, %s has %d", src1, a.ktab.Kmer, src2, b.ktab.Kmer)
	}
	if a.ktab.Nthr != b.ktab.Nthr {
		return fmt.Errorf("shard counts disagree: %s has %d, %s has %d", src1, a.ktab.Nthr, src2, b.ktab.Nthr)
	}
	if a.ktab.Ibyte != b.ktab.Ibyte {
		return fmt.Errorf("panel prefix widths disagree: %s has %d, %s has %d", src1, a.ktab.Ibyte, src2, b.ktab.Ibyte)
	}
	if a.ktab.Kmer < MinSeedBases {
		return fmt.Errorf("k-mer length %d is below the minimum seed prefix %d", a.ktab.Kmer, MinSeedBases)
	}
	if opts.Freq < a.ktab.MinVal || opts.Freq < b.ktab.MinVal {
		return fmt.Errorf("frequency cutoff %d is below the index cutoffs (%d, %d)",
			opts.Freq, a.ktab.MinVal, b.ktab.MinVal)
	}
	nthreads := isqrt(a.ktab.Nthr)
	if nthreads*nthreads != a.ktab.Nthr {
		return fmt.Errorf("shard count %d is not a square", a.ktab.Nthr)
	}
	outRoot := opts.OutRoot
	if outRoot == "" {
		outRoot = src1
	}

	pid := os.Getpid()
	layout := newSeedLayout(a.gdb, b.gdb)
	slayout := newSortLayout(a.gdb, b.gdb, a.ktab.Kmer)
	part := makePartition(a.gdb.Lens, nthreads)
	nparts := part.nparts

	pairPath := func(t, p, fam int) string {
		tag := 'N'
		if fam == famC {
			tag = 'C'
		}
		return filepath.Join(opts.TmpDir, fmt.Sprintf("_pair.%d.%d.%d.%c", pid, t, p, tag))
	}
	algnPath := func(t int) string {
		return filepath.Join(opts.TmpDir, fmt.Sprintf("_algn.%d.%d.las", pid, t))
	}
	uniqPath := func(t int) string {
		return filepath.Join(opts.TmpDir, fmt.Sprintf("_uniq.%d.%d.las", pid, t))
	}
	var scratch []string
	defer func() {
		for _, p := range scratch {
			os.Remove(p) // already gone on the happy path
		}
	}()

	// Pass 1: adaptive seed merge.  Worker t walks shard rows
	// [t*nthreads, (t+1)*nthreads) of all four streams.
	if opts.Verbose {
		log.Printf("Seed merge: %d workers over %d shards, %d parts", nthreads, a.ktab.Nthr, nparts)
	}
	mergers := make([]*merger, nthreads)
	err = traverse.Each(nthreads, func(t int) error {
		out := make([]*seedShardWriter, 2*nparts)
		for fam := famN; fam <= famC; fam++ {
			for p := 0; p < nparts; p++ {
				w, err := newSeedShardWriter(pairPath(t, p, fam))
				if err != nil {
					return err
				}
				out[fam*nparts+p] = w
			}
		}
		m := newMerger(opts, layout, a.ktab, b.ktab, a.post, b.post,
			part.sel, a.gdb.NumContigs(), nparts, out)
		mergers[t] = m
		runErr := m.run(t*nthreads, (t+1)*nthreads)
		closeErr := errors.Once{}
		closeErr.Set(m.close())
		for _, w := range out {
			closeErr.Set(w.Close())
		}
		if runErr != nil {
			return runErr
		}
		return closeErr.Err()
	})
	for t := 0; t < nthreads; t++ {
		for fam := famN; fam <= famC; fam++ {
			for p := 0; p < nparts; p++ {
				scratch = append(scratch, pairPath(t, p, fam))
			}
		}
	}
	if err != nil {
		return err
	}
	stats := Stats{}
	bucks := [2][][]int64{}
	for _, m := range mergers {
		stats = stats.Merge(m.stats)
		bucks[famN] = append(bucks[famN], m.buck[famN])
		bucks[famC] = append(bucks[famC], m.buck[famC])
	}
	if opts.Verbose {
		log.Printf("Stats: %d seeds from %d a-positions, %d seeded bases",
			stats.Seeds, stats.APositions, stats.LCPWeight)
	}

	// Pass 2: per (orientation, part) seed sort and chain search.  The
	// shard matrix is consumed part-major; each part's records for all
	// merge workers land in one arena.
	algn := make([]*las.TempWriter, nthreads)
	for t := range algn {
		w, err := las.NewTempWriter(algnPath(t))
		if err != nil {
			return err
		}
		scratch = append(scratch, algnPath(t))
		algn[t] = w
	}
	threadStats := make([]Stats, nthreads)
	for fam := famN; fam <= famC; fam++ {
		for p := 0; p < nparts; p++ {
			cbegin, cend := part.contigRange(p)
			paths := make([]string, nthreads)
			for t := 0; t < nthreads; t++ {
				paths[t] = pairPath(t, p, fam)
			}
			arena, err := importSeeds(paths, layout, slayout, fam, cbegin, cend, b.gdb.Lens, bucks[fam])
			if err != nil {
				return err
			}
			if arena.nels == 0 {
				arena.free()
				continue
			}
			counts := make([]int64, cend-cbegin)
			for i := range counts {
				counts[i] = arena.offs[i+1] - arena.offs[i]
			}
			ranges := workerRanges(cbegin, cend, nthreads, counts)
			err = traverse.Each(nthreads, func(t int) error {
				lo, hi := ranges[t][0], ranges[t][1]
				var maxRegion int64
				for c := lo; c < hi; c++ {
					if n := arena.offs[c-cbegin+1] - arena.offs[c-cbegin]; n > maxRegion {
						maxRegion = n
					}
				}
				if maxRegion == 0 {
					return nil
				}
				scratchBuf := make([]byte, maxRegion*int64(slayout.swide))
				for c := lo; c < hi; c++ {
					radixSort(arena.contigRecords(c), scratchBuf, slayout.swide)
				}
				searcher, err := newChainSearcher(opts, fam, slayout, a.gdb, b.gdb, algn[t], &threadStats[t])
				if err != nil {
					return err
				}
				for c := lo; c < hi; c++ {
					if err := searcher.searchContig(arena, c); err != nil {
						searcher.close()
						return err
					}
				}
				return searcher.close()
			})
			freeErr := arena.free()
			if err != nil {
				return err
			}
			if freeErr != nil {
				return freeErr
			}
		}
	}
	for _, w := range algn {
		if err := w.Close(); err != nil {
			return err
		}
	}
	for _, s := range threadStats {
		stats = stats.Merge(s)
	}
	if opts.Verbose {
		log.Printf("Stats: %d chains (%d dropped, %d unalignable), %d alignments",
			stats.Chains, stats.ChainsDropped, stats.AlignerFailures, stats.Alignments)
	}

	// Redundancy filter, one worker per alignment temp file.
	elim := make([]int64, nthreads)
	err = traverse.Each(nthreads, func(t int) error {
		w, err := las.NewWriter(uniqPath(t), Tspace)
		if err != nil {
			return err
		}
		n, ferr := filterFile(algnPath(t), w, Tspace)
		elim[t] = n
		closeErr := w.Close()
		if ferr != nil {
			return ferr
		}
		if closeErr != nil {
			return closeErr
		}
		return os.Remove(algnPath(t))
	})
	for t := 0; t < nthreads; t++ {
		scratch = append(scratch, uniqPath(t))
	}
	if err != nil {
		return err
	}
	for _, n := range elim {
		stats.Eliminated += n
	}
	if opts.Verbose {
		log.Printf("Stats: %d redundant alignments eliminated", stats.Eliminated)
	}

	// Final sort and merge of the per-thread shards.
	uniq := make([]string, nthreads)
	for t := range uniq {
		uniq[t] = uniqPath(t)
	}
	out := outRoot + ".las"
	if err := sortAndMerge(out, uniq, opts.Verbose); err != nil {
		return err
	}
	for _, p := range uniq {
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	if opts.Verbose {
		log.Printf("Wrote %s", out)
	}
	return nil
}

// sortAndMerge produces the final .las.  The external LAsort/LAmerge
// utilities are used when installed; otherwise the in-process merge
// stands in.  A found-but-failing utility is fatal.
func sortAndMerge(out string, shards []string, verbose bool) error {
	env := envvar.SliceToMap(os.Environ())
	sortBin, err1 := lookpath.Look(env, "LAsort")
	mergeBin, err2 := lookpath.Look(env, "LAmerge")
	if err1 != nil || err2 != nil {
		if verbose {
			log.Printf("LAsort/LAmerge not on PATH; merging in process")
		}
		for _, p := range shards {
			if err := lasmerge.SortFile(p); err != nil {
				return err
			}
		}
		return lasmerge.Merge(out, shards)
	}
	cmd := exec.Command(sortBin, append([]string{"-a"}, shards...)...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.E(err, "LAsort failed")
	}
	cmd = exec.Command(mergeBin, append([]string{"-a", out}, shards...)...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.E(err, "LAmerge failed")
	}
	return nil
}
