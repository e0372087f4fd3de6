// Package galign finds local alignments between two genome assemblies
// from their pre-built k-mer indices.
//
// Each assembly is indexed as a .gdb (2-bit packed bases), a .ktab
// (sorted, sharded k-mer table) and a .post (per-occurrence position
// lists).  The pipeline merges the two k-mer tables to emit adaptive
// seeds - variable-length prefix matches whose occurrence count in the
// second genome stays below a frequency cutoff - then sorts the packed
// seed records by diagonal within each a-contig panel, chains seeds in
// adjacent diagonal buckets, verifies each chain with a banded
// tracepoint aligner, and filters redundant alignments before the final
// per-contig sort/merge into a .las file.
//
// Thread count is dictated by the index shard layout: an index built
// with nsqrt^2 shards is processed by nsqrt workers, each owning a
// contiguous shard range (pass 1) or a contiguous a-contig range
// (pass 2).  Workers never share mutable state within a phase.
package galign
