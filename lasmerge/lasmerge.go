// Package lasmerge sorts and merges .las alignment files in process.  It
// stands in for the external LAsort/LAmerge utilities when they are not
// installed: each per-thread shard is sorted in memory, then the shards
// are merged with an N-way tree into the final file.
package lasmerge

import (
	"sort"

	"github.com/biogo/store/llrb"
	"v.io/x/lib/vlog"

	"github.com/grailbio/galign/encoding/las"
)

// less orders overlaps the way LAsort -a does: by a-contig, then
// b-contig, then orientation, then a-interval.
func less(a, b *las.Overlap) bool {
	if a.Aread != b.Aread {
		return a.Aread < b.Aread
	}
	if a.Bread != b.Bread {
		return a.Bread < b.Bread
	}
	if a.Flags != b.Flags {
		return a.Flags < b.Flags
	}
	if a.Abpos != b.Abpos {
		return a.Abpos < b.Abpos
	}
	return a.Aepos < b.Aepos
}

// SortFile sorts one .las file in place.
func SortFile(path string) error {
	r, err := las.NewReader(path)
	if err != nil {
		return err
	}
	tspace := r.Tspace
	ovs := make([]*las.Overlap, 0, r.Nels)
	for {
		var o las.Overlap
		ok, err := r.Next(&o)
		if err != nil {
			r.Close()
			return err
		}
		if !ok {
			break
		}
		c := o
		ovs = append(ovs, &c)
	}
	if err := r.Close(); err != nil {
		return err
	}
	sort.SliceStable(ovs, func(i, j int) bool { return less(ovs[i], ovs[j]) })
	w, err := las.NewWriter(path, tspace)
	if err != nil {
		return err
	}
	for _, o := range ovs {
		if err := w.Write(o); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// mergeLeaf is one sorted input of the merge tree.
type mergeLeaf struct {
	seq int // tie-break so equal keys pop deterministically
	r   *las.Reader
	cur las.Overlap
}

func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	o := c.(*mergeLeaf)
	if less(&l.cur, &o.cur) {
		return -1
	}
	if less(&o.cur, &l.cur) {
		return 1
	}
	return l.seq - o.seq
}

func (l *mergeLeaf) advance() (bool, error) {
	return l.r.Next(&l.cur)
}

// Merge N-way merges sorted .las shards into out.  The shards must share
// a trace spacing.
func Merge(out string, paths []string) error {
	tree := llrb.Tree{}
	tspace := -1
	readers := make([]*las.Reader, 0, len(paths))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for i, path := range paths {
		r, err := las.NewReader(path)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		if tspace < 0 {
			tspace = r.Tspace
		} else if r.Tspace != tspace {
			vlog.Errorf("merge %v: trace spacing %d != %d", path, r.Tspace, tspace)
		}
		leaf := &mergeLeaf{seq: i, r: r}
		ok, err := leaf.advance()
		if err != nil {
			return err
		}
		if ok {
			tree.Insert(leaf)
		}
	}
	if tspace < 0 {
		tspace = 0
	}
	vlog.VI(1).Infof("merging %d las shards into %s", len(paths), out)

	w, err := las.NewWriter(out, tspace)
	if err != nil {
		return err
	}
	for tree.Len() > 0 {
		top := tree.Min().(*mergeLeaf)
		tree.DeleteMin()
		if err := w.Write(&top.cur); err != nil {
			w.Close()
			return err
		}
		ok, err := top.advance()
		if err != nil {
			w.Close()
			return err
		}
		if ok {
			tree.Insert(top)
		}
	}
	return w.Close()
}
