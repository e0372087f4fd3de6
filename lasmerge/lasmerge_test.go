package lasmerge

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/grailbio/galign/encoding/las"
)

func writeShard(t *testing.T, path string, ovs []las.Overlap) {
	t.Helper()
	w, err := las.NewWriter(path, 100)
	assert.NoError(t, err)
	for i := range ovs {
		assert.NoError(t, w.Write(&ovs[i]))
	}
	assert.NoError(t, w.Close())
}

func readAll(t *testing.T, path string) []las.Overlap {
	t.Helper()
	r, err := las.NewReader(path)
	assert.NoError(t, err)
	defer r.Close()
	var out []las.Overlap
	for {
		var o las.Overlap
		ok, err := r.Next(&o)
		assert.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, o)
	}
}

func TestSortAndMerge(t *testing.T) {
	dir, err := ioutil.TempDir("", "lasmerge")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	s1 := filepath.Join(dir, "s1.las")
	s2 := filepath.Join(dir, "s2.las")
	writeShard(t, s1, []las.Overlap{
		{Aread: 2, Bread: 0, Abpos: 5, Aepos: 100},
		{Aread: 0, Bread: 1, Abpos: 50, Aepos: 200},
		{Aread: 0, Bread: 1, Abpos: 10, Aepos: 90},
	})
	writeShard(t, s2, []las.Overlap{
		{Aread: 1, Bread: 0, Abpos: 0, Aepos: 70},
		{Aread: 0, Bread: 0, Abpos: 3, Aepos: 60},
	})

	assert.NoError(t, SortFile(s1))
	assert.NoError(t, SortFile(s2))
	out := filepath.Join(dir, "out.las")
	assert.NoError(t, Merge(out, []string{s1, s2}))

	got := readAll(t, out)
	expect.EQ(t, len(got), 5)
	for i := 1; i < len(got); i++ {
		if less(&got[i], &got[i-1]) {
			t.Fatalf("merge output out of order at %d: %+v after %+v", i, got[i], got[i-1])
		}
	}
	expect.EQ(t, got[0].Aread, int32(0))
	expect.EQ(t, got[0].Bread, int32(0))
	expect.EQ(t, got[len(got)-1].Aread, int32(2))
}

func TestMergeEmpty(t *testing.T) {
	dir, err := ioutil.TempDir("", "lasmerge")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	s1 := filepath.Join(dir, "s1.las")
	writeShard(t, s1, nil)
	out := filepath.Join(dir, "out.las")
	assert.NoError(t, Merge(out, []string{s1}))
	expect.EQ(t, len(readAll(t, out)), 0)
}
