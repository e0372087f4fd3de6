package las

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testOverlaps() []Overlap {
	return []Overlap{
		{Aread: 0, Bread: 0, Flags: 0, Abpos: 0, Aepos: 300, Bbpos: 0, Bepos: 300, Diffs: 0,
			Trace: []byte{0, 100, 0, 100, 0, 100}},
		{Aread: 0, Bread: 1, Flags: CompFlag, Abpos: 10, Aepos: 250, Bbpos: 5, Bepos: 244, Diffs: 3,
			Trace: []byte{1, 90, 2, 99, 0, 50}},
		{Aread: 2, Bread: 0, Flags: 0, Abpos: 7, Aepos: 130, Bbpos: 9, Bepos: 131, Diffs: 0,
			Trace: nil},
	}
}

func TestRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "las")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "t.las")

	ovs := testOverlaps()
	w, err := NewWriter(path, 100)
	assert.NoError(t, err)
	for i := range ovs {
		assert.NoError(t, w.Write(&ovs[i]))
	}
	assert.NoError(t, w.Close())

	r, err := NewReader(path)
	assert.NoError(t, err)
	defer r.Close()
	expect.EQ(t, r.Nels, int64(len(ovs)))
	expect.EQ(t, r.Tspace, 100)
	for i := range ovs {
		var o Overlap
		ok, err := r.Next(&o)
		assert.NoError(t, err)
		assert.True(t, ok)
		expect.EQ(t, o.Aread, ovs[i].Aread)
		expect.EQ(t, o.Flags, ovs[i].Flags)
		expect.EQ(t, o.Abpos, ovs[i].Abpos)
		expect.EQ(t, o.Aepos, ovs[i].Aepos)
		expect.EQ(t, o.Diffs, ovs[i].Diffs)
		if len(ovs[i].Trace) > 0 {
			expect.EQ(t, o.Trace, ovs[i].Trace)
		}
		expect.EQ(t, o.Comp(), ovs[i].Flags&CompFlag != 0)
	}
	var o Overlap
	ok, err := r.Next(&o)
	assert.NoError(t, err)
	expect.False(t, ok)
}

func TestEmptyFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "las")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "empty.las")

	w, err := NewWriter(path, 100)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	r, err := NewReader(path)
	assert.NoError(t, err)
	defer r.Close()
	expect.EQ(t, r.Nels, int64(0))
	var o Overlap
	ok, err := r.Next(&o)
	assert.NoError(t, err)
	expect.False(t, ok)
}

func TestTempRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "las")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "t.las.zst")

	ovs := testOverlaps()
	w, err := NewTempWriter(path)
	assert.NoError(t, err)
	for i := range ovs {
		assert.NoError(t, w.Write(&ovs[i]))
	}
	assert.NoError(t, w.Close())

	r, err := NewTempReader(path)
	assert.NoError(t, err)
	defer r.Close()
	n := 0
	for {
		var o Overlap
		ok, err := r.Next(&o)
		assert.NoError(t, err)
		if !ok {
			break
		}
		expect.EQ(t, o.Aread, ovs[n].Aread)
		expect.EQ(t, o.Bepos, ovs[n].Bepos)
		n++
	}
	expect.EQ(t, n, len(ovs))
}
