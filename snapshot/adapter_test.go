package snapshot

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var archiveDate = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func at(minute int) time.Time { return archiveDate.Add(time.Duration(minute) * time.Minute) }

func filled(t time.Time, channels []uint16, base float64) *Snapshot {
	s := New(t, channels)
	for i, cnl := range s.Desc.Channels {
		s.Data[i] = ChannelData{Value: base + float64(cnl), Status: 1}
	}
	return s
}

func TestApplyChangesDeltaCompression(t *testing.T) {
	name := filepath.Join(t.TempDir(), "m260824.dat")
	a := &Adapter{FileName: name}

	tbl := NewTable()
	tbl.Add(filled(at(0), []uint16{10, 20, 30}, 100))
	tbl.Add(filled(at(1), []uint16{10, 20, 30}, 200))
	tbl.Add(filled(at(2), []uint16{10, 20, 30, 40}, 300))
	require.NoError(t, a.ApplyChanges(tbl))

	data, err := os.ReadFile(name)
	require.NoError(t, err)

	// Block 1 carries the full 3-channel descriptor.
	require.Equal(t, uint16(3), binary.LittleEndian.Uint16(data))
	block1 := 4 + 2*3 + 8 + sampleSize*3
	// Block 2 shares it: count 0, checksum 1.
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[block1:]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[block1+2:]))
	block2 := block1 + 4 + 8 + sampleSize*3
	// Block 3 changed channels, so the descriptor is written again.
	require.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[block2:]))

	got := NewTable()
	require.NoError(t, a.Load(got))
	require.Len(t, got.Items, 3)
	for i, want := range []int{3, 3, 4} {
		assert.Len(t, got.Items[i].Desc.Channels, want)
		assert.Equal(t, Unchanged, got.Items[i].State)
	}
	v, ok := got.Items[1].Value(20)
	require.True(t, ok)
	assert.Equal(t, ChannelData{Value: 220, Status: 1}, v)
}

func TestApplyChangesInPlace(t *testing.T) {
	name := filepath.Join(t.TempDir(), "h260824.dat")
	a := &Adapter{FileName: name}

	tbl := NewTable()
	tbl.Add(filled(at(0), []uint16{1, 2}, 0))
	tbl.Add(filled(at(60), []uint16{1, 2}, 0))
	require.NoError(t, a.ApplyChanges(tbl))

	loaded := NewTable()
	require.NoError(t, a.Load(loaded))
	s, ok := loaded.Snapshot(at(0))
	require.True(t, ok)
	require.True(t, s.SetValue(2, ChannelData{Value: 42.5, Status: 2}))
	loaded.MarkModified(s)
	require.NoError(t, a.ApplyChanges(loaded))
	assert.Equal(t, Unchanged, s.State)

	got := NewTable()
	require.NoError(t, a.Load(got))
	require.Len(t, got.Items, 2)
	v, ok := got.Items[0].Value(2)
	require.True(t, ok)
	assert.Equal(t, ChannelData{Value: 42.5, Status: 2}, v)
	// The untouched snapshot keeps its samples.
	v, ok = got.Items[1].Value(1)
	require.True(t, ok)
	assert.Equal(t, ChannelData{Value: 1, Status: 1}, v)
}

func TestApplyChangesAppendsWithoutLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "m260824.dat")
	a := &Adapter{FileName: name}

	first := NewTable()
	first.Add(filled(at(0), []uint16{10, 20}, 0))
	require.NoError(t, a.ApplyChanges(first))

	// A fresh table appended in a later session still delta-compresses
	// against the descriptor physically written last.
	second := NewTable()
	second.Add(filled(at(1), []uint16{10, 20}, 50))
	require.NoError(t, a.ApplyChanges(second))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	block1 := 4 + 2*2 + 8 + sampleSize*2
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[block1:]))

	got := NewTable()
	require.NoError(t, a.Load(got))
	require.Len(t, got.Items, 2)
	v, ok := got.Items[1].Value(10)
	require.True(t, ok)
	assert.Equal(t, ChannelData{Value: 60, Status: 1}, v)
}

func TestApplyChangesTruncatesPartialTrailingBlock(t *testing.T) {
	name := filepath.Join(t.TempDir(), "m260824.dat")
	a := &Adapter{FileName: name}

	first := NewTable()
	first.Add(filled(at(0), []uint16{10, 20}, 0))
	require.NoError(t, a.ApplyChanges(first))

	info, err := os.Stat(name)
	require.NoError(t, err)
	goodEnd := info.Size()

	// An interrupted writer left a partial block claiming far more
	// channels than it carries.
	garbage := make([]byte, 60)
	binary.LittleEndian.PutUint16(garbage, 50)
	for i := 2; i < len(garbage); i++ {
		garbage[i] = 0xAB
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(garbage)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// The appended delta block is shorter than the garbage; nothing of
	// the partial block may survive past the new end.
	second := NewTable()
	second.Add(filled(at(1), []uint16{10, 20}, 100))
	require.NoError(t, a.ApplyChanges(second))

	info, err = os.Stat(name)
	require.NoError(t, err)
	deltaBlock := int64(4 + 8 + sampleSize*2)
	assert.Equal(t, goodEnd+deltaBlock, info.Size())

	got := NewTable()
	require.NoError(t, a.Load(got))
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[1].Time.Equal(at(1)))
}

func TestReadSkipsCorruptedBlock(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeBlock(filled(at(0), []uint16{10, 20}, 0), true))
	bad := encodeBlock(filled(at(1), []uint16{10, 20}, 100), true)
	binary.LittleEndian.PutUint16(bad[2+2*2:], 0xDEAD)
	buf.Write(bad)
	// A delta block after the corrupted one resolves against the last
	// good descriptor.
	buf.Write(encodeBlock(filled(at(2), []uint16{10, 20}, 200), false))

	tbl := NewTable()
	require.NoError(t, Read(bytes.NewReader(buf.Bytes()), tbl, zap.NewNop()))
	require.Len(t, tbl.Items, 2)
	assert.True(t, tbl.Items[0].Time.Equal(at(0)))
	assert.True(t, tbl.Items[1].Time.Equal(at(2)))
	v, ok := tbl.Items[1].Value(20)
	require.True(t, ok)
	assert.Equal(t, 220.0, v.Value)
}

func TestReadStopsAtOrphanDeltaBlock(t *testing.T) {
	// A delta block with no descriptor before it has an unknowable
	// payload size; the load ends there.
	blk := encodeBlock(filled(at(0), []uint16{10}, 0), false)
	tbl := NewTable()
	require.NoError(t, Read(bytes.NewReader(blk), tbl, zap.NewNop()))
	assert.Empty(t, tbl.Items)
}

func TestReadTruncatedTrailingBlock(t *testing.T) {
	full := encodeBlock(filled(at(0), []uint16{10, 20}, 0), true)
	partial := encodeBlock(filled(at(1), []uint16{10, 20}, 100), false)
	data := append(full, partial[:len(partial)-5]...)

	tbl := NewTable()
	require.NoError(t, Read(bytes.NewReader(data), tbl, zap.NewNop()))
	assert.Len(t, tbl.Items, 1)
}

func TestTrendMatchesFullDecode(t *testing.T) {
	name := filepath.Join(t.TempDir(), "m260824.dat")
	a := &Adapter{FileName: name}

	tbl := NewTable()
	for i := 0; i < 5; i++ {
		tbl.Add(filled(at(i), []uint16{10, 20, 30}, float64(i*100)))
	}
	require.NoError(t, a.ApplyChanges(tbl))

	trend, err := a.LoadTrend(20)
	require.NoError(t, err)
	require.Len(t, trend.Points, 5)
	assert.Equal(t, uint16(20), trend.ChannelNum)

	full := NewTable()
	require.NoError(t, a.Load(full))
	for i, p := range trend.Points {
		assert.True(t, p.Time.Equal(full.Items[i].Time))
		want, ok := full.Items[i].Value(20)
		require.True(t, ok)
		assert.Equal(t, want.Value, p.Value)
		assert.Equal(t, want.Status, p.Status)
	}

	// A channel absent from every descriptor yields an empty trend.
	empty, err := a.LoadTrend(99)
	require.NoError(t, err)
	assert.Empty(t, empty.Points)
}

func TestCreateSingleRoundTrip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "current.dat")
	a := &Adapter{FileName: name}

	src := filled(at(30), []uint16{5, 6, 7}, 10)
	require.NoError(t, a.CreateSingle(src))
	assert.Equal(t, Unchanged, src.State)

	got := NewTable()
	require.NoError(t, a.Load(got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, src.Data, got.Items[0].Data)

	// CreateSingle replaces, never appends.
	require.NoError(t, a.CreateSingle(filled(at(31), []uint16{5, 6, 7}, 20)))
	got = NewTable()
	require.NoError(t, a.Load(got))
	assert.Len(t, got.Items, 1)
}

func TestCreateSingleRejectsEmpty(t *testing.T) {
	a := &Adapter{FileName: filepath.Join(t.TempDir(), "current.dat")}
	assert.Error(t, a.CreateSingle(New(at(0), nil)))
}

func TestEncodeDecodeSingle(t *testing.T) {
	src := filled(at(12), []uint16{100, 200}, 1)
	got, err := DecodeSingle(EncodeSingle(src))
	require.NoError(t, err)
	assert.True(t, got.Time.Equal(src.Time))
	assert.Equal(t, src.Desc.Channels, got.Desc.Channels)
	assert.Equal(t, src.Data, got.Data)

	bad := EncodeSingle(src)
	bad[4] = 0xFF // corrupt a channel number
	_, err = DecodeSingle(bad)
	assert.Error(t, err)

	_, err = DecodeSingle(bad[:3])
	assert.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	d := NewDescriptor([]uint16{30, 10, 20, 10})
	assert.Equal(t, []uint16{10, 20, 30}, d.Channels)
	assert.Equal(t, uint16(61), d.Checksum)
	assert.Equal(t, 1, d.Index(20))
	assert.Equal(t, -1, d.Index(15))
	assert.True(t, d.Equal(NewDescriptor([]uint16{10, 20, 30})))
	assert.False(t, d.Equal(NewDescriptor([]uint16{10, 20})))
	assert.False(t, d.Equal(nil))
	assert.Equal(t, uint16(1), ComputeChecksum(nil))
}

func TestTableAddMergesSameTimestamp(t *testing.T) {
	tbl := NewTable()
	s := filled(at(0), []uint16{10, 20}, 0)
	s.State = Unchanged
	s.dataOffset = 16
	tbl.Add(s)

	update := New(at(0), []uint16{20})
	update.SetValue(20, ChannelData{Value: 99, Status: 3})
	got := tbl.Add(update)

	require.Same(t, s, got)
	require.Len(t, tbl.Items, 1)
	assert.Equal(t, Modified, s.State)
	v, _ := s.Value(20)
	assert.Equal(t, ChannelData{Value: 99, Status: 3}, v)
	// Channels the update does not carry keep their samples.
	v, _ = s.Value(10)
	assert.Equal(t, ChannelData{Value: 10, Status: 1}, v)

	added, modified := tbl.Changes()
	assert.Empty(t, added)
	assert.Len(t, modified, 1)
}
