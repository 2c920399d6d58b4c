package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/shouqitao/scada-sub001/datafmt"
)

// File format, version 2: repeating blocks of
//
//	[count u16][channel numbers u16 x count][checksum u16]
//	[time f64 OLE][count x (value f64 + status u8)]
//
// count = 0 reuses the previous block's descriptor (structural delta
// compression); such blocks carry checksum 1, the checksum of an empty
// channel list. All integers little-endian.
//
// A block whose checksum does not match is skipped by seeking past its
// payload; the rest of the file still loads. Only checksum-valid inline
// descriptors become the "previous descriptor" for later delta blocks, so a
// delta block directly after a corrupted one resolves against the last good
// descriptor. A delta block with no valid descriptor before it ends the
// load, since its payload size is unknowable.
const sampleSize = 9 // value f64 + status u8

// Adapter loads and saves one snapshot archive file.
type Adapter struct {
	FileName string
	Logger   *zap.Logger
}

func (a *Adapter) logger() *zap.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}

// Load reads the whole archive file into t.
func (a *Adapter) Load(t *Table) error {
	f, err := os.Open(a.FileName)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", a.FileName, err)
	}
	defer f.Close()
	return Read(f, t, a.logger())
}

// LoadTrend extracts a single channel's series from the archive file.
func (a *Adapter) LoadTrend(cnl uint16) (*Trend, error) {
	f, err := os.Open(a.FileName)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", a.FileName, err)
	}
	defer f.Close()
	return ReadTrend(f, cnl, a.logger())
}

// Read decodes a whole archive stream into t. The result is best-effort:
// corrupted blocks are skipped and a truncated trailing block is a normal
// end of stream.
func Read(rs io.ReadSeeker, t *Table, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	t.Clear()
	err := walk(rs, logger, func(desc *Descriptor, dataOffset int64) (bool, error) {
		buf := make([]byte, 8+sampleSize*len(desc.Channels))
		if _, err := io.ReadFull(rs, buf); err != nil {
			return false, err
		}
		s := &Snapshot{
			Time:       datafmt.DecodeTime(math.Float64frombits(binary.LittleEndian.Uint64(buf))),
			Desc:       desc,
			Data:       decodeSamples(buf[8:], len(desc.Channels)),
			State:      Unchanged,
			dataOffset: dataOffset,
		}
		t.Add(s)
		t.lastDesc = desc
		t.fileEnd = dataOffset + int64(len(buf))
		return true, nil
	})
	t.scanned = true
	return err
}

// ReadTrend extracts one channel's series without decoding full rows: the
// channel is located by binary search in each block's descriptor and the
// stream position is advanced straight to its sample slot.
func ReadTrend(rs io.ReadSeeker, cnl uint16, logger *zap.Logger) (*Trend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	trend := &Trend{ChannelNum: cnl}
	buf := make([]byte, 8+sampleSize)
	err := walk(rs, logger, func(desc *Descriptor, dataOffset int64) (bool, error) {
		n := len(desc.Channels)
		idx := desc.Index(cnl)
		if idx < 0 {
			if _, err := rs.Seek(int64(8+sampleSize*n), io.SeekCurrent); err != nil {
				return false, err
			}
			return true, nil
		}
		if _, err := io.ReadFull(rs, buf[:8]); err != nil {
			return false, err
		}
		if _, err := rs.Seek(int64(sampleSize*idx), io.SeekCurrent); err != nil {
			return false, err
		}
		if _, err := io.ReadFull(rs, buf[8:]); err != nil {
			return false, err
		}
		if _, err := rs.Seek(int64(sampleSize*(n-idx-1)), io.SeekCurrent); err != nil {
			return false, err
		}
		trend.Points = append(trend.Points, TrendPoint{
			Time:   datafmt.DecodeTime(math.Float64frombits(binary.LittleEndian.Uint64(buf))),
			Value:  math.Float64frombits(binary.LittleEndian.Uint64(buf[8:])),
			Status: buf[16],
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	trend.Sort()
	return trend, nil
}

// CreateSingle rewrites the file to hold exactly one snapshot. Used for the
// latest-values file, which always carries a full descriptor.
func (a *Adapter) CreateSingle(s *Snapshot) error {
	if len(s.Desc.Channels) == 0 {
		return fmt.Errorf("snapshot: refusing to write empty snapshot to %s", a.FileName)
	}
	f, err := os.Create(a.FileName)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", a.FileName, err)
	}
	defer f.Close()
	blk := encodeBlock(s, true)
	if _, err := f.Write(blk); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", a.FileName, err)
	}
	s.dataOffset = int64(4 + 2*len(s.Desc.Channels))
	s.State = Unchanged
	return f.Sync()
}

// ApplyChanges flushes t incrementally: modified snapshots are rewritten in
// place at their recorded offset (the descriptor part never changes), added
// snapshots are appended after the last known block with descriptor delta
// compression against the descriptor physically written last. On success
// all change tracking is cleared.
func (a *Adapter) ApplyChanges(t *Table) error {
	f, err := os.OpenFile(a.FileName, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", a.FileName, err)
	}
	defer f.Close()

	added, modified := t.Changes()
	for _, s := range modified {
		if s.dataOffset < 0 {
			continue
		}
		buf := make([]byte, 8+sampleSize*len(s.Desc.Channels))
		binary.LittleEndian.PutUint64(buf, math.Float64bits(datafmt.EncodeTime(s.Time)))
		encodeSamples(buf[8:], s.Data)
		if _, err := f.WriteAt(buf, s.dataOffset); err != nil {
			return fmt.Errorf("snapshot: rewrite block at %d: %w", s.dataOffset, err)
		}
	}

	if len(added) > 0 {
		if !t.scanned {
			if err := scanTail(f, t, a.logger()); err != nil {
				return fmt.Errorf("snapshot: scan %s: %w", a.FileName, err)
			}
		}
		pos := t.fileEnd
		for _, s := range added {
			if len(s.Desc.Channels) == 0 {
				a.logger().Warn("dropping empty snapshot on append",
					zap.String("file", a.FileName), zap.Time("time", s.Time))
				continue
			}
			withDesc := !s.Desc.Equal(t.lastDesc)
			blk := encodeBlock(s, withDesc)
			if _, err := f.WriteAt(blk, pos); err != nil {
				return fmt.Errorf("snapshot: append block at %d: %w", pos, err)
			}
			head := 4
			if withDesc {
				head += 2 * len(s.Desc.Channels)
			}
			s.dataOffset = pos + int64(head)
			pos += int64(len(blk))
			t.lastDesc = s.Desc
		}
		t.fileEnd = pos

		// A partial trailing block longer than the appended bytes would
		// leave garbage past the new end; cut it off.
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("snapshot: stat %s: %w", a.FileName, err)
		}
		if info.Size() > pos {
			if err := f.Truncate(pos); err != nil {
				return fmt.Errorf("snapshot: truncate %s: %w", a.FileName, err)
			}
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("snapshot: sync %s: %w", a.FileName, err)
	}
	t.AcceptChanges()
	return nil
}

// walk iterates the block headers of rs, validating descriptors and
// invoking fn positioned at each valid block's payload. fn must leave the
// stream positioned at the end of the payload and reports whether to
// continue; io.EOF and io.ErrUnexpectedEOF from fn end the walk cleanly.
func walk(rs io.ReadSeeker, logger *zap.Logger, fn func(desc *Descriptor, dataOffset int64) (bool, error)) error {
	var (
		pos      int64
		prevDesc *Descriptor
		b2       [2]byte
	)
	for {
		if _, err := io.ReadFull(rs, b2[:]); err != nil {
			return nil // end of stream
		}
		pos += 2
		count := int(binary.LittleEndian.Uint16(b2[:]))

		var desc *Descriptor
		valid := true
		if count > 0 {
			chBuf := make([]byte, 2*count)
			if _, err := io.ReadFull(rs, chBuf); err != nil {
				return nil
			}
			pos += int64(len(chBuf))
			if _, err := io.ReadFull(rs, b2[:]); err != nil {
				return nil
			}
			pos += 2
			stored := binary.LittleEndian.Uint16(b2[:])
			channels := make([]uint16, count)
			ascending := true
			for i := range channels {
				channels[i] = binary.LittleEndian.Uint16(chBuf[2*i:])
				if i > 0 && channels[i] <= channels[i-1] {
					ascending = false
				}
			}
			desc = &Descriptor{Channels: channels, Checksum: ComputeChecksum(channels)}
			if stored != desc.Checksum || !ascending {
				valid = false
				logger.Warn("skipping snapshot block with bad descriptor",
					zap.Int64("offset", pos), zap.Uint16("checksum", stored))
			}
		} else {
			if _, err := io.ReadFull(rs, b2[:]); err != nil {
				return nil
			}
			pos += 2
			stored := binary.LittleEndian.Uint16(b2[:])
			if prevDesc == nil {
				// No descriptor to resolve against: the payload size is
				// unknowable, resynchronization is impossible.
				logger.Warn("delta block with no preceding descriptor, stopping",
					zap.Int64("offset", pos))
				return nil
			}
			desc = prevDesc
			if stored != 1 {
				valid = false
				logger.Warn("skipping delta block with bad checksum",
					zap.Int64("offset", pos), zap.Uint16("checksum", stored))
			}
		}

		payload := int64(8 + sampleSize*len(desc.Channels))
		if !valid {
			if _, err := rs.Seek(payload, io.SeekCurrent); err != nil {
				return fmt.Errorf("snapshot: seek past bad block: %w", err)
			}
			pos += payload
			continue
		}

		cont, err := fn(desc, pos)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil // truncated trailing block
			}
			return fmt.Errorf("snapshot: read block at %d: %w", pos, err)
		}
		pos += payload
		prevDesc = desc
		if !cont {
			return nil
		}
	}
}

// scanTail recovers the append bookkeeping (last written descriptor, end of
// last complete block) for a table that was not loaded from this file.
func scanTail(rs io.ReadSeeker, t *Table, logger *zap.Logger) error {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	err = walk(rs, logger, func(desc *Descriptor, dataOffset int64) (bool, error) {
		payload := int64(8 + sampleSize*len(desc.Channels))
		end, err := rs.Seek(payload, io.SeekCurrent)
		if err != nil {
			return false, err
		}
		// Only count blocks whose payload is fully present.
		if end > size {
			return false, nil
		}
		t.lastDesc = desc
		t.fileEnd = end
		return true, nil
	})
	t.scanned = true
	return err
}

func encodeBlock(s *Snapshot, withDesc bool) []byte {
	n := len(s.Desc.Channels)
	head := 4
	if withDesc {
		head += 2 * n
	}
	buf := make([]byte, head+8+sampleSize*n)
	if withDesc {
		binary.LittleEndian.PutUint16(buf, uint16(n))
		for i, c := range s.Desc.Channels {
			binary.LittleEndian.PutUint16(buf[2+2*i:], c)
		}
		binary.LittleEndian.PutUint16(buf[2+2*n:], s.Desc.Checksum)
	} else {
		binary.LittleEndian.PutUint16(buf, 0)
		binary.LittleEndian.PutUint16(buf[2:], 1)
	}
	binary.LittleEndian.PutUint64(buf[head:], math.Float64bits(datafmt.EncodeTime(s.Time)))
	encodeSamples(buf[head+8:], s.Data)
	return buf
}

func encodeSamples(buf []byte, data []ChannelData) {
	for i, d := range data {
		binary.LittleEndian.PutUint64(buf[sampleSize*i:], math.Float64bits(d.Value))
		buf[sampleSize*i+8] = d.Status
	}
}

func decodeSamples(buf []byte, n int) []ChannelData {
	data := make([]ChannelData, n)
	for i := range data {
		data[i] = ChannelData{
			Value:  math.Float64frombits(binary.LittleEndian.Uint64(buf[sampleSize*i:])),
			Status: buf[sampleSize*i+8],
		}
	}
	return data
}

// EncodeSingle serializes one snapshot with a full descriptor, the shape
// pushed over the wire and stored in the latest-values file.
func EncodeSingle(s *Snapshot) []byte {
	return encodeBlock(s, true)
}

// DecodeSingle parses a single full-descriptor snapshot produced by
// EncodeSingle.
func DecodeSingle(buf []byte) (*Snapshot, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("snapshot: block too short")
	}
	n := int(binary.LittleEndian.Uint16(buf))
	head := 4 + 2*n
	if len(buf) < head+8+sampleSize*n {
		return nil, fmt.Errorf("snapshot: block truncated")
	}
	channels := make([]uint16, n)
	for i := range channels {
		channels[i] = binary.LittleEndian.Uint16(buf[2+2*i:])
	}
	stored := binary.LittleEndian.Uint16(buf[2+2*n:])
	if stored != ComputeChecksum(channels) {
		return nil, fmt.Errorf("snapshot: checksum mismatch: stored %d", stored)
	}
	return &Snapshot{
		Time:       datafmt.DecodeTime(math.Float64frombits(binary.LittleEndian.Uint64(buf[head:]))),
		Desc:       &Descriptor{Channels: channels, Checksum: stored},
		Data:       decodeSamples(buf[head+8:], n),
		State:      Unchanged,
		dataOffset: -1,
	}, nil
}
