package eventlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shouqitao/scada-sub001/datafmt"
)

// Fixed 189-byte record:
//
//	offset  0  time of day, f64 OLE day fraction (date comes from file name)
//	offset  8  object number u16
//	offset 10  device number u16
//	offset 12  parameter number u16
//	offset 14  channel number u16
//	offset 16  old value f64, offset 24 old status u8
//	offset 25  new value f64, offset 33 new status u8
//	offset 34  acknowledged u8, offset 35 acknowledging user id u16
//	offset 37  description slot, 101 bytes (u8 length prefix)
//	offset 138 auxiliary data slot, 51 bytes (u8 length prefix)
//
// Sequence numbers are not stored: number = record offset / 189 + 1.
// Acknowledgement touches exactly the 3 bytes at offset 34.
const (
	RecordSize = 189
	ackOffset  = 34
)

// Adapter loads and appends one day's event log file.
type Adapter struct {
	FileName string
}

// Load reads the file into l, deriving the date from the file name when l
// carries none. A truncated trailing record is a normal end of file.
func (a *Adapter) Load(l *Log) error {
	if l.Date.IsZero() {
		if d, err := datafmt.ParseFileDate(filepath.Base(a.FileName)); err == nil {
			l.Date = d
		}
	}
	f, err := os.Open(a.FileName)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", a.FileName, err)
	}
	defer f.Close()
	return Read(f, l)
}

// Read decodes an event log stream into l. A truncated trailing record is a
// normal end of stream.
func Read(r io.Reader, l *Log) error {
	l.Events = nil
	l.pendingAcks = nil
	br := bufio.NewReader(r)
	rec := make([]byte, RecordSize)
	for num := 1; ; num++ {
		if _, err := io.ReadFull(br, rec); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("eventlog: read record %d: %w", num, err)
		}
		l.Events = append(l.Events, decodeRecord(rec, num, l.Date))
	}
}

// Append writes ev at the end of the file and returns its assigned sequence
// number. The write offset is aligned down to a record boundary so that a
// partial record left by an interrupted writer is overwritten, keeping the
// numbering contiguous.
func (a *Adapter) Append(ev *Event) (int, error) {
	f, err := os.OpenFile(a.FileName, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("eventlog: open %s: %w", a.FileName, err)
	}
	defer f.Close()

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("eventlog: seek %s: %w", a.FileName, err)
	}
	offset := end - end%RecordSize
	if _, err := f.WriteAt(encodeRecord(ev), offset); err != nil {
		return 0, fmt.Errorf("eventlog: append to %s: %w", a.FileName, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("eventlog: sync %s: %w", a.FileName, err)
	}
	ev.Number = int(offset/RecordSize) + 1
	return ev.Number, nil
}

// Acknowledge updates the 3 acknowledgement bytes of the numbered record in
// place, leaving the rest of the file untouched.
func (a *Adapter) Acknowledge(number, userID int) error {
	if number < 1 {
		return fmt.Errorf("eventlog: invalid event number %d", number)
	}
	f, err := os.OpenFile(a.FileName, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", a.FileName, err)
	}
	defer f.Close()

	buf := []byte{1, 0, 0}
	binary.LittleEndian.PutUint16(buf[1:], uint16(userID))
	offset := int64(number-1)*RecordSize + ackOffset
	if _, err := f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("eventlog: acknowledge event %d: %w", number, err)
	}
	return f.Sync()
}

// ApplyChanges persists l's pending appends and acknowledgement edits, then
// clears the change tracking.
func (a *Adapter) ApplyChanges(l *Log) error {
	for _, ev := range l.Events {
		if ev.Number == 0 {
			if _, err := a.Append(ev); err != nil {
				return err
			}
		}
	}
	for _, ack := range l.pendingAcks {
		if err := a.Acknowledge(ack.number, ack.userID); err != nil {
			return err
		}
	}
	l.pendingAcks = nil
	return nil
}

func decodeRecord(rec []byte, number int, date time.Time) *Event {
	return &Event{
		Number:     number,
		Time:       datafmt.CombineDateTime(date, math.Float64frombits(binary.LittleEndian.Uint64(rec))),
		ObjNum:     int(binary.LittleEndian.Uint16(rec[8:])),
		DeviceNum:  int(binary.LittleEndian.Uint16(rec[10:])),
		ParamNum:   int(binary.LittleEndian.Uint16(rec[12:])),
		ChannelNum: int(binary.LittleEndian.Uint16(rec[14:])),
		OldValue:   math.Float64frombits(binary.LittleEndian.Uint64(rec[16:])),
		OldStatus:  rec[24],
		NewValue:   math.Float64frombits(binary.LittleEndian.Uint64(rec[25:])),
		NewStatus:  rec[33],
		Acked:      rec[ackOffset] != 0,
		AckUserID:  int(binary.LittleEndian.Uint16(rec[35:])),
		Descr:      datafmt.GetStringSlot8(rec[37:138]),
		Data:       datafmt.GetStringSlot8(rec[138:RecordSize]),
	}
}

func encodeRecord(ev *Event) []byte {
	rec := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(rec, math.Float64bits(datafmt.EncodeTimeOfDay(ev.Time)))
	binary.LittleEndian.PutUint16(rec[8:], uint16(ev.ObjNum))
	binary.LittleEndian.PutUint16(rec[10:], uint16(ev.DeviceNum))
	binary.LittleEndian.PutUint16(rec[12:], uint16(ev.ParamNum))
	binary.LittleEndian.PutUint16(rec[14:], uint16(ev.ChannelNum))
	binary.LittleEndian.PutUint64(rec[16:], math.Float64bits(ev.OldValue))
	rec[24] = ev.OldStatus
	binary.LittleEndian.PutUint64(rec[25:], math.Float64bits(ev.NewValue))
	rec[33] = ev.NewStatus
	if ev.Acked {
		rec[ackOffset] = 1
	}
	binary.LittleEndian.PutUint16(rec[35:], uint16(ev.AckUserID))
	datafmt.PutStringSlot8(rec[37:138], ev.Descr)
	datafmt.PutStringSlot8(rec[138:RecordSize], ev.Data)
	return rec
}

// EncodeRecord serializes ev into the fixed wire/file record shape. The
// server expects exactly this layout when an event is pushed to it.
func EncodeRecord(ev *Event) []byte { return encodeRecord(ev) }

// DecodeRecord parses a record fetched outside a file context; the date
// half of the timestamp is taken from date.
func DecodeRecord(rec []byte, number int, date time.Time) (*Event, error) {
	if len(rec) < RecordSize {
		return nil, fmt.Errorf("eventlog: record truncated: %d bytes", len(rec))
	}
	return decodeRecord(rec, number, date), nil
}
