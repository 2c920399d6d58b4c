package configtable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/shouqitao/scada-sub001/datafmt"
)

// File format, version 3:
//
//	[fieldCount u8][reserved u16]
//	fieldCount x 110-byte field records:
//	    [type u8][size u16][maxStrLen u16][nullable u8][name slot 102][reserved u16]
//	rows: [reserved u16] + per field (null flag u8 if nullable) + value bytes
//
// All integers little-endian. A truncated trailing row is a normal end of
// file: the writer may have been interrupted mid-record.
const (
	headerSize   = 3
	fieldDefSize = 110
	nameSlotSize = 102
	rowReserve   = 2

	// MaxColumns is the hard column limit imposed by the u8 field count.
	MaxColumns = 255
	// MaxFieldNameLen bounds column names.
	MaxFieldNameLen = 100
	// MaxStringLen bounds the recomputed capacity of string columns on save.
	MaxStringLen = 1000
)

// ErrBadFormat reports a config table file that cannot be parsed at all.
var ErrBadFormat = errors.New("invalid config table format")

// Adapter loads and saves config tables from a .dat file.
type Adapter struct {
	FileName string
}

// Load reads the file into t, replacing its columns and rows.
func (a *Adapter) Load(t *Table) error {
	f, err := os.Open(a.FileName)
	if err != nil {
		return fmt.Errorf("configtable: open %s: %w", a.FileName, err)
	}
	defer f.Close()
	return Read(f, t)
}

// Save rewrites the file from t. The write is always a full rewrite.
func (a *Adapter) Save(t *Table) error {
	f, err := os.Create(a.FileName)
	if err != nil {
		return fmt.Errorf("configtable: create %s: %w", a.FileName, err)
	}
	defer f.Close()
	if err := Write(f, t); err != nil {
		return err
	}
	return f.Sync()
}

// Read decodes a config table stream into t. Column count and order are
// authoritative from the stream, not from t.
func Read(r io.Reader, t *Table) error {
	br := bufio.NewReader(r)
	t.Columns = nil
	t.Rows = nil

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		if err == io.EOF {
			return nil // empty file, empty table
		}
		return fmt.Errorf("configtable: read header: %w", ErrBadFormat)
	}
	fieldCount := int(header[0])

	defBuf := make([]byte, fieldDefSize)
	for i := 0; i < fieldCount; i++ {
		if _, err := io.ReadFull(br, defBuf); err != nil {
			return fmt.Errorf("configtable: field definition %d truncated: %w", i, ErrBadFormat)
		}
		def := FieldDef{
			Type:      DataType(defBuf[0]),
			Size:      int(binary.LittleEndian.Uint16(defBuf[1:3])),
			MaxStrLen: int(binary.LittleEndian.Uint16(defBuf[3:5])),
			Nullable:  defBuf[5] != 0,
			Name:      datafmt.GetStringSlot8(defBuf[6 : 6+nameSlotSize]),
		}
		if def.Name == "" {
			return fmt.Errorf("configtable: field %d has an empty name: %w", i, ErrBadFormat)
		}
		t.Columns = append(t.Columns, def)
	}

	recSize := recordSize(t.Columns)
	rowBuf := make([]byte, recSize)
	for {
		if _, err := io.ReadFull(br, rowBuf); err != nil {
			// A partial trailing record means the writer stopped mid-row.
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("configtable: read row: %w", err)
		}
		row := make([]any, len(t.Columns))
		pos := rowReserve
		for i, def := range t.Columns {
			isNull := false
			if def.Nullable {
				isNull = rowBuf[pos] != 0
				pos++
			}
			v := decodeValue(def, rowBuf[pos:pos+def.Size])
			pos += def.Size
			if isNull {
				row[i] = nil
			} else {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// Write encodes t to w, recomputing field definitions from the current row
// set. String columns are sized to the longest value observed, bounded by
// MaxStringLen. Columns beyond MaxColumns are silently dropped.
func Write(w io.Writer, t *Table) error {
	cols := make([]FieldDef, len(t.Columns))
	copy(cols, t.Columns)
	if len(cols) > MaxColumns {
		cols = cols[:MaxColumns]
	}
	for i := range cols {
		if cols[i].Name == "" {
			return fmt.Errorf("configtable: column %d has an empty name: %w", i, ErrBadFormat)
		}
		if len(cols[i].Name) > MaxFieldNameLen {
			cols[i].Name = cols[i].Name[:MaxFieldNameLen]
		}
		if cols[i].Type == String {
			maxLen := 0
			for _, row := range t.Rows {
				if i < len(row) {
					// Rows is exported; foreign cell types degrade to the
					// type default here just as they do in encodeValue.
					if s, ok := row[i].(string); ok && len(s) > maxLen {
						maxLen = len(s)
					}
				}
			}
			if maxLen > MaxStringLen {
				maxLen = MaxStringLen
			}
			cols[i].MaxStrLen = maxLen
		} else {
			cols[i].MaxStrLen = 0
		}
		cols[i].Size = valueSize(cols[i])
	}

	bw := bufio.NewWriter(w)
	header := []byte{byte(len(cols)), 0, 0}
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("configtable: write header: %w", err)
	}

	defBuf := make([]byte, fieldDefSize)
	for _, def := range cols {
		for i := range defBuf {
			defBuf[i] = 0
		}
		defBuf[0] = byte(def.Type)
		binary.LittleEndian.PutUint16(defBuf[1:3], uint16(def.Size))
		binary.LittleEndian.PutUint16(defBuf[3:5], uint16(def.MaxStrLen))
		if def.Nullable {
			defBuf[5] = 1
		}
		datafmt.PutStringSlot8(defBuf[6:6+nameSlotSize], def.Name)
		if _, err := bw.Write(defBuf); err != nil {
			return fmt.Errorf("configtable: write field definition: %w", err)
		}
	}

	rowBuf := make([]byte, recordSize(cols))
	for _, row := range t.Rows {
		for i := range rowBuf {
			rowBuf[i] = 0
		}
		pos := rowReserve
		for i, def := range cols {
			var cell any
			if i < len(row) {
				cell = row[i]
			}
			if def.Nullable {
				if cell == nil {
					rowBuf[pos] = 1
				}
				pos++
			}
			// Null cells still carry type-default value bytes.
			encodeValue(def, cell, rowBuf[pos:pos+def.Size])
			pos += def.Size
		}
		if _, err := bw.Write(rowBuf); err != nil {
			return fmt.Errorf("configtable: write row: %w", err)
		}
	}
	return bw.Flush()
}

func valueSize(def FieldDef) int {
	switch def.Type {
	case Integer:
		return 4
	case Double, DateTime:
		return 8
	case Boolean:
		return 1
	default:
		return 2 + def.MaxStrLen
	}
}

func recordSize(cols []FieldDef) int {
	size := rowReserve
	for _, def := range cols {
		if def.Nullable {
			size++
		}
		size += def.Size
	}
	return size
}

func decodeValue(def FieldDef, b []byte) any {
	switch def.Type {
	case Integer:
		return int(int32(binary.LittleEndian.Uint32(b)))
	case Double:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case Boolean:
		return b[0] != 0
	case DateTime:
		d := math.Float64frombits(binary.LittleEndian.Uint64(b))
		if d == 0 {
			return time.Time{}
		}
		return datafmt.DecodeTime(d)
	default:
		return datafmt.GetStringSlot16(b)
	}
}

func encodeValue(def FieldDef, cell any, b []byte) {
	switch def.Type {
	case Integer:
		v, _ := cell.(int)
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case Double:
		v, _ := cell.(float64)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	case Boolean:
		if v, _ := cell.(bool); v {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case DateTime:
		var d float64
		if v, ok := cell.(time.Time); ok && !v.IsZero() {
			d = datafmt.EncodeTime(v)
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(d))
	default:
		v, _ := cell.(string)
		datafmt.PutStringSlot16(b, v)
	}
}
