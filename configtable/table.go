package configtable

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// DataType is the on-disk type tag of a table column.
type DataType byte

const (
	Integer  DataType = 0
	Double   DataType = 1
	Boolean  DataType = 2
	DateTime DataType = 3
	String   DataType = 4
)

// FieldDef describes one table column as stored in the file header.
type FieldDef struct {
	Name      string
	Type      DataType
	Size      int // on-disk size of the value bytes
	MaxStrLen int // capacity of string values, 0 for other types
	Nullable  bool
}

// Table is a named relational table loaded from or saved to a config table
// file. Rows are uniquely keyed by the integer primary key column.
type Table struct {
	Name       string
	PrimaryKey string // column name; defaults to the first column
	Columns    []FieldDef
	Rows       [][]any
}

// NewTable creates an empty table.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) keyIndex() int {
	if t.PrimaryKey != "" {
		if i := t.ColumnIndex(t.PrimaryKey); i >= 0 {
			return i
		}
	}
	return 0
}

// Key extracts the primary key value of a row.
func (t *Table) Key(row []any) (int, bool) {
	i := t.keyIndex()
	if i >= len(row) {
		return 0, false
	}
	k, err := cast.ToIntE(row[i])
	if err != nil {
		return 0, false
	}
	return k, true
}

// FindRow returns the row with the given primary key.
func (t *Table) FindRow(key int) ([]any, bool) {
	for _, row := range t.Rows {
		if k, ok := t.Key(row); ok && k == key {
			return row, true
		}
	}
	return nil, false
}

// AddRow appends a row after coercing every cell to its column type.
// A row whose key already exists replaces the existing row.
func (t *Table) AddRow(cells []any) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf("configtable: row has %d cells, table %q has %d columns",
			len(cells), t.Name, len(t.Columns))
	}
	row := make([]any, len(cells))
	for i, c := range cells {
		v, err := coerceCell(t.Columns[i], c)
		if err != nil {
			return fmt.Errorf("configtable: column %q: %w", t.Columns[i].Name, err)
		}
		row[i] = v
	}
	if key, ok := t.Key(row); ok {
		for i, existing := range t.Rows {
			if k, ok := t.Key(existing); ok && k == key {
				t.Rows[i] = row
				return nil
			}
		}
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// DeleteRow removes the row with the given primary key.
func (t *Table) DeleteRow(key int) bool {
	for i, row := range t.Rows {
		if k, ok := t.Key(row); ok && k == key {
			t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
			return true
		}
	}
	return false
}

// coerceCell converts an arbitrary value to the column's storage type.
// Nil stays nil for nullable columns and becomes the type default otherwise.
func coerceCell(def FieldDef, v any) (any, error) {
	if v == nil {
		if def.Nullable {
			return nil, nil
		}
		return defaultCell(def.Type), nil
	}
	switch def.Type {
	case Integer:
		return cast.ToIntE(v)
	case Double:
		return cast.ToFloat64E(v)
	case Boolean:
		return cast.ToBoolE(v)
	case DateTime:
		return cast.ToTimeE(v)
	case String:
		return cast.ToStringE(v)
	}
	return nil, fmt.Errorf("unsupported data type %d", def.Type)
}

func defaultCell(dt DataType) any {
	switch dt {
	case Integer:
		return 0
	case Double:
		return float64(0)
	case Boolean:
		return false
	case DateTime:
		return time.Time{}
	default:
		return ""
	}
}
