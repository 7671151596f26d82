// Package dataset holds the in-memory table analyzed by the assistant.
//
// A Dataset is loaded once and shared read-only between concurrent pipeline runs.
// Every derivation (Clone, Head, Slice, WithMissing) returns a new Dataset and leaves
// the receiver untouched.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrColumnNotFound = errors.New("column not found")

type ColumnType string

const (
	TypeNumeric   ColumnType = "numeric"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
)

// DType returns the dtype label shown to the model.
func (t ColumnType) DType() string {
	switch t {
	case TypeNumeric:
		return "float64"
	case TypeTimestamp:
		return "datetime64[ns]"
	default:
		return "object"
	}
}

// Column is a named, typed column. Values hold float64, string, time.Time or nil.
type Column struct {
	Name   string
	Type   ColumnType
	Values []any
}

func (c *Column) clone(from, to int) *Column {
	values := make([]any, to-from)
	copy(values, c.Values[from:to])
	return &Column{Name: c.Name, Type: c.Type, Values: values}
}

// IsMissing reports whether a cell holds no value.
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case time.Time:
		return x.IsZero()
	}
	return false
}

type Dataset struct {
	Columns []*Column
	rows    int
}

// New builds a dataset from columns that must all have the same length.
func New(columns ...*Column) (*Dataset, error) {
	rows := -1
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if rows == -1 {
			rows = len(c.Values)
			continue
		}
		if len(c.Values) != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, len(c.Values), rows)
		}
	}
	if rows < 0 {
		rows = 0
	}
	return &Dataset{Columns: columns, rows: rows}, nil
}

// Empty returns a dataset with no columns and no rows.
func Empty() *Dataset {
	return &Dataset{}
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return d.rows
}

func (d *Dataset) IsEmpty() bool {
	return d.Len() == 0
}

func (d *Dataset) ColumnNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

func (d *Dataset) Column(name string) (*Column, error) {
	if d != nil {
		for _, c := range d.Columns {
			if c.Name == name {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

func (d *Dataset) HasColumn(name string) bool {
	_, err := d.Column(name)
	return err == nil
}

// Row returns the values of row i keyed by column name.
func (d *Dataset) Row(i int) map[string]any {
	row := make(map[string]any, len(d.Columns))
	for _, c := range d.Columns {
		row[c.Name] = c.Values[i]
	}
	return row
}

func (d *Dataset) Clone() *Dataset {
	return d.Slice(0, d.Len())
}

// Head returns the first n rows.
func (d *Dataset) Head(n int) *Dataset {
	return d.Slice(0, n)
}

// Slice returns rows [skip, skip+limit), clamped to the table bounds.
func (d *Dataset) Slice(skip, limit int) *Dataset {
	if d == nil {
		return Empty()
	}
	from := min(max(skip, 0), d.rows)
	to := min(from+max(limit, 0), d.rows)
	cols := make([]*Column, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = c.clone(from, to)
	}
	return &Dataset{Columns: cols, rows: to - from}
}

// Take returns the rows at the given indexes, in order.
func (d *Dataset) Take(indexes []int) *Dataset {
	cols := make([]*Column, len(d.Columns))
	for i, c := range d.Columns {
		values := make([]any, len(indexes))
		for j, idx := range indexes {
			values[j] = c.Values[idx]
		}
		cols[i] = &Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return &Dataset{Columns: cols, rows: len(indexes)}
}

// FirstNumericColumn returns the first numeric column, or nil.
func (d *Dataset) FirstNumericColumn() *Column {
	if d == nil {
		return nil
	}
	for _, c := range d.Columns {
		if c.Type == TypeNumeric {
			return c
		}
	}
	return nil
}

// WithMissing returns a copy whose first numeric column has a missing value in row 0.
func (d *Dataset) WithMissing() *Dataset {
	out := d.Clone()
	if out.IsEmpty() {
		return out
	}
	if c := out.FirstNumericColumn(); c != nil {
		c.Values[0] = math.NaN()
	}
	return out
}

// Shape describes the dataset as "rows x columns".
func (d *Dataset) Shape() string {
	return fmt.Sprintf("%d rows x %d columns", d.Len(), len(d.ColumnNames()))
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset(%s: %s)", d.Shape(), strings.Join(d.ColumnNames(), ", "))
}
