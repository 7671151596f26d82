package dataset

import (
	"time"
)

// Unique returns the distinct non-missing values of a column in first-seen order.
func (c *Column) Unique() []any {
	seen := make(map[any]struct{})
	var out []any
	for _, v := range c.Values {
		if IsMissing(v) {
			continue
		}
		key := v
		if t, ok := v.(time.Time); ok {
			key = t.UnixNano()
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Numbers returns the non-missing numeric values of a column.
func (c *Column) Numbers() []float64 {
	out := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if f, ok := v.(float64); ok && !IsMissing(f) {
			out = append(out, f)
		}
	}
	return out
}

// Records returns rows [skip, skip+limit) as JSON-safe maps. Missing values become nil
// and timestamps RFC3339 strings.
func (d *Dataset) Records(skip, limit int) []map[string]any {
	page := d.Slice(skip, limit)
	out := make([]map[string]any, page.Len())
	for i := range out {
		row := make(map[string]any, len(page.Columns))
		for _, c := range page.Columns {
			v := c.Values[i]
			switch {
			case IsMissing(v):
				row[c.Name] = nil
			default:
				if t, ok := v.(time.Time); ok {
					row[c.Name] = t.Format(time.RFC3339)
				} else {
					row[c.Name] = v
				}
			}
		}
		out[i] = row
	}
	return out
}

// DTypes maps column names to dtype labels.
func (d *Dataset) DTypes() map[string]string {
	out := make(map[string]string, len(d.Columns))
	for _, c := range d.Columns {
		out[c.Name] = c.Type.DType()
	}
	return out
}
