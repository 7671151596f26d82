package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// FormatValue renders a cell the way previews and tool observations show it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NaN"
	case float64:
		return FormatFloat(x)
	case time.Time:
		if x.IsZero() {
			return "NaT"
		}
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}

// FormatFloat always shows a decimal point for finite values, so 165 prints as 165.0.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.Abs(f) >= 1e16 || (f != 0 && math.Abs(f) < 1e-4) {
		s = strconv.FormatFloat(f, 'g', -1, 64)
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Markdown renders the first n rows as a markdown table with a leading index column.
func (d *Dataset) Markdown(n int) string {
	head := d.Head(n)
	var sb strings.Builder
	table := newMarkdownTable(&sb)
	header := append([]string{""}, head.ColumnNames()...)
	table.SetHeader(header)
	for i := 0; i < head.Len(); i++ {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(i))
		for _, c := range head.Columns {
			row = append(row, FormatValue(c.Values[i]))
		}
		table.Append(row)
	}
	table.Render()
	return sb.String()
}

// DTypesMarkdown renders a two-column table of column names and dtypes.
func (d *Dataset) DTypesMarkdown() string {
	var sb strings.Builder
	table := newMarkdownTable(&sb)
	table.SetHeader([]string{"", "0"})
	for _, c := range d.Columns {
		table.Append([]string{c.Name, c.Type.DType()})
	}
	table.Render()
	return sb.String()
}

func newMarkdownTable(sb *strings.Builder) *tablewriter.Table {
	table := tablewriter.NewWriter(sb)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	return table
}
