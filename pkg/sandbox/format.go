package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const (
	maxListItems   = 50
	maxFrameRows   = 20
	maxMappingRows = 100
)

// Entry is one key/value pair of a keyed result such as a grouped aggregate.
type Entry struct {
	Key   any
	Value any
}

// Mapping is a keyed result ordered by key.
type Mapping []Entry

func (m Mapping) sort() {
	sort.SliceStable(m, func(i, j int) bool {
		return lessKey(m[i].Key, m[j].Key)
	})
}

func lessKey(a, b any) bool {
	fa, aNum := a.(float64)
	fb, bNum := b.(float64)
	switch {
	case aNum && bNum:
		return fa < fb
	case aNum != bNum:
		return aNum
	default:
		return fmt.Sprint(a) < fmt.Sprint(b)
	}
}

// Series is a column-shaped result.
type Series struct {
	Name   string
	Values []any
}

// FormatValue renders a result for the model.
func FormatValue(v any) string {
	return formatValue(v, true)
}

func formatValue(v any, top bool) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case float64:
		return dataset.FormatFloat(x)
	case int:
		return fmt.Sprint(x)
	case int64:
		return fmt.Sprint(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		if top {
			return x
		}
		return "'" + x + "'"
	case []any:
		return formatList(x)
	case Mapping:
		return formatMapping(x, top)
	case Series:
		return fmt.Sprintf("%s (name: %s, length: %d)", formatList(x.Values), x.Name, len(x.Values))
	case *dataset.Dataset:
		out := x.Markdown(maxFrameRows)
		if x.Len() > maxFrameRows {
			out += fmt.Sprintf("... and %d more rows\n", x.Len()-maxFrameRows)
		}
		return out + fmt.Sprintf("[%s]", x.Shape())
	default:
		return dataset.FormatValue(x)
	}
}

func formatList(items []any) string {
	parts := make([]string, 0, min(len(items), maxListItems)+1)
	for i, item := range items {
		if i == maxListItems {
			parts = append(parts, fmt.Sprintf("... and %d more", len(items)-maxListItems))
			break
		}
		parts = append(parts, formatValue(item, false))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatMapping(m Mapping, top bool) string {
	if !top {
		parts := make([]string, len(m))
		for i, e := range m {
			parts[i] = fmt.Sprintf("%s: %s", formatValue(e.Key, true), formatValue(e.Value, false))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	var sb strings.Builder
	for i, e := range m {
		if i == maxMappingRows {
			fmt.Fprintf(&sb, "... and %d more\n", len(m)-maxMappingRows)
			break
		}
		fmt.Fprintf(&sb, "%s: %s\n", formatValue(e.Key, true), formatValue(e.Value, false))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
