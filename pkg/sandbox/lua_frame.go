package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const (
	frameTypeName         = "analyst.frame"
	seriesTypeName        = "analyst.series"
	groupByTypeName       = "analyst.groupby"
	groupedSeriesTypeName = "analyst.grouped_series"
)

type frame struct {
	ds *dataset.Dataset
}

type series struct {
	name   string
	typ    dataset.ColumnType
	values []any
}

type groupKey struct {
	label string
	value lua.LValue
}

type groupBy struct {
	ds    *dataset.Dataset
	key   string
	order []groupKey
	rows  map[string][]int
}

type groupedSeries struct {
	g   *groupBy
	col *dataset.Column
}

type (
	frameMethod  func(L *lua.LState, f *frame, args []lua.LValue) int
	seriesMethod func(L *lua.LState, s *series, args []lua.LValue) int
)

var frameMethods map[string]frameMethod

var seriesMethods map[string]seriesMethod

func init() {
	frameMethods = map[string]frameMethod{
		"has":         frameHas,
		"head":        frameHead,
		"tail":        frameTail,
		"filter":      frameFilter,
		"sort":        frameSort,
		"sort_values": frameSort,
		"groupby":     frameGroupBy,
		"row":         frameRow,
		"select":      frameSelect,
		"dropna":      frameDropNA,
		"count":       frameCount,
	}
	seriesMethods = map[string]seriesMethod{
		"unique":       seriesUnique,
		"value_counts": seriesValueCounts,
		"values":       seriesValues,
		"tolist":       seriesValues,
		"dropna":       seriesDropNA,
		"head":         seriesHead,
		"len":          seriesLen,
		"describe":     seriesDescribe,
		"sort_values":  seriesSort,
	}
	for _, agg := range []string{"sum", "mean", "median", "std", "var", "min", "max", "count", "nunique", "first", "last"} {
		seriesMethods[agg] = seriesAggregate(agg)
	}
}

func registerFrameTypes(L *lua.LState) {
	register := func(name string, index, length, str lua.LGFunction) {
		mt := L.NewTypeMetatable(name)
		L.SetField(mt, "__index", L.NewFunction(index))
		L.SetField(mt, "__newindex", L.NewFunction(readOnly))
		if length != nil {
			L.SetField(mt, "__len", L.NewFunction(length))
		}
		if str != nil {
			L.SetField(mt, "__tostring", L.NewFunction(str))
		}
	}
	register(frameTypeName, frameIndex, frameLen, frameString)
	register(seriesTypeName, seriesIndex, seriesLenMeta, seriesString)
	register(groupByTypeName, groupByIndex, nil, nil)
	register(groupedSeriesTypeName, groupedSeriesIndex, nil, nil)
}

func newUserData(L *lua.LState, value any, typeName string) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = value
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

func newFrame(L *lua.LState, ds *dataset.Dataset) *lua.LUserData {
	return newUserData(L, &frame{ds: ds}, frameTypeName)
}

func newSeries(L *lua.LState, name string, typ dataset.ColumnType, values []any) *lua.LUserData {
	return newUserData(L, &series{name: name, typ: typ, values: values}, seriesTypeName)
}

// bind returns a function callable as obj.m(...) or obj:m(...).
func bind(L *lua.LState, self *lua.LUserData, fn func(L *lua.LState, args []lua.LValue) int) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		args := make([]lua.LValue, 0, top)
		for i := 1; i <= top; i++ {
			args = append(args, L.Get(i))
		}
		if len(args) > 0 && args[0] == lua.LValue(self) {
			args = args[1:]
		}
		return fn(L, args)
	})
}

func readOnly(L *lua.LState) int {
	L.RaiseError("TypeError: the dataset is read-only; build new values in local variables instead")
	return 0
}

func checkFrame(L *lua.LState) (*lua.LUserData, *frame) {
	ud := L.CheckUserData(1)
	f, ok := ud.Value.(*frame)
	if !ok {
		L.ArgError(1, "frame expected")
	}
	return ud, f
}

func checkSeries(L *lua.LState) (*lua.LUserData, *series) {
	ud := L.CheckUserData(1)
	s, ok := ud.Value.(*series)
	if !ok {
		L.ArgError(1, "series expected")
	}
	return ud, s
}

func mustColumn(L *lua.LState, ds *dataset.Dataset, name string) *dataset.Column {
	col, err := ds.Column(name)
	if err != nil {
		L.RaiseError("KeyError: column '%s' not found", name)
	}
	return col
}

func argValue(L *lua.LState, fn string, args []lua.LValue, i int) lua.LValue {
	if i >= len(args) {
		L.RaiseError("bad argument #%d to '%s' (value expected)", i+1, fn)
	}
	return args[i]
}

func argString(L *lua.LState, fn string, args []lua.LValue, i int) string {
	v := argValue(L, fn, args, i)
	s, ok := v.(lua.LString)
	if !ok {
		L.RaiseError("bad argument #%d to '%s' (string expected, got %s)", i+1, fn, v.Type().String())
	}
	return string(s)
}

func optString(L *lua.LState, fn string, args []lua.LValue, i int, def string) string {
	if i >= len(args) || args[i] == lua.LNil {
		return def
	}
	return argString(L, fn, args, i)
}

func optInt(L *lua.LState, fn string, args []lua.LValue, i int, def int) int {
	if i >= len(args) || args[i] == lua.LNil {
		return def
	}
	n, ok := args[i].(lua.LNumber)
	if !ok {
		L.RaiseError("bad argument #%d to '%s' (number expected, got %s)", i+1, fn, args[i].Type().String())
	}
	return int(n)
}

func optBool(args []lua.LValue, i int) bool {
	return i < len(args) && lua.LVAsBool(args[i])
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	t := L.CreateTable(len(items), 0)
	for _, s := range items {
		t.Append(lua.LString(s))
	}
	return t
}

func valueList(L *lua.LState, values []any) *lua.LTable {
	t := L.CreateTable(len(values), 0)
	for i, v := range values {
		t.RawSetInt(i+1, toLua(v))
	}
	return t
}

// Frame

func frameIndex(L *lua.LState) int {
	ud, f := checkFrame(L)
	key := L.Get(2)
	name, ok := key.(lua.LString)
	if !ok {
		L.RaiseError("frame index must be a column name, got %s; use df:row(i) for rows", key.Type().String())
		return 0
	}
	switch string(name) {
	case "columns":
		L.Push(stringList(L, f.ds.ColumnNames()))
		return 1
	case "empty":
		L.Push(lua.LBool(f.ds.IsEmpty()))
		return 1
	case "shape":
		t := L.CreateTable(2, 0)
		t.Append(lua.LNumber(f.ds.Len()))
		t.Append(lua.LNumber(len(f.ds.Columns)))
		L.Push(t)
		return 1
	}
	if m, ok := frameMethods[string(name)]; ok {
		L.Push(bind(L, ud, func(L *lua.LState, args []lua.LValue) int { return m(L, f, args) }))
		return 1
	}
	col := mustColumn(L, f.ds, string(name))
	L.Push(newSeries(L, col.Name, col.Type, col.Values))
	return 1
}

func frameLen(L *lua.LState) int {
	_, f := checkFrame(L)
	L.Push(lua.LNumber(f.ds.Len()))
	return 1
}

func frameString(L *lua.LState) int {
	_, f := checkFrame(L)
	L.Push(lua.LString(FormatValue(f.ds.Head(10))))
	return 1
}

func frameHas(L *lua.LState, f *frame, args []lua.LValue) int {
	L.Push(lua.LBool(f.ds.HasColumn(argString(L, "has", args, 0))))
	return 1
}

func frameHead(L *lua.LState, f *frame, args []lua.LValue) int {
	L.Push(newFrame(L, f.ds.Head(optInt(L, "head", args, 0, 5))))
	return 1
}

func frameTail(L *lua.LState, f *frame, args []lua.LValue) int {
	n := optInt(L, "tail", args, 0, 5)
	L.Push(newFrame(L, f.ds.Slice(f.ds.Len()-n, n)))
	return 1
}

func frameCount(L *lua.LState, f *frame, args []lua.LValue) int {
	L.Push(lua.LNumber(f.ds.Len()))
	return 1
}

func frameRow(L *lua.LState, f *frame, args []lua.LValue) int {
	i := optInt(L, "row", args, 0, 1)
	if i < 1 || i > f.ds.Len() {
		L.RaiseError("IndexError: row %d out of range (1..%d)", i, f.ds.Len())
	}
	t := L.CreateTable(0, len(f.ds.Columns))
	for _, c := range f.ds.Columns {
		t.RawSetString(c.Name, toLua(c.Values[i-1]))
	}
	L.Push(t)
	return 1
}

func frameSelect(L *lua.LState, f *frame, args []lua.LValue) int {
	var names []string
	for i, a := range args {
		switch v := a.(type) {
		case lua.LString:
			names = append(names, string(v))
		case *lua.LTable:
			v.ForEach(func(_, item lua.LValue) { names = append(names, item.String()) })
		default:
			L.RaiseError("bad argument #%d to 'select' (column name expected)", i+1)
		}
	}
	cols := make([]*dataset.Column, 0, len(names))
	for _, name := range names {
		cols = append(cols, mustColumn(L, f.ds, name))
	}
	ds, err := dataset.New(cols...)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(newFrame(L, ds))
	return 1
}

func frameDropNA(L *lua.LState, f *frame, args []lua.LValue) int {
	cols := f.ds.Columns
	if name := optString(L, "dropna", args, 0, ""); name != "" {
		cols = []*dataset.Column{mustColumn(L, f.ds, name)}
	}
	var idx []int
	for i := 0; i < f.ds.Len(); i++ {
		keep := true
		for _, c := range cols {
			if dataset.IsMissing(c.Values[i]) {
				keep = false
				break
			}
		}
		if keep {
			idx = append(idx, i)
		}
	}
	L.Push(newFrame(L, f.ds.Take(idx)))
	return 1
}

func frameFilter(L *lua.LState, f *frame, args []lua.LValue) int {
	col := mustColumn(L, f.ds, argString(L, "filter", args, 0))
	op := argString(L, "filter", args, 1)
	match := predicate(L, col, op, argValue(L, "filter", args, 2))
	var idx []int
	for i, v := range col.Values {
		if match(v) {
			idx = append(idx, i)
		}
	}
	L.Push(newFrame(L, f.ds.Take(idx)))
	return 1
}

func frameSort(L *lua.LState, f *frame, args []lua.LValue) int {
	col := mustColumn(L, f.ds, argString(L, "sort", args, 0))
	desc := optBool(args, 1)
	idx := make([]int, f.ds.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := col.Values[idx[a]], col.Values[idx[b]]
		ma, mb := dataset.IsMissing(va), dataset.IsMissing(vb)
		if ma || mb {
			return !ma && mb
		}
		c := compareValues(va, vb)
		if desc {
			return c > 0
		}
		return c < 0
	})
	L.Push(newFrame(L, f.ds.Take(idx)))
	return 1
}

func frameGroupBy(L *lua.LState, f *frame, args []lua.LValue) int {
	col := mustColumn(L, f.ds, argString(L, "groupby", args, 0))
	period := optString(L, "groupby", args, 1, "")
	if period != "" && col.Type != dataset.TypeTimestamp {
		L.RaiseError("TypeError: grouping by %s requires a timestamp column, '%s' is %s", period, col.Name, col.Type)
	}
	g := &groupBy{ds: f.ds, key: col.Name, rows: make(map[string][]int)}
	for i, v := range col.Values {
		if dataset.IsMissing(v) {
			continue
		}
		key, ok := groupKeyFor(v, period)
		if !ok {
			L.RaiseError("ValueError: unknown period '%s' (use day, month, quarter or year)", period)
		}
		if _, seen := g.rows[key.label]; !seen {
			g.order = append(g.order, key)
		}
		g.rows[key.label] = append(g.rows[key.label], i)
	}
	sort.SliceStable(g.order, func(a, b int) bool {
		na, aNum := g.order[a].value.(lua.LNumber)
		nb, bNum := g.order[b].value.(lua.LNumber)
		if aNum && bNum {
			return na < nb
		}
		return g.order[a].label < g.order[b].label
	})
	L.Push(newUserData(L, g, groupByTypeName))
	return 1
}

func groupKeyFor(v any, period string) (groupKey, bool) {
	switch x := v.(type) {
	case float64:
		return groupKey{label: dataset.FormatFloat(x), value: lua.LNumber(x)}, true
	case time.Time:
		var label string
		switch period {
		case "", "day":
			label = x.Format("2006-01-02")
		case "month":
			label = x.Format("2006-01")
		case "quarter":
			label = fmt.Sprintf("%d-Q%d", x.Year(), (int(x.Month())-1)/3+1)
		case "year":
			label = strconv.Itoa(x.Year())
		default:
			return groupKey{}, false
		}
		return groupKey{label: label, value: lua.LString(label)}, true
	default:
		s := dataset.FormatValue(x)
		return groupKey{label: s, value: lua.LString(s)}, true
	}
}

// predicate compiles a filter condition against a column.
func predicate(L *lua.LState, col *dataset.Column, op string, target lua.LValue) func(any) bool {
	if op == "in" {
		t, ok := target.(*lua.LTable)
		if !ok {
			L.RaiseError("bad argument #3 to 'filter' (table expected for 'in')")
		}
		var options []func(any) bool
		t.ForEach(func(_, item lua.LValue) {
			options = append(options, predicate(L, col, "==", item))
		})
		return func(v any) bool {
			for _, match := range options {
				if match(v) {
					return true
				}
			}
			return false
		}
	}

	var want any
	switch col.Type {
	case dataset.TypeNumeric:
		switch x := target.(type) {
		case lua.LNumber:
			want = float64(x)
		case lua.LString:
			f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
			if err != nil {
				L.RaiseError("TypeError: cannot compare numeric column '%s' with '%s'", col.Name, string(x))
			}
			want = f
		default:
			L.RaiseError("TypeError: cannot compare numeric column '%s' with %s", col.Name, target.Type().String())
		}
	case dataset.TypeTimestamp:
		t, ok := dataset.ParseTime(target.String(), false)
		if !ok {
			L.RaiseError("ValueError: cannot parse '%s' as a date for column '%s'", target.String(), col.Name)
		}
		want = t
	default:
		want = target.String()
	}

	var cmp func(c int) bool
	switch op {
	case "==", "=":
		cmp = func(c int) bool { return c == 0 }
	case "~=", "!=":
		cmp = func(c int) bool { return c != 0 }
	case "<":
		cmp = func(c int) bool { return c < 0 }
	case "<=":
		cmp = func(c int) bool { return c <= 0 }
	case ">":
		cmp = func(c int) bool { return c > 0 }
	case ">=":
		cmp = func(c int) bool { return c >= 0 }
	case "contains", "startswith":
		needle := strings.ToLower(fmt.Sprint(want))
		return func(v any) bool {
			if dataset.IsMissing(v) {
				return false
			}
			hay := strings.ToLower(dataset.FormatValue(v))
			if op == "contains" {
				return strings.Contains(hay, needle)
			}
			return strings.HasPrefix(hay, needle)
		}
	default:
		L.RaiseError("ValueError: unknown filter operator '%s'", op)
	}
	return func(v any) bool {
		if dataset.IsMissing(v) {
			return op == "~=" || op == "!="
		}
		return cmp(compareValues(v, want))
	}
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(dataset.FormatValue(a), dataset.FormatValue(b))
}

// Series

func seriesIndex(L *lua.LState) int {
	ud, s := checkSeries(L)
	switch key := L.Get(2).(type) {
	case lua.LNumber:
		i := int(key)
		if i < 1 || i > len(s.values) {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(s.values[i-1]))
		return 1
	case lua.LString:
		switch string(key) {
		case "name":
			L.Push(lua.LString(s.name))
			return 1
		case "dtype":
			L.Push(lua.LString(s.typ.DType()))
			return 1
		case "empty":
			L.Push(lua.LBool(len(s.values) == 0))
			return 1
		}
		if m, ok := seriesMethods[string(key)]; ok {
			L.Push(bind(L, ud, func(L *lua.LState, args []lua.LValue) int { return m(L, s, args) }))
			return 1
		}
		L.RaiseError("AttributeError: series has no attribute '%s'", string(key))
	default:
		L.RaiseError("series index must be a position or method name")
	}
	return 0
}

func seriesLenMeta(L *lua.LState) int {
	_, s := checkSeries(L)
	L.Push(lua.LNumber(len(s.values)))
	return 1
}

func seriesString(L *lua.LState) int {
	_, s := checkSeries(L)
	L.Push(lua.LString(FormatValue(Series{Name: s.name, Values: s.values})))
	return 1
}

func seriesAggregate(name string) seriesMethod {
	return func(L *lua.LState, s *series, args []lua.LValue) int {
		L.Push(aggregate(L, name, s.name, s.typ, s.values))
		return 1
	}
}

func seriesUnique(L *lua.LState, s *series, args []lua.LValue) int {
	col := &dataset.Column{Name: s.name, Type: s.typ, Values: s.values}
	L.Push(valueList(L, col.Unique()))
	return 1
}

func seriesValueCounts(L *lua.LState, s *series, args []lua.LValue) int {
	t := L.NewTable()
	for _, v := range s.values {
		if dataset.IsMissing(v) {
			continue
		}
		key := toLua(v)
		n, _ := t.RawGet(key).(lua.LNumber)
		t.RawSet(key, n+1)
	}
	L.Push(t)
	return 1
}

func seriesValues(L *lua.LState, s *series, args []lua.LValue) int {
	L.Push(valueList(L, s.values))
	return 1
}

func seriesDropNA(L *lua.LState, s *series, args []lua.LValue) int {
	out := make([]any, 0, len(s.values))
	for _, v := range s.values {
		if !dataset.IsMissing(v) {
			out = append(out, v)
		}
	}
	L.Push(newSeries(L, s.name, s.typ, out))
	return 1
}

func seriesHead(L *lua.LState, s *series, args []lua.LValue) int {
	n := min(max(optInt(L, "head", args, 0, 5), 0), len(s.values))
	out := make([]any, n)
	copy(out, s.values[:n])
	L.Push(newSeries(L, s.name, s.typ, out))
	return 1
}

func seriesLen(L *lua.LState, s *series, args []lua.LValue) int {
	L.Push(lua.LNumber(len(s.values)))
	return 1
}

func seriesSort(L *lua.LState, s *series, args []lua.LValue) int {
	desc := optBool(args, 0)
	out := make([]any, 0, len(s.values))
	for _, v := range s.values {
		if !dataset.IsMissing(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		c := compareValues(out[a], out[b])
		if desc {
			return c > 0
		}
		return c < 0
	})
	L.Push(newSeries(L, s.name, s.typ, out))
	return 1
}

func seriesDescribe(L *lua.LState, s *series, args []lua.LValue) int {
	t := L.NewTable()
	for _, name := range []string{"count", "mean", "std", "min", "max"} {
		if name != "count" && s.typ != dataset.TypeNumeric {
			continue
		}
		t.RawSetString(name, aggregate(L, name, s.name, s.typ, s.values))
	}
	L.Push(t)
	return 1
}

// aggregate reduces values. Missing values are skipped.
func aggregate(L *lua.LState, name, column string, typ dataset.ColumnType, values []any) lua.LValue {
	present := make([]any, 0, len(values))
	for _, v := range values {
		if !dataset.IsMissing(v) {
			present = append(present, v)
		}
	}
	switch name {
	case "count":
		return lua.LNumber(len(present))
	case "size":
		return lua.LNumber(len(values))
	case "nunique":
		col := &dataset.Column{Values: present}
		return lua.LNumber(len(col.Unique()))
	case "first":
		if len(present) == 0 {
			return lua.LNil
		}
		return toLua(present[0])
	case "last":
		if len(present) == 0 {
			return lua.LNil
		}
		return toLua(present[len(present)-1])
	case "min", "max":
		if typ != dataset.TypeNumeric {
			if len(present) == 0 {
				return lua.LNil
			}
			best := present[0]
			for _, v := range present[1:] {
				c := compareValues(v, best)
				if (name == "min" && c < 0) || (name == "max" && c > 0) {
					best = v
				}
			}
			return toLua(best)
		}
	case "sum", "mean", "median", "std", "var":
	default:
		L.RaiseError("ValueError: unknown aggregation '%s'", name)
	}

	if typ != dataset.TypeNumeric {
		L.RaiseError("TypeError: cannot compute %s of non-numeric column '%s'", name, column)
	}
	nums := make([]float64, 0, len(present))
	for _, v := range present {
		if f, ok := v.(float64); ok {
			nums = append(nums, f)
		}
	}
	return lua.LNumber(reduce(name, nums))
}

func reduce(name string, nums []float64) float64 {
	n := float64(len(nums))
	sum := 0.0
	for _, f := range nums {
		sum += f
	}
	switch name {
	case "sum":
		return sum
	case "mean":
		if n == 0 {
			return math.NaN()
		}
		return sum / n
	case "min", "max":
		if n == 0 {
			return math.NaN()
		}
		best := nums[0]
		for _, f := range nums[1:] {
			if (name == "min" && f < best) || (name == "max" && f > best) {
				best = f
			}
		}
		return best
	case "median":
		if n == 0 {
			return math.NaN()
		}
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case "std", "var":
		if n < 2 {
			return math.NaN()
		}
		mean := sum / n
		ss := 0.0
		for _, f := range nums {
			ss += (f - mean) * (f - mean)
		}
		variance := ss / (n - 1)
		if name == "var" {
			return variance
		}
		return math.Sqrt(variance)
	}
	return math.NaN()
}

// Group by

func groupByIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	g, ok := ud.Value.(*groupBy)
	if !ok {
		L.ArgError(1, "groupby expected")
	}
	key := L.CheckString(2)
	switch key {
	case "size", "count":
		L.Push(bind(L, ud, func(L *lua.LState, args []lua.LValue) int {
			t := L.NewTable()
			for _, k := range g.order {
				t.RawSet(k.value, lua.LNumber(len(g.rows[k.label])))
			}
			L.Push(t)
			return 1
		}))
		return 1
	case "groups":
		t := L.CreateTable(len(g.order), 0)
		for _, k := range g.order {
			t.Append(k.value)
		}
		L.Push(t)
		return 1
	case "agg":
		L.Push(bind(L, ud, func(L *lua.LState, args []lua.LValue) int {
			return groupByAgg(L, g, args)
		}))
		return 1
	}
	col := mustColumn(L, g.ds, key)
	L.Push(newUserData(L, &groupedSeries{g: g, col: col}, groupedSeriesTypeName))
	return 1
}

func groupByAgg(L *lua.LState, g *groupBy, args []lua.LValue) int {
	aggs := map[string]string{}
	var single string
	switch v := argValue(L, "agg", args, 0).(type) {
	case *lua.LTable:
		v.ForEach(func(k, fn lua.LValue) { aggs[k.String()] = fn.String() })
	case lua.LString:
		single = string(v)
		aggs[single] = argString(L, "agg", args, 1)
	default:
		L.RaiseError("bad argument #1 to 'agg' (table or column name expected)")
	}
	cols := make([]string, 0, len(aggs))
	for name := range aggs {
		mustColumn(L, g.ds, name)
		cols = append(cols, name)
	}
	sort.Strings(cols)

	out := L.NewTable()
	for _, k := range g.order {
		rows := g.rows[k.label]
		if single != "" {
			out.RawSet(k.value, groupAggregate(L, g, single, aggs[single], rows))
			continue
		}
		entry := L.CreateTable(0, len(cols))
		for _, name := range cols {
			entry.RawSetString(name, groupAggregate(L, g, name, aggs[name], rows))
		}
		out.RawSet(k.value, entry)
	}
	L.Push(out)
	return 1
}

func groupAggregate(L *lua.LState, g *groupBy, column, fn string, rows []int) lua.LValue {
	col := mustColumn(L, g.ds, column)
	values := make([]any, len(rows))
	for i, r := range rows {
		values[i] = col.Values[r]
	}
	return aggregate(L, fn, col.Name, col.Type, values)
}

func groupedSeriesIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	gs, ok := ud.Value.(*groupedSeries)
	if !ok {
		L.ArgError(1, "grouped series expected")
	}
	name := L.CheckString(2)
	L.Push(bind(L, ud, func(L *lua.LState, args []lua.LValue) int {
		out := L.NewTable()
		for _, k := range gs.g.order {
			out.RawSet(k.value, groupAggregate(L, gs.g, gs.col.Name, name, gs.g.rows[k.label]))
		}
		L.Push(out)
		return 1
	}))
	return 1
}
