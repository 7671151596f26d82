package sandbox

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

func registerHelpers(L *lua.LState, stdout *strings.Builder) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, top)
		for i := 1; i <= top; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		stdout.WriteString(strings.Join(parts, "\t"))
		stdout.WriteByte('\n')
		return 0
	}))
	L.SetGlobal("len", L.NewFunction(luaLen))
	L.SetGlobal("round", L.NewFunction(luaRound))
	L.SetGlobal("top", L.NewFunction(luaTop))
	L.SetGlobal("keys", L.NewFunction(luaKeys))

	dt := L.NewTable()
	L.SetFuncs(dt, map[string]lua.LGFunction{
		"date":         dtDate,
		"parse":        dtParse,
		"year":         dtPart(func(t time.Time) int { return t.Year() }),
		"month":        dtPart(func(t time.Time) int { return int(t.Month()) }),
		"day":          dtPart(func(t time.Time) int { return t.Day() }),
		"days_between": dtDaysBetween,
		"add_days":     dtAddDays,
	})
	L.SetGlobal("dt", dt)
}

func luaLen(L *lua.LState) int {
	switch v := L.Get(1).(type) {
	case lua.LString:
		L.Push(lua.LNumber(utf8.RuneCountInString(string(v))))
	case *lua.LTable:
		n := 0
		v.ForEach(func(lua.LValue, lua.LValue) { n++ })
		L.Push(lua.LNumber(n))
	case *lua.LUserData:
		switch u := v.Value.(type) {
		case *frame:
			L.Push(lua.LNumber(u.ds.Len()))
		case *series:
			L.Push(lua.LNumber(len(u.values)))
		case *groupBy:
			L.Push(lua.LNumber(len(u.order)))
		default:
			L.ArgError(1, "object has no length")
		}
	default:
		L.ArgError(1, "object of type "+v.Type().String()+" has no length")
	}
	return 1
}

func luaRound(L *lua.LState) int {
	x := float64(L.CheckNumber(1))
	digits := L.OptInt(2, 0)
	p := math.Pow(10, float64(digits))
	L.Push(lua.LNumber(math.Round(x*p) / p))
	return 1
}

// luaTop returns the n largest numeric entries of a table as a list of {key, value}.
func luaTop(L *lua.LState) int {
	t := L.CheckTable(1)
	n := L.OptInt(2, 5)
	type pair struct {
		key   lua.LValue
		value lua.LNumber
	}
	var pairs []pair
	t.ForEach(func(k, v lua.LValue) {
		if num, ok := v.(lua.LNumber); ok && !math.IsNaN(float64(num)) {
			pairs = append(pairs, pair{k, num})
		}
	})
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].value != pairs[j].value {
			return pairs[i].value > pairs[j].value
		}
		return pairs[i].key.String() < pairs[j].key.String()
	})
	out := L.CreateTable(min(n, len(pairs)), 0)
	for i := 0; i < len(pairs) && i < n; i++ {
		entry := L.CreateTable(0, 2)
		entry.RawSetString("key", pairs[i].key)
		entry.RawSetString("value", pairs[i].value)
		out.Append(entry)
	}
	L.Push(out)
	return 1
}

func luaKeys(L *lua.LState) int {
	t := L.CheckTable(1)
	var keys []lua.LValue
	t.ForEach(func(k, _ lua.LValue) { keys = append(keys, k) })
	sort.SliceStable(keys, func(i, j int) bool {
		return lessKey(fromLua(keys[i], 0), fromLua(keys[j], 0))
	})
	out := L.CreateTable(len(keys), 0)
	for _, k := range keys {
		out.Append(k)
	}
	L.Push(out)
	return 1
}

func checkTime(L *lua.LState, n int) time.Time {
	s := L.CheckString(n)
	t, ok := dataset.ParseTime(s, false)
	if !ok {
		L.ArgError(n, "cannot parse '"+s+"' as a date")
	}
	return t
}

func dtDate(L *lua.LState) int {
	t := time.Date(L.CheckInt(1), time.Month(L.CheckInt(2)), L.CheckInt(3), 0, 0, 0, 0, time.UTC)
	L.Push(toLua(t))
	return 1
}

func dtParse(L *lua.LState) int {
	L.Push(toLua(checkTime(L, 1)))
	return 1
}

func dtPart(part func(time.Time) int) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LNumber(part(checkTime(L, 1))))
		return 1
	}
}

func dtDaysBetween(L *lua.LState) int {
	a, b := checkTime(L, 1), checkTime(L, 2)
	L.Push(lua.LNumber(math.Round(b.Sub(a).Hours() / 24)))
	return 1
}

func dtAddDays(L *lua.LState) int {
	t := checkTime(L, 1)
	L.Push(toLua(t.AddDate(0, 0, L.CheckInt(2))))
	return 1
}
