package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const DialectLua = "lua"

// LuaEngine runs Lua snippets. Every call gets a fresh interpreter with only the base,
// table, string and math libraries plus the dataset helpers.
type LuaEngine struct {
	cfg *Config
}

func NewLuaEngine(cfg *Config) (*LuaEngine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LuaEngine{cfg: cfg}, nil
}

func (e *LuaEngine) Name() string    { return "lua" }
func (e *LuaEngine) Dialect() string { return DialectLua }

func (e *LuaEngine) Execute(ctx context.Context, code string, ds *dataset.Dataset) (res *Result, err error) {
	if ds == nil {
		ds = dataset.Empty()
	}
	code = StripFences(code)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &CodeError{Message: fmt.Sprint(r)}
		}
	}()

	if err := openLibs(L); err != nil {
		return nil, fmt.Errorf("failed to open lua libraries: %w", err)
	}
	var stdout strings.Builder
	registerHelpers(L, &stdout)
	registerFrameTypes(L)
	L.SetGlobal(FrameName, newFrame(L, ds))
	L.SetContext(ctx)

	if err := L.DoString(code); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: execution exceeded %s", ErrLimitExceeded, e.cfg.Timeout)
			}
			return nil, ctxErr
		}
		return nil, luaCodeError(err)
	}

	lv := L.GetGlobal(ResultName)
	if lv == lua.LNil {
		return nil, ErrNoResult
	}
	value := fromLua(lv, 0)
	return &Result{
		Value:  value,
		Text:   truncate(FormatValue(value), e.cfg.MaxOutputBytes),
		Stdout: truncate(stdout.String(), e.cfg.MaxOutputBytes),
	}, nil
}

func openLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}
	for _, name := range []string{"require", "module", "package", "dofile", "loadfile", "load", "loadstring", "collectgarbage", "getfenv", "setfenv", "_printregs", "newproxy"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

var luaPosition = regexp.MustCompile(`^<string>:(\d+):\s*`)

func luaCodeError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &CodeError{Message: err.Error(), Err: err}
	}
	msg := apiErr.Object.String()
	line := 0
	if m := luaPosition.FindStringSubmatch(msg); m != nil {
		line, _ = strconv.Atoi(m[1])
		msg = msg[len(m[0]):]
	}
	return &CodeError{Message: strings.TrimSpace(msg), Line: line, Err: err}
}

// toLua converts a dataset cell into a Lua value. Missing numbers stay NaN so that
// aggregates can skip them; other missing cells become nil.
func toLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case time.Time:
		if x.IsZero() {
			return lua.LNil
		}
		return lua.LString(dataset.FormatValue(x))
	default:
		return lua.LString(dataset.FormatValue(x))
	}
}

const maxConvertDepth = 8

// fromLua converts a Lua value into a Go value for formatting.
func fromLua(v lua.LValue, depth int) any {
	switch x := v.(type) {
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case lua.LBool:
		return bool(x)
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		if depth >= maxConvertDepth {
			return "{...}"
		}
		return tableToGo(x, depth+1)
	case *lua.LUserData:
		switch u := x.Value.(type) {
		case *frame:
			return u.ds
		case *series:
			return Series{Name: u.name, Values: u.values}
		case *groupBy:
			return fmt.Sprintf("<groupby %s: %d groups>", u.key, len(u.order))
		case *groupedSeries:
			return fmt.Sprintf("<groupby %s column %s>", u.g.key, u.col.Name)
		}
		return "<userdata>"
	case *lua.LFunction:
		return "<function>"
	default:
		return v.String()
	}
}

func tableToGo(t *lua.LTable, depth int) any {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		list := make([]any, n)
		for i := 1; i <= n; i++ {
			list[i-1] = fromLua(t.RawGetInt(i), depth)
		}
		return list
	}
	m := make(Mapping, 0, count)
	t.ForEach(func(k, v lua.LValue) {
		m = append(m, Entry{Key: fromLua(k, depth), Value: fromLua(v, depth)})
	})
	m.sort()
	return m
}
