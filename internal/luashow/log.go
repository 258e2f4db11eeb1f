package luashow

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// logLoader exposes structured logging to show scripts.
func logLoader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(logFunc(log.Debug)))
	L.SetField(mod, "info", L.NewFunction(logFunc(log.Info)))
	L.SetField(mod, "warn", L.NewFunction(logFunc(log.Warn)))
	L.SetField(mod, "error", L.NewFunction(logFunc(log.Error)))

	L.Push(mod)
	return 1
}

func logFunc(level func() *zerolog.Event) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := level().Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(key, value lua.LValue) {
				event = event.Interface(lua.LVAsString(key), luaToGo(value))
			})
		}
		event.Msg(msg)
		return 0
	}
}
