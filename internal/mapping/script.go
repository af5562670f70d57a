package mapping

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// CustomScript restores the MappingPreset::Custom concept the distilled
// spec dropped: a user-supplied Lua function deciding model aliasing
// instead of (or in addition to) static glob Rules. The script must
// define a global function `map_model(model)` returning either a string
// (the resolved target) or nil (defer to the glob Rules / alias table).
//
// gopher-lua's lua.LState is not safe for concurrent use, so every call
// runs under a mutex; mapping decisions are on the request hot path but
// happen once per request, not per token, so this is not a bottleneck.
type CustomScript struct {
	mu     sync.Mutex
	state  *lua.LState
	source string
}

// LoadCustomScript compiles source once and returns a CustomScript ready
// to be installed on a Resolver.
func LoadCustomScript(source string) (*CustomScript, error) {
	l := lua.NewState()
	if err := l.DoString(source); err != nil {
		l.Close()
		return nil, fmt.Errorf("mapping: compiling custom script: %w", err)
	}
	if l.GetGlobal("map_model") == lua.LNil {
		l.Close()
		return nil, fmt.Errorf("mapping: custom script must define map_model(model)")
	}
	return &CustomScript{state: l, source: source}, nil
}

// Close releases the Lua interpreter.
func (c *CustomScript) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Close()
}

// Resolve calls map_model(model) and reports whether the script produced
// a target. A Lua error or a nil return means "defer to the next stage",
// not a hard failure of the request.
func (c *CustomScript) Resolve(model string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn := c.state.GetGlobal("map_model")
	if err := c.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(model)); err != nil {
		return "", false
	}
	ret := c.state.Get(-1)
	c.state.Pop(1)

	if str, ok := ret.(lua.LString); ok {
		return string(str), true
	}
	return "", false
}
