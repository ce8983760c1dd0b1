package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Transform converts a raw reading into the physical quantity the rules
// are written against.
type Transform interface {
	Apply(ctx context.Context, raw float64) (float64, error)
}

// NewTransform builds a transform by name. script is only used by "lua".
func NewTransform(name, script string) (Transform, error) {
	switch name {
	case "", "raw":
		return Raw{}, nil
	case "ldr":
		return LDR{}, nil
	case "lua":
		return NewLuaTransform(script)
	default:
		return nil, fmt.Errorf("unknown transform: %q", name)
	}
}

// Raw passes readings through.
type Raw struct{}

// Apply implements Transform.
func (Raw) Apply(_ context.Context, raw float64) (float64, error) {
	return raw, nil
}

// LDR converts a 10-bit ADC reading of a light-dependent resistor divider
// into the resistance ratio the thresholds use: 10 * (1024 - adc) / adc.
// Higher values mean darker.
type LDR struct{}

// ErrZeroReading is returned by LDR for an ADC reading of zero.
var ErrZeroReading = errors.New("adc reading is zero")

// Apply implements Transform.
func (LDR) Apply(_ context.Context, adc float64) (float64, error) {
	if adc == 0 {
		return 0, ErrZeroReading
	}
	return 10.0 * (1024.0 - adc) / adc, nil
}

// LuaTransform evaluates a Lua chunk with the global `raw` set to the
// reading. The chunk must return a number.
type LuaTransform struct {
	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

// NewLuaTransform compiles script once.
func NewLuaTransform(script string) (*LuaTransform, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	// Only the pure libraries; no io/os access from a sensor script.
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.MathLibName, lua.OpenMath},
		{lua.StringLibName, lua.OpenString},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}

	fn, err := L.LoadString(script)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to compile sensor script: %w", err)
	}
	return &LuaTransform{L: L, fn: fn}, nil
}

// Apply implements Transform. The Lua VM is not goroutine safe, so calls
// are serialized.
func (t *LuaTransform) Apply(ctx context.Context, raw float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.L.SetContext(ctx)
	defer t.L.RemoveContext()

	t.L.SetGlobal("raw", lua.LNumber(raw))
	t.L.Push(t.fn)
	if err := t.L.PCall(0, 1, nil); err != nil {
		return 0, fmt.Errorf("sensor script failed: %w", err)
	}

	ret := t.L.Get(-1)
	t.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("sensor script returned %s, want number", ret.Type())
	}
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("sensor script returned %v", v)
	}
	return v, nil
}

// Close releases the Lua VM.
func (t *LuaTransform) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.L.Close()
}
