// Package script implements the sandboxed rule evaluator (spec.md
// §4.B). Rule scripts are small Lua programs — the original agent
// embeds Lua directly (see _examples/original_source/lib/src/rule.cc);
// this package uses the pure-Go Lua VM github.com/yuin/gopher-lua so the
// same script contract works without cgo (see SPEC_FULL.md DOMAIN
// STACK table for why this dependency, absent from the retrieval pack,
// is the right ecosystem choice here).
package script

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"flexalert/internal/logger"
)

// RuleError is the sentinel result code returned when a script fails to
// compile, errors during a call, or returns something other than one of
// the five valid result codes. It mirrors the original agent's
// "#define RULE_ERROR 255".
const RuleError = 255

// validResultCodes are the only numeric results a script may return
// without being treated as RuleError.
var validResultCodes = map[int]bool{-2: true, -1: true, 0: true, 1: true, 2: true}

var ErrCompileFailed = errors.New("script compile failed")

// Evaluator wraps one rule's compiled Lua state. It is compiled lazily
// on the first call to Eval and reused across ticks until Close is
// called (the Rule was replaced) — compile-once, call-many, as spec.md
// §4.B requires.
type Evaluator struct {
	source    string
	metrics   []string
	variables map[string]string

	mu            sync.Mutex
	state         *lua.LState
	compileErr    error
	loggedCompile bool
}

// New returns an Evaluator for source. metrics is the rule's declared
// metric list in order — it becomes the script's main() parameter
// order. variables are injected as global strings.
func New(source string, metrics []string, variables map[string]string) *Evaluator {
	return &Evaluator{source: source, metrics: metrics, variables: variables}
}

// Close releases the underlying Lua state. Safe to call on an Evaluator
// that never compiled.
func (e *Evaluator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

func (e *Evaluator) compileLocked() error {
	if e.state != nil || e.compileErr != nil {
		return e.compileErr
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	setNumberGlobals(L)
	for k, v := range e.variables {
		L.SetGlobal(k, lua.LString(v))
	}

	if err := L.DoString(e.source); err != nil {
		L.Close()
		e.compileErr = fmt.Errorf("%w: %v", ErrCompileFailed, err)
		return e.compileErr
	}

	main := L.GetGlobal("main")
	if main.Type() != lua.LTFunction {
		L.Close()
		e.compileErr = fmt.Errorf("%w: no function named main", ErrCompileFailed)
		return e.compileErr
	}

	e.state = L
	return nil
}

func setNumberGlobals(L *lua.LState) {
	L.SetGlobal("OK", lua.LNumber(0))
	L.SetGlobal("WARNING", lua.LNumber(1))
	L.SetGlobal("HIGH_WARNING", lua.LNumber(1))
	L.SetGlobal("CRITICAL", lua.LNumber(2))
	L.SetGlobal("HIGH_CRITICAL", lua.LNumber(2))
	L.SetGlobal("LOW_WARNING", lua.LNumber(-1))
	L.SetGlobal("LOW_CRITICAL", lua.LNumber(-2))
}

// Eval runs one evaluation tick: it sets INAME/NAME, calls main with
// values in the rule's declared metric order, and returns the message
// and numeric result code. Any compile failure, runtime error, or
// out-of-range result collapses to (., RuleError, err); the caller
// (internal/engine) suppresses the outbound alert but still audits the
// tick (§4.B, §4.F).
func (e *Evaluator) Eval(iname, name string, values []string) (message string, code int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.compileLocked(); err != nil {
		if !e.loggedCompile {
			logger.Logger.Error().Err(err).Msg("rule script permanently inert after compile failure")
			e.loggedCompile = true
		}
		return "", RuleError, err
	}

	L := e.state
	L.SetTop(0)
	L.SetGlobal("INAME", lua.LString(iname))
	L.SetGlobal("NAME", lua.LString(name))

	main := L.GetGlobal("main")
	args := make([]lua.LValue, len(values))
	for i, v := range values {
		args[i] = luaValueForMetric(v)
	}

	if err := L.CallByParam(lua.P{
		Fn:      main,
		NRet:    2,
		Protect: true,
	}, args...); err != nil {
		return "", RuleError, fmt.Errorf("script evaluation failed: %w", err)
	}

	first := L.Get(-2)
	second := L.Get(-1)
	L.Pop(2)

	message, code, ok := dispatchReturns(first, second)
	if !ok {
		return "", RuleError, fmt.Errorf("script did not return (message, result) or (result, message)")
	}
	if !validResultCodes[code] {
		return "", RuleError, fmt.Errorf("script returned out-of-range result %d", code)
	}
	return message, code, nil
}

// luaValueForMetric pushes a metric's cached string value as a Lua
// number when it parses as one, else as a string; Lua scripts doing
// arithmetic on a numeric-looking string value work either way, but
// passing true numbers avoids surprises in comparisons.
func luaValueForMetric(v string) lua.LValue {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return lua.LNumber(f)
	}
	return lua.LString(v)
}

// dispatchReturns accepts either (message, result) or (result, message)
// by inspecting the concrete type of each returned value, per §4.B.
func dispatchReturns(a, b lua.LValue) (message string, code int, ok bool) {
	if msg, code, ok := asMessageAndCode(a, b); ok {
		return msg, code, true
	}
	if msg, code, ok := asMessageAndCode(b, a); ok {
		return msg, code, true
	}
	return "", 0, false
}

func asMessageAndCode(maybeMessage, maybeCode lua.LValue) (string, int, bool) {
	str, isStr := maybeMessage.(lua.LString)
	num, isNum := maybeCode.(lua.LNumber)
	if !isStr || !isNum {
		return "", 0, false
	}
	return string(str), int(num), true
}
