package script

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// Lua globals a rules file must define. snapshot is optional; without it
// clients receive the raw state string.
const (
	fnInitial  = "initial"
	fnApply    = "apply"
	fnOutcome  = "outcome"
	fnSnapshot = "snapshot"
)

// maxSnapshotDepth bounds table conversion so self-referencing tables
// cannot recurse forever.
const maxSnapshotDepth = 16

// Adapter runs a game's rules inside one sandboxed Lua VM.
//
// An LState is single-threaded; mu serialises every call. Each call gets a
// fresh instruction budget of def.InstructionLimit opcodes.
//
// The rules file contract:
//
//	initial() -> state
//	apply(state, seat, from, to, promotion) -> next | nil, reason
//	outcome(state) -> nil | "first" | "second" | "draw" [, reason]
//	snapshot(state) -> any            (optional)
type Adapter struct {
	def     Definition
	limit   int
	mu      sync.Mutex
	L       *lua.LState
	initial engine.State
}

// NewAdapter loads def.ScriptPath into a new sandbox and evaluates initial().
//
// Precondition: def must be valid.
// Postcondition: Returns a ready Adapter or a non-nil error; the caller
// must Close the Adapter when done.
func NewAdapter(def Definition) (*Adapter, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	limit := def.InstructionLimit
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	a := &Adapter{def: def, limit: limit, L: newRulesState()}

	if err := a.withBudget(func() error { return a.L.DoFile(def.ScriptPath) }); err != nil {
		a.L.Close()
		return nil, fmt.Errorf("loading rules %s for %q: %w", def.ScriptPath, def.ID, err)
	}
	for _, fn := range []string{fnInitial, fnApply, fnOutcome} {
		if a.L.GetGlobal(fn).Type() != lua.LTFunction {
			a.L.Close()
			return nil, fmt.Errorf("rules for %q do not define %s()", def.ID, fn)
		}
	}

	rets, err := a.call(fnInitial, 1)
	if err != nil {
		a.L.Close()
		return nil, fmt.Errorf("evaluating initial() for %q: %w", def.ID, err)
	}
	s, ok := rets[0].(lua.LString)
	if !ok {
		a.L.Close()
		return nil, fmt.Errorf("initial() for %q returned %s, want string", def.ID, rets[0].Type())
	}
	a.initial = engine.State(s)
	return a, nil
}

// Close releases the Lua VM.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.L.Close()
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return a.def.ID }

// Initial implements engine.Adapter.
func (a *Adapter) Initial() engine.State { return a.initial }

// SideLabel implements engine.Adapter.
func (a *Adapter) SideLabel(seat engine.Seat) string {
	switch {
	case seat == engine.First && a.def.FirstSide != "":
		return a.def.FirstSide
	case seat == engine.Second && a.def.SecondSide != "":
		return a.def.SecondSide
	default:
		return seat.String()
	}
}

// Apply implements engine.Adapter. Lua runtime errors and exhausted
// instruction budgets reject the move.
func (a *Adapter) Apply(state engine.State, seat engine.Seat, mv engine.Move) (engine.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rets, err := a.call(fnApply, 2,
		lua.LString(state),
		lua.LString(seat.String()),
		lua.LString(mv.From),
		lua.LString(mv.To),
		lua.LString(mv.Promotion),
	)
	if err != nil {
		return state, fmt.Errorf("%w: %w", engine.ErrIllegalMove, err)
	}
	next, ok := rets[0].(lua.LString)
	if !ok {
		reason := "rejected"
		if rets[1] != lua.LNil {
			reason = rets[1].String()
		}
		return state, fmt.Errorf("%w: %s", engine.ErrIllegalMove, reason)
	}
	return engine.State(next), nil
}

// Outcome implements engine.Adapter.
func (a *Adapter) Outcome(state engine.State) engine.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	rets, err := a.call(fnOutcome, 2, lua.LString(state))
	if err != nil {
		return engine.Outcome{}
	}
	reason := ""
	if rets[1] != lua.LNil {
		reason = rets[1].String()
	}
	switch rets[0].String() {
	case "first":
		return engine.Outcome{Terminal: true, Winner: engine.First, Reason: reason}
	case "second":
		return engine.Outcome{Terminal: true, Winner: engine.Second, Reason: reason}
	case "draw":
		return engine.Outcome{Terminal: true, Draw: true, Reason: reason}
	default:
		return engine.Outcome{}
	}
}

// Snapshot implements engine.Adapter.
func (a *Adapter) Snapshot(state engine.State) any {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.L.GetGlobal(fnSnapshot).Type() != lua.LTFunction {
		return string(state)
	}
	rets, err := a.call(fnSnapshot, 1, lua.LString(state))
	if err != nil {
		return nil
	}
	return toGo(rets[0], 0)
}

// call invokes a global Lua function under a fresh instruction budget.
//
// Precondition: a.mu is held (or the adapter is still being constructed).
// Postcondition: Returns exactly nret values with the Lua stack restored.
func (a *Adapter) call(fn string, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	f := a.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%s is not defined", fn)
	}
	var rets []lua.LValue
	err := a.withBudget(func() error {
		if err := a.L.CallByParam(lua.P{Fn: f, NRet: nret, Protect: true}, args...); err != nil {
			return err
		}
		rets = make([]lua.LValue, nret)
		for i := 0; i < nret; i++ {
			rets[i] = a.L.Get(i - nret)
		}
		a.L.Pop(nret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rets, nil
}

// withBudget runs fn with a fresh opcode budget installed on the VM.
// Running out is reported as ErrBudgetExhausted rather than the VM's
// context error.
func (a *Adapter) withBudget(fn func() error) error {
	b := newOpcodeBudget(a.limit)
	a.L.SetContext(b)
	defer func() {
		a.L.RemoveContext()
		b.cancel()
	}()
	err := fn()
	if err != nil && b.exhausted() {
		return fmt.Errorf("%w (limit %d)", ErrBudgetExhausted, a.limit)
	}
	return err
}

func toGo(v lua.LValue, depth int) any {
	if depth > maxSnapshotDepth {
		return nil
	}
	switch lv := v.(type) {
	case lua.LString:
		return string(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LBool:
		return bool(lv)
	case *lua.LTable:
		if n := lv.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, toGo(lv.RawGetInt(i), depth+1))
			}
			return arr
		}
		obj := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = toGo(val, depth+1)
		})
		return obj
	default:
		return nil
	}
}
