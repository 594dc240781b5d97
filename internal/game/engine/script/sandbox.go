// Package script implements engine.Adapter on top of sandboxed GopherLua
// rules files, so two-seat games other than chess can be served without
// recompiling the server.
package script

import (
	"context"
	"errors"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// DefaultInstructionLimit is the opcode allowance of one rules call when the
// game definition sets none.
const DefaultInstructionLimit = 100_000

// ErrBudgetExhausted reports a rules call stopped for running past its
// opcode allowance.
var ErrBudgetExhausted = errors.New("script: instruction budget exhausted")

// opcodeBudget is the context installed on the VM for one rules call.
// GopherLua polls Done before every opcode, so each poll spends one unit;
// the context cancels itself when the allowance runs out.
type opcodeBudget struct {
	context.Context
	cancel context.CancelFunc
	left   atomic.Int64
}

func newOpcodeBudget(limit int) *opcodeBudget {
	ctx, cancel := context.WithCancel(context.Background())
	b := &opcodeBudget{Context: ctx, cancel: cancel}
	b.left.Store(int64(limit))
	return b
}

func (b *opcodeBudget) Done() <-chan struct{} {
	if b.left.Add(-1) <= 0 {
		b.cancel()
	}
	return b.Context.Done()
}

func (b *opcodeBudget) exhausted() bool { return b.left.Load() <= 0 }

// hiddenGlobals are removed after the base library loads: rules files get
// no file, module or dynamic-code access and no stdout.
var hiddenGlobals = []string{
	"collectgarbage", "dofile", "load", "loadfile", "loadstring", "module", "print", "require",
}

// newRulesState creates the VM a rules file runs in: base, table, string and
// math only, hiddenGlobals unset, and FIRST/SECOND bound to the seat names
// apply and outcome exchange with the server.
//
// Postcondition: The caller owns the LState and must Close it.
func newRulesState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	for _, name := range hiddenGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("FIRST", lua.LString(engine.First.String()))
	L.SetGlobal("SECOND", lua.LString(engine.Second.String()))
	return L
}
