package script

import (
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"

	"github.com/rotisserie/eris"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"real-pet/battle/internal/sim"
)

// Func is the signature of every script entry point: the packed id of the
// entity the call runs on behalf of, and a caller supplied argument.
type Func = func(self int64, arg int64)

// allowedPkgs is the deterministic subset of the standard library scripts
// may import.
var allowedPkgs = []string{
	"errors/errors",
	"fmt/fmt",
	"math/math",
	"sort/sort",
	"strconv/strconv",
	"strings/strings",
}

func restrictedStdlib() interp.Exports {
	restricted := interp.Exports{}
	for _, key := range allowedPkgs {
		if syms, ok := stdlib.Symbols[key]; ok {
			restricted[key] = syms
		}
	}
	return restricted
}

// binding carries the state a host call operates on. It is only set for the
// duration of a call.
type binding struct {
	state *sim.State
	self  sim.EntityID
}

// VM is one loaded script package.
type VM struct {
	index  int
	pkg    Package
	interp *interp.Interpreter
	store  *Store
	funcs  map[string]Func
	bound  binding
}

// checkSource rejects package-level variables. They live in the interpreter
// and would survive a rollback; persistent state goes through Get, Set and
// Wait.
func checkSource(pkg Package) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, pkg.Path, pkg.Source, parser.SkipObjectResolution)
	if err != nil {
		return eris.Wrapf(err, "parse script package %s", pkg.ID)
	}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.VAR {
			continue
		}
		return eris.Errorf("script package %s declares package-level var at %s; use battle.Get and battle.Set", pkg.ID, fset.Position(gen.Pos()))
	}
	return nil
}

func newVM(index int, pkg Package, capacity int) (*VM, error) {
	if err := checkSource(pkg); err != nil {
		return nil, err
	}
	vm := &VM{
		index: index,
		pkg:   pkg,
		store: NewStore(capacity),
		funcs: make(map[string]Func),
	}
	i := interp.New(interp.Options{})
	if err := i.Use(restrictedStdlib()); err != nil {
		return nil, eris.Wrap(err, "register stdlib symbols")
	}
	if err := i.Use(vm.exports()); err != nil {
		return nil, eris.Wrap(err, "register battle api")
	}
	if _, err := i.Eval(pkg.Source); err != nil {
		return nil, eris.Wrapf(err, "evaluate script package %s (%s)", pkg.ID, pkg.Path)
	}
	vm.interp = i
	return vm, nil
}

// Package describes the loaded package.
func (vm *VM) Package() Package {
	return vm.pkg
}

// Store exposes the rollback store.
func (vm *VM) Store() *Store {
	return vm.store
}

// lookup resolves and caches an exported function of the package.
func (vm *VM) lookup(name string) (Func, error) {
	if fn, ok := vm.funcs[name]; ok {
		return fn, nil
	}
	v, err := vm.interp.Eval("main." + name)
	if err != nil {
		return nil, eris.Wrapf(err, "script function %s.%s", vm.pkg.ID, name)
	}
	fn, ok := v.Interface().(Func)
	if !ok {
		return nil, eris.Errorf("script function %s.%s has type %s, want func(int64, int64)", vm.pkg.ID, name, v.Type())
	}
	vm.funcs[name] = fn
	return fn, nil
}

// Has reports whether the package exports a callable function name.
func (vm *VM) Has(name string) bool {
	_, err := vm.lookup(name)
	return err == nil
}

func (vm *VM) call(state *sim.State, name string, self sim.EntityID, arg int64) (err error) {
	fn, err := vm.lookup(name)
	if err != nil {
		return err
	}
	previous := vm.bound
	vm.bound = binding{state: state, self: self}
	defer func() {
		vm.bound = previous
		if r := recover(); r != nil {
			err = eris.Errorf("script %s.%s panicked: %v", vm.pkg.ID, name, r)
		}
	}()
	fn(sim.PackHandle(self), arg)
	return nil
}

func (vm *VM) entity(packed int64) *sim.Entity {
	if vm.bound.state == nil {
		return nil
	}
	return vm.bound.state.Entity(sim.UnpackHandle(packed))
}

// exports builds the "battle" package visible to scripts. Every function
// reads the binding of the call in progress and is inert outside of one.
func (vm *VM) exports() interp.Exports {
	b := &vm.bound
	return interp.Exports{
		"battle/battle": {
			"Frame": reflect.ValueOf(func() int64 {
				if b.state == nil {
					return 0
				}
				return int64(b.state.Time)
			}),
			"Self": reflect.ValueOf(func() int64 {
				return sim.PackHandle(b.self)
			}),
			"Get": reflect.ValueOf(func(key string) int64 {
				return vm.store.Get(key)
			}),
			"Set": reflect.ValueOf(func(key string, value int64) {
				vm.store.Set(key, value)
			}),
			"Random": reflect.ValueOf(func(n int64) int64 {
				if b.state == nil {
					return 0
				}
				return int64(b.state.RNG.Intn(int(n)))
			}),
			"Pressed": reflect.ValueOf(func(player int64, input int64) bool {
				if b.state == nil || input < 0 || input > 255 {
					return false
				}
				return b.state.Input(int(player)).IsDown(sim.Input(input))
			}),
			"JustPressed": reflect.ValueOf(func(player int64, input int64) bool {
				if b.state == nil || input < 0 || input > 255 {
					return false
				}
				return b.state.Input(int(player)).WasJustPressed(sim.Input(input))
			}),
			"Health": reflect.ValueOf(func(entity int64) int64 {
				if e := vm.entity(entity); e != nil {
					return int64(e.Health)
				}
				return -1
			}),
			"X": reflect.ValueOf(func(entity int64) int64 {
				if e := vm.entity(entity); e != nil {
					return int64(e.X)
				}
				return -1
			}),
			"Y": reflect.ValueOf(func(entity int64) int64 {
				if e := vm.entity(entity); e != nil {
					return int64(e.Y)
				}
				return -1
			}),
			"Move": reflect.ValueOf(func(entity, dx, dy int64) bool {
				if b.state == nil {
					return false
				}
				return b.state.MoveEntity(sim.UnpackHandle(entity), int(dx), int(dy))
			}),
			"Damage": reflect.ValueOf(func(entity, amount int64) {
				if b.state == nil {
					return
				}
				b.state.Pending.Push(sim.Effect{
					Kind:   sim.EffectHit,
					Entity: sim.UnpackHandle(entity),
					Source: b.self,
					Damage: int(amount),
				})
			}),
			"Shoot": reflect.ValueOf(func(entity int64) bool {
				if b.state == nil {
					return false
				}
				return sim.StartShoot(b.state, sim.UnpackHandle(entity))
			}),
			"Defer": reflect.ValueOf(func(fn string, arg int64) {
				if b.state == nil {
					return
				}
				b.state.Pending.Push(sim.Effect{
					Kind:   sim.EffectScript,
					Entity: b.self,
					Script: sim.ScriptCall{VM: vm.index, Fn: fn, Entity: b.self, Arg: arg},
				})
			}),
			"Wait": reflect.ValueOf(func(frames int64, fn string, arg int64) int64 {
				if b.state == nil {
					return 0
				}
				if frames < 1 {
					frames = 1
				}
				return int64(vm.store.Schedule(b.state.Time+sim.FrameTime(frames), fn, b.self, arg))
			}),
			"Character": reflect.ValueOf(func(x, y, health int64, init, update string) int64 {
				if b.state == nil {
					return 0
				}
				team := sim.TeamBlue
				if self := b.state.Entity(b.self); self != nil {
					team = opposing(self.Team)
				}
				hook := sim.ScriptHook{VM: vm.index, Init: init, Update: update, Bound: true}
				id, ok := b.state.SpawnCharacter(team, int(x), int(y), int(health), hook)
				if !ok {
					return 0
				}
				return sim.PackHandle(id)
			}),
			"Erase": reflect.ValueOf(func(entity int64) {
				if b.state == nil {
					return
				}
				b.state.Pending.Push(sim.Effect{Kind: sim.EffectErase, Entity: sim.UnpackHandle(entity)})
			}),
			"End": reflect.ValueOf(func() {
				if b.state != nil {
					b.state.EndRequested = true
				}
			}),
		},
	}
}

func opposing(team sim.Team) sim.Team {
	switch team {
	case sim.TeamRed:
		return sim.TeamBlue
	case sim.TeamBlue:
		return sim.TeamRed
	default:
		return sim.TeamOther
	}
}
