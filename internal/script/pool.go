// Package script runs battle logic written in Go source, interpreted with
// yaegi, against the simulation state.
package script

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"real-pet/battle/internal/sim"
	"real-pet/battle/logging"
	loggingsimulation "real-pet/battle/logging/simulation"
)

// Package is a script package to load. Path identifies the source for
// de-duplication; a lower Namespace wins when the same path is loaded twice.
type Package struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Namespace int    `json:"namespace"`
	Source    string `json:"-"`
}

// Pool holds every loaded package in load order. Entities and effects refer
// to a VM by its index, which never changes once assigned.
type Pool struct {
	vms       []*VM
	byPath    map[string]int
	capacity  int
	publisher logging.Publisher
}

// NewPool creates an empty pool whose stores retain capacity snapshots.
func NewPool(capacity int, publisher logging.Publisher) *Pool {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Pool{
		byPath:    make(map[string]int),
		capacity:  capacity,
		publisher: publisher,
	}
}

// Load adds a package and returns its VM index. Loading a path that is
// already present returns the existing index.
func (p *Pool) Load(pkg Package) (int, error) {
	key := pkg.Path
	if key == "" {
		key = pkg.ID
	}
	if index, ok := p.byPath[key]; ok {
		vm := p.vms[index]
		if pkg.Namespace < vm.pkg.Namespace {
			vm.pkg.Namespace = pkg.Namespace
		}
		loggingsimulation.ScriptLoaded(context.Background(), p.publisher, loggingsimulation.ScriptLoadedPayload{
			Package:   vm.pkg.ID,
			Path:      key,
			VM:        index,
			Namespace: vm.pkg.Namespace,
			Reused:    true,
		})
		return index, nil
	}

	index := len(p.vms)
	vm, err := newVM(index, pkg, p.capacity)
	if err != nil {
		return -1, eris.Wrapf(err, "load package %s", pkg.ID)
	}
	p.vms = append(p.vms, vm)
	p.byPath[key] = index
	loggingsimulation.ScriptLoaded(context.Background(), p.publisher, loggingsimulation.ScriptLoadedPayload{
		Package:   pkg.ID,
		Path:      key,
		VM:        index,
		Namespace: pkg.Namespace,
	})
	return index, nil
}

// Len reports the number of loaded packages.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.vms)
}

// VM returns the package at index, or nil.
func (p *Pool) VM(index int) *VM {
	if p == nil || index < 0 || index >= len(p.vms) {
		return nil
	}
	return p.vms[index]
}

// Has reports whether the package at index exports fn.
func (p *Pool) Has(index int, fn string) bool {
	vm := p.VM(index)
	return vm != nil && vm.Has(fn)
}

// Call implements sim.Scripts.
func (p *Pool) Call(state *sim.State, call sim.ScriptCall) error {
	vm := p.VM(call.VM)
	if vm == nil {
		return eris.Errorf("no script package at index %d", call.VM)
	}
	return vm.call(state, call.Fn, call.Entity, call.Arg)
}

// Resume implements sim.Scripts. Due continuations run in VM index order and
// then handle order. Every continuation runs even when an earlier one fails;
// the failures are joined.
func (p *Pool) Resume(state *sim.State) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, vm := range p.vms {
		for _, c := range vm.store.TakeDue(state.Time) {
			if c.Entity.Valid() && !state.Entities.Contains(c.Entity) {
				state.Stats.EffectsSkipped++
				continue
			}
			if err := vm.call(state, c.Fn, c.Entity, c.Arg); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Snap records every store.
func (p *Pool) Snap() {
	if p == nil {
		return
	}
	for _, vm := range p.vms {
		vm.store.Snap()
	}
}

// Rollback rewinds every store by the same number of snapshots.
func (p *Pool) Rollback(steps int) {
	if p == nil {
		return
	}
	for _, vm := range p.vms {
		vm.store.Rollback(steps)
	}
}

// EncodeDigest writes every store in index order.
func (p *Pool) EncodeDigest(w io.Writer) error {
	if p == nil {
		return nil
	}
	for _, vm := range p.vms {
		if err := vm.store.EncodeDigest(w); err != nil {
			return eris.Wrapf(err, "digest package %s", vm.pkg.ID)
		}
	}
	return nil
}
