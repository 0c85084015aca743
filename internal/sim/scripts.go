package sim

// EntityID addresses an entity in State.Entities.
type EntityID = Handle

// PackHandle encodes a handle for the script boundary.
func PackHandle(h Handle) int64 {
	return int64(h.Index)<<32 | int64(h.Generation)
}

// UnpackHandle decodes a handle produced by PackHandle.
func UnpackHandle(packed int64) Handle {
	return Handle{Index: uint32(packed >> 32), Generation: uint32(packed)}
}

// ScriptCall names a function exported by a loaded script package. VM is the
// load-order index of the package, never a pointer, so calls survive a state
// clone.
type ScriptCall struct {
	VM     int      `msgpack:"vm"`
	Fn     string   `msgpack:"fn"`
	Entity EntityID `msgpack:"entity"`
	Arg    int64    `msgpack:"arg,omitempty"`
}

// Empty reports whether the call names no function.
func (c ScriptCall) Empty() bool {
	return c.Fn == ""
}

// ScriptHook binds an entity to functions in one script package.
type ScriptHook struct {
	VM      int    `msgpack:"vm"`
	Init    string `msgpack:"init,omitempty"`
	Update  string `msgpack:"update,omitempty"`
	Special string `msgpack:"special,omitempty"`
	Bound   bool   `msgpack:"bound"`
}

// Call builds a script call for fn on behalf of entity.
func (h ScriptHook) Call(fn string, entity EntityID) ScriptCall {
	return ScriptCall{VM: h.VM, Fn: fn, Entity: entity}
}

// Scripts is the scripted-logic pool as seen by the step function. Both calls
// must be deterministic given the same state and pool history.
type Scripts interface {
	// Call runs one script function against state.
	Call(state *State, call ScriptCall) error
	// Resume runs every continuation due at state.Time.
	Resume(state *State) error
}

// NoScripts is a Scripts implementation for battles without packages.
type NoScripts struct{}

func (NoScripts) Call(*State, ScriptCall) error { return nil }
func (NoScripts) Resume(*State) error           { return nil }
