package gosasshost

import "sync"

// DynamicFunction is a host-implemented Sass function created at runtime
// by a compile-time callback (e.g. a function call that returns a
// closure over some captured state) rather than declared up front in
// Options.Functions.
type DynamicFunction struct {
	Signature string
	Callback  func(args []Value) (Value, error)
}

// firstDynamicFunctionID is the first id handed out by the registry,
// per spec §4.3.
const firstDynamicFunctionID = 2001

// dynamicFunctionRegistry is the process-wide, mutex-guarded table of
// dynamic functions. Ids are assigned once and never reclaimed: an entry
// must remain valid for the lifetime of the process so a stale wire id
// from a previous compile can never alias a different function (spec
// §4.3/§9: "deliberate leak to avoid use-after-free on stale wire ids").
type dynamicFunctionRegistry struct {
	mu      sync.Mutex
	nextID  uint32
	entries map[uint32]DynamicFunction
}

var globalDynamicFunctionRegistry = newDynamicFunctionRegistry()

func newDynamicFunctionRegistry() *dynamicFunctionRegistry {
	return &dynamicFunctionRegistry{
		nextID:  firstDynamicFunctionID,
		entries: make(map[uint32]DynamicFunction),
	}
}

// register assigns fn a fresh id and stores it, returning the id.
func (r *dynamicFunctionRegistry) register(fn DynamicFunction) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.entries[id] = fn
	return id
}

// lookup returns the function registered under id, if any.
func (r *dynamicFunctionRegistry) lookup(id uint32) (DynamicFunction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.entries[id]
	return fn, ok
}

// RegisterDynamicFunction registers a host-defined dynamic function with
// the process-wide registry and returns a Value referencing it by its
// freshly assigned id. Callers typically do this from inside a host
// function callback that wants to hand the compiler a closure to call
// back into later in the same or a later compile.
func RegisterDynamicFunction(fn DynamicFunction) Value {
	id := globalDynamicFunctionRegistry.register(fn)
	return NewDynamicFunction(id, fn.Signature)
}
