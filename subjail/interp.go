package subjail

import (
	"sync"

	"ghostjail/variant"
)

// Interpreter is the contract a script runtime fulfills inside a subjail.
// The interpreter itself lives outside this module; the subjail loop only
// needs these three operations.
type Interpreter interface {
	// RunChunk executes a script chunk and returns its final value.
	RunChunk(name, source string) (variant.Variant, error)

	// SetGlobal installs a host variable into the script environment.
	SetGlobal(name string, v variant.Variant) error

	// Call invokes a script-defined function by name.
	Call(name string, args []variant.Variant) (variant.Variant, error)
}

// Factory builds the interpreter a subjail will host. The subjail handle
// is passed so interpreters can reach back into the host via CallHost.
type Factory func(host *Subjail) (Interpreter, error)

var (
	factoryMu sync.Mutex
	factory   Factory = func(host *Subjail) (Interpreter, error) {
		return &NopInterpreter{}, nil
	}
)

// SetFactory replaces the interpreter factory used by subjail processes.
// It must be called before Main, i.e. in the host binary's init path,
// since the subjail is a re-exec of the same binary.
func SetFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if f != nil {
		factory = f
	}
}

func currentFactory() Factory {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	return factory
}

// NopInterpreter is the default placeholder runtime: it accepts every
// chunk, remembers globals, and returns nil from every call. It keeps the
// process topology and permission machinery exercisable without a real
// scripting language linked in.
type NopInterpreter struct {
	mu      sync.Mutex
	globals map[string]variant.Variant
}

// RunChunk implements Interpreter.
func (n *NopInterpreter) RunChunk(name, source string) (variant.Variant, error) {
	return variant.Nil(), nil
}

// SetGlobal implements Interpreter.
func (n *NopInterpreter) SetGlobal(name string, v variant.Variant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.globals == nil {
		n.globals = make(map[string]variant.Variant)
	}
	n.globals[name] = v
	return nil
}

// Call implements Interpreter.
func (n *NopInterpreter) Call(name string, args []variant.Variant) (variant.Variant, error) {
	return variant.Nil(), nil
}
