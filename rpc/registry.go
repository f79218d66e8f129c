// Package rpc implements the host-side RPC engine: a registry of named
// functions the script can call, concurrency-class dispatch, and frame
// construction that marshals arguments across address spaces via
// process_vm_readv/process_vm_writev.
package rpc

import (
	"sync"
	"sync/atomic"

	"ghostjail/errors"
	"ghostjail/ipc"
)

// ConcurrencyClass selects how a Function is serialized against concurrent
// calls.
type ConcurrencyClass int

const (
	// ThreadSafe functions are invoked concurrently with no locking.
	ThreadSafe ConcurrencyClass = iota
	// ThreadUnsafeLocal functions are serialized against each other via a
	// per-function mutex.
	ThreadUnsafeLocal
	// ThreadUnsafeGlobal functions are serialized against every other call
	// in the registry via one global mutex.
	ThreadUnsafeGlobal
)

// HandlerFunc implements one registered RPC function. It reads its
// arguments from frame.Args and, on success, writes its result into
// frame.Return before returning.
type HandlerFunc func(frame *Frame) error

// Function is one registered RPC function.
type Function struct {
	Name    string
	Handler HandlerFunc
	Class   ConcurrencyClass

	mu sync.Mutex // only used when Class == ThreadUnsafeLocal
}

// Registry is the function table shared by every thread spawned from one
// sandbox. Registries are small and effectively immutable during
// operation, so lookup is a linear scan.
type Registry struct {
	mu    sync.RWMutex
	funcs []*Function

	globalMu sync.Mutex

	// liveThreads gates mutation: registering a function while any thread
	// references the registry fails.
	liveThreads int32
}

// NewRegistry returns an empty function registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a function to the registry. It fails with ErrRPCInUse if
// any thread currently references the registry.
func (r *Registry) Register(name string, handler HandlerFunc, class ConcurrencyClass) error {
	if name == "" || len(name) > ipc.MaxFuncName {
		return errors.New(errors.ErrRPC, "rpc.Register", "invalid function name")
	}
	if handler == nil {
		return errors.New(errors.ErrRPC, "rpc.Register", "nil handler")
	}
	if atomic.LoadInt32(&r.liveThreads) > 0 {
		return errors.ErrRPCInUse
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.funcs {
		if f.Name == name {
			f.Handler = handler
			f.Class = class
			return nil
		}
	}
	r.funcs = append(r.funcs, &Function{Name: name, Handler: handler, Class: class})
	return nil
}

// lookup linear-scans the function table for name.
func (r *Registry) lookup(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.funcs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// AcquireThread increments the live-thread reference count, gating further
// registration until every referencing thread releases.
func (r *Registry) AcquireThread() {
	atomic.AddInt32(&r.liveThreads, 1)
}

// ReleaseThread decrements the live-thread reference count.
func (r *Registry) ReleaseThread() {
	atomic.AddInt32(&r.liveThreads, -1)
}

// lock acquires whatever serialization a Function's concurrency class
// requires before its handler runs, and returns the matching unlock.
func (r *Registry) lock(fn *Function) func() {
	switch fn.Class {
	case ThreadUnsafeLocal:
		fn.mu.Lock()
		return fn.mu.Unlock
	case ThreadUnsafeGlobal:
		r.globalMu.Lock()
		return r.globalMu.Unlock
	default:
		return func() {}
	}
}
