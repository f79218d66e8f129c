package thread

import (
	"ghostjail/errors"
	"ghostjail/fdmem"
	"ghostjail/ipc"
	"ghostjail/result"
	"ghostjail/variant"
)

// CallFrame marshals typed variants into a shared-memory arena for a
// host→script call: each added argument is allocated in the arena and its
// virtual pointer recorded in a parallel slot array, up to
// ipc.MaxCallArgs slots.
type CallFrame struct {
	arena *fdmem.Arena
	ptrs  []uint64
	done  bool
}

// NewCallFrame creates an empty frame backed by a fresh arena.
func NewCallFrame() (*CallFrame, error) {
	arena, err := fdmem.New()
	if err != nil {
		return nil, err
	}
	return &CallFrame{arena: arena}, nil
}

// AddArg appends one argument variant to the frame.
func (c *CallFrame) AddArg(v variant.Variant) error {
	if c.done {
		return errors.New(errors.ErrThread, "thread.CallFrame.AddArg", "frame already sent")
	}
	if len(c.ptrs) >= ipc.MaxCallArgs {
		return errors.New(errors.ErrThread, "thread.CallFrame.AddArg", "too many call arguments")
	}
	vp, err := c.arena.Alloc(variant.Encode(v))
	if err != nil {
		return err
	}
	c.ptrs = append(c.ptrs, vp)
	return nil
}

// AddInt appends an int argument.
func (c *CallFrame) AddInt(v int64) error { return c.AddArg(variant.Int(v)) }

// AddDouble appends a double argument.
func (c *CallFrame) AddDouble(v float64) error { return c.AddArg(variant.Double(v)) }

// AddString appends a string argument.
func (c *CallFrame) AddString(v string) error { return c.AddArg(variant.String(v)) }

// Close releases the frame's arena.
func (c *CallFrame) Close() error {
	return c.arena.Close()
}

// CallScript invokes a script-defined function with the frame's arguments:
// the arena fd, occupied count and pointer slots ride a
// ScriptCall; the subjail grows the arena and writes the return variant
// into it; the matching ScriptResult names the return's virtual pointer.
// The host then seals the region read-only, re-maps it, and resolves the
// pointer bounds-checked against the grown size. The frame is spent after
// the call; Close it regardless of outcome.
func (t *Thread) CallScript(name string, frame *CallFrame) (variant.Variant, error) {
	if len(name) > ipc.MaxFuncName {
		return variant.Nil(), errors.New(errors.ErrThread, "thread.CallScript", "call name too long")
	}
	if frame.done {
		return variant.Nil(), errors.New(errors.ErrThread, "thread.CallScript", "frame already sent")
	}
	frame.done = true

	msg := ipc.Message{
		Type:          ipc.MsgScriptCall,
		CallName:      name,
		OccupiedBytes: frame.arena.Occupied(),
		ArgPtrs:       frame.ptrs,
	}
	id, err := t.runAndExpectInfo(msg, frame.arena.FD())
	if err != nil {
		return variant.Nil(), err
	}

	note, err := t.WaitScript(id)
	if err != nil {
		return variant.Nil(), err
	}
	if note.Result.IsErr() {
		return variant.Nil(), errors.FromResult("thread.CallScript", note.Result).WithThread(t.safe)
	}
	if !note.HasReturnPtr {
		return variant.Nil(), nil
	}

	// Pick up the subjail's growth, seal against further writes, and adopt
	// the full mapped extent as the occupied bound for pointer resolution.
	if err := frame.arena.Sync(); err != nil {
		return variant.Nil(), err
	}
	if err := frame.arena.Seal(); err != nil {
		return variant.Nil(), err
	}
	frame.arena.SetOccupied(frame.arena.Capacity())

	vp := note.ReturnPtr
	if vp == 0 || vp-1 >= frame.arena.Occupied() {
		return variant.Nil(), errors.FromResult("thread.CallScript",
			result.New(result.ContextAllocOutOfRange)).WithThread(t.safe)
	}
	raw, ok := frame.arena.RealPtr(vp, frame.arena.Occupied()-(vp-1))
	if !ok {
		return variant.Nil(), errors.FromResult("thread.CallScript",
			result.New(result.ContextAllocOutOfRange)).WithThread(t.safe)
	}
	return variant.Decode(raw)
}

// ReturnInt reads an int return value, enforcing tag match.
func ReturnInt(v variant.Variant) (int64, error) {
	n, ok := variant.AsInt(v)
	if !ok {
		return 0, errors.New(errors.ErrThread, "thread.ReturnInt", "return value is not an int")
	}
	return n, nil
}

// ReturnDouble reads a double return value, enforcing tag match.
func ReturnDouble(v variant.Variant) (float64, error) {
	d, ok := variant.AsDouble(v)
	if !ok {
		return 0, errors.New(errors.ErrThread, "thread.ReturnDouble", "return value is not a double")
	}
	return d, nil
}

// ReturnString reads a string return value, enforcing tag match.
func ReturnString(v variant.Variant) (string, error) {
	s, ok := variant.AsString(v)
	if !ok {
		return "", errors.New(errors.ErrThread, "thread.ReturnString", "return value is not a string")
	}
	return s, nil
}
