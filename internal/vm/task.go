package vm

import (
	"github.com/google/uuid"

	cerrors "github.com/corvid-lang/corvid/internal/errors"
)

// TaskStatus is one cooperative task's run state (spec.md §3.2, §5).
type TaskStatus uint8

const (
	TaskRunning TaskStatus = iota
	TaskSuspended
	TaskSuccess
	TaskError
)

// ExceptionHandler covers a [Start, End) bytecode range of one function;
// a Throw whose IP falls in that range transfers control to Target with
// the thrown value placed in register CatchReg (spec.md §4.4).
type ExceptionHandler struct {
	Start, End, Target uint32
	CatchReg           uint16
}

// Frame is one suspended call's (bp, ip, Function, accumulator) state
// (GLOSSARY; spec.md §4.4 "State per active frame").
type Frame struct {
	BP  int       // base of this frame's register window in Stack
	IP  int       // instruction pointer into Fn's code (advanced in place while running)
	Fn  *Function // the function this frame executes
	Acc Value     // the single accumulator register, saved across calls
}

// Task is one cooperative execution context: its own stack, its own call
// frames, and enough state to resume after a yield (spec.md §3.2, §5).
// Exactly one Task is the VM's current task at any time.
type Task struct {
	ID     uuid.UUID
	Name   *String // optional
	Stack  []Value
	Top    int // index of the first free stack slot
	Frames []Frame
	Status TaskStatus

	LastPanic    Value
	StackTrace   string
	openUpvalues *UpValue // open-upvalue list, sorted by descending stack index

	gcObj *Object
}

func (*Task) kind() ObjectType         { return ObjTask }
func (t *Task) heapSize() uintptr      { return 64 + uintptr(cap(t.Stack))*8 + uintptr(cap(t.Frames))*24 }
func (t *Task) attachObject(o *Object) { t.gcObj = o }
func (t *Task) gcObject() *Object      { return t.gcObj }

const (
	// InitialStackSize is the number of register slots a fresh Task starts with.
	InitialStackSize = 256
	// MaxFrames bounds recursion depth; exceeding it raises an uncaught Error
	// (spec.md §7 "Fatal conditions").
	MaxFrames = 4096
	// MaxStackSize bounds the register stack, enforced the same way.
	MaxStackSize = 1 << 20
)

func newTask(name *String) *Task {
	id, _ := uuid.NewRandom()
	return &Task{
		ID:     id,
		Name:   name,
		Stack:  make([]Value, InitialStackSize),
		Frames: make([]Frame, 0, 64),
		Status: TaskRunning,
	}
}

// ensureStack grows Stack so indices up to need-1 are valid, raising an
// uncaught Error instead of growing past MaxStackSize (spec.md §7 fatal
// condition "stack pointer exceeds STACK_SIZE").
func (t *Task) ensureStack(need int) *cerrors.CorvidError {
	if need <= len(t.Stack) {
		return nil
	}
	if need > MaxStackSize {
		return cerrors.New(cerrors.GenericError, "stack overflow")
	}
	n := len(t.Stack) * 2
	if n < need {
		n = need
	}
	if n > MaxStackSize {
		n = MaxStackSize
	}
	grown := make([]Value, n)
	copy(grown, t.Stack)
	t.Stack = grown
	return nil
}

// findOpenUpvalue returns the open upvalue for stack index idx, if any.
func (t *Task) findOpenUpvalue(idx int) *UpValue {
	for uv := t.openUpvalues; uv != nil; uv = uv.Next {
		if uv.Index == idx {
			return uv
		}
		if uv.Index < idx {
			return nil // sorted descending: passed where idx would be
		}
	}
	return nil
}

// captureUpvalue finds-or-creates the open upvalue for stack index idx,
// inserting into the descending-sorted open list (spec.md §3.2 invariant).
func (t *Task) captureUpvalue(idx int) *UpValue {
	var prev *UpValue
	cur := t.openUpvalues
	for cur != nil && cur.Index > idx {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Index == idx {
		return cur
	}
	uv := &UpValue{Owner: t, Index: idx, Next: cur}
	if prev == nil {
		t.openUpvalues = uv
	} else {
		prev.Next = uv
	}
	return uv
}

// closeUpvaluesFrom closes every open upvalue whose Index >= from,
// implementing CLOSE(from) from spec.md §4.4.
func (t *Task) closeUpvaluesFrom(from int) {
	for t.openUpvalues != nil && t.openUpvalues.Index >= from {
		uv := t.openUpvalues
		t.openUpvalues = uv.Next
		uv.close()
		uv.Next = nil
	}
}
