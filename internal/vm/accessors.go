package vm

// Accessors give other packages (internal/builtins, internal/emitter)
// typed access to a Value's concrete heap payload without exposing
// Object.data itself — mirroring the teacher's AsArray/AsMap/AsString
// family in vmregister/value.go, generalized over this VM's richer
// object kind set.

func AsArray(v Value) (*Array, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Array)
	return d, ok
}

func AsMap(v Value) (*Map, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Map)
	return d, ok
}

func AsStringData(v Value) (*String, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*String)
	return d, ok
}

func AsSymbolData(v Value) (*Symbol, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Symbol)
	return d, ok
}

func AsRange(v Value) (*Range, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Range)
	return d, ok
}

func AsArrayIterator(v Value) (*ArrayIterator, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*ArrayIterator)
	return d, ok
}

func AsMapIterator(v Value) (*MapIterator, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*MapIterator)
	return d, ok
}

func AsStringIterator(v Value) (*StringIterator, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*StringIterator)
	return d, ok
}

func AsInstance(v Value) (*Instance, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Instance)
	return d, ok
}

func AsClassData(v Value) (*Class, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Class)
	return d, ok
}

func AsFunctionData(v Value) (*Function, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*Function)
	return d, ok
}

func AsNativeFunctionData(v Value) (*NativeFunction, bool) {
	if !v.IsObject() {
		return nil, false
	}
	d, ok := v.AsObject().data.(*NativeFunction)
	return d, ok
}

// IsCallable reports whether v can appear as an OpCall callee.
func IsCallable(v Value) bool {
	if !v.IsObject() {
		return false
	}
	switch v.AsObject().data.(type) {
	case *Function, *NativeFunction:
		return true
	}
	return false
}
