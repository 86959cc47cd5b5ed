// Package engine defines the host-native contract nodepack requires from an
// embedded JavaScript engine, plus the tagged Value variant values travel
// as across the host/guest boundary. The concrete
// implementation (qjs_bridge.go, wrapping github.com/fastschema/qjs) is the
// only file in the module that imports engine types — nothing outside this
// package ever sees a *qjs.Value or *qjs.Context directly.
package engine

import "context"

// Kind tags a Value's active field.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindArray
	KindObject
	KindHandle
)

// Value is the host-visible marshalled representation of a guest value.
// Exactly one field is meaningful, selected by Kind; Handle is used for
// values too complex to flatten (functions, class instances, …) and must
// be freed via its own Release when no longer needed.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	String string
	Bytes  []byte
	Array  []Value
	Object map[string]Value
	Handle *Handle
}

func Null() Value             { return Value{Kind: KindNull} }
func Bool(b bool) Value       { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value  { return Value{Kind: KindNumber, Number: n} }
func String(s string) Value   { return Value{Kind: KindString, String: s} }
func Bytes(b []byte) Value    { return Value{Kind: KindBytes, Bytes: b} }
func Array(a []Value) Value   { return Value{Kind: KindArray, Array: a} }
func Object(o map[string]Value) Value {
	return Value{Kind: KindObject, Object: o}
}

// Handle is an opaque reference to a guest value, owned by the bridge and
// scoped to the Context that created it. No handle may outlive its Context;
// Release is safe to call more than once.
type Handle struct {
	release func()
	freed   bool
	// native holds the engine-specific value (a *qjs.Value) behind an
	// interface{} so this package stays engine-agnostic; only qjs_bridge.go
	// type-asserts it back.
	native any
}

// Release frees the underlying guest value. Idempotent.
func (h *Handle) Release() {
	if h == nil || h.freed {
		return
	}
	h.freed = true
	if h.release != nil {
		h.release()
	}
}

// NewHandle wraps a release function; used only by Bridge implementations.
func NewHandle(release func()) *Handle {
	return &Handle{release: release}
}

// NativeFunc is a Go function callable from guest code via Context.Define.
// Returning an error surfaces as a thrown guest exception.
type NativeFunc func(ctx context.Context, args []Value) (Value, error)

// NativeAsyncFunc is like NativeFunc but resolves a guest Promise instead of
// returning synchronously; exactly one of resolve/reject must be called,
// exactly once.
type NativeAsyncFunc func(ctx context.Context, args []Value, resolve func(Value), reject func(error))

// ModuleSourceLoader resolves an import specifier used inside a
// Context.EvalModule call to source text, for engine-driven ES-module
// dependency compilation. The nodepack linker is the only caller; the
// callback's specifier/referrer pair mirrors the module resolver's own
// contract.
type ModuleSourceLoader func(specifier, referrer string) (resolvedPath string, source string, err error)

// Bridge owns one JS engine runtime and creates Contexts (independent
// globals) within it.
type Bridge interface {
	// NewContext creates a context with fresh globals, installing nothing
	// beyond what the engine itself provides.
	NewContext() (Context, error)
	// Close releases the runtime and all contexts created from it. Any
	// handles still outstanding are forcibly released.
	Close() error
}

// Context is one JS global scope: console/process/require are installed
// into it by the linker and builtin-shim packages, not by the bridge
// itself.
type Context interface {
	// EvalScript evaluates src as a classic (non-module) script at path,
	// used for the reference runtime's wrapped CommonJS source transform.
	EvalScript(path, src string) (*Handle, error)
	// EvalModule evaluates src as an ES module at path, resolving its
	// static imports through resolveModule.
	EvalModule(path, src string, resolveModule ModuleSourceLoader) (*Handle, error)
	// DefineFunc installs a synchronous native function as a global.
	DefineFunc(name string, fn NativeFunc) error
	// DefineAsyncFunc installs an async native function (returns a Promise
	// to guest callers) as a global.
	DefineAsyncFunc(name string, fn NativeAsyncFunc) error
	// NewFunction creates a callable function value bound to fn without
	// installing it as a global, for attaching as a method on a
	// Go-constructed object (e.g. a crypto hash handle's update/digest).
	// name is used only for the function's displayed name/stack frames.
	NewFunction(name string, fn NativeFunc) (*Handle, error)
	// Global returns the context's global object as a handle, for
	// installing additional properties (console, process, require) from
	// outside this package.
	Global() *Handle
	// Get/Set/Call operate on object handles (including Global()).
	Get(obj *Handle, key string) (Value, error)
	Set(obj *Handle, key string, v Value) error
	Call(fn *Handle, this *Handle, args []Value) (Value, error)
	// ToHandle lifts a host Value that holds structured data into a
	// guest-owned handle (e.g. to pass as a Call argument).
	ToHandle(v Value) (*Handle, error)
	// Dispose releases the context and anything allocated from it.
	Dispose()
}
