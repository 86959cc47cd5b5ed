package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastschema/qjs"
)

// Options configures a new Bridge. MemoryLimit and Timeout mirror the
// fields the reference runtime exposes on qjs.Option.
type Options struct {
	MemoryLimit int           // bytes; 0 means no limit
	Timeout     time.Duration // max execution time per Eval call; 0 means no limit
}

// qjsBridge is the only type in the module holding a *qjs.Runtime.
type qjsBridge struct {
	rt      *qjs.Runtime
	crashed bool
}

// NewBridge creates a Bridge backed by the embedded WASM QuickJS engine.
func NewBridge(opts Options) (Bridge, error) {
	qopts := qjs.Option{}
	if opts.MemoryLimit > 0 {
		qopts.MemoryLimit = opts.MemoryLimit
	}
	if opts.Timeout > 0 {
		qopts.MaxExecutionTime = int(opts.Timeout / time.Millisecond)
	}

	rt, err := qjs.New(qopts)
	if err != nil {
		return nil, fmt.Errorf("engine: creating QuickJS runtime: %w", err)
	}
	return &qjsBridge{rt: rt}, nil
}

func (b *qjsBridge) NewContext() (Context, error) {
	if b.crashed {
		return nil, errCrashed
	}
	return &qjsContext{bridge: b, ctx: b.rt.Context()}, nil
}

func (b *qjsBridge) Close() error {
	if b.rt == nil || b.crashed {
		return nil
	}
	b.rt.Close()
	b.rt = nil
	return nil
}

var errCrashed = errors.New("engine: WASM runtime has crashed; create a new Bridge")

// qjsContext adapts *qjs.Context to the Context interface. One guest panic
// (a WASM trap) marks the owning bridge crashed; further calls fail fast
// instead of touching the corrupted runtime, matching aster's
// Runtime.evalModule recover-and-latch pattern.
type qjsContext struct {
	bridge *qjsBridge
	ctx    *qjs.Context
}

func (c *qjsContext) guard(err *error) {
	if r := recover(); r != nil {
		c.bridge.crashed = true
		*err = fmt.Errorf("engine: WASM panic: %v", r)
	}
}

func (c *qjsContext) EvalScript(path, src string) (h *Handle, err error) {
	if c.bridge.crashed {
		return nil, errCrashed
	}
	defer c.guard(&err)

	val, evalErr := c.ctx.Eval(path, qjs.Code(src))
	if evalErr != nil {
		return nil, &RuntimeError{Message: evalErr.Error()}
	}
	return c.wrap(val), nil
}

func (c *qjsContext) EvalModule(path, src string, resolve ModuleSourceLoader) (h *Handle, err error) {
	if c.bridge.crashed {
		return nil, errCrashed
	}
	defer c.guard(&err)

	// The module resolver callback threads specifier resolution for
	// statically-imported dependencies back through the nodepack linker;
	// it is registered per-eval so the resolve function passed to this call
	// is the one in effect. The referrer path arrives as a callback argument.
	if resolve != nil {
		c.ctx.SetModuleResolver(func(specifier, referrer string) (string, string, error) {
			return resolve(specifier, referrer)
		})
	}

	val, evalErr := c.ctx.Eval(path, qjs.Code(src), qjs.TypeModule())
	if evalErr != nil {
		return nil, &RuntimeError{Message: evalErr.Error()}
	}
	return c.wrap(val), nil
}

func (c *qjsContext) DefineFunc(name string, fn NativeFunc) error {
	if c.bridge.crashed {
		return errCrashed
	}
	c.ctx.SetFunc(name, func(this *qjs.This) (*qjs.Value, error) {
		args := toEngineArgs(this)
		result, err := fn(context.Background(), args)
		if err != nil {
			return nil, err
		}
		return c.toQJS(result)
	})
	return nil
}

func (c *qjsContext) DefineAsyncFunc(name string, fn NativeAsyncFunc) error {
	if c.bridge.crashed {
		return errCrashed
	}
	c.ctx.SetAsyncFunc(name, func(this *qjs.This) {
		args := toEngineArgs(this)
		promise := this.Promise()
		fn(context.Background(), args,
			func(v Value) {
				qv, err := c.toQJS(v)
				if err != nil {
					promise.Reject(this.Context().NewError(err))
					return
				}
				promise.Resolve(qv)
			},
			func(err error) {
				promise.Reject(this.Context().NewError(err))
			},
		)
	})
	return nil
}

func (c *qjsContext) NewFunction(name string, fn NativeFunc) (*Handle, error) {
	if c.bridge.crashed {
		return nil, errCrashed
	}
	qv := c.ctx.NewFunction(name, func(this *qjs.This) (*qjs.Value, error) {
		args := toEngineArgs(this)
		result, err := fn(context.Background(), args)
		if err != nil {
			return nil, err
		}
		return c.toQJS(result)
	})
	return c.wrap(qv), nil
}

func (c *qjsContext) Global() *Handle {
	g := c.ctx.Global()
	return c.wrap(g)
}

func (c *qjsContext) Get(obj *Handle, key string) (Value, error) {
	qv, ok := obj.native.(*qjs.Value)
	if !ok {
		return Value{}, fmt.Errorf("engine: handle does not reference an object")
	}
	prop := qv.Get(key)
	return c.fromQJS(prop), nil
}

func (c *qjsContext) Set(obj *Handle, key string, v Value) error {
	qv, ok := obj.native.(*qjs.Value)
	if !ok {
		return fmt.Errorf("engine: handle does not reference an object")
	}
	nv, err := c.toQJS(v)
	if err != nil {
		return err
	}
	qv.Set(key, nv)
	return nil
}

func (c *qjsContext) Call(fn *Handle, this *Handle, args []Value) (Value, error) {
	fv, ok := fn.native.(*qjs.Value)
	if !ok {
		return Value{}, fmt.Errorf("engine: handle does not reference a function")
	}
	var thisVal *qjs.Value
	if this != nil {
		thisVal, _ = this.native.(*qjs.Value)
	}
	qargs := make([]*qjs.Value, 0, len(args))
	for _, a := range args {
		qv, err := c.toQJS(a)
		if err != nil {
			return Value{}, err
		}
		qargs = append(qargs, qv)
	}
	result, err := fv.Call(thisVal, qargs...)
	if err != nil {
		return Value{}, &RuntimeError{Message: err.Error()}
	}
	return c.fromQJS(result), nil
}

func (c *qjsContext) ToHandle(v Value) (*Handle, error) {
	qv, err := c.toQJS(v)
	if err != nil {
		return nil, err
	}
	return c.wrap(qv), nil
}

func (c *qjsContext) Dispose() {
	// The fastschema/qjs Context is owned by the Runtime; contexts are
	// released together on Bridge.Close, matching aster's model of one
	// long-lived *qjs.Context per Runtime.
}

func (c *qjsContext) wrap(v *qjs.Value) *Handle {
	if v == nil {
		return nil
	}
	h := NewHandle(func() { v.Free() })
	h.native = v
	return h
}

func toEngineArgs(this *qjs.This) []Value {
	raw := this.Args()
	out := make([]Value, 0, len(raw))
	for _, a := range raw {
		out = append(out, fromQJSValue(a))
	}
	return out
}

// toQJS lowers a host Value into a *qjs.Value allocated in this context.
func (c *qjsContext) toQJS(v Value) (*qjs.Value, error) {
	switch v.Kind {
	case KindNull:
		return c.ctx.NewNull(), nil
	case KindBool:
		return c.ctx.NewBool(v.Bool), nil
	case KindNumber:
		return c.ctx.NewFloat64(v.Number), nil
	case KindString:
		return c.ctx.NewString(v.String), nil
	case KindBytes:
		return c.ctx.NewArrayBuffer(v.Bytes), nil
	case KindArray:
		arr := c.ctx.NewArray()
		for i, elem := range v.Array {
			qv, err := c.toQJS(elem)
			if err != nil {
				return nil, err
			}
			arr.SetIndex(i, qv)
		}
		return arr, nil
	case KindObject:
		obj := c.ctx.NewObject()
		for k, elem := range v.Object {
			qv, err := c.toQJS(elem)
			if err != nil {
				return nil, err
			}
			obj.Set(k, qv)
		}
		return obj, nil
	case KindHandle:
		if v.Handle == nil {
			return c.ctx.NewNull(), nil
		}
		qv, ok := v.Handle.native.(*qjs.Value)
		if !ok {
			return nil, fmt.Errorf("engine: handle is not a QuickJS value")
		}
		return qv, nil
	default:
		return c.ctx.NewNull(), nil
	}
}

func (c *qjsContext) fromQJS(v *qjs.Value) Value {
	return fromQJSValue(v)
}

// fromQJSValue lifts a *qjs.Value into a host Value, flattening primitives
// and plain arrays/objects and falling back to a Handle for anything else
// (functions, class instances, typed arrays besides Buffer's own encoding).
func fromQJSValue(v *qjs.Value) Value {
	if v == nil || v.IsNull() || v.IsUndefined() {
		return Null()
	}
	switch {
	case v.IsBool():
		return Bool(v.Bool())
	case v.IsNumber():
		return Number(v.Float64())
	case v.IsString():
		return String(v.String())
	case v.IsArrayBuffer():
		return Bytes(v.ArrayBuffer())
	case v.IsArray():
		n := v.Len()
		out := make([]Value, n)
		for i := 0; i < n; i++ {
			out[i] = fromQJSValue(v.Index(i))
		}
		return Array(out)
	case v.IsPlainObject():
		keys := v.Keys()
		out := make(map[string]Value, len(keys))
		for _, k := range keys {
			out[k] = fromQJSValue(v.Get(k))
		}
		return Object(out)
	default:
		h := NewHandle(func() { v.Free() })
		h.native = v
		return Value{Kind: KindHandle, Handle: h}
	}
}

// RuntimeError wraps a guest-thrown or compile-time error surfaced by the
// engine. It always carries at least a message; Stack is populated when the
// engine provides one.
type RuntimeError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RuntimeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}
