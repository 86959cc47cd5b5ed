package engine_test

import (
	"context"
	"testing"

	"github.com/yangshun/nodepack-sub002/internal/engine"
)

func newBridge(t *testing.T) engine.Bridge {
	t.Helper()
	b, err := engine.NewBridge(engine.Options{MemoryLimit: 64 << 20})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEvalScriptReturnsValue(t *testing.T) {
	b := newBridge(t)
	ctx, err := b.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Dispose()

	h, err := ctx.EvalScript("main.js", "1 + 2")
	if err != nil {
		t.Fatalf("EvalScript: %v", err)
	}
	defer h.Release()
}

func TestEvalScriptSyntaxError(t *testing.T) {
	b := newBridge(t)
	ctx, err := b.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Dispose()

	_, err = ctx.EvalScript("main.js", "const = ;")
	if err == nil {
		t.Fatal("expected a syntax error, got nil")
	}
	var rtErr *engine.RuntimeError
	if !asRuntimeError(err, &rtErr) {
		t.Fatalf("expected *engine.RuntimeError, got %T: %v", err, err)
	}
}

func TestDefineFuncCallableFromGuest(t *testing.T) {
	b := newBridge(t)
	ctx, err := b.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Dispose()

	var gotArgs []engine.Value
	err = ctx.DefineFunc("hostAdd", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		gotArgs = args
		sum := 0.0
		for _, a := range args {
			if a.Kind == engine.KindNumber {
				sum += a.Number
			}
		}
		return engine.Number(sum), nil
	})
	if err != nil {
		t.Fatalf("DefineFunc: %v", err)
	}

	h, err := ctx.EvalScript("main.js", "hostAdd(2, 3)")
	if err != nil {
		t.Fatalf("EvalScript: %v", err)
	}
	defer h.Release()

	if len(gotArgs) != 2 {
		t.Fatalf("hostAdd called with %d args, want 2", len(gotArgs))
	}
}

func TestGlobalGetSetRoundTrip(t *testing.T) {
	b := newBridge(t)
	ctx, err := b.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Dispose()

	g := ctx.Global()
	if err := ctx.Set(g, "greeting", engine.String("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := ctx.Get(g, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != engine.KindString || got.String != "hello" {
		t.Fatalf("Get(greeting) = %+v, want string %q", got, "hello")
	}
}

func TestHandleReleaseIdempotent(t *testing.T) {
	released := 0
	h := engine.NewHandle(func() { released++ })
	h.Release()
	h.Release()
	if released != 1 {
		t.Fatalf("release called %d times, want 1", released)
	}
}

func asRuntimeError(err error, target **engine.RuntimeError) bool {
	if rtErr, ok := err.(*engine.RuntimeError); ok {
		*target = rtErr
		return true
	}
	return false
}
