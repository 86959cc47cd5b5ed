package nodepack

import (
	"github.com/yangshun/nodepack-sub002/internal/console"
	"github.com/yangshun/nodepack-sub002/internal/engine"
)

// ExecuteOptions configures one Execute call.
type ExecuteOptions struct {
	// Argv becomes the guest-visible process.argv (argv[0], argv[1]
	// conventionally the binary and script path; the rest user args).
	Argv []string
	// Env becomes the guest-visible process.env.
	Env map[string]string
	// OnLog, if set, is called once per console call in evaluation order,
	// in addition to the same records being returned in Logs.
	OnLog func(level string, message string)
	// EntryPath is the virtual path the source is written to before
	// linking. Defaults to "/main.js".
	EntryPath string
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	OK    bool
	Data  any
	Error string
	Logs  []console.Record
}

// valueToAny lowers an engine.Value into a plain Go value suitable for a
// host that doesn't want to deal with the engine package's tagged union.
// Handles (functions, class instances, anything the engine couldn't
// flatten) have no plain-value representation and lower to nil.
func valueToAny(v engine.Value) any {
	switch v.Kind {
	case engine.KindNull:
		return nil
	case engine.KindBool:
		return v.Bool
	case engine.KindNumber:
		return v.Number
	case engine.KindString:
		return v.String
	case engine.KindBytes:
		return v.Bytes
	case engine.KindArray:
		out := make([]any, len(v.Array))
		for i, elem := range v.Array {
			out[i] = valueToAny(elem)
		}
		return out
	case engine.KindObject:
		out := make(map[string]any, len(v.Object))
		for k, elem := range v.Object {
			out[k] = valueToAny(elem)
		}
		return out
	default:
		return nil
	}
}
