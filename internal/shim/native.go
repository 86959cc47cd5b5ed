package shim

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/google/uuid"

	"github.com/yangshun/nodepack-sub002/internal/engine"
	"github.com/yangshun/nodepack-sub002/internal/vfs"
)

// EntropySource supplies random bytes to the crypto module. Defined
// locally so this package does not import the root nodepack package.
type EntropySource interface {
	Read(p []byte) (int, error)
}

func valueToBytes(v engine.Value) ([]byte, error) {
	switch v.Kind {
	case engine.KindString:
		return []byte(v.String), nil
	case engine.KindBytes:
		return v.Bytes, nil
	default:
		return nil, fmt.Errorf("nodepack/shim: expected string or bytes, got kind %d", v.Kind)
	}
}

func newHashAlgorithm(alg string) (hash.Hash, error) {
	switch alg {
	case "sha256":
		return sha256.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("nodepack/shim: unsupported hash algorithm %q", alg)
	}
}

// hasherValue builds the guest-visible { update, digest } object wrapping
// h. update rebuilds a fresh object around the same (now-mutated) h so
// `createHash('sha256').update(x).digest('hex')` chains correctly; h's
// state, not the wrapper object, is what carries across calls.
func hasherValue(ctx engine.Context, h hash.Hash) (engine.Value, error) {
	updateHandle, err := ctx.NewFunction("update", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return engine.Null(), fmt.Errorf("nodepack/shim: update requires a data argument")
		}
		data, err := valueToBytes(args[0])
		if err != nil {
			return engine.Null(), err
		}
		h.Write(data)
		return hasherValue(ctx, h)
	})
	if err != nil {
		return engine.Value{}, err
	}
	digestHandle, err := ctx.NewFunction("digest", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		encoding := "hex"
		if len(args) > 0 && args[0].Kind == engine.KindString {
			encoding = args[0].String
		}
		sum := h.Sum(nil)
		switch encoding {
		case "hex":
			return engine.String(hex.EncodeToString(sum)), nil
		default:
			return engine.Bytes(sum), nil
		}
	})
	if err != nil {
		return engine.Value{}, err
	}
	return engine.Object(map[string]engine.Value{
		"update": {Kind: engine.KindHandle, Handle: updateHandle},
		"digest": {Kind: engine.KindHandle, Handle: digestHandle},
	}), nil
}

func randomUUIDString(entropy EntropySource) (string, error) {
	id, err := uuid.NewRandomFromReader(readerFunc(entropy.Read))
	if err != nil {
		return "", fmt.Errorf("nodepack/shim: generating uuid: %w", err)
	}
	return id.String(), nil
}

// readerFunc adapts an EntropySource's Read method to an io.Reader without
// requiring EntropySource itself to embed io.Reader.
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// CryptoModule builds the native "crypto" shim exports.
func CryptoModule(ctx engine.Context, entropy EntropySource) (engine.Value, error) {
	createHash, err := ctx.NewFunction("createHash", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 || args[0].Kind != engine.KindString {
			return engine.Null(), fmt.Errorf("nodepack/shim: createHash requires an algorithm name")
		}
		h, err := newHashAlgorithm(args[0].String)
		if err != nil {
			return engine.Null(), err
		}
		return hasherValue(ctx, h)
	})
	if err != nil {
		return engine.Value{}, err
	}

	createHmac, err := ctx.NewFunction("createHmac", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		if len(args) < 2 || args[0].Kind != engine.KindString {
			return engine.Null(), fmt.Errorf("nodepack/shim: createHmac requires (algorithm, key)")
		}
		key, err := valueToBytes(args[1])
		if err != nil {
			return engine.Null(), err
		}
		var newHash func() hash.Hash
		switch args[0].String {
		case "sha256":
			newHash = sha256.New
		case "md5":
			newHash = md5.New
		default:
			return engine.Null(), fmt.Errorf("nodepack/shim: unsupported HMAC algorithm %q", args[0].String)
		}
		return hasherValue(ctx, hmac.New(newHash, key))
	})
	if err != nil {
		return engine.Value{}, err
	}

	randomBytes, err := ctx.NewFunction("randomBytes", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		n := 0
		if len(args) > 0 && args[0].Kind == engine.KindNumber {
			n = int(args[0].Number)
		}
		b := make([]byte, n)
		if _, err := entropy.Read(b); err != nil {
			return engine.Null(), fmt.Errorf("nodepack/shim: reading entropy: %w", err)
		}
		return engine.Bytes(b), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	randomUUID, err := ctx.NewFunction("randomUUID", func(_ context.Context, _ []engine.Value) (engine.Value, error) {
		s, err := randomUUIDString(entropy)
		if err != nil {
			return engine.Null(), err
		}
		return engine.String(s), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	return engine.Object(map[string]engine.Value{
		"createHash":  {Kind: engine.KindHandle, Handle: createHash},
		"createHmac":  {Kind: engine.KindHandle, Handle: createHmac},
		"randomBytes": {Kind: engine.KindHandle, Handle: randomBytes},
		"randomUUID":  {Kind: engine.KindHandle, Handle: randomUUID},
	}), nil
}

// ProcessOptions configures the native "process" shim.
type ProcessOptions struct {
	Argv    []string
	Env     map[string]string
	Version string
}

// ProcessModule builds the native "process" shim exports.
func ProcessModule(ctx engine.Context, opts ProcessOptions) (engine.Value, error) {
	argv := make([]engine.Value, len(opts.Argv))
	for i, a := range opts.Argv {
		argv[i] = engine.String(a)
	}
	env := make(map[string]engine.Value, len(opts.Env))
	for k, v := range opts.Env {
		env[k] = engine.String(v)
	}

	cwdFn, err := ctx.NewFunction("cwd", func(_ context.Context, _ []engine.Value) (engine.Value, error) {
		return engine.String("/"), nil
	})
	if err != nil {
		return engine.Value{}, err
	}
	exitFn, err := ctx.NewFunction("exit", func(_ context.Context, _ []engine.Value) (engine.Value, error) {
		// Marks termination was requested but does not kill the host.
		return engine.Null(), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	version := opts.Version
	if version == "" {
		version = "v0.0.0-nodepack"
	}

	return engine.Object(map[string]engine.Value{
		"argv":     engine.Array(argv),
		"env":      engine.Object(env),
		"platform": engine.String("nodepack"),
		"version":  engine.String(version),
		"cwd":      {Kind: engine.KindHandle, Handle: cwdFn},
		"exit":     {Kind: engine.KindHandle, Handle: exitFn},
	}), nil
}

// FSModule builds the native "fs" shim: a thin synchronous wrapper over
// internal/vfs, exposing the *Sync call shape guest code expects.
func FSModule(ctx engine.Context, fsys *vfs.FS) (engine.Value, error) {
	define := func(name string, fn engine.NativeFunc) (engine.Value, error) {
		h, err := ctx.NewFunction(name, fn)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.Value{Kind: engine.KindHandle, Handle: h}, nil
	}

	readFileSync, err := define("readFileSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		encoding := ""
		if len(args) > 1 && args[1].Kind == engine.KindString {
			encoding = args[1].String
		}
		if encoding == "" {
			data, err := fsys.ReadFile(p)
			if err != nil {
				return engine.Null(), err
			}
			return engine.Bytes(data), nil
		}
		s, err := fsys.ReadFileString(p)
		if err != nil {
			return engine.Null(), err
		}
		return engine.String(s), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	writeFileSync, err := define("writeFileSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		if len(args) < 2 {
			return engine.Null(), fmt.Errorf("nodepack/shim: writeFileSync requires data")
		}
		data, err := valueToBytes(args[1])
		if err != nil {
			return engine.Null(), err
		}
		if err := fsys.WriteFile(p, data, 0o644); err != nil {
			return engine.Null(), err
		}
		return engine.Null(), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	existsSync, err := define("existsSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		return engine.Bool(fsys.Exists(p)), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	mkdirSync, err := define("mkdirSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		recursive := false
		if len(args) > 1 && args[1].Kind == engine.KindObject {
			if r, ok := args[1].Object["recursive"]; ok && r.Kind == engine.KindBool {
				recursive = r.Bool
			}
		}
		if err := fsys.Mkdir(p, vfs.MkdirOptions{Recursive: recursive}); err != nil {
			return engine.Null(), err
		}
		return engine.Null(), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	readdirSync, err := define("readdirSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		names, err := fsys.Readdir(p)
		if err != nil {
			return engine.Null(), err
		}
		out := make([]engine.Value, len(names))
		for i, n := range names {
			out[i] = engine.String(n)
		}
		return engine.Array(out), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	statSync, err := define("statSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		info, err := fsys.Stat(p)
		if err != nil {
			return engine.Null(), err
		}
		return statValue(ctx, info)
	})
	if err != nil {
		return engine.Value{}, err
	}

	unlinkSync, err := define("unlinkSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		return engine.Null(), fsys.Unlink(p)
	})
	if err != nil {
		return engine.Value{}, err
	}

	rmSync, err := define("rmSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		recursive := false
		if len(args) > 1 && args[1].Kind == engine.KindObject {
			if r, ok := args[1].Object["recursive"]; ok && r.Kind == engine.KindBool {
				recursive = r.Bool
			}
		}
		return engine.Null(), fsys.Rm(p, vfs.RmOptions{Recursive: recursive})
	})
	if err != nil {
		return engine.Value{}, err
	}

	renameSync, err := define("renameSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		oldPath, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		newPath, err := argString(args, 1)
		if err != nil {
			return engine.Null(), err
		}
		return engine.Null(), fsys.Rename(oldPath, newPath)
	})
	if err != nil {
		return engine.Value{}, err
	}

	realpathSync, err := define("realpathSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		real, err := fsys.Realpath(p)
		if err != nil {
			return engine.Null(), err
		}
		return engine.String(real), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	lstatSync, err := define("lstatSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		info, err := fsys.Lstat(p)
		if err != nil {
			return engine.Null(), err
		}
		return statValue(ctx, info)
	})
	if err != nil {
		return engine.Value{}, err
	}

	rmdirSync, err := define("rmdirSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		return engine.Null(), fsys.Rmdir(p)
	})
	if err != nil {
		return engine.Value{}, err
	}

	appendFileSync, err := define("appendFileSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		if len(args) < 2 {
			return engine.Null(), fmt.Errorf("nodepack/shim: appendFileSync requires data")
		}
		data, err := valueToBytes(args[1])
		if err != nil {
			return engine.Null(), err
		}
		if err := fsys.AppendFile(p, data, 0o644); err != nil {
			return engine.Null(), err
		}
		return engine.Null(), nil
	})
	if err != nil {
		return engine.Value{}, err
	}

	copyFileSync, err := define("copyFileSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		src, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		dst, err := argString(args, 1)
		if err != nil {
			return engine.Null(), err
		}
		return engine.Null(), fsys.CopyFile(src, dst)
	})
	if err != nil {
		return engine.Value{}, err
	}

	accessSync, err := define("accessSync", func(_ context.Context, args []engine.Value) (engine.Value, error) {
		p, err := argString(args, 0)
		if err != nil {
			return engine.Null(), err
		}
		mode := vfs.F_OK
		if len(args) > 1 && args[1].Kind == engine.KindNumber {
			mode = int(args[1].Number)
		}
		return engine.Null(), fsys.Access(p, mode)
	})
	if err != nil {
		return engine.Value{}, err
	}

	constants := engine.Object(map[string]engine.Value{
		"F_OK": engine.Number(float64(vfs.F_OK)),
		"R_OK": engine.Number(float64(vfs.R_OK)),
		"W_OK": engine.Number(float64(vfs.W_OK)),
		"X_OK": engine.Number(float64(vfs.X_OK)),
	})

	return engine.Object(map[string]engine.Value{
		"readFileSync":   readFileSync,
		"writeFileSync":  writeFileSync,
		"existsSync":     existsSync,
		"mkdirSync":      mkdirSync,
		"readdirSync":    readdirSync,
		"statSync":       statSync,
		"lstatSync":      lstatSync,
		"unlinkSync":     unlinkSync,
		"rmSync":         rmSync,
		"rmdirSync":      rmdirSync,
		"renameSync":     renameSync,
		"realpathSync":   realpathSync,
		"appendFileSync": appendFileSync,
		"copyFileSync":   copyFileSync,
		"accessSync":     accessSync,
		"constants":      constants,
	}), nil
}

// statValue builds the guest-visible stat object shared by statSync and
// lstatSync.
func statValue(ctx engine.Context, info vfs.FileInfo) (engine.Value, error) {
	isFileHandle, err := ctx.NewFunction("isFile", func(_ context.Context, _ []engine.Value) (engine.Value, error) {
		return engine.Bool(info.IsFile()), nil
	})
	if err != nil {
		return engine.Value{}, err
	}
	isDirHandle, err := ctx.NewFunction("isDirectory", func(_ context.Context, _ []engine.Value) (engine.Value, error) {
		return engine.Bool(info.IsDirectory()), nil
	})
	if err != nil {
		return engine.Value{}, err
	}
	return engine.Object(map[string]engine.Value{
		"size":        engine.Number(float64(info.Size())),
		"mode":        engine.Number(float64(info.Mode())),
		"mtime":       engine.String(info.ModTime()),
		"isFile":      {Kind: engine.KindHandle, Handle: isFileHandle},
		"isDirectory": {Kind: engine.KindHandle, Handle: isDirHandle},
	}), nil
}

func argString(args []engine.Value, i int) (string, error) {
	if i >= len(args) || args[i].Kind != engine.KindString {
		return "", fmt.Errorf("nodepack/shim: expected string argument at position %d", i)
	}
	return args[i].String, nil
}
