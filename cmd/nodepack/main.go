// Command nodepack runs a JavaScript file inside a sandboxed runtime.
//
// Usage:
//
//	nodepack run -i script.js
//	nodepack run -i script.js -arg foo=bar -arg baz=qux
//	cat script.js | nodepack run               # stdin
//	nodepack ls -i script.js                    # list files the script wrote
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yangshun/nodepack-sub002"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nodepack: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: nodepack <command> [flags]\n\nCommands:\n  run  Execute a script\n  ls   Execute a script, then list files it wrote to the virtual filesystem")
	}

	command := os.Args[1]
	switch command {
	case "run":
		return runScript(os.Args[2:])
	case "ls":
		return listFiles(os.Args[2:])
	default:
		return fmt.Errorf("unknown command %q (expected run or ls)", command)
	}
}

// scriptFlags holds the flags shared by run and ls.
type scriptFlags struct {
	input     string
	registry  string
	allowNet  bool
	entryPath string
	kvArgs    []string
}

func parseScriptFlags(name string, args []string) (*scriptFlags, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &scriptFlags{}
	fs.StringVar(&f.input, "i", "", "input script file (- or omit for stdin)")
	fs.StringVar(&f.registry, "registry", "", "npm registry base URL (defaults to the public registry)")
	fs.BoolVar(&f.allowNet, "allow-net", false, "allow network access for npm package resolution")
	fs.StringVar(&f.entryPath, "entry", "", "virtual filesystem path for the entry script (defaults to /main.js)")
	fs.Func("arg", "guest-visible argv entry, as key=value (repeatable)", func(v string) error {
		f.kvArgs = append(f.kvArgs, v)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func buildRuntime(f *scriptFlags) *nodepack.Runtime {
	var opts []nodepack.Option
	if f.registry != "" {
		opts = append(opts, nodepack.WithRegistryURL(f.registry))
	}
	if f.allowNet {
		opts = append(opts, nodepack.WithFetcher(nodepack.NewHTTPFetcher(nil)))
	}
	return nodepack.New(opts...)
}

func argv(f *scriptFlags) []string {
	out := []string{"node", "/main.js"}
	out = append(out, f.kvArgs...)
	return out
}

func runScript(args []string) error {
	f, err := parseScriptFlags("run", args)
	if err != nil {
		return err
	}

	source, err := readInput(f.input)
	if err != nil {
		return err
	}

	rt := buildRuntime(f)
	if err := rt.Initialize(); err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer rt.Terminate()

	result := rt.Execute(string(source), nodepack.ExecuteOptions{
		Argv:      argv(f),
		Env:       envFromKVArgs(f.kvArgs),
		EntryPath: f.entryPath,
		OnLog: func(level, message string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
		},
	})

	if !result.OK {
		return fmt.Errorf("execution failed: %s", result.Error)
	}
	if result.Data != nil {
		fmt.Printf("%v\n", result.Data)
	}
	return nil
}

func listFiles(args []string) error {
	f, err := parseScriptFlags("ls", args)
	if err != nil {
		return err
	}

	source, err := readInput(f.input)
	if err != nil {
		return err
	}

	rt := buildRuntime(f)
	if err := rt.Initialize(); err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer rt.Terminate()

	result := rt.Execute(string(source), nodepack.ExecuteOptions{
		Argv:      argv(f),
		EntryPath: f.entryPath,
	})
	if !result.OK {
		return fmt.Errorf("execution failed: %s", result.Error)
	}

	names, err := rt.GetFilesystem().Readdir("/")
	if err != nil {
		return fmt.Errorf("listing virtual filesystem: %w", err)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// envFromKVArgs lets -arg double as a way to seed process.env for scripts
// that read configuration that way instead of from argv.
func envFromKVArgs(kvArgs []string) map[string]string {
	env := make(map[string]string, len(kvArgs))
	for _, kv := range kvArgs {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		env[k] = v
	}
	return env
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
