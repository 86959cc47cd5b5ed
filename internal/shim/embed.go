// Package shim provides the host-provided standard library builtins:
// pure-JS modules for path/events/url/querystring/buffer/util/
// stream/module/child_process, and native Go-backed modules for
// crypto/process/fs, all reachable both by bare specifier ("fs") and the
// "node:" scheme.
package shim

import "embed"

//go:embed js/*.js
var jsSources embed.FS
