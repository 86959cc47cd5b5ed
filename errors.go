package nodepack

import "fmt"

// ErrNotInitialized is returned by Execute when it is called before
// Initialize, or after Terminate.
var ErrNotInitialized = fmt.Errorf("nodepack: Runtime not initialized")

// ModuleNotFoundError reports that a module specifier could not be resolved
// from an importing module.
type ModuleNotFoundError struct {
	Spec string // the import/require specifier as written by the guest
	From string // the resolved path of the importing module
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("nodepack: module %q not found (imported from %q)", e.Spec, e.From)
}

// ExportsNotMappedError reports that a subpath fell outside a package's
// "exports" map.
type ExportsNotMappedError struct {
	Package string
	Subpath string
}

func (e *ExportsNotMappedError) Error() string {
	return fmt.Sprintf("nodepack: subpath %q is not exported by package %q", e.Subpath, e.Package)
}

// FetchFailedError reports that the npm client could not retrieve a
// registry resource (manifest or tarball).
type FetchFailedError struct {
	URL string
	Err error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("nodepack: fetch failed for %q: %v", e.URL, e.Err)
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

// UnsupportedEncodingError reports an unrecognized buffer/string encoding
// name passed to a buffer or fs shim call.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("nodepack: unsupported encoding %q", e.Encoding)
}
