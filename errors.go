package assetpipe

import (
	"errors"
	"fmt"
)

// ErrNeedsCompilation signals, in dry-run mode, that at least one bundle
// would need to be (re)compiled. It carries no payload; callers check for
// it with errors.Is.
var ErrNeedsCompilation = errors.New("pipeline: compilation needed")

// ParseError is raised when a template's include_* block or static_url()
// call cannot be parsed — e.g. a non-literal argument to static_url.
type ParseError struct {
	SourcePath string
	Message    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.SourcePath, e.Message)
}

// DependencyError is raised when an asset references a file that does not
// exist on disk, or when the dependency graph contains a cycle.
type DependencyError struct {
	SourcePath string
	Missing    []string
}

func (e *DependencyError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("dependency error in %s", e.SourcePath)
	}
	return fmt.Sprintf("dependency error in %s: missing %v", e.SourcePath, e.Missing)
}

// CompileError wraps a non-zero exit from an external compiler/minifier
// invocation.
type CompileError struct {
	Argv   []string
	Stderr string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error running %v: %s", e.Argv, e.Stderr)
}

func (e *CompileError) Unwrap() error { return e.Err }

// UploadError wraps a failure to HEAD or PUT an object in the object store.
type UploadError struct {
	Key string
	Op  string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ManifestCorruptError marks a manifest file that failed to parse; callers
// treat this as non-fatal and rebuild from an empty manifest.
type ManifestCorruptError struct {
	Path string
	Err  error
}

func (e *ManifestCorruptError) Error() string {
	return fmt.Sprintf("manifest at %s is corrupt: %v", e.Path, e.Err)
}

func (e *ManifestCorruptError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Run to the process exit code defined
// by the CLI surface: 0 success, 1 dry-run-needs-compile, 2 parse/dependency
// error, 3 compile error, 4 upload error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var parseErr *ParseError
	var depErr *DependencyError
	var compileErr *CompileError
	var uploadErr *UploadError

	switch {
	case errors.Is(err, ErrNeedsCompilation):
		return 1
	case errors.As(err, &parseErr), errors.As(err, &depErr):
		return 2
	case errors.As(err, &compileErr):
		return 3
	case errors.As(err, &uploadErr):
		return 4
	default:
		return 2
	}
}
