package pipeline

import (
	"errors"
	"fmt"

	"genbak/src/dockerapi"
)

// Exit codes exposed at the process boundary. Non-zero always means nothing
// was committed as latest.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitNotFound = 2
	ExitFailed   = 3
)

// UsageError marks a bad invocation: unknown flags, malformed arguments,
// unparseable option values. Exit code 1 is reserved for these; a failure
// after a valid invocation is never reported as one.
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// TransferError is an I/O failure while copying one mount. It aborts the run
// before sealing.
type TransferError struct {
	Mount string
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of mount %s failed: %v", e.Mount, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IncompleteMetadata reports a restore blob missing a mandatory field.
type IncompleteMetadata struct {
	Workload string
	Field    string
}

func (e *IncompleteMetadata) Error() string {
	return fmt.Sprintf("metadata of %s is missing mandatory field %s", e.Workload, e.Field)
}

// PackagingError wraps an archive codec failure.
type PackagingError struct {
	Path string
	Err  error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("packaging %s failed: %v", e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// NotFoundError reports a missing generation or archive. Missing workloads
// surface as dockerapi.NotFoundError.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref) }

// ExitCode maps an error to the documented process exit code. Anything not
// tagged as a usage or not-found error is a run failure: by the time a run
// can fail, the invocation was valid.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		usage           *UsageError
		runtimeNotFound *dockerapi.NotFoundError
		storeNotFound   *NotFoundError
	)
	switch {
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &runtimeNotFound), errors.As(err, &storeNotFound):
		return ExitNotFound
	default:
		return ExitFailed
	}
}
