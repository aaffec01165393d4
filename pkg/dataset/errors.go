package dataset

import "errors"

// Failure classes shared by every stage of a run. Callers wrap them with
// fmt.Errorf("...: %w", err) and classify with errors.Is.
var (
	// ErrConfiguration: invalid worker count, missing input directory,
	// bad parameter combination. Raised before any work starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrIO: a working file or directory could not be created, opened or removed.
	ErrIO = errors.New("io failure")
	// ErrExtraction: an image could not be decoded or tiled.
	ErrExtraction = errors.New("extraction failure")
	// ErrMergeInconsistency: a chunk's intermediate sink is absent at merge time.
	ErrMergeInconsistency = errors.New("merge inconsistency")
	// ErrWorkerFailed: a worker terminated abnormally.
	ErrWorkerFailed = errors.New("worker failed")
)

// ExitCode maps an error to the process exit status. A worker failure is
// a runtime failure whatever its cause.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrWorkerFailed):
		return 1
	case errors.Is(err, ErrConfiguration):
		return 2
	default:
		return 1
	}
}
