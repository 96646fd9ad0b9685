package domain

import "errors"

// Error taxonomy. Components wrap these with context; callers classify with errors.Is.
var (
	// ErrPatternMismatch is returned when a filename matches no level grammar.
	ErrPatternMismatch = errors.New("pattern mismatch")
	// ErrMissingField is returned when a filename cannot be built from the given fields.
	ErrMissingField = errors.New("missing field")
	// ErrMissingInput is returned when a job has no source files.
	ErrMissingInput = errors.New("missing input")
	// ErrGeoreferenceMismatch is returned when composite inputs are not co-registered.
	ErrGeoreferenceMismatch = errors.New("georeference mismatch")
	// ErrQualityDataMissing is returned when quality filtering is requested on a
	// file without a quality array.
	ErrQualityDataMissing = errors.New("quality data missing")
	// ErrTimeout is recorded when a batch item exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled is returned when an operator interrupt halts processing.
	ErrCancelled = errors.New("cancelled")

	ErrInvalidGrid  = errors.New("invalid grid")
	ErrUnknownEntry = errors.New("unknown catalog entry")
)
