package saver

import "errors"

// Errors returned by the saver. Callers match them with errors.Is; the
// wrapped error carries the item index and the underlying cause.
var (
	// ErrConfiguration reports an invalid OutputSpec
	ErrConfiguration = errors.New("invalid saver configuration")

	// ErrMissingMetadata reports a batch without usable source filenames
	ErrMissingMetadata = errors.New("missing batch metadata")

	// ErrSourceRead reports that orientation metadata could not be read
	// from a source file
	ErrSourceRead = errors.New("failed to read source orientation")

	// ErrFilesystem reports a directory or file write failure
	ErrFilesystem = errors.New("filesystem error")

	// ErrPathCollision reports a second write to the same output path when
	// the saver is configured to refuse overwrites
	ErrPathCollision = errors.New("output path collision")
)
