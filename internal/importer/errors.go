package importer

import "errors"

var (
	// ErrCancelled is returned when the caller's context is done before
	// or during a pipeline stage.
	ErrCancelled = errors.New("importer: cancelled")
	// ErrModelCreationFailed is returned when stage 1 (create_model)
	// cannot produce a skeletal model — a corrupt or unrecognized
	// archive.
	ErrModelCreationFailed = errors.New("importer: model creation failed")
	// ErrPopulateFailed is returned when the Hooks.Populate step fails.
	ErrPopulateFailed = errors.New("importer: populate failed")
)
