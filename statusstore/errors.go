package statusstore

import "errors"

var (
	// ErrUnknownEngine is returned for an engine name New does not support.
	ErrUnknownEngine = errors.New("unknown status store engine")

	// ErrUnknownFormat is returned for a file format other than yaml or toml.
	ErrUnknownFormat = errors.New("unknown status file format")

	// ErrInvalidModuleName is returned for module names that cannot be used as
	// a storage key.
	ErrInvalidModuleName = errors.New("invalid module name for status storage")

	// ErrDirectoryRequired is returned when the file engine has no directory.
	ErrDirectoryRequired = errors.New("status directory is required")

	// ErrNotConnected is returned when the redis store is used before Connect.
	ErrNotConnected = errors.New("status store not connected")
)
