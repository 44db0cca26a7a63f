package daemon

import "errors"

var (
	ErrConfigNil      = errors.New("suite config is nil")
	ErrCatalogNil     = errors.New("class catalog is nil")
	ErrUnknownLevel   = errors.New("unknown log level")
	ErrUnknownFormat  = errors.New("unknown log format")
	ErrAlreadyStarted = errors.New("daemon already started")
)
