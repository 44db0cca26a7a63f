package admin

import "errors"

var (
	ErrInvalidMode     = errors.New("invalid activation mode")
	ErrAddressRequired = errors.New("admin address is required")
)
