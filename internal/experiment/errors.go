package experiment

import "errors"

var (
	ErrNotFound        = errors.New("experiment not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("operation not legal in current state")
)
