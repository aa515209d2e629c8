package nn

import "errors"

var (
	ErrInvalidArchitecture = errors.New("nn: invalid architecture")
	ErrDimensionMismatch   = errors.New("nn: dimension mismatch")
	ErrUnknownActivation   = errors.New("nn: unknown activation")
	ErrMissingInput        = errors.New("nn: missing named input")
)
