package train

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("train: invalid config")
	ErrDiverged      = errors.New("train: loss is not finite")
	ErrUnknownLoss   = errors.New("train: unknown loss")
)

// TrainingError records the epoch at which training stopped.
type TrainingError struct {
	Epoch   int
	Loss    float64
	Wrapped error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("epoch %d (loss %g): %v", e.Epoch, e.Loss, e.Wrapped)
}

func (e *TrainingError) Unwrap() error {
	return e.Wrapped
}
