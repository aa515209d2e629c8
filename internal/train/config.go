package train

import (
	"fmt"
	"strings"

	"github.com/san-kum/lorenzonet/internal/optim"
)

// LossOPIRMSE is the operator physics-informed mean squared loss: weighted
// residual and initial-condition terms plus optional L1/L2 penalties.
const LossOPIRMSE = "opirmse"

type Config struct {
	Optimizer       string                `yaml:"optimizer"`
	LR              float64               `yaml:"lr"`
	Adam            optim.AdamParams      `yaml:"adam"`
	Scheduler       optim.SchedulerParams `yaml:"lr_decay_scheduler"`
	Loss            string                `yaml:"loss"`
	WeightsResidual []float64             `yaml:"weights_residual"`
	Weights         []float64             `yaml:"weights"`
	Lambda1         float64               `yaml:"lambda_1"`
	Lambda2         float64               `yaml:"lambda_2"`
	Epochs          int                   `yaml:"epochs"`
	BatchSize       int                   `yaml:"batch_size"`
	LogEvery        int                   `yaml:"log_every"`

	// MinChunk is the smallest slice of a batch handed to one worker.
	MinChunk int `yaml:"min_chunk"`
}

func DefaultConfig() Config {
	return Config{
		Optimizer: "adam",
		LR:        1e-3,
		Adam:      optim.DefaultAdamParams(),
		Scheduler: optim.SchedulerParams{
			Name:           "ExponentialLR",
			Gamma:          0.9,
			DecayFrequency: 5000,
		},
		Loss:            LossOPIRMSE,
		WeightsResidual: []float64{1, 1, 1},
		Weights:         []float64{1, 1, 1},
		Epochs:          400000,
		BatchSize:       10000,
		LogEvery:        1000,
		MinChunk:        256,
	}
}

// Validate checks the config against a model with the given number of
// outputs and a residual with the given number of equations.
func (c Config) Validate(outputs, equations int) error {
	if strings.ToLower(c.Loss) != LossOPIRMSE {
		return fmt.Errorf("%w: %q", ErrUnknownLoss, c.Loss)
	}
	if c.Epochs <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("%w: epochs %d, batch size %d", ErrInvalidConfig, c.Epochs, c.BatchSize)
	}
	if c.LogEvery < 0 || c.MinChunk < 0 {
		return fmt.Errorf("%w: log_every %d, min_chunk %d", ErrInvalidConfig, c.LogEvery, c.MinChunk)
	}
	if len(c.WeightsResidual) != equations {
		return fmt.Errorf("%w: %d residual weights for %d equations", ErrInvalidConfig, len(c.WeightsResidual), equations)
	}
	if len(c.Weights) != outputs {
		return fmt.Errorf("%w: %d initial-condition weights for %d outputs", ErrInvalidConfig, len(c.Weights), outputs)
	}
	if c.Lambda1 < 0 || c.Lambda2 < 0 {
		return fmt.Errorf("%w: negative penalty lambda_1=%g lambda_2=%g", ErrInvalidConfig, c.Lambda1, c.Lambda2)
	}
	return nil
}
