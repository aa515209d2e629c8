package config

import (
	"fmt"
	"sort"

	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/physics"
)

type Preset struct {
	Description string
	build       func(c *Config)
}

// Presets scale the same experiment from a seconds-long smoke run up to
// the full-size training.
var Presets = map[string]Preset{
	"default": {
		Description: "full run: Q=1000, N=50000, 6x100 networks, 400000 epochs",
		build:       func(c *Config) {},
	},
	"medium": {
		Description: "Q=200, N=2000, 4x50 networks, 20000 epochs",
		build: func(c *Config) {
			c.Sampling.Q, c.Sampling.N = 200, 2000
			c.Model = architecture(50, 4, 50)
			c.Training.Epochs = 20000
			c.Training.BatchSize = 2000
			c.Training.Scheduler.DecayFrequency = 1000
			c.Training.LogEvery = 500
		},
	},
	"smoke": {
		Description: "Q=20, N=50, 2x16 networks, 200 epochs",
		build: func(c *Config) {
			c.Sampling.Q, c.Sampling.N = 20, 50
			c.Model = architecture(16, 2, 8)
			c.Training.Epochs = 200
			c.Training.BatchSize = 256
			c.Training.Scheduler.DecayFrequency = 50
			c.Training.LogEvery = 20
			c.Training.MinChunk = 32
		},
	},
	"rossler": {
		Description: "medium-size run on the Rossler system, states in [-15,15]^2 x [0,30]",
		build: func(c *Config) {
			sys := physics.NewRossler()
			c.System = "rossler"
			c.Residual.Expressions = sys.Residuals()
			c.Residual.Outputs = sys.Variables()
			c.Residual.Constants = sys.GetParams()
			c.Sampling.Q, c.Sampling.N = 200, 2000
			c.Sampling.StateLower = [3]float64{-15, -15, 0}
			c.Sampling.StateUpper = [3]float64{15, 15, 30}
			c.Sampling.TestState = [3]float64(sys.DefaultState())
			c.Sampling.TimeInterval = [2]float64{0, 5}
			c.Model = architecture(50, 4, 50)
			c.Training.Epochs = 20000
			c.Training.BatchSize = 2000
			c.Training.Scheduler.DecayFrequency = 1000
			c.Training.LogEvery = 500
		},
	},
}

// architecture is the default network with depth hidden layers of width
// units and the given latent size.
func architecture(width, depth, latent int) nn.Architecture {
	a := nn.DefaultArchitecture()
	units := make([]int, depth)
	for i := range units {
		units[i] = width
	}
	a.Latent = latent
	a.EncoderWidth = width
	a.Trunk.Units = units
	a.Trunk.OutputSize = latent * a.VarDim
	a.Branch.Units = append([]int(nil), units...)
	a.Branch.OutputSize = latent * a.VarDim
	return a
}

// GetPreset returns a fresh copy of the defaults with the named preset
// applied.
func GetPreset(name string) (*Config, error) {
	p, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	cfg := DefaultConfig()
	p.build(cfg)
	return cfg, nil
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
