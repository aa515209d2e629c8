// Package config holds the typed experiment configuration and its YAML
// form.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/physics"
	"github.com/san-kum/lorenzonet/internal/residual"
	"github.com/san-kum/lorenzonet/internal/sampling"
	"github.com/san-kum/lorenzonet/internal/train"
)

const (
	DefaultQ           = 1000
	DefaultN           = 50000
	DefaultSavePath    = "/tmp"
	DefaultModelName   = "lorenz_deeponet"
	DefaultPlotDir     = "."
	DefaultReferenceDt = 1e-3
)

var (
	ErrInvalidConfig = errors.New("config: invalid config")
	ErrUnknownPreset = errors.New("config: unknown preset")
)

type Config struct {
	// Seed drives sampling, weight init and batch draws; 0 picks one from
	// the clock.
	Seed int64 `yaml:"seed"`

	// System names the reference system in the physics registry. Its
	// parameters are taken from Residual.Constants.
	System string `yaml:"system"`

	Backend  string          `yaml:"backend"`
	Workers  int             `yaml:"workers"`
	Sampling SamplingConfig  `yaml:"sampling"`
	Model    nn.Architecture `yaml:"model"`
	Residual ResidualConfig  `yaml:"residual"`
	Training train.Config    `yaml:"training"`
	Output   OutputConfig    `yaml:"output"`
}

type SamplingConfig struct {
	Q            int        `yaml:"q"`
	N            int        `yaml:"n"`
	TimeInterval [2]float64 `yaml:"t_intv"`
	StateLower   [3]float64 `yaml:"s_lower"`
	StateUpper   [3]float64 `yaml:"s_upper"`
	TestState    [3]float64 `yaml:"test_state"`
}

func (s SamplingConfig) Bounds() sampling.Bounds {
	return sampling.Bounds{T: s.TimeInterval, Lower: s.StateLower, Upper: s.StateUpper}
}

type ResidualConfig struct {
	Expressions []string           `yaml:"expressions"`
	Inputs      []string           `yaml:"inputs"`
	Outputs     []string           `yaml:"outputs"`
	Constants   map[string]float64 `yaml:"constants"`
	InputsKey   string             `yaml:"inputs_key"`
}

func (r ResidualConfig) Spec() residual.Spec {
	return residual.Spec{
		Expressions: r.Expressions,
		Inputs:      r.Inputs,
		Outputs:     r.Outputs,
		Constants:   r.Constants,
		InputsKey:   r.InputsKey,
	}
}

type OutputConfig struct {
	SavePath  string `yaml:"save_path"`
	ModelName string `yaml:"model_name"`
	PlotDir   string `yaml:"plot_dir"`

	// Integrator solves the reference trajectory with steps of at most
	// ReferenceDt. A positive Tolerance lets an adaptive integrator pick
	// shorter steps against its local error estimate.
	Integrator  string  `yaml:"integrator"`
	ReferenceDt float64 `yaml:"reference_dt"`
	Tolerance   float64 `yaml:"tolerance"`
}

func DefaultConfig() *Config {
	lorenz := physics.NewLorenz()
	b := sampling.DefaultBounds()
	return &Config{
		System:  "lorenz",
		Backend: "cpu",
		Sampling: SamplingConfig{
			Q:            DefaultQ,
			N:            DefaultN,
			TimeInterval: b.T,
			StateLower:   b.Lower,
			StateUpper:   b.Upper,
			TestState:    [3]float64(lorenz.DefaultState()),
		},
		Model: nn.DefaultArchitecture(),
		Residual: ResidualConfig{
			Expressions: lorenz.Residuals(),
			Inputs:      []string{"t"},
			Outputs:     lorenz.Variables(),
			Constants:   lorenz.GetParams(),
			InputsKey:   nn.InputTrunk,
		},
		Training: train.DefaultConfig(),
		Output: OutputConfig{
			SavePath:    DefaultSavePath,
			ModelName:   DefaultModelName,
			PlotDir:     DefaultPlotDir,
			Integrator:  "rk4",
			ReferenceDt: DefaultReferenceDt,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto overlays the keys present in a YAML file onto cfg.
func LoadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	s := c.Sampling
	if s.Q <= 0 || s.N <= 0 {
		return fmt.Errorf("%w: sampling q=%d n=%d", ErrInvalidConfig, s.Q, s.N)
	}
	if s.TimeInterval[1] < s.TimeInterval[0] {
		return fmt.Errorf("%w: t_intv %v", ErrInvalidConfig, s.TimeInterval)
	}
	for i := range s.StateLower {
		if s.StateUpper[i] < s.StateLower[i] {
			return fmt.Errorf("%w: state bounds %v..%v", ErrInvalidConfig, s.StateLower, s.StateUpper)
		}
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("%w: model: %w", ErrInvalidConfig, err)
	}
	if _, err := residual.New(c.Residual.Spec()); err != nil {
		return fmt.Errorf("%w: residual: %w", ErrInvalidConfig, err)
	}
	if err := c.Training.Validate(c.Model.VarDim, len(c.Residual.Expressions)); err != nil {
		return fmt.Errorf("%w: training: %w", ErrInvalidConfig, err)
	}

	if _, err := physics.New(c.System); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Backend == "" {
		return fmt.Errorf("%w: backend is empty", ErrInvalidConfig)
	}
	o := c.Output
	if o.ModelName == "" || filepath.Base(o.ModelName) != o.ModelName {
		return fmt.Errorf("%w: model name %q", ErrInvalidConfig, o.ModelName)
	}
	if o.Integrator == "" || o.ReferenceDt <= 0 || o.Tolerance < 0 {
		return fmt.Errorf("%w: reference integrator %q, reference_dt %g, tolerance %g", ErrInvalidConfig, o.Integrator, o.ReferenceDt, o.Tolerance)
	}
	return nil
}
