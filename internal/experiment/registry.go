package experiment

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/lorenzonet/internal/dynamo"
	"github.com/san-kum/lorenzonet/internal/integrators"
	"github.com/san-kum/lorenzonet/internal/metrics"
	"github.com/san-kum/lorenzonet/internal/physics"
)

// Registry resolves the reference side of an experiment by name: the
// system the network learns and the integrator that solves it classically.
type Registry struct {
	integrators map[string]func() dynamo.Integrator
}

func NewRegistry() *Registry {
	r := &Registry{
		integrators: make(map[string]func() dynamo.Integrator),
	}
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["dopri5"] = func() dynamo.Integrator { return integrators.NewDOPRI5() }
	return r
}

// GetSystem returns the named system with its parameters taken from
// constants.
func (r *Registry) GetSystem(name string, constants map[string]float64) (physics.System, error) {
	sys, err := physics.New(name)
	if err != nil {
		return nil, err
	}
	if err := physics.Configure(sys, constants); err != nil {
		return nil, err
	}
	return sys, nil
}

func (r *Registry) GetIntegrator(name string) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s (available: %v)", name, r.ListIntegrators())
	}
	return fn(), nil
}

func (r *Registry) ListIntegrators() []string {
	names := make([]string, 0, len(r.integrators))
	for name := range r.integrators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics compares a predicted trajectory with the reference. A
// prediction is counted unstable once it leaves the sampled state box by
// more than a factor of ten.
func (r *Registry) DefaultMetrics(labels []string, lower, upper [3]float64) []metrics.Metric {
	bound := 0.0
	for i := range lower {
		bound = math.Max(bound, math.Max(math.Abs(lower[i]), math.Abs(upper[i])))
	}
	return metrics.Standard(labels, 10*bound)
}
