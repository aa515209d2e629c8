package physics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

var ErrUnknownSystem = errors.New("physics: unknown system")

// System is a reference system that can also state its governing equations
// as residual expressions over its own parameter names.
type System interface {
	dynamo.System
	DefaultState() dynamo.State
	GetParams() map[string]float64
	SetParam(name string, v float64) error
	Variables() []string
	Residuals() []string
}

var systems = map[string]func() System{
	"lorenz":  func() System { return NewLorenz() },
	"rossler": func() System { return NewRossler() },
}

func New(name string) (System, error) {
	fn, ok := systems[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownSystem, name, Names())
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(systems))
	for name := range systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configure sets every parameter of sys that appears in constants and
// ignores the rest.
func Configure(sys System, constants map[string]float64) error {
	for name := range sys.GetParams() {
		if v, ok := constants[name]; ok {
			if err := sys.SetParam(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}
