// Package dynamo provides the ODE primitives shared by the reference solver
// and the physics-informed training loop.
//
//   - [State]: vector representing system state
//   - [System]: interface for autonomous ODE systems (dX/dt = f(X, t))
//   - [Integrator]: numerical integrator interface
//
// The surrogate never integrates anything itself; these types exist so that
// a trained model can be checked against a classical solution of the same
// system.
package dynamo
