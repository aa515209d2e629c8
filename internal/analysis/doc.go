// Package analysis characterises trajectories of the reference system:
//
//   - [LargestLyapunov]: largest Lyapunov exponent by two-trajectory
//     separation with per-step renormalisation
//   - [NewPortrait]: 2D projection of a trajectory for phase plots
//
// The Lyapunov time 1/lambda bounds how far ahead any surrogate can be
// expected to track the true solution:
//
//	lambda, _ := analysis.LargestLyapunov(lorenz, rk4, x0, 0.01, 10, 100, 1e-8)
//	horizon := analysis.LyapunovTime(lambda)
package analysis
