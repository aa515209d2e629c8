// Package compute provides the worker backends used to spread a training
// batch across cores.
//
// Backends are chosen explicitly by name from configuration:
//
//   - cpu: goroutine fan-out sized from the physical core count
//   - gpu: recognised, reported unavailable in this build
//
// Run splits the rows into contiguous chunks and calls fn once per chunk:
//
//	backend, err := compute.New(cfg.Backend, 0)
//	err = backend.Run(ctx, rows, 64, func(ctx context.Context, chunk, start, end int) error {
//		return nil
//	})
package compute
