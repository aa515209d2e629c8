package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownBackend = errors.New("compute: unknown backend")
	ErrUnavailable    = errors.New("compute: backend not available")
)

type Backend interface {
	Name() string
	Available() bool
	Workers() int
	// Run splits [0, n) into at most Workers() contiguous chunks of at least
	// minChunk items and calls fn once per chunk. The first error cancels
	// the context passed to the other chunks.
	Run(ctx context.Context, n, minChunk int, fn func(ctx context.Context, chunk, start, end int) error) error
	Describe() string
	Cleanup()
}

// New returns the backend registered under name. workers <= 0 selects the
// backend's default parallelism.
func New(name string, workers int) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "cpu":
		return NewCPUBackend(workers), nil
	case "gpu", "cuda":
		gpu := NewGPUBackend()
		if !gpu.Available() {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
		}
		return gpu, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

// Chunks returns the [start, end) ranges Run would use for n items.
func Chunks(n, minChunk, workers int) [][2]int {
	if n <= 0 {
		return nil
	}
	if minChunk < 1 {
		minChunk = 1
	}
	if workers < 1 {
		workers = 1
	}
	if n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (n + workers - 1) / workers
	out := make([][2]int, 0, workers)
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
