package compute

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"
)

type CPUBackend struct {
	workers int
}

func NewCPUBackend(workers int) *CPUBackend {
	if workers <= 0 {
		workers = cpuid.CPU.PhysicalCores
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{workers: workers}
}

func (c *CPUBackend) Name() string    { return "cpu" }
func (c *CPUBackend) Available() bool { return true }
func (c *CPUBackend) Workers() int    { return c.workers }
func (c *CPUBackend) Cleanup()        {}

func (c *CPUBackend) Run(ctx context.Context, n, minChunk int, fn func(ctx context.Context, chunk, start, end int) error) error {
	chunks := Chunks(n, minChunk, c.workers)
	if len(chunks) == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, 0, chunks[0][0], chunks[0][1])
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i, ch[0], ch[1])
		})
	}
	return g.Wait()
}

// Describe reports the CPU model, worker count and the SIMD extensions the
// matrix kernels can use.
func (c *CPUBackend) Describe() string {
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	if len(feats) == 0 {
		feats = append(feats, "scalar")
	}

	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return fmt.Sprintf("cpu (%s, %d workers, %s)", brand, c.workers, strings.Join(feats, "+"))
}
