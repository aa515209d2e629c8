package compute

import "context"

// GPUBackend stands in for an accelerator build. It is never available, so
// New reports ErrUnavailable instead of silently falling back to the CPU.
type GPUBackend struct{}

func NewGPUBackend() *GPUBackend {
	return &GPUBackend{}
}

func (g *GPUBackend) Name() string     { return "gpu" }
func (g *GPUBackend) Available() bool  { return false }
func (g *GPUBackend) Workers() int     { return 0 }
func (g *GPUBackend) Describe() string { return "gpu (not available)" }
func (g *GPUBackend) Cleanup()         {}

func (g *GPUBackend) Run(ctx context.Context, n, minChunk int, fn func(ctx context.Context, chunk, start, end int) error) error {
	return ErrUnavailable
}
