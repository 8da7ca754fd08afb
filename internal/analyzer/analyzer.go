// Package analyzer turns chunks of site source into raw fix proposals.
package analyzer

import (
	"context"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// Analyzer proposes fixes for one chunk. Implementations may call a remote
// model, so Analyze is expected to block and to honor ctx.
type Analyzer interface {
	Analyze(ctx context.Context, chunk seo.Chunk) ([]seo.RawProposal, error)
}

// Func adapts a function to Analyzer.
type Func func(ctx context.Context, chunk seo.Chunk) ([]seo.RawProposal, error)

// Analyze implements Analyzer.
func (f Func) Analyze(ctx context.Context, chunk seo.Chunk) ([]seo.RawProposal, error) {
	return f(ctx, chunk)
}

// Site describes the site being audited. It is passed to the model with every chunk.
type Site struct {
	URL      string   `json:"site_url"`
	Language string   `json:"site_language"`
	Keywords []string `json:"keywords"`
}
