// Package pipeline runs the audit end to end: chunk, analyze, normalize,
// reconcile, review and patch. The same steps back the CLI and the queue
// workers.
package pipeline

import (
	"errors"
	"time"

	"github.com/sbenjam1n/seopatch/internal/analyzer"
	"github.com/sbenjam1n/seopatch/internal/breaker"
	"github.com/sbenjam1n/seopatch/internal/chunker"
	"github.com/sbenjam1n/seopatch/internal/logger"
	"github.com/sbenjam1n/seopatch/internal/metrics"
	"github.com/sbenjam1n/seopatch/internal/patch"
	"github.com/sbenjam1n/seopatch/internal/store"
)

// Options configures a Pipeline. Store is always required. Chunker and
// Analyzer are needed for analysis, Engine for patching.
type Options struct {
	Store    store.Store
	Chunker  *chunker.Chunker
	Analyzer analyzer.Analyzer
	Engine   *patch.Engine
	Breaker  breaker.Breaker
	Log      *logger.Logger
	Metrics  *metrics.Metrics

	// MaxConcurrent bounds in-flight analyzer calls and files patched at once.
	MaxConcurrent int
	// MaxAttempts is how many times one chunk is sent before giving up.
	MaxAttempts int
	// RetryInterval is the first wait between attempts. It grows exponentially.
	RetryInterval time.Duration
}

// Pipeline wires the audit components together.
type Pipeline struct {
	store         store.Store
	chunker       *chunker.Chunker
	analyzer      analyzer.Analyzer
	engine        *patch.Engine
	breaker       breaker.Breaker
	log           *logger.Logger
	metrics       *metrics.Metrics
	maxConcurrent int
	maxAttempts   int
	retryInterval time.Duration
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	p := &Pipeline{
		store:         opts.Store,
		chunker:       opts.Chunker,
		analyzer:      opts.Analyzer,
		engine:        opts.Engine,
		breaker:       opts.Breaker,
		log:           opts.Log,
		metrics:       opts.Metrics,
		maxConcurrent: opts.MaxConcurrent,
		maxAttempts:   opts.MaxAttempts,
		retryInterval: opts.RetryInterval,
	}
	if p.chunker == nil {
		p.chunker = chunker.NewDefault()
	}
	if p.breaker == nil {
		p.breaker = breaker.NewMemory(breaker.DefaultThreshold)
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if p.maxConcurrent < 1 {
		p.maxConcurrent = 3
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 3
	}
	if p.retryInterval <= 0 {
		p.retryInterval = 2 * time.Second
	}
	p.log = p.log.With("component", "pipeline")
	return p, nil
}

// Store returns the pipeline's store.
func (p *Pipeline) Store() store.Store { return p.store }

var (
	errNoAnalyzer = errors.New("pipeline: no analyzer configured")
	errNoEngine   = errors.New("pipeline: no patch engine configured")
)
