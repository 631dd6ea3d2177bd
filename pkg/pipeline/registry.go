package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
)

// Stage keys shipped with the binary.
const (
	LoaderHTTP       = "http"
	LoaderFile       = "file"
	ProcessorRSS     = "rss"
	ProcessorSitemap = "sitemap"
	NormalizerRSS    = "rss"

	// Enriched variants fetch each item's page for Open Graph metadata.
	ProcessorRSSPage     = "rss_og"
	ProcessorSitemapPage = "sitemap_og"
)

// Registry resolves stage implementations by profile key.
type Registry struct {
	mu          sync.RWMutex
	loaders     map[string]Loader
	processors  map[string]Processor
	normalizers map[string]Normalizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		loaders:     make(map[string]Loader),
		processors:  make(map[string]Processor),
		normalizers: make(map[string]Normalizer),
	}
}

// DefaultRegistry wires the built-in stages.
func DefaultRegistry(client httpclient.Client, opts NormalizeOptions) *Registry {
	r := NewRegistry()
	r.RegisterLoader(LoaderHTTP, NewHTTPLoader(client))
	r.RegisterLoader(LoaderFile, NewFileLoader())
	r.RegisterProcessor(ProcessorRSS, NewRSSProcessor())
	r.RegisterProcessor(ProcessorSitemap, NewSitemapProcessor())
	if client != nil {
		r.RegisterProcessor(ProcessorRSSPage, NewEnrichingProcessor(NewRSSProcessor(), client))
		r.RegisterProcessor(ProcessorSitemapPage, NewEnrichingProcessor(NewSitemapProcessor(), client))
	}
	r.RegisterNormalizer(NormalizerRSS, NewRSSNormalizer(opts))
	return r
}

func normKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

func (r *Registry) RegisterLoader(key string, l Loader) {
	if l == nil || normKey(key) == "" {
		return
	}
	r.mu.Lock()
	r.loaders[normKey(key)] = l
	r.mu.Unlock()
}

func (r *Registry) RegisterProcessor(key string, p Processor) {
	if p == nil || normKey(key) == "" {
		return
	}
	r.mu.Lock()
	r.processors[normKey(key)] = p
	r.mu.Unlock()
}

func (r *Registry) RegisterNormalizer(key string, n Normalizer) {
	if n == nil || normKey(key) == "" {
		return
	}
	r.mu.Lock()
	r.normalizers[normKey(key)] = n
	r.mu.Unlock()
}

// Stages is the resolved triple for one profile.
type Stages struct {
	Loader     Loader
	Processor  Processor
	Normalizer Normalizer
}

// Resolve returns the stages named by the profile.
func (r *Registry) Resolve(p domain.Profile) (Stages, error) {
	if r == nil {
		return Stages{}, fmt.Errorf("pipeline registry is nil")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	l, ok := r.loaders[normKey(p.Loader)]
	if !ok {
		errs = append(errs, fmt.Errorf("unknown loader %q", p.Loader))
	}
	proc, ok := r.processors[normKey(p.Processor)]
	if !ok {
		errs = append(errs, fmt.Errorf("unknown processor %q", p.Processor))
	}
	n, ok := r.normalizers[normKey(p.Normalizer)]
	if !ok {
		errs = append(errs, fmt.Errorf("unknown normalizer %q", p.Normalizer))
	}
	if len(errs) > 0 {
		return Stages{}, fmt.Errorf("profile %q: %w", p.Key, errors.Join(errs...))
	}
	return Stages{Loader: l, Processor: proc, Normalizer: n}, nil
}

// Validate fails when any key of the profile is unregistered.
func (r *Registry) Validate(p domain.Profile) error {
	_, err := r.Resolve(p)
	return err
}
