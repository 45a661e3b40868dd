package scanner

import (
	"context"
	"fmt"
	"sort"

	"NewsIngest/internal/domain"
)

// Request carries all parameters required to execute a scan.
type Request struct {
	SourceID string
	Name     string
	URL      string
	Selector string
	Options  map[string]string
	// Limit bounds the number of candidates; 0 means no bound.
	Limit int
}

// Option returns a source option or def when unset.
func (r Request) Option(key, def string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Scanner captures a single strategy implementation (feed, html, sitemap).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Candidate, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds a registry holding the given scanners.
func NewRegistry(scanners ...Scanner) *Registry {
	r := &Registry{scanners: map[string]Scanner{}}
	for _, s := range scanners {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Names lists registered scanners in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for n := range r.scanners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
