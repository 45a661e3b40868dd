package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/scanner"
)

// StrategySource implements SourceGateway via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	logger   *slog.Logger
}

var _ ports.SourceGateway = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry.
func NewStrategySource(reg *scanner.Registry, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		logger:   log,
	}
}

// FetchCandidates runs the source's adapter and returns at most limit
// candidates, de-duplicated by link, in upstream order.
func (s *StrategySource) FetchCandidates(ctx context.Context, src domain.Source, limit int) ([]domain.Candidate, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	adapter := src.Adapter
	if adapter == "" {
		adapter = "feed"
	}
	strategy, err := s.registry.Resolve(adapter)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}

	s.debug("scan source", "source", src.ID, "scanner", adapter, "limit", limit)
	results, err := strategy.Scan(ctx, scanner.Request{
		SourceID: src.ID,
		Name:     src.Name,
		URL:      src.FeedURL,
		Selector: src.Selector,
		Options:  src.Options,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("scan source %s: %w", src.ID, err)
	}

	out := make([]domain.Candidate, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, c := range results {
		link := strings.TrimSpace(c.Link)
		if link == "" {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		c.Link = link
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	s.debug("source produced candidates", "source", src.ID, "count", len(out))
	return out, nil
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
