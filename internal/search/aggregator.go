// Package search fans a query out to every configured search provider and
// synthesizes the answers into one summary.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/veridexhq/veridex/internal/domain"
)

// FallbackSummary is returned when no provider answered or the synthesis
// model is unavailable.
const FallbackSummary = "Unable to summarize search results."

const summarySystemPrompt = "You are a research assistant. Given answers from " +
	"several search engines for the same query, write a single concise summary " +
	"of what the sources agree on. Note significant disagreement. Reply with " +
	"the summary only."

// Provider is one search backend. Search returns the provider's direct
// answer (may be empty) and its document hits.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxHits int) (answer string, hits []domain.SearchHit, err error)
}

// Summarizer produces the synthesis over provider answers.
type Summarizer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// Aggregator runs a query against all providers concurrently and summarizes
// the results.
type Aggregator struct {
	providers  []Provider
	summarizer Summarizer
	model      string
	maxHits    int
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator over the given providers. model is the
// completion model used for the synthesis.
func NewAggregator(providers []Provider, summarizer Summarizer, model string, maxHits int, logger *slog.Logger) *Aggregator {
	if maxHits <= 0 {
		maxHits = 5
	}
	return &Aggregator{
		providers:  providers,
		summarizer: summarizer,
		model:      model,
		maxHits:    maxHits,
		logger:     logger.With(slog.String("component", "search")),
	}
}

// Execute fans the query out to every provider. A provider failure never
// fails the aggregate: the failing provider's Err field is set and the
// synthesis runs over whatever answered. Execute returns an error only when
// there are no providers at all.
func (a *Aggregator) Execute(ctx context.Context, query string) (domain.SearchOutcome, error) {
	if len(a.providers) == 0 {
		return domain.SearchOutcome{}, fmt.Errorf("search: no providers configured")
	}

	results := make([]domain.ProviderResult, len(a.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			answer, hits, err := p.Search(gctx, query, a.maxHits)
			res := domain.ProviderResult{Provider: p.Name()}
			if err != nil {
				res.Err = err.Error()
				a.logger.WarnContext(gctx, "provider failed",
					slog.String("provider", p.Name()),
					slog.String("error", err.Error()))
			} else {
				res.Answer = answer
				res.Hits = hits
			}
			results[i] = res
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.SearchOutcome{}, fmt.Errorf("search: execute: %w", err)
	}

	return domain.SearchOutcome{
		Summary: a.summarize(ctx, query, results),
		Results: results,
	}, nil
}

// summarize synthesizes the non-error answers into one summary. Any failure
// yields the fixed fallback string instead of an error so a flaky model
// never fails a completed search.
func (a *Aggregator) summarize(ctx context.Context, query string, results []domain.ProviderResult) string {
	evidence := BuildEvidence(results)
	if evidence == "" {
		return FallbackSummary
	}

	prompt := fmt.Sprintf("Query: %s\n\nSource answers:\n%s", query, evidence)
	summary, err := a.summarizer.Complete(ctx, a.model, summarySystemPrompt, prompt)
	if err != nil {
		a.logger.WarnContext(ctx, "summary failed", slog.String("error", err.Error()))
		return FallbackSummary
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return FallbackSummary
	}
	return summary
}

// BuildEvidence renders the non-error provider results as a plain-text
// evidence block. It returns the empty string when every provider errored
// or answered with nothing usable.
func BuildEvidence(results []domain.ProviderResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Err != "" {
			continue
		}
		if r.Answer == "" && len(r.Hits) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n", r.Provider)
		if r.Answer != "" {
			fmt.Fprintf(&b, "%s\n", r.Answer)
		}
		for i, h := range r.Hits {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s: %s\n", h.Title, h.Snippet)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
