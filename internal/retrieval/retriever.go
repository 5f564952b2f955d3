// Package retrieval ranks knowledge-base entries against a chat message with a
// keyword-overlap heuristic.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"church-assistant/internal/domain"
)

const (
	// CandidateLimit bounds how many entries are fetched from the source.
	CandidateLimit = 5
	// MaxResults bounds how many scored entries are returned.
	MaxResults = 3
)

// KnowledgeSource reads candidate entries for a query. Implementations may
// ignore the query (store order) or pre-filter with native text search.
type KnowledgeSource interface {
	SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error)
}

type Retriever struct {
	source KnowledgeSource
	logger *slog.Logger
}

func New(source KnowledgeSource, logger *slog.Logger) (*Retriever, error) {
	if source == nil {
		return nil, errors.New("retrieval: knowledge source must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{source: source, logger: logger}, nil
}

// Retrieve returns at most MaxResults entries with a positive score, highest
// first. Ties keep the order the source returned them in. A failing source
// degrades to an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string) []domain.ScoredEntry {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil
	}

	candidates, err := r.source.SearchKnowledge(ctx, query, CandidateLimit)
	if err != nil {
		r.logger.WarnContext(ctx, "knowledge search failed, continuing without context", "err", err)
		return nil
	}

	return Rank(candidates, keywords, MaxResults)
}

// Rank scores candidates against keywords, drops zero scores, sorts stably
// by descending score and truncates to limit.
func Rank(candidates []domain.KnowledgeEntry, keywords []string, limit int) []domain.ScoredEntry {
	scored := make([]domain.ScoredEntry, 0, len(candidates))
	for _, entry := range candidates {
		if s := Score(entry, keywords); s > 0 {
			scored = append(scored, domain.ScoredEntry{Entry: entry, Score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Score counts the keywords that occur anywhere in the entry's title,
// content or tags. Each keyword counts at most once.
func Score(entry domain.KnowledgeEntry, keywords []string) int {
	haystack := strings.ToLower(entry.Title + " " + entry.Content + " " + strings.Join(entry.Tags, " "))
	score := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			score++
		}
	}
	return score
}

// Keywords lowercases the query and splits it on whitespace. Repeated
// keywords are kept once, in first-seen order.
func Keywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
