package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"church-assistant/internal/domain"
)

// Store is the persistence the seeder writes to.
type Store interface {
	CountKnowledge(ctx context.Context) (int, error)
	PutKnowledge(ctx context.Context, entries []domain.KnowledgeEntry) error
}

// Result reports what a seeding run did.
type Result struct {
	Existing int  `json:"existing"`
	Added    int  `json:"entriesAdded"`
	Skipped  bool `json:"skipped"`
}

// Seeder populates a knowledge store.
type Seeder struct {
	store  Store
	logger *slog.Logger
}

func NewSeeder(store Store, logger *slog.Logger) (*Seeder, error) {
	if store == nil {
		return nil, errors.New("knowledge: store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, logger: logger}, nil
}

// Seed writes entries when the store is empty. With force the entries are
// written regardless; entries with an existing id are overwritten.
func (s *Seeder) Seed(ctx context.Context, entries []domain.KnowledgeEntry, force bool) (Result, error) {
	existing, err := s.store.CountKnowledge(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("knowledge: count entries: %w", err)
	}
	if existing > 0 && !force {
		s.logger.InfoContext(ctx, "knowledge base already populated", "existing", existing)
		return Result{Existing: existing, Skipped: true}, nil
	}
	if len(entries) == 0 {
		return Result{Existing: existing}, nil
	}

	if err := s.store.PutKnowledge(ctx, entries); err != nil {
		return Result{Existing: existing}, fmt.Errorf("knowledge: write entries: %w", err)
	}
	s.logger.InfoContext(ctx, "knowledge base populated", "existing", existing, "added", len(entries), "force", force)
	return Result{Existing: existing, Added: len(entries)}, nil
}
