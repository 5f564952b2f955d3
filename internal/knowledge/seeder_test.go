package knowledge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"church-assistant/internal/domain"
)

type fakeStore struct {
	count    int
	countErr error
	putErr   error
	puts     [][]domain.KnowledgeEntry
}

func (f *fakeStore) CountKnowledge(context.Context) (int, error) {
	return f.count, f.countErr
}

func (f *fakeStore) PutKnowledge(_ context.Context, entries []domain.KnowledgeEntry) error {
	f.puts = append(f.puts, entries)
	return f.putErr
}

func newTestSeeder(t *testing.T, store Store) *Seeder {
	t.Helper()
	s, err := NewSeeder(store, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	return s
}

var sample = []domain.KnowledgeEntry{
	{ID: "a", Title: "Psaume 23:1", Content: "L'Éternel est mon berger."},
	{ID: "b", Title: "Jean 3:16", Content: "Dieu a tant aimé le monde."},
}

func TestSeed_EmptyStoreIsPopulated(t *testing.T) {
	store := &fakeStore{}
	res, err := newTestSeeder(t, store).Seed(context.Background(), sample, false)
	require.NoError(t, err)
	require.Equal(t, Result{Added: 2}, res)
	require.Len(t, store.puts, 1)
}

func TestSeed_PopulatedStoreIsSkipped(t *testing.T) {
	store := &fakeStore{count: 7}
	res, err := newTestSeeder(t, store).Seed(context.Background(), sample, false)
	require.NoError(t, err)
	require.Equal(t, Result{Existing: 7, Skipped: true}, res)
	require.Empty(t, store.puts)
}

func TestSeed_ForceWritesAnyway(t *testing.T) {
	store := &fakeStore{count: 7}
	res, err := newTestSeeder(t, store).Seed(context.Background(), sample, true)
	require.NoError(t, err)
	require.Equal(t, Result{Existing: 7, Added: 2}, res)
	require.Len(t, store.puts, 1)
}

func TestSeed_NoEntries(t *testing.T) {
	store := &fakeStore{}
	res, err := newTestSeeder(t, store).Seed(context.Background(), nil, false)
	require.NoError(t, err)
	require.Zero(t, res.Added)
	require.Empty(t, store.puts)
}

func TestSeed_StoreErrors(t *testing.T) {
	_, err := newTestSeeder(t, &fakeStore{countErr: errors.New("boom")}).Seed(context.Background(), sample, false)
	require.ErrorContains(t, err, "count entries")

	_, err = newTestSeeder(t, &fakeStore{putErr: errors.New("boom")}).Seed(context.Background(), sample, false)
	require.ErrorContains(t, err, "write entries")
}

func TestNewSeeder_NilStore(t *testing.T) {
	_, err := NewSeeder(nil, nil)
	require.Error(t, err)
}
