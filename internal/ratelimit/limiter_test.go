package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"church-assistant/internal/domain"
)

type fakeStore struct {
	windows map[string]domain.RateWindow
	getErr  error
	putErr  error
	puts    int
	lastTTL time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{windows: map[string]domain.RateWindow{}}
}

func (f *fakeStore) GetWindow(_ context.Context, identifier string) (domain.RateWindow, bool, error) {
	if f.getErr != nil {
		return domain.RateWindow{}, false, f.getErr
	}
	w, ok := f.windows[identifier]
	return w, ok, nil
}

func (f *fakeStore) PutWindow(_ context.Context, w domain.RateWindow, ttl time.Duration) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.lastTTL = ttl
	f.windows[w.Identifier] = w
	return nil
}

func mustNew(t *testing.T, store WindowStore) *Limiter {
	t.Helper()
	l, err := New(store, time.Minute, 10)
	require.NoError(t, err)
	return l
}

func TestNew_ValidatesStore(t *testing.T) {
	_, err := New(nil, time.Minute, 10)
	require.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	l, err := New(newFakeStore(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultWindow, l.window)
	require.Equal(t, DefaultLimit, l.limit)
}

func TestAdmit_TenAllowedThenRejected(t *testing.T) {
	store := newFakeStore()
	l := mustNew(t, store)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 10; i++ {
		d, err := l.Admit(context.Background(), "sess-1", start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i)
		require.Equal(t, i, d.Count)
	}

	d, err := l.Admit(context.Background(), "sess-1", start.Add(15*time.Second))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 46*time.Second, d.RetryAfter)
}

func TestAdmit_RejectedCallDoesNotWrite(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.windows["ip"] = domain.RateWindow{Identifier: "ip", WindowStart: now, RequestCount: 10}
	l := mustNew(t, store)

	d, err := l.Admit(context.Background(), "ip", now.Add(time.Second))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, store.puts)
	require.Equal(t, 10, store.windows["ip"].RequestCount)
}

func TestAdmit_ExpiredWindowStartsFresh(t *testing.T) {
	store := newFakeStore()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.windows["sess"] = domain.RateWindow{Identifier: "sess", WindowStart: start, RequestCount: 10}
	l := mustNew(t, store)

	now := start.Add(60 * time.Second)
	d, err := l.Admit(context.Background(), "sess", now)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Count)
	require.Equal(t, now, store.windows["sess"].WindowStart)
	require.Equal(t, time.Minute, store.lastTTL)
}

func TestAdmit_IdentifiersAreIndependent(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.windows["a"] = domain.RateWindow{Identifier: "a", WindowStart: now, RequestCount: 10}
	l := mustNew(t, store)

	d, err := l.Admit(context.Background(), "b", now)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestAdmit_StorageErrorsFailClosed(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("table unavailable")
	l := mustNew(t, store)
	d, err := l.Admit(context.Background(), "x", time.Now())
	require.Error(t, err)
	require.False(t, d.Allowed)

	store = newFakeStore()
	store.putErr = errors.New("throttled")
	l = mustNew(t, store)
	d, err = l.Admit(context.Background(), "x", time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "write window")
	require.False(t, d.Allowed)
}

func TestIdentifier(t *testing.T) {
	require.Equal(t, "sess-9", Identifier(" sess-9 ", "10.0.0.1"))
	require.Equal(t, "10.0.0.1", Identifier("", "10.0.0.1, 172.16.0.4"))
	require.Equal(t, AnonymousIdentifier, Identifier("", ""))
	require.Equal(t, AnonymousIdentifier, Identifier("  ", " , "))
}
