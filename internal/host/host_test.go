package host

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
)

func newSQLiteStore(t *testing.T) (*SQLiteStore, *walletstatedb.Store) {
	t.Helper()
	db, err := walletstatedb.InitSQLiteDB(filepath.Join(t.TempDir(), "host.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db), db
}

func TestHostInterfaceLifecycle(t *testing.T) {
	sqliteStore, _ := newSQLiteStore(t)
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			h := New(store, sendflow.Preferences{Locale: "en"})
			ctx := context.Background()

			var updates []string
			h.SetUpdateHook(func(id, screen string, data json.RawMessage) {
				updates = append(updates, screen)
			})

			id, err := h.CreateInterface(ctx, "send-form", json.RawMessage(`{"feeRate":4}`))
			require.NoError(t, err)

			require.NoError(t, h.SetInputState(ctx, id, "amount", "0.1"))
			state, err := h.GetInterfaceState(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"amount": "0.1"}, state)

			require.NoError(t, h.UpdateInterface(ctx, id, "review", json.RawMessage(`{"fee":"10"}`)))
			screen, data, err := h.GetInterface(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "review", screen)
			assert.JSONEq(t, `{"fee":"10"}`, string(data))
			assert.Equal(t, []string{"send-form", "review"}, updates)

			require.NoError(t, h.ResolveInterface(ctx, id, json.RawMessage(`{"amount":"1"}`)))
			result, err := h.WaitForResolution(ctx, id)
			require.NoError(t, err)
			assert.JSONEq(t, `{"amount":"1"}`, string(result))

			_, _, err = h.GetInterface(ctx, id)
			assert.ErrorIs(t, err, sendflow.ErrInterfaceNotFound)
			assert.ErrorIs(t, h.ResolveInterface(ctx, id, nil), sendflow.ErrInterfaceNotFound)
		})
	}
}

func TestWaitForResolutionUnknownInterface(t *testing.T) {
	h := New(NewMemoryStore(), sendflow.Preferences{})
	_, err := h.WaitForResolution(context.Background(), "missing")
	assert.ErrorIs(t, err, sendflow.ErrInterfaceNotFound)
}

func TestWaitForResolutionHonoursContext(t *testing.T) {
	h := New(NewMemoryStore(), sendflow.Preferences{})
	id, err := h.CreateInterface(context.Background(), "send-form", json.RawMessage(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.WaitForResolution(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForResolutionAfterRestart(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()

	first := New(store, sendflow.Preferences{})
	id, err := first.CreateInterface(ctx, "send-form", json.RawMessage(`{}`))
	require.NoError(t, err)

	second := New(store, sendflow.Preferences{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		second.ResolveInterface(ctx, id, json.RawMessage(`null`))
	}()

	result, err := second.WaitForResolution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "null", string(result))
}

func TestBackgroundEvents(t *testing.T) {
	h := New(NewMemoryStore(), sendflow.Preferences{})
	ctx := context.Background()

	var fired atomic.Int32
	var firedID atomic.Value
	h.SetBackgroundHandler(func(ctx context.Context, interfaceID, eventID string) {
		fired.Add(1)
		firedID.Store(eventID)
	})

	eventID, err := h.ScheduleBackgroundEvent(ctx, 10*time.Millisecond, "if-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Pending())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, eventID, firedID.Load())
	assert.Zero(t, h.Pending())

	cancelled, err := h.ScheduleBackgroundEvent(ctx, 20*time.Millisecond, "if-1")
	require.NoError(t, err)
	require.NoError(t, h.CancelBackgroundEvent(ctx, cancelled))
	require.NoError(t, h.CancelBackgroundEvent(ctx, "unknown"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestResolveStopsPendingEvents(t *testing.T) {
	h := New(NewMemoryStore(), sendflow.Preferences{})
	ctx := context.Background()

	id, err := h.CreateInterface(ctx, "send-form", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = h.ScheduleBackgroundEvent(ctx, time.Hour, id)
	require.NoError(t, err)
	_, err = h.ScheduleBackgroundEvent(ctx, time.Hour, "other")
	require.NoError(t, err)

	require.NoError(t, h.ResolveInterface(ctx, id, nil))
	assert.Equal(t, 1, h.Pending())
}

// gatedStore pauses the first Save of a record whose context equals gate
// until release is closed.
type gatedStore struct {
	*MemoryStore
	gate    string
	once    sync.Once
	paused  chan struct{}
	release chan struct{}
}

func newGatedStore(gate string) *gatedStore {
	return &gatedStore{
		MemoryStore: NewMemoryStore(),
		gate:        gate,
		paused:      make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *gatedStore) Save(ctx context.Context, rec Record) error {
	if string(rec.Context) == s.gate {
		s.once.Do(func() {
			close(s.paused)
			<-s.release
		})
	}
	return s.MemoryStore.Save(ctx, rec)
}

func TestInputStateSurvivesConcurrentUpdate(t *testing.T) {
	store := newGatedStore(`{"v":2}`)
	h := New(store, sendflow.Preferences{})
	ctx := context.Background()

	id, err := h.CreateInterface(ctx, "send-form", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)

	updated := make(chan error, 1)
	go func() {
		updated <- h.UpdateInterface(ctx, id, "send-form", json.RawMessage(`{"v":2}`))
	}()
	<-store.paused

	typed := make(chan error, 1)
	go func() {
		typed <- h.SetInputState(ctx, id, "recipient", "bcrt1qtyped")
	}()

	select {
	case err := <-typed:
		t.Fatalf("input state written during a pending update: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-updated)
	require.NoError(t, <-typed)

	state, err := h.GetInterfaceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bcrt1qtyped", state["recipient"])

	_, data, err := h.GetInterface(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))
}

func TestResolveDuringUpdateStaysResolved(t *testing.T) {
	store := newGatedStore(`{"v":2}`)
	h := New(store, sendflow.Preferences{})
	ctx := context.Background()

	id, err := h.CreateInterface(ctx, "send-form", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)

	updated := make(chan error, 1)
	go func() {
		updated <- h.UpdateInterface(ctx, id, "send-form", json.RawMessage(`{"v":2}`))
	}()
	<-store.paused

	resolved := make(chan error, 1)
	go func() {
		resolved <- h.ResolveInterface(ctx, id, nil)
	}()

	close(store.release)
	require.NoError(t, <-updated)
	require.NoError(t, <-resolved)

	_, _, err = h.GetInterface(ctx, id)
	assert.ErrorIs(t, err, sendflow.ErrInterfaceNotFound)
	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, sendflow.ErrInterfaceNotFound)

	assert.ErrorIs(t, h.UpdateInterface(ctx, id, "send-form", json.RawMessage(`{"v":3}`)), sendflow.ErrInterfaceNotFound)
	assert.ErrorIs(t, h.SetInputState(ctx, id, "amount", "1"), sendflow.ErrInterfaceNotFound)
	_, err = h.ScheduleBackgroundEvent(ctx, time.Hour, id)
	assert.ErrorIs(t, err, sendflow.ErrInterfaceNotFound)
	assert.Zero(t, h.Pending())
}

func TestResolutionIsForgottenAfterRetention(t *testing.T) {
	h := New(NewMemoryStore(), sendflow.Preferences{})
	h.SetRetention(10 * time.Millisecond)
	ctx := context.Background()

	id, err := h.CreateInterface(ctx, "send-form", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, h.ResolveInterface(ctx, id, json.RawMessage(`{"amount":"1"}`)))

	result, err := h.WaitForResolution(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"1"}`, string(result))

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, kept := h.results[id]
		_, waiting := h.done[id]
		return !kept && !waiting
	}, time.Second, 5*time.Millisecond)

	_, err = h.WaitForResolution(ctx, id)
	assert.ErrorIs(t, err, sendflow.ErrInterfaceNotFound)
}
