package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
)

// BackgroundHandler receives fired background events.
type BackgroundHandler func(ctx context.Context, interfaceID, eventID string)

// UpdateHook is called after an interface is created or updated.
type UpdateHook func(id, screen string, data json.RawMessage)

// DefaultRetention is how long a resolution stays readable after ResolveInterface.
const DefaultRetention = 10 * time.Minute

type timer struct {
	interfaceID string
	t           *time.Timer
}

// Host is an in-process interface host. Background events are timers that
// call the registered handler.
type Host struct {
	store     Store
	prefs     sendflow.Preferences
	retention time.Duration

	locks sync.Map // interface id -> *sync.Mutex

	mu       sync.Mutex
	done     map[string]chan struct{}
	results  map[string]json.RawMessage
	timers   map[string]timer
	handler  BackgroundHandler
	onUpdate UpdateHook
}

var _ sendflow.Host = (*Host)(nil)

func New(store Store, prefs sendflow.Preferences) *Host {
	return &Host{
		store:     store,
		prefs:     prefs,
		retention: DefaultRetention,
		done:      make(map[string]chan struct{}),
		results:   make(map[string]json.RawMessage),
		timers:    make(map[string]timer),
	}
}

// SetRetention changes how long resolutions are kept for WaitForResolution.
func (h *Host) SetRetention(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retention = d
}

// SetBackgroundHandler registers the receiver of background events.
func (h *Host) SetBackgroundHandler(handler BackgroundHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *Host) SetUpdateHook(hook UpdateHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUpdate = hook
}

func (h *Host) CreateInterface(ctx context.Context, screen string, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	rec := Record{ID: id, Screen: screen, Context: data, State: map[string]string{}}
	if err := h.store.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to save interface: %w", err)
	}

	h.mu.Lock()
	h.done[id] = make(chan struct{})
	hook := h.onUpdate
	h.mu.Unlock()

	if hook != nil {
		hook(id, screen, data)
	}
	return id, nil
}

// UpdateInterface replaces the screen and context of id. Input state is
// left untouched.
func (h *Host) UpdateInterface(ctx context.Context, id, screen string, data json.RawMessage) error {
	unlock := h.lock(id)
	defer unlock()

	rec, err := h.loadOpen(ctx, id)
	if err != nil {
		return err
	}
	rec.Screen = screen
	rec.Context = data
	if err := h.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save interface: %w", err)
	}

	h.mu.Lock()
	hook := h.onUpdate
	h.mu.Unlock()
	if hook != nil {
		hook(id, screen, data)
	}
	return nil
}

func (h *Host) GetInterface(ctx context.Context, id string) (string, json.RawMessage, error) {
	rec, err := h.loadOpen(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return rec.Screen, rec.Context, nil
}

func (h *Host) GetInterfaceState(ctx context.Context, id string) (map[string]string, error) {
	rec, err := h.loadOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.State, nil
}

// SetInputState records a pending input value, as typed by the user.
func (h *Host) SetInputState(ctx context.Context, id, name, value string) error {
	unlock := h.lock(id)
	defer unlock()

	rec, err := h.loadOpen(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == nil {
		rec.State = make(map[string]string)
	}
	rec.State[name] = value
	return h.store.Save(ctx, rec)
}

// ResolveInterface removes the interface and releases its waiters. Pending
// background events of the interface are stopped.
func (h *Host) ResolveInterface(ctx context.Context, id string, result json.RawMessage) error {
	unlock := h.lock(id)
	defer unlock()

	if _, err := h.loadOpen(ctx, id); err != nil {
		return err
	}

	// Recorded before the store delete; loads treat the id as gone from here.
	h.mu.Lock()
	for eventID, tm := range h.timers {
		if tm.interfaceID == id {
			tm.t.Stop()
			delete(h.timers, eventID)
		}
	}
	h.results[id] = result
	close(h.waiterLocked(id))
	retention := h.retention
	h.mu.Unlock()

	time.AfterFunc(retention, func() { h.forget(id) })

	if err := h.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete interface: %w", err)
	}
	return nil
}

// WaitForResolution blocks until id is resolved or ctx is done.
func (h *Host) WaitForResolution(ctx context.Context, id string) (json.RawMessage, error) {
	h.mu.Lock()
	_, resolved := h.results[id]
	h.mu.Unlock()
	if !resolved {
		if _, err := h.store.Load(ctx, id); err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	done := h.waiterLocked(id)
	h.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[id], nil
}

// loadOpen loads id unless it has been resolved through this host.
func (h *Host) loadOpen(ctx context.Context, id string) (Record, error) {
	h.mu.Lock()
	_, resolved := h.results[id]
	h.mu.Unlock()
	if resolved {
		return Record{}, fmt.Errorf("%w: %s is resolved", sendflow.ErrInterfaceNotFound, id)
	}
	return h.store.Load(ctx, id)
}

// lock serializes load-modify-save cycles on one record.
func (h *Host) lock(id string) func() {
	mu, _ := h.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// forget drops the bookkeeping of a resolved interface.
func (h *Host) forget(id string) {
	h.mu.Lock()
	delete(h.results, id)
	delete(h.done, id)
	h.mu.Unlock()
	h.locks.Delete(id)
}

// waiterLocked returns the resolution channel of id, creating it for
// interfaces restored from a persistent store.
func (h *Host) waiterLocked(id string) chan struct{} {
	done, ok := h.done[id]
	if !ok {
		done = make(chan struct{})
		h.done[id] = done
	}
	return done
}

func (h *Host) ScheduleBackgroundEvent(ctx context.Context, delay time.Duration, interfaceID string) (string, error) {
	eventID := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, resolved := h.results[interfaceID]; resolved {
		return "", fmt.Errorf("%w: %s is resolved", sendflow.ErrInterfaceNotFound, interfaceID)
	}
	t := time.AfterFunc(delay, func() {
		h.fire(interfaceID, eventID)
	})
	h.timers[eventID] = timer{interfaceID: interfaceID, t: t}
	return eventID, nil
}

// CancelBackgroundEvent stops a pending event. Unknown or already fired
// events are ignored.
func (h *Host) CancelBackgroundEvent(ctx context.Context, eventID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tm, ok := h.timers[eventID]; ok {
		tm.t.Stop()
		delete(h.timers, eventID)
	}
	return nil
}

// Pending returns the number of scheduled background events.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}

func (h *Host) Preferences(ctx context.Context) (sendflow.Preferences, error) {
	return h.prefs, nil
}

func (h *Host) fire(interfaceID, eventID string) {
	h.mu.Lock()
	_, pending := h.timers[eventID]
	delete(h.timers, eventID)
	handler := h.handler
	h.mu.Unlock()

	if !pending {
		return
	}
	if handler == nil {
		log.Printf("No handler for background event %s", eventID)
		return
	}
	handler(context.Background(), interfaceID, eventID)
}
