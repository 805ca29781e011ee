package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
)

// Record is a persisted interface.
type Record struct {
	ID      string
	Screen  string
	Context json.RawMessage
	State   map[string]string
}

// Store persists interface records. Load returns an error wrapping
// sendflow.ErrInterfaceNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", sendflow.ErrInterfaceNotFound, id)
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func copyRecord(rec Record) Record {
	out := rec
	out.Context = append(json.RawMessage(nil), rec.Context...)
	out.State = make(map[string]string, len(rec.State))
	for k, v := range rec.State {
		out.State[k] = v
	}
	return out
}

// SQLiteStore keeps interface records in the wallet state database so open
// flows survive a restart of the host process.
type SQLiteStore struct {
	db *walletstatedb.Store
}

func NewSQLiteStore(db *walletstatedb.Store) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	return s.db.SaveInterface(ctx, walletstatedb.InterfaceRecord{
		ID:      rec.ID,
		Screen:  rec.Screen,
		Context: rec.Context,
		State:   rec.State,
	})
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	row, err := s.db.GetInterface(ctx, id)
	if errors.Is(err, walletstatedb.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", sendflow.ErrInterfaceNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}

	state := row.State
	if state == nil {
		state = make(map[string]string)
	}
	return Record{
		ID:      row.ID,
		Screen:  row.Screen,
		Context: row.Context,
		State:   state,
	}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.db.DeleteInterface(ctx, id)
}
