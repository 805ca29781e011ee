package sendflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
	"github.com/Maphikza/btc-wallet-sendflow/lib/rates"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

func newAddress(t *testing.T, params *chaincfg.Params) string {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// fakeDraftVSize makes fee = ceil(rate * 4).
const fakeDraftVSize = 4

type fakeDraft struct {
	fee btcutil.Amount
}

func (d fakeDraft) Fee() btcutil.Amount { return d.fee }

type fakeBuilder struct {
	balance   btcutil.Amount
	feeRate   float64
	drain     bool
	drainTo   string
	amount    btcutil.Amount
	recipient string
	excluded  []wire.OutPoint
	err       error
}

func (b *fakeBuilder) AddRecipient(amount btcutil.Amount, address string) transaction.Builder {
	b.amount = amount
	b.recipient = address
	return b
}

func (b *fakeBuilder) FeeRate(rate float64) transaction.Builder {
	b.feeRate = rate
	return b
}

func (b *fakeBuilder) DrainWallet() transaction.Builder {
	b.drain = true
	return b
}

func (b *fakeBuilder) DrainTo(address string) transaction.Builder {
	b.drainTo = address
	return b
}

func (b *fakeBuilder) ExcludeOutpoints(outpoints []wire.OutPoint) transaction.Builder {
	b.excluded = append(b.excluded, outpoints...)
	return b
}

func (b *fakeBuilder) Finish() (transaction.Draft, error) {
	if b.err != nil {
		return nil, b.err
	}
	fee := btcutil.Amount(math.Ceil(b.feeRate * fakeDraftVSize))
	if b.drain {
		if b.drainTo == "" {
			return nil, transaction.ErrNoRecipient
		}
		if b.balance <= fee {
			return nil, transaction.ErrInsufficientFunds
		}
		return fakeDraft{fee: fee}, nil
	}
	if b.recipient == "" {
		return nil, transaction.ErrNoRecipient
	}
	if b.amount+fee > b.balance {
		return nil, transaction.ErrInsufficientFunds
	}
	return fakeDraft{fee: fee}, nil
}

type fakeWallet struct {
	mu       sync.Mutex
	account  wallet.Account
	frozen   []wire.OutPoint
	buildErr error
	builders []*fakeBuilder
}

func (w *fakeWallet) Account(ctx context.Context, accountID string) (wallet.Account, error) {
	if accountID != w.account.ID {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return w.account, nil
}

func (w *fakeWallet) BuildTransaction(ctx context.Context, accountID string) (transaction.Builder, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buildErr != nil {
		return nil, w.buildErr
	}
	b := &fakeBuilder{balance: w.account.Balance}
	w.builders = append(w.builders, b)
	return b, nil
}

func (w *fakeWallet) FrozenOutpoints(ctx context.Context, accountID string) ([]wire.OutPoint, error) {
	return w.frozen, nil
}

func (w *fakeWallet) lastBuilder() *fakeBuilder {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.builders) == 0 {
		return nil
	}
	return w.builders[len(w.builders)-1]
}

type fakeFees struct {
	mu        sync.Mutex
	estimates transaction.FeeEstimates
	err       error
	calls     int

	// When gate is set, FeeEstimates signals entered and blocks until gate
	// is closed.
	gate    chan struct{}
	entered chan struct{}
}

// hold makes the next fetches block until the returned func is called.
func (f *fakeFees) hold() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	gate := f.gate
	return f.entered, func() { close(gate) }
}

func (f *fakeFees) FeeEstimates(ctx context.Context, params *chaincfg.Params) (transaction.FeeEstimates, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.estimates, nil
}

type fakeRates struct {
	quotes rates.Quotes
	err    error
	calls  int
}

func (r *fakeRates) ExchangeRates(ctx context.Context) (rates.Quotes, error) {
	r.calls++
	if r.err != nil {
		return rates.Quotes{}, r.err
	}
	return r.quotes, nil
}

type fakeInterface struct {
	screen string
	data   json.RawMessage
	state  map[string]string
}

type fakeHost struct {
	mu         sync.Mutex
	nextID     int
	interfaces map[string]*fakeInterface
	results    map[string]json.RawMessage
	done       map[string]chan struct{}
	scheduled  []string
	cancelled  []string
	prefs      Preferences
	created    chan string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		interfaces: make(map[string]*fakeInterface),
		results:    make(map[string]json.RawMessage),
		done:       make(map[string]chan struct{}),
		prefs:      Preferences{Locale: "en", Currency: "usd"},
		created:    make(chan string, 8),
	}
}

func (h *fakeHost) CreateInterface(ctx context.Context, screen string, data json.RawMessage) (string, error) {
	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("if-%d", h.nextID)
	h.interfaces[id] = &fakeInterface{screen: screen, data: data, state: map[string]string{}}
	h.done[id] = make(chan struct{})
	h.mu.Unlock()

	h.created <- id
	return id, nil
}

func (h *fakeHost) UpdateInterface(ctx context.Context, id, screen string, data json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	iface, ok := h.interfaces[id]
	if !ok {
		return ErrInterfaceNotFound
	}
	iface.screen = screen
	iface.data = data
	return nil
}

func (h *fakeHost) GetInterface(ctx context.Context, id string) (string, json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	iface, ok := h.interfaces[id]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, id)
	}
	return iface.screen, iface.data, nil
}

func (h *fakeHost) GetInterfaceState(ctx context.Context, id string) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	iface, ok := h.interfaces[id]
	if !ok {
		return nil, ErrInterfaceNotFound
	}
	state := make(map[string]string, len(iface.state))
	for k, v := range iface.state {
		state[k] = v
	}
	return state, nil
}

func (h *fakeHost) ResolveInterface(ctx context.Context, id string, result json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.interfaces[id]; !ok {
		return ErrInterfaceNotFound
	}
	delete(h.interfaces, id)
	h.results[id] = result
	close(h.done[id])
	return nil
}

func (h *fakeHost) WaitForResolution(ctx context.Context, id string) (json.RawMessage, error) {
	h.mu.Lock()
	done, ok := h.done[id]
	h.mu.Unlock()
	if !ok {
		return nil, ErrInterfaceNotFound
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[id], nil
}

func (h *fakeHost) ScheduleBackgroundEvent(ctx context.Context, delay time.Duration, interfaceID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := fmt.Sprintf("ev-%d", len(h.scheduled)+1)
	h.scheduled = append(h.scheduled, id)
	return id, nil
}

func (h *fakeHost) CancelBackgroundEvent(ctx context.Context, eventID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = append(h.cancelled, eventID)
	return nil
}

func (h *fakeHost) Preferences(ctx context.Context) (Preferences, error) {
	return h.prefs, nil
}

func (h *fakeHost) setState(id, key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interfaces[id].state[key] = value
}

func (h *fakeHost) counts() (scheduled, cancelled int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.scheduled), len(h.cancelled)
}

type testEnv struct {
	engine *Engine
	host   *fakeHost
	wallet *fakeWallet
	fees   *fakeFees
	rates  *fakeRates
	params *chaincfg.Params
}

func newTestEnv(t *testing.T, params *chaincfg.Params, balance btcutil.Amount) *testEnv {
	t.Helper()
	env := &testEnv{
		host: newFakeHost(),
		wallet: &fakeWallet{account: wallet.Account{
			ID:      "acc-1",
			Address: newAddress(t, params),
			Network: params,
			Balance: balance,
		}},
		fees:   &fakeFees{estimates: transaction.FeeEstimates{3: 2.4}},
		rates:  &fakeRates{quotes: rates.Quotes{Time: time.Unix(1700000000, 0).UTC(), Rates: map[string]float64{"usd": 50000}}},
		params: params,
	}
	env.engine = NewEngine(env.wallet, env.fees, env.rates, env.host, Config{
		FallbackFeeRate: 4,
		FeeTargetBlocks: 3,
		RefreshInterval: time.Minute,
		FiatCurrency:    "usd",
	})
	// Run refreshes inline so tests observe their effect.
	env.engine.spawn = func(fn func()) { fn() }
	return env
}

func (env *testEnv) start(t *testing.T) string {
	t.Helper()
	id, err := env.engine.Start(context.Background(), "acc-1")
	require.NoError(t, err)
	<-env.host.created
	return id
}

func (env *testEnv) form(t *testing.T, id string) FormContext {
	t.Helper()
	form, err := env.engine.Form(context.Background(), id)
	require.NoError(t, err)
	return form
}

func (env *testEnv) input(t *testing.T, id string, event FormEvent, key, value string) {
	t.Helper()
	if key != "" {
		env.host.setState(id, key, value)
	}
	require.NoError(t, env.engine.OnFormInput(context.Background(), id, event))
}

var errFetch = errors.New("fetch failed")
