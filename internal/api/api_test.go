package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
	"github.com/Maphikza/btc-wallet-sendflow/internal/host"
	"github.com/Maphikza/btc-wallet-sendflow/internal/metrics"
	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
	"github.com/Maphikza/btc-wallet-sendflow/lib/transaction"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type staticFees struct{}

func (staticFees) FeeEstimates(ctx context.Context, params *chaincfg.Params) (transaction.FeeEstimates, error) {
	return transaction.FeeEstimates{3: 2}, nil
}

func regtestAddress(t *testing.T) string {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

type testServer struct {
	*httptest.Server
	token     string
	nostrKey  string
	nostrPub  string
	challenge ChallengeStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := walletstatedb.InitSQLiteDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	own := regtestAddress(t)
	addr, err := btcutil.DecodeAddress(own, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	require.NoError(t, db.SaveAccount(walletstatedb.Account{ID: "main", Network: "regtest", Address: own}))
	require.NoError(t, db.SaveUTXO("main", walletstatedb.UTXO{TxID: strings.Repeat("ef", 32), Vout: 0, Value: 50000, PkScript: pkScript}))

	h := host.New(host.NewSQLiteStore(db), sendflow.Preferences{Locale: "en"})
	engine := sendflow.NewEngine(wallet.NewStoreWallet(db), staticFees{}, nil, h, sendflow.Config{RefreshInterval: time.Hour})
	h.SetBackgroundHandler(engine.HandleBackgroundEvent)

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	metrics.RegisterHTTP(reg)

	nostrKey := nostr.GeneratePrivateKey()
	nostrPub, err := nostr.GetPublicKey(nostrKey)
	require.NoError(t, err)

	a := NewAPI(API{
		Engine:        engine,
		Host:          h,
		JWTKey:        testKey,
		AllowedOrigin: "http://localhost:3000",
		Gatherer:      reg,
		UserPubKey:    nostrPub,
		Challenges:    db,
	})
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	token, err := IssueToken(testKey, "tester", time.Hour)
	require.NoError(t, err)
	return &testServer{Server: srv, token: token, nostrKey: nostrKey, nostrPub: nostrPub, challenge: db}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSendFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	recipient := regtestAddress(t)

	resp := srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "main"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[SendResponse](t, resp).InterfaceID
	require.NotEmpty(t, id)

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/state", StateRequest{Name: sendflow.InputRecipient, Value: recipient})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Recipient"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/state", StateRequest{Name: sendflow.InputAmount, Value: "0.0002"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Amount"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var form sendflow.FormContext
	require.NoError(t, json.Unmarshal(decode[InterfaceResponse](t, resp).Context, &form))
	require.NotNil(t, form.Fee)
	assert.Equal(t, sendflow.Sats(20000), *form.Amount)

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Confirm"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sendflow.ScreenReview, decode[InterfaceResponse](t, resp).Screen)

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Send"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/interfaces/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[ResultResponse](t, resp)
	assert.Equal(t, "sent", result.Status)
	require.NotNil(t, result.Request)
	assert.Equal(t, recipient, result.Request.Recipient)
	assert.Equal(t, sendflow.Sats(20000), result.Request.Amount)
}

func TestCancelledFlowResult(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "main"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[SendResponse](t, resp).InterfaceID

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Cancel"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/interfaces/"+id+"/result", nil)
	assert.Equal(t, "cancelled", decode[ResultResponse](t, resp).Status)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "nobody"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/interfaces/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "main"})
	id := decode[SendResponse](t, resp).InterfaceID

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Explode"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/interfaces/"+id+"/events", EventRequest{Event: "Confirm"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/send", "application/json", strings.NewReader(`{"account_id":"main"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := IssueToken(testKey, "tester", -time.Minute)
	require.NoError(t, err)
	srv.token = expired
	resp = srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "main"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := IssueToken([]byte("another key entirely, 32 bytes!!"), "tester", time.Hour)
	require.NoError(t, err)
	srv.token = forged
	resp = srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "main"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPreflightAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/send", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	srv.do(t, http.MethodPost, "/api/send", SendRequest{AccountID: "main"})

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "sendflow_server_http_requests_total")
}
