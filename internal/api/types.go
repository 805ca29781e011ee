package api

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Maphikza/btc-wallet-sendflow/internal/host"
	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
)

type API struct {
	Engine        *sendflow.Engine
	Host          *host.Host
	JWTKey        []byte
	AllowedOrigin string
	Gatherer      prometheus.Gatherer

	// UserPubKey is the hex nostr key allowed to log in through challenges.
	UserPubKey string
	Challenges ChallengeStore
}

type SendRequest struct {
	AccountID string `json:"account_id"`
}

type SendResponse struct {
	InterfaceID string `json:"interface_id"`
}

type InterfaceResponse struct {
	InterfaceID string          `json:"interface_id"`
	Screen      string          `json:"screen"`
	Context     json.RawMessage `json:"context"`
}

type StateRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type EventRequest struct {
	Event string `json:"event"`
}

// ResultResponse status is one of pending, sent or cancelled.
type ResultResponse struct {
	Status  string                       `json:"status"`
	Request *sendflow.TransactionRequest `json:"request,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type contextKey string
