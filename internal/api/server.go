package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Maphikza/btc-wallet-sendflow/internal/metrics"
)

func NewAPI(api API) *API {
	if api.Gatherer == nil {
		api.Gatherer = prometheus.DefaultGatherer
	}
	return &api
}

// Router wires the send flow endpoints. Everything except login and
// /metrics requires a bearer token.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, metrics.HTTPMiddleware(pattern, ApplyMiddleware(h,
			a.JWTMiddleware,
			JSONContentTypeMiddleware,
			a.CORSMiddleware,
			LoggingMiddleware,
			RequestIDMiddleware,
			ErrorMiddleware,
		)))
	}

	public := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, metrics.HTTPMiddleware(pattern, ApplyMiddleware(h,
			JSONContentTypeMiddleware,
			a.CORSMiddleware,
			LoggingMiddleware,
			RequestIDMiddleware,
			ErrorMiddleware,
		)))
	}

	public("GET /api/challenge", a.HandleChallengeRequest)
	public("POST /api/verify", a.VerifyChallenge)

	route("POST /api/send", a.HandleSend)
	route("GET /api/interfaces/{id}", a.HandleGetInterface)
	route("POST /api/interfaces/{id}/state", a.HandleSetState)
	route("POST /api/interfaces/{id}/events", a.HandleEvent)
	route("GET /api/interfaces/{id}/result", a.HandleResult)

	mux.HandleFunc("OPTIONS /api/", a.CORSMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Server returns the HTTP server for port. The write timeout leaves room
// for result requests that block until resolution.
func (a *API) Server(port int) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      a.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: resultWait + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
