package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Maphikza/btc-wallet-sendflow/internal/logger"
	"github.com/Maphikza/btc-wallet-sendflow/internal/sendflow"
)

// resultWait bounds how long a result request blocks before reporting the
// flow as pending.
var resultWait = 50 * time.Second

func (a *API) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := a.Engine.Start(r.Context(), req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("Started send flow %s for account %s", id, req.AccountID)
	writeJSON(w, http.StatusCreated, SendResponse{InterfaceID: id})
}

func (a *API) HandleGetInterface(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	screen, data, err := a.Host.GetInterface(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InterfaceResponse{InterfaceID: id, Screen: screen, Context: data})
}

func (a *API) HandleSetState(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.Host.SetInputState(r.Context(), r.PathValue("id"), req.Name, req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := a.Engine.Dispatch(r.Context(), id, req.Event); err != nil {
		writeError(w, err)
		return
	}

	// Terminal events remove the interface; report the result instead.
	screen, data, err := a.Host.GetInterface(r.Context(), id)
	if errors.Is(err, sendflow.ErrInterfaceNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InterfaceResponse{InterfaceID: id, Screen: screen, Context: data})
}

func (a *API) HandleResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), resultWait)
	defer cancel()

	req, err := a.Engine.Wait(ctx, r.PathValue("id"))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusOK, ResultResponse{Status: "pending"})
	case errors.Is(err, sendflow.ErrUserCancelled):
		writeJSON(w, http.StatusOK, ResultResponse{Status: "cancelled"})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, ResultResponse{Status: "sent", Request: req})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response:", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sendflow.ErrAccountNotFound), errors.Is(err, sendflow.ErrInterfaceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sendflow.ErrUnrecognizedEvent):
		status = http.StatusBadRequest
	case errors.Is(err, sendflow.ErrInconsistentState):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request failed:", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
