package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nbd-wtf/go-nostr"

	walletstatedb "github.com/Maphikza/btc-wallet-sendflow/internal/database"
)

const (
	challengeTTL = 2 * time.Minute
	tokenTTL     = 15 * time.Minute
)

// ChallengeStore persists login challenges.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, challenge walletstatedb.Challenge) error
	GetChallenge(ctx context.Context, hash string) (walletstatedb.Challenge, error)
	MarkChallengeAsUsed(ctx context.Context, hash string) error
	ClaimChallenge(ctx context.Context, hash string) (bool, error)
	ExpireOldChallenges(ctx context.Context) error
}

type VerifyRequest struct {
	Challenge string      `json:"challenge"`
	Event     nostr.Event `json:"event"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// HandleChallengeRequest hands out a challenge for the configured user to
// sign as a nostr event.
func (a *API) HandleChallengeRequest(w http.ResponseWriter, r *http.Request) {
	log.Println("Challenge requested...")
	if a.UserPubKey == "" || a.Challenges == nil {
		http.Error(w, "Primary user public key not configured", http.StatusInternalServerError)
		return
	}

	if err := a.Challenges.ExpireOldChallenges(r.Context()); err != nil {
		log.Printf("Failed to expire old challenges: %v", err)
	}

	challenge, hash, err := generateChallenge()
	if err != nil {
		http.Error(w, "Failed to generate challenge", http.StatusInternalServerError)
		return
	}

	err = a.Challenges.SaveChallenge(r.Context(), walletstatedb.Challenge{
		Challenge: challenge,
		Hash:      hash,
		Status:    "unused",
		Npub:      a.UserPubKey,
		ExpiresAt: time.Now().Add(challengeTTL),
	})
	if err != nil {
		http.Error(w, "Failed to save challenge", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, &nostr.Event{
		PubKey:    a.UserPubKey,
		CreatedAt: nostr.Now(),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   challenge,
	})
}

// VerifyChallenge exchanges a signed challenge for a bearer token.
func (a *API) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	log.Println("verifying challenge")
	if a.Challenges == nil {
		http.Error(w, "Challenges not configured", http.StatusInternalServerError)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Cannot parse JSON", http.StatusBadRequest)
		return
	}

	sum := sha256.Sum256([]byte(req.Challenge))
	hash := hex.EncodeToString(sum[:])
	challenge, err := a.Challenges.GetChallenge(r.Context(), hash)
	if errors.Is(err, walletstatedb.ErrNotFound) || (err == nil && challenge.Status != "unused") {
		http.Error(w, "Invalid or expired challenge", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load challenge", http.StatusInternalServerError)
		return
	}

	if time.Now().After(challenge.ExpiresAt) {
		a.Challenges.MarkChallengeAsUsed(r.Context(), hash)
		http.Error(w, "Challenge expired", http.StatusUnauthorized)
		return
	}

	if req.Event.PubKey != challenge.Npub || req.Event.Content != challenge.Challenge {
		http.Error(w, "Public key mismatch", http.StatusUnauthorized)
		return
	}
	if !verifyEvent(&req.Event) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	claimed, err := a.Challenges.ClaimChallenge(r.Context(), hash)
	if err != nil {
		http.Error(w, "Failed to mark challenge as used", http.StatusInternalServerError)
		return
	}
	if !claimed {
		http.Error(w, "Invalid or expired challenge", http.StatusUnauthorized)
		return
	}

	token, err := IssueToken(a.JWTKey, challenge.Npub, tokenTTL)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func generateChallenge() (string, string, error) {
	timestamp := time.Now().Format(time.RFC3339Nano)
	letters := []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	challenge := make([]byte, 12)
	if _, err := rand.Read(challenge); err != nil {
		return "", "", err
	}
	for i := range challenge {
		challenge[i] = letters[challenge[i]%byte(len(letters))]
	}
	full := fmt.Sprintf("%s-%s", string(challenge), timestamp)
	hash := sha256.Sum256([]byte(full))
	return full, hex.EncodeToString(hash[:]), nil
}

// verifyEvent checks both the event id and its schnorr signature.
func verifyEvent(event *nostr.Event) bool {
	if event.GetID() != event.ID {
		log.Println("Event id does not match its content")
		return false
	}
	ok, err := event.CheckSignature()
	if err != nil {
		log.Println("Error checking signature:", err)
		return false
	}
	return ok
}
