package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relay-im/relay-backend/internal/realtime"
	"github.com/relay-im/relay-backend/internal/services"
)

// Package state wired once from main.
var (
	logger          *zap.SugaredLogger
	core            *realtime.Core
	deliveryTimeout time.Duration
)

// Init hands the handlers their collaborators. Must run before any route is
// served.
func Init(log *zap.SugaredLogger, c *realtime.Core, perConnTimeout time.Duration) {
	logger = log
	core = c
	deliveryTimeout = perConnTimeout
}

// extractBearerToken pulls the token out of an Authorization header.
func extractBearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// requestToken resolves the session token from the Authorization header,
// falling back to the token query parameter for browser WebSocket clients.
func requestToken(r *http.Request) string {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// currentUser authenticates the request and returns the user id.
func currentUser(r *http.Request) (string, bool) {
	userID, ok, err := services.ValidateSession(r.Context(), requestToken(r))
	if err != nil || !ok {
		return "", false
	}
	return userID.String(), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
