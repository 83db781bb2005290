package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/relay-im/relay-backend/internal/models"
	"github.com/relay-im/relay-backend/internal/realtime"
	"github.com/relay-im/relay-backend/internal/services"
)

// SearchUsers finds accounts to send friend requests to.
func SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q must not be empty")
		return
	}

	users, err := services.SearchUsers(query, userID)
	if err != nil {
		logger.Errorw("searching users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// SendFriendRequest creates a pending request and pushes it to the
// receiver's live connections.
func SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	receiverID := chi.URLParam(r, "userID")
	if receiverID == userID {
		writeError(w, http.StatusBadRequest, "cannot send a friend request to yourself")
		return
	}

	created, err := services.CreateFriendRequest(userID, receiverID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, services.ErrAlreadyFriends):
			writeError(w, http.StatusConflict, "already friends")
		case errors.Is(err, services.ErrRequestPending):
			writeError(w, http.StatusConflict, "a request is already pending")
		default:
			logger.Errorw("creating friend request failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindFriendRequestReceived,
		UserID:   created.ReceiverID,
		SenderID: userID,
		DedupKey: created.ID,
		Payload:  created,
	}); err != nil {
		logger.Errorw("friend_request_received publish failed", "request_id", created.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, created)
}

// AcceptFriendRequest accepts a pending request addressed to the caller.
func AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	resolveFriendRequest(w, r, true)
}

// DeclineFriendRequest declines a pending request addressed to the caller.
func DeclineFriendRequest(w http.ResponseWriter, r *http.Request) {
	resolveFriendRequest(w, r, false)
}

// resolveFriendRequest settles a pending request either way; both parties
// get a friend_request_resolved push.
func resolveFriendRequest(w http.ResponseWriter, r *http.Request, accept bool) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	resolved, err := services.ResolveFriendRequest(chi.URLParam(r, "requestID"), userID, accept)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, "friend request not found")
		case errors.Is(err, services.ErrNotReceiver):
			writeError(w, http.StatusForbidden, "only the receiver can resolve a request")
		case errors.Is(err, services.ErrRequestResolved):
			writeError(w, http.StatusConflict, "request already resolved")
		default:
			logger.Errorw("resolving friend request failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	for _, party := range []string{resolved.SenderID, resolved.ReceiverID} {
		if err := core.Engine.Publish(realtime.Event{
			Kind:     realtime.KindFriendRequestResolved,
			UserID:   party,
			SenderID: userID,
			DedupKey: resolved.ID,
			Payload:  resolved,
		}); err != nil {
			logger.Errorw("friend_request_resolved publish failed",
				"request_id", resolved.ID, "user_id", party, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resolved)
}

// ListFriendRequests returns the pending requests awaiting the caller.
func ListFriendRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	reqs, err := services.ListPendingRequests(userID)
	if err != nil {
		logger.Errorw("listing friend requests failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if reqs == nil {
		reqs = []models.FriendRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ListFriends returns the caller's friends with live presence attached.
func ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	friends, err := services.ListFriends(userID)
	if err != nil {
		logger.Errorw("listing friends failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for i := range friends {
		friends[i].IsOnline = core.Registry.Online(friends[i].ID)
		if t, seen := core.Registry.LastSeen(friends[i].ID); seen {
			friends[i].LastSeen = &t
		}
	}
	if friends == nil {
		friends = []models.User{}
	}
	writeJSON(w, http.StatusOK, friends)
}
