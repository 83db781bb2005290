package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/relay-im/relay-backend/internal/services"
	"github.com/relay-im/relay-backend/pkg/utils"
)

type signupRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  interface{} `json:"user"`
}

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// Signup registers an account and issues a session token.
func Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if !usernameRe.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-32 lowercase letters, digits or underscores")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		req.DisplayName = req.Username
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		logger.Errorw("hashing password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := services.CreateUser(req.Username, strings.TrimSpace(req.DisplayName), hash)
	if err != nil {
		if errors.Is(err, services.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		logger.Errorw("creating user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := services.CreateSession(r.Context(), uuid.MustParse(user.ID))
	if err != nil {
		logger.Errorw("creating session failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

// Signin verifies credentials and issues a session token.
func Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, hash, err := services.GetUserByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logger.Errorw("looking up user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ok, err := utils.VerifyPassword(req.Password, hash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := services.CreateSession(r.Context(), uuid.MustParse(user.ID))
	if err != nil {
		logger.Errorw("creating session failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// Signout invalidates the presented session token.
func Signout(w http.ResponseWriter, r *http.Request) {
	if err := services.InvalidateSession(r.Context(), requestToken(r)); err != nil {
		logger.Errorw("invalidating session failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// Me returns the authenticated user's profile.
func Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	user, err := services.GetUserByID(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	user.IsOnline = core.Registry.Online(userID)
	if t, seen := core.Registry.LastSeen(userID); seen {
		user.LastSeen = &t
	}
	writeJSON(w, http.StatusOK, user)
}
