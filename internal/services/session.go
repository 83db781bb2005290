package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/relay-im/relay-backend/internal/database"
)

const (
	// SessionDuration is how long a token stays valid without a fresh signin.
	SessionDuration = 7 * 24 * time.Hour
	// SessionKeyPrefix is the Redis key prefix for token -> user lookups.
	SessionKeyPrefix = "session:"
)

// CreateSession issues a session token for a user and stores it in Redis
// with a TTL. A user may hold several concurrent sessions (multi-device).
func CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	err := database.RedisClient.Set(ctx, SessionKeyPrefix+token, userID.String(), SessionDuration).Err()
	if err != nil {
		return "", err
	}
	return token, nil
}

// ValidateSession resolves a token to its user id. The second return is
// false for missing, expired, or malformed tokens.
func ValidateSession(ctx context.Context, token string) (uuid.UUID, bool, error) {
	if token == "" {
		return uuid.Nil, false, nil
	}

	userIDStr, err := database.RedisClient.Get(ctx, SessionKeyPrefix+token).Result()
	if err != nil {
		return uuid.Nil, false, nil
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, false, err
	}
	return userID, true, nil
}

// InvalidateSession removes a session token (signout).
func InvalidateSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return database.RedisClient.Del(ctx, SessionKeyPrefix+token).Err()
}
