package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relay-im/relay-backend/internal/database"
	"github.com/relay-im/relay-backend/internal/models"
)

const pqUniqueViolation = "23505"

// CreateUser inserts a new account row. Returns ErrUserExists when the
// username is taken.
func CreateUser(username, displayName, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
	}

	err := database.PostgresDB.QueryRow(
		`INSERT INTO users (id, username, display_name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		user.ID, username, displayName, passwordHash,
	).Scan(&user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername returns the account and its password hash for signin.
func GetUserByUsername(username string) (*models.User, string, error) {
	var user models.User
	var hash string
	err := database.PostgresDB.QueryRow(
		`SELECT id, username, display_name, password_hash, created_at
		 FROM users WHERE LOWER(username) = LOWER($1)`,
		username,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &hash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, "", ErrUserNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &user, hash, nil
}

func GetUserByID(userID string) (*models.User, error) {
	var user models.User
	err := database.PostgresDB.QueryRow(
		`SELECT id, username, display_name, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers matches usernames and display names by prefix or substring,
// excluding the searching user. Capped at 20 rows.
func SearchUsers(query, excludeUserID string) ([]models.User, error) {
	rows, err := database.PostgresDB.Query(
		`SELECT id, username, display_name, created_at
		 FROM users
		 WHERE (username ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%')
		   AND id <> $2
		 ORDER BY username
		 LIMIT 20`,
		query, excludeUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// friendshipPair orders two user ids for the (user_a, user_b) primary key.
func friendshipPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func AreFriends(userA, userB string) (bool, error) {
	a, b := friendshipPair(userA, userB)
	var exists bool
	err := database.PostgresDB.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM friendships WHERE user_a = $1 AND user_b = $2)`,
		a, b,
	).Scan(&exists)
	return exists, err
}

// CreateFriendRequest records a pending request from sender to receiver.
// Rejected when the pair is already friends or a pending request exists in
// either direction.
func CreateFriendRequest(senderID, receiverID string) (*models.FriendRequest, error) {
	if _, err := GetUserByID(receiverID); err != nil {
		return nil, err
	}

	friends, err := AreFriends(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, ErrAlreadyFriends
	}

	var pending bool
	err = database.PostgresDB.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM friend_requests
			WHERE status = 'pending'
			  AND ((sender_id = $1 AND receiver_id = $2)
			    OR (sender_id = $2 AND receiver_id = $1)))`,
		senderID, receiverID,
	).Scan(&pending)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrRequestPending
	}

	req := &models.FriendRequest{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.FriendRequestPending,
	}
	err = database.PostgresDB.QueryRow(
		`INSERT INTO friend_requests (id, sender_id, receiver_id, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING created_at, updated_at`,
		req.ID, senderID, receiverID,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ResolveFriendRequest moves a pending request to accepted or declined. Only
// the receiver may resolve it; acceptance also records the friendship.
func ResolveFriendRequest(requestID, receiverID string, accept bool) (*models.FriendRequest, error) {
	var req models.FriendRequest
	err := database.PostgresDB.QueryRow(
		`SELECT id, sender_id, receiver_id, status, created_at, updated_at
		 FROM friend_requests WHERE id = $1`,
		requestID,
	).Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.ReceiverID != receiverID {
		return nil, ErrNotReceiver
	}
	if req.Status != models.FriendRequestPending {
		return nil, ErrRequestResolved
	}

	status := models.FriendRequestDeclined
	if accept {
		status = models.FriendRequestAccepted
	}

	tx, err := database.PostgresDB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var updatedAt time.Time
	err = tx.QueryRow(
		`UPDATE friend_requests SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING updated_at`,
		requestID, string(status),
	).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRequestResolved
	}
	if err != nil {
		return nil, err
	}

	if accept {
		a, b := friendshipPair(req.SenderID, req.ReceiverID)
		if _, err := tx.Exec(
			`INSERT INTO friendships (user_a, user_b) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			a, b,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	req.Status = status
	req.UpdatedAt = updatedAt
	return &req, nil
}

// ListPendingRequests returns the requests waiting on userID's answer.
func ListPendingRequests(userID string) ([]models.FriendRequest, error) {
	rows, err := database.PostgresDB.Query(
		`SELECT id, sender_id, receiver_id, status, created_at, updated_at
		 FROM friend_requests
		 WHERE receiver_id = $1 AND status = 'pending'
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []models.FriendRequest
	for rows.Next() {
		var req models.FriendRequest
		if err := rows.Scan(&req.ID, &req.SenderID, &req.ReceiverID,
			&req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ListFriends returns the user's friends as public profiles.
func ListFriends(userID string) ([]models.User, error) {
	rows, err := database.PostgresDB.Query(
		`SELECT u.id, u.username, u.display_name, u.created_at
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.user_a = $1 THEN f.user_b ELSE f.user_a END
		 WHERE f.user_a = $1 OR f.user_b = $1
		 ORDER BY u.username`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
