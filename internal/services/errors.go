package services

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("user is not a chat participant")

	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already taken")

	ErrAlreadyFriends  = errors.New("users are already friends")
	ErrRequestPending  = errors.New("a pending friend request already exists")
	ErrRequestNotFound = errors.New("friend request not found")
	ErrRequestResolved = errors.New("friend request already resolved")
	ErrNotReceiver     = errors.New("only the receiver may resolve a friend request")
)
