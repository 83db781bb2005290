package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/relay-im/relay-backend/internal/handlers"
)

func SetupRoutes(r *chi.Mux) {
	// Auth routes
	r.Post("/api/auth/signup", handlers.Signup)
	r.Post("/api/auth/signin", handlers.Signin)
	r.Post("/api/auth/signout", handlers.Signout)
	r.Get("/api/auth/me", handlers.Me)

	// Chat routes
	r.Post("/api/chats", handlers.CreateChat)
	r.Get("/api/chats", handlers.ListChats)
	r.Get("/api/chats/{chatID}", handlers.GetChat)
	r.Get("/api/chats/{chatID}/messages", handlers.ListMessages)
	r.Post("/api/chats/{chatID}/messages", handlers.SendMessage)
	r.Post("/api/chats/{chatID}/participants", handlers.AddParticipant)
	r.Delete("/api/chats/{chatID}/participants/{userID}", handlers.RemoveParticipant)

	// Message routes
	r.Put("/api/messages/{messageID}", handlers.EditMessage)
	r.Delete("/api/messages/{messageID}", handlers.DeleteMessage)
	r.Post("/api/messages/{messageID}/reactions", handlers.ToggleReaction)
	r.Post("/api/messages/{messageID}/read", handlers.MarkRead)

	// Friend routes
	r.Get("/api/users/search", handlers.SearchUsers)
	r.Post("/api/friends/requests/{userID}", handlers.SendFriendRequest)
	r.Get("/api/friends/requests", handlers.ListFriendRequests)
	r.Post("/api/friends/requests/{requestID}/accept", handlers.AcceptFriendRequest)
	r.Post("/api/friends/requests/{requestID}/decline", handlers.DeclineFriendRequest)
	r.Get("/api/friends", handlers.ListFriends)

	// WebSocket endpoint for the realtime push channel
	r.Get("/ws/chat", handlers.ChatWebSocket)
}
