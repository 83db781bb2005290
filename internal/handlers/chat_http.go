package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relay-im/relay-backend/internal/models"
	"github.com/relay-im/relay-backend/internal/realtime"
	"github.com/relay-im/relay-backend/internal/services"
)

type createChatRequest struct {
	ChatType     models.ChatType `json:"chat_type"`
	Name         string          `json:"name,omitempty"`
	Participants []string        `json:"participants"`
}

type sendMessageRequest struct {
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"message_type,omitempty"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	ClientMsgID string             `json:"client_msg_id,omitempty"`
}

// messagePayload is the new_message wire shape; client_msg_id lets the
// sending device match the push against its own optimistic render.
type messagePayload struct {
	models.Message
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

func isParticipant(chat *models.Chat, userID string) bool {
	for _, id := range chat.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func isAdmin(chat *models.Chat, userID string) bool {
	for _, id := range chat.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// CreateChat creates a direct or group chat. Direct chats are deduplicated
// on the participant pair; recreating one returns the existing chat.
func CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participants := req.Participants
	if !containsString(participants, userID) {
		participants = append(participants, userID)
	}

	switch req.ChatType {
	case models.ChatDirect:
		if len(participants) != 2 {
			writeError(w, http.StatusBadRequest, "direct chat must have exactly 2 participants")
			return
		}
		existing, err := services.FindDirectChat(r.Context(), participants[0], participants[1])
		if err == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		}
		if !errors.Is(err, services.ErrChatNotFound) {
			logger.Errorw("direct chat lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	case models.ChatGroup:
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "group chat requires a name")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "chat_type must be direct or group")
		return
	}

	chat := &models.Chat{
		ID:           uuid.NewString(),
		Type:         req.ChatType,
		Name:         strings.TrimSpace(req.Name),
		CreatedBy:    userID,
		Participants: participants,
		Admins:       []string{userID},
	}
	if err := services.CreateChat(r.Context(), chat); err != nil {
		logger.Errorw("creating chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	for _, participant := range chat.Participants {
		core.Rooms.AddMember(chat.ID, participant)
	}
	// Each participant is notified directly; none of them has the room open
	// yet, so a room-scoped event would have the same audience, but the
	// direct form also covers participants added before they ever joined.
	for _, participant := range chat.Participants {
		if err := core.Engine.Publish(realtime.Event{
			Kind:     realtime.KindChatCreated,
			UserID:   participant,
			SenderID: userID,
			DedupKey: chat.ID,
			Payload:  chat,
		}); err != nil {
			logger.Errorw("chat_created publish failed", "chat_id", chat.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, chat)
}

// ListChats returns the user's chats with durable unread counts, most
// recently active first.
func ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	chats, err := services.ListUserChats(r.Context(), userID)
	if err != nil {
		logger.Errorw("listing chats failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		unread, err := services.CountUnread(r.Context(), chat.ID, userID)
		if err != nil {
			logger.Errorw("counting unread failed", "chat_id", chat.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		summaries = append(summaries, models.ChatSummary{Chat: chat, UnreadCount: int(unread)})
	}

	writeJSON(w, http.StatusOK, summaries)
}

// GetChat returns one chat the user participates in.
func GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	chat, err := services.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if !isParticipant(chat, userID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// ListMessages returns paginated chat history.
func ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	chat, err := services.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if !isParticipant(chat, userID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		before = &t
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	msgs, hasMore, err := services.ListMessages(r.Context(), chat.ID, before, limit)
	if err != nil {
		logger.Errorw("listing messages failed", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"has_more": hasMore,
	})
}

// SendMessage persists a message and fans it out. An Idempotency-Key header
// collapses duplicate concurrent submissions to a single persisted message
// and a single publish; the duplicate gets a no-op acknowledgement, not an
// error.
func SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	chat, err := services.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if !isParticipant(chat, userID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	token := r.Header.Get("Idempotency-Key")
	if token == "" {
		token = req.ClientMsgID
	}
	if token != "" {
		if !core.Guard.Begin("user:"+userID, token) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"duplicate": true})
			return
		}
		defer core.Guard.End("user:"+userID, token)
	}

	msg, err := persistAndPublishMessage(r.Context(), chat, userID, req)
	if err != nil {
		logger.Errorw("sending message failed", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// persistAndPublishMessage is the shared write path for the REST and
// websocket submit routes: persist, bump chat activity, then publish.
// Persistence failure short-circuits before any publish.
func persistAndPublishMessage(ctx context.Context, chat *models.Chat, userID string, req sendMessageRequest) (*models.Message, error) {
	msg := &models.Message{
		ID:       uuid.NewString(),
		ChatID:   chat.ID,
		SenderID: userID,
		Content:  req.Content,
		Type:     req.MessageType,
		ReplyTo:  req.ReplyTo,
	}
	if err := services.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := services.UpdateChatLastActivity(ctx, chat.ID, &models.MessagePreview{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		SentAt:    msg.CreatedAt,
	}); err != nil {
		logger.Errorw("updating chat activity failed", "chat_id", chat.ID, "error", err)
	}

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindNewMessage,
		ChatID:   chat.ID,
		SenderID: userID,
		DedupKey: msg.ID,
		Payload:  messagePayload{Message: *msg, ClientMsgID: req.ClientMsgID},
	}); err != nil {
		// The write is durable; a poll recovers it. Surface the fault.
		return nil, err
	}
	return msg, nil
}

// EditMessage rewrites a message's content; only the sender may edit.
func EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	msg, err := services.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.SenderID != userID {
		writeError(w, http.StatusForbidden, "can only edit your own messages")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	updated, err := services.UpdateMessageContent(r.Context(), msg.ID, strings.TrimSpace(req.Content))
	if err != nil {
		logger.Errorw("editing message failed", "message_id", msg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindMessageUpdated,
		ChatID:   updated.ChatID,
		SenderID: userID,
		DedupKey: updated.ID,
		Payload:  updated,
	}); err != nil {
		logger.Errorw("message_updated publish failed", "message_id", updated.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteMessage soft-deletes a message; only the sender may delete.
func DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	msg, err := services.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.SenderID != userID {
		writeError(w, http.StatusForbidden, "can only delete your own messages")
		return
	}

	if err := services.SoftDeleteMessage(r.Context(), msg.ID); err != nil {
		logger.Errorw("deleting message failed", "message_id", msg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindMessageDeleted,
		ChatID:   msg.ChatID,
		SenderID: userID,
		DedupKey: msg.ID,
		Payload:  map[string]string{"message_id": msg.ID, "chat_id": msg.ChatID},
	}); err != nil {
		logger.Errorw("message_deleted publish failed", "message_id", msg.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ToggleReaction adds or removes the user's reaction on a message.
func ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	msg, err := services.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	chat, err := services.GetChat(r.Context(), msg.ChatID)
	if err != nil || !isParticipant(chat, userID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji must not be empty")
		return
	}

	added, updated, err := services.ToggleReaction(r.Context(), msg.ID, userID, req.Emoji)
	if err != nil {
		logger.Errorw("toggling reaction failed", "message_id", msg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindReactionChanged,
		ChatID:   updated.ChatID,
		SenderID: userID,
		DedupKey: updated.ID,
		Payload: map[string]interface{}{
			"message_id": updated.ID,
			"chat_id":    updated.ChatID,
			"user_id":    userID,
			"emoji":      req.Emoji,
			"added":      added,
			"reactions":  updated.Reactions,
		},
	}); err != nil {
		logger.Errorw("reaction_changed publish failed", "message_id", updated.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

// MarkRead records the user as having read a message and syncs the read
// state to the room.
func MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	changed, msg, err := services.MarkMessageRead(r.Context(), chi.URLParam(r, "messageID"), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	if changed {
		if err := core.Engine.Publish(realtime.Event{
			Kind:     realtime.KindMessageUpdated,
			ChatID:   msg.ChatID,
			SenderID: userID,
			DedupKey: msg.ID,
			Payload: map[string]interface{}{
				"message_id": msg.ID,
				"chat_id":    msg.ChatID,
				"read_by":    msg.ReadBy,
			},
		}); err != nil {
			logger.Errorw("read state publish failed", "message_id", msg.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// AddParticipant adds a user to a group chat and announces it. The new
// member is part of the event's audience even before they ever join the
// room view.
func AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	chat, err := services.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.Type != models.ChatGroup {
		writeError(w, http.StatusBadRequest, "participants can only be added to group chats")
		return
	}
	if !isAdmin(chat, userID) {
		writeError(w, http.StatusForbidden, "only admins may add participants")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id must not be empty")
		return
	}
	if _, err := services.GetUserByID(req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if isParticipant(chat, req.UserID) {
		writeError(w, http.StatusConflict, "user is already a participant")
		return
	}

	if err := services.AddParticipant(r.Context(), chat.ID, req.UserID); err != nil {
		logger.Errorw("adding participant failed", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	core.Rooms.AddMember(chat.ID, req.UserID)

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindParticipantAdded,
		ChatID:   chat.ID,
		UserID:   req.UserID,
		SenderID: userID,
		DedupKey: chat.ID + ":" + req.UserID,
		Payload: map[string]string{
			"chat_id":  chat.ID,
			"user_id":  req.UserID,
			"added_by": userID,
		},
	}); err != nil {
		logger.Errorw("participant_added publish failed", "chat_id", chat.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// RemoveParticipant removes a user from a group chat. Membership is dropped
// from the fan-out index before the confirmation event goes out, so the
// removed member receives only their own user-scoped notice and nothing that
// happens in the room afterwards.
func RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	chat, err := services.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	target := chi.URLParam(r, "userID")
	if target != userID && !isAdmin(chat, userID) {
		writeError(w, http.StatusForbidden, "only admins may remove other participants")
		return
	}
	if !isParticipant(chat, target) {
		writeError(w, http.StatusNotFound, "user is not a participant")
		return
	}

	if err := services.RemoveParticipant(r.Context(), chat.ID, target); err != nil {
		logger.Errorw("removing participant failed", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	core.Rooms.RemoveMember(chat.ID, target)
	core.Typing.Stop(chat.ID, target, "")

	if err := core.Engine.Publish(realtime.Event{
		Kind:     realtime.KindParticipantRemoved,
		ChatID:   chat.ID,
		UserID:   target,
		SenderID: userID,
		DedupKey: chat.ID + ":" + target,
		Payload: map[string]string{
			"chat_id":    chat.ID,
			"user_id":    target,
			"removed_by": userID,
		},
	}); err != nil {
		logger.Errorw("participant_removed publish failed", "chat_id", chat.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
