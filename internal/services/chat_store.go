package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relay-im/relay-backend/internal/database"
	"github.com/relay-im/relay-backend/internal/models"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

// EnsureChatIndexes configures indexes for the chats and messages
// collections. Called on startup from main after Mongo has connected.
func EnsureChatIndexes(ctx context.Context) error {
	messages := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_chat_created"),
		},
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_message_id").SetUnique(true),
		},
	}
	if _, err := database.DB.Collection(messagesCollection).Indexes().CreateMany(ctx, messages); err != nil {
		return err
	}

	chats := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_chat_id").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "participants", Value: 1},
				{Key: "updated_at", Value: -1},
			},
			Options: options.Index().SetName("idx_participant_activity"),
		},
	}
	_, err := database.DB.Collection(chatsCollection).Indexes().CreateMany(ctx, chats)
	return err
}

// CreateChat persists a new chat document. Timestamps are stamped here.
func CreateChat(ctx context.Context, chat *models.Chat) error {
	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	_, err := database.DB.Collection(chatsCollection).InsertOne(ctx, chat)
	return err
}

// FindDirectChat returns the existing direct chat between two users, if any.
// Direct chats are deduplicated on the participant pair.
func FindDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	var chat models.Chat
	err := database.DB.Collection(chatsCollection).FindOne(ctx, bson.M{
		"chat_type":    models.ChatDirect,
		"participants": bson.M{"$all": bson.A{userA, userB}, "$size": 2},
	}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := database.DB.Collection(chatsCollection).FindOne(ctx, bson.M{"id": chatID}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListUserChats returns every chat the user participates in, most recently
// active first.
func ListUserChats(ctx context.Context, userID string) ([]models.Chat, error) {
	cur, err := database.DB.Collection(chatsCollection).Find(ctx,
		bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var chats []models.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func AddParticipant(ctx context.Context, chatID, userID string) error {
	res, err := database.DB.Collection(chatsCollection).UpdateOne(ctx,
		bson.M{"id": chatID},
		bson.M{
			"$addToSet": bson.M{"participants": userID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

func RemoveParticipant(ctx context.Context, chatID, userID string) error {
	res, err := database.DB.Collection(chatsCollection).UpdateOne(ctx,
		bson.M{"id": chatID},
		bson.M{
			"$pull": bson.M{"participants": userID, "admins": userID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// CreateMessage persists one message. The sender is marked as having read
// their own message so it never counts against them.
func CreateMessage(ctx context.Context, msg *models.Message) error {
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	msg.ReadBy = append(msg.ReadBy, msg.SenderID)
	_, err := database.DB.Collection(messagesCollection).InsertOne(ctx, msg)
	return err
}

func GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := database.DB.Collection(messagesCollection).FindOne(ctx, bson.M{"id": messageID}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageContent edits a message and returns the updated document.
func UpdateMessageContent(ctx context.Context, messageID, content string) (*models.Message, error) {
	var msg models.Message
	err := database.DB.Collection(messagesCollection).FindOneAndUpdate(ctx,
		bson.M{"id": messageID},
		bson.M{"$set": bson.M{
			"content":    content,
			"edited":     true,
			"updated_at": time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDeleteMessage blanks a message while keeping its slot, so history
// pagination and reply references stay intact.
func SoftDeleteMessage(ctx context.Context, messageID string) error {
	res, err := database.DB.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"id": messageID},
		bson.M{"$set": bson.M{
			"deleted":    true,
			"content":    "",
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ToggleReaction adds the user's reaction if absent, removes it if present,
// and reports which way it went along with the updated message.
func ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, *models.Message, error) {
	msg, err := GetMessage(ctx, messageID)
	if err != nil {
		return false, nil, err
	}

	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}
	added := true
	users := msg.Reactions[emoji]
	for i, id := range users {
		if id == userID {
			users = append(users[:i], users[i+1:]...)
			added = false
			break
		}
	}
	if added {
		users = append(users, userID)
	}
	if len(users) == 0 {
		delete(msg.Reactions, emoji)
	} else {
		msg.Reactions[emoji] = users
	}
	msg.UpdatedAt = time.Now().UTC()

	_, err = database.DB.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"id": messageID},
		bson.M{"$set": bson.M{"reactions": msg.Reactions, "updated_at": msg.UpdatedAt}},
	)
	if err != nil {
		return false, nil, err
	}
	return added, msg, nil
}

// MarkMessageRead records userID as having read the message. Reports whether
// this call changed anything.
func MarkMessageRead(ctx context.Context, messageID, userID string) (bool, *models.Message, error) {
	var msg models.Message
	err := database.DB.Collection(messagesCollection).FindOneAndUpdate(ctx,
		bson.M{"id": messageID, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		// Either unknown id or already read; disambiguate.
		existing, gerr := GetMessage(ctx, messageID)
		if gerr != nil {
			return false, nil, gerr
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, &msg, nil
}

// ListMessages returns paginated history for a chat, oldest-first within the
// page, newest page first (timestamp cursor + limit).
func ListMessages(ctx context.Context, chatID string, before *time.Time, limit int64) ([]models.Message, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	filter := bson.M{"chat_id": chatID}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit + 1)

	cur, err := database.DB.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close(ctx)

	var msgs []models.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, false, err
	}

	hasMore := int64(len(msgs)) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, hasMore, nil
}

// UpdateChatLastActivity bumps the chat's activity marker and denormalized
// last message. Issued on the success path of every message write so a
// poll-based chat list reflects what the push path delivered.
func UpdateChatLastActivity(ctx context.Context, chatID string, preview *models.MessagePreview) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if preview != nil {
		set["last_message"] = preview
	}
	res, err := database.DB.Collection(chatsCollection).UpdateOne(ctx,
		bson.M{"id": chatID},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// CountUnread is the durable unread count for (chat, user): messages from
// others the user has not read. The in-process tracker serves the live view;
// this query backs the chat list and recovery after a restart.
func CountUnread(ctx context.Context, chatID, userID string) (int64, error) {
	return database.DB.Collection(messagesCollection).CountDocuments(ctx, bson.M{
		"chat_id":   chatID,
		"sender_id": bson.M{"$ne": userID},
		"read_by":   bson.M{"$ne": userID},
		"deleted":   false,
	})
}
