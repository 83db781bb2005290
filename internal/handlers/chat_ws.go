package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"

	"github.com/relay-im/relay-backend/internal/realtime"
	"github.com/relay-im/relay-backend/internal/services"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware at the HTTP layer.
		return true
	},
}

const wsReadWindow = 90 * time.Second

// wsSink adapts a gorilla connection to the delivery core. The core's write
// loop is the only writer, so no write lock is needed; the write deadline is
// the per-connection delivery timeout.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Send(kind string, payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(deliveryTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// ChatWebSocket is the push channel. Authentication reuses the session
// token (Authorization: Bearer <token>, or ?token= for browser clients).
// Inbound frames: join_chat, leave_chat, message, typing_start,
// typing_stop, ping.
func ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	ws, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	conn := core.Registry.Connect(userID, wsSink{conn: ws})
	defer core.Registry.Disconnect(conn)

	// Mirror the user's durable memberships into the fan-out index so room
	// events reach this user without an explicit join.
	hydrateCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	chats, err := services.ListUserChats(hydrateCtx, userID)
	cancel()
	if err != nil {
		logger.Errorw("membership hydration failed", "user_id", userID, "error", err)
	}
	for _, chat := range chats {
		core.Rooms.AddMember(chat.ID, userID)
	}

	logger.Infow("client connected", "conn_id", conn.ID, "user_id", userID)
	defer logger.Infow("client disconnected", "conn_id", conn.ID, "user_id", userID)

	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadWindow))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadWindow))
	})

	var parser fastjson.Parser
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadWindow))

		v, err := parser.ParseBytes(data)
		if err != nil {
			continue
		}

		frameType := string(v.GetStringBytes("type"))
		chatID := string(v.GetStringBytes("chat_id"))

		switch frameType {
		case "join_chat":
			handleJoinChat(r.Context(), conn, chatID)
		case "leave_chat":
			handleLeaveChat(conn)
		case "message":
			handleClientMessage(r.Context(), conn, v)
		case "typing_start":
			if chatID != "" && core.Rooms.IsMember(chatID, conn.UserID) {
				core.Typing.Start(chatID, conn.UserID, conn.ID)
			}
		case "typing_stop":
			if chatID != "" {
				core.Typing.Stop(chatID, conn.UserID, conn.ID)
			}
		case "ping":
			// Read deadline already refreshed above.
		default:
			// Unknown frame types are ignored.
		}
	}
}

// handleJoinChat opens chatID on this connection. Authorization is against
// durable membership, not the fan-out index, so a chat created while the
// user was offline still admits them.
func handleJoinChat(ctx context.Context, conn *realtime.Conn, chatID string) {
	if chatID == "" {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	chat, err := services.GetChat(opCtx, chatID)
	cancel()
	if err != nil || !isParticipant(chat, conn.UserID) {
		return
	}
	core.Rooms.AddMember(chatID, conn.UserID)

	if prev := core.Registry.OpenChat(conn); prev != "" && prev != chatID {
		core.Typing.Stop(prev, conn.UserID, conn.ID)
	}
	core.Unread.OpenChat(conn, chatID)
}

func handleLeaveChat(conn *realtime.Conn) {
	if prev := core.Registry.OpenChat(conn); prev != "" {
		core.Typing.Stop(prev, conn.UserID, conn.ID)
	}
	core.Registry.SetOpenChat(conn, "")
}

// handleClientMessage is the websocket submit path: guard on the
// client-supplied message id, persist, bump activity, publish. The sender
// sees the message come back through the room fan-out with its
// client_msg_id attached; a duplicate submission is silently coalesced.
func handleClientMessage(ctx context.Context, conn *realtime.Conn, v *fastjson.Value) {
	chatID := string(v.GetStringBytes("chat_id"))
	content := strings.TrimSpace(string(v.GetStringBytes("content")))
	clientMsgID := string(v.GetStringBytes("client_msg_id"))
	if chatID == "" || content == "" {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chat, err := services.GetChat(opCtx, chatID)
	if err != nil || !isParticipant(chat, conn.UserID) {
		return
	}

	if clientMsgID != "" {
		if !core.Guard.Begin(conn.ID, clientMsgID) {
			return
		}
		defer core.Guard.End(conn.ID, clientMsgID)
	}

	if _, err := persistAndPublishMessage(opCtx, chat, conn.UserID, sendMessageRequest{
		Content:     content,
		ClientMsgID: clientMsgID,
	}); err != nil {
		logger.Errorw("websocket message submit failed",
			"conn_id", conn.ID, "chat_id", chatID, "error", err)
	}
}
