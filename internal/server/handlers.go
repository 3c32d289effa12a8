package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/nexobay/courier/internal/store"
	"go.uber.org/zap"
)

const authDeadline = 10 * time.Second

// maxMessagePageSize caps a single history response regardless of the
// requested limit.
const maxMessagePageSize = 200

// API carries the handler dependencies.
type API struct {
	db       *store.DB
	hub      *Hub
	verifier *TokenVerifier
	logger   *zap.Logger
}

// conversationJSON is the REST shape of one conversation listing row.
type conversationJSON struct {
	OtherUserID   string `json:"otherUserId"`
	OtherUserName string `json:"otherUserName"`
	LastMessage   string `json:"lastMessage"`
	LastTimestamp int64  `json:"lastTimestamp"`
	UnreadCount   int    `json:"unreadCount"`
	IsLastFromMe  bool   `json:"isLastFromMe"`
}

type userJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// requireAuth extracts and verifies the bearer token, stashing the user id
// for the handler.
func (a *API) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	userID, err := a.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return fiber.NewError(fiber.StatusUnauthorized, "token expired")
		}
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("userID", userID)
	return c.Next()
}

// handleConversations GET /api/conversations
func (a *API) handleConversations(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	views, err := a.db.ListConversations(userID)
	if err != nil {
		a.logger.Error("list conversations failed", zap.String("user", userID), zap.Error(err))
		return fiber.ErrInternalServerError
	}
	out := make([]conversationJSON, 0, len(views))
	for _, v := range views {
		out = append(out, conversationJSON{
			OtherUserID:   v.OtherUserID,
			OtherUserName: v.OtherUserName,
			LastMessage:   v.LastMessage,
			LastTimestamp: v.LastTimestamp,
			UnreadCount:   v.UnreadCount,
			IsLastFromMe:  v.IsLastFromMe,
		})
	}
	return c.JSON(out)
}

// handleMessages GET /api/messages/:otherId?before=&limit=
func (a *API) handleMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	otherID := c.Params("otherId")
	if otherID == "" {
		return fiber.ErrBadRequest
	}
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}

	page, err := a.db.ListMessages(userID, otherID, before, limit)
	if err != nil {
		a.logger.Error("list messages failed", zap.String("user", userID), zap.Error(err))
		return fiber.ErrInternalServerError
	}

	// The store pages newest first; clients render chronologically.
	out := make([]protocol.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		out = append(out, protocol.Message{
			MessageID:   m.MsgID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Content:     m.Content,
			Timestamp:   m.Timestamp,
			Kind:        "text",
			Status:      protocol.StatusDelivered,
		})
	}
	return c.JSON(out)
}

// handleSearch GET /api/users/search?q=
func (a *API) handleSearch(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	prefix := strings.TrimSpace(c.Query("q"))
	if prefix == "" {
		return c.JSON([]userJSON{})
	}
	users, err := a.db.SearchUsers(prefix, userID, 20)
	if err != nil {
		a.logger.Error("user search failed", zap.String("user", userID), zap.Error(err))
		return fiber.ErrInternalServerError
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, userJSON{ID: u.ID, Name: u.Name})
	}
	return c.JSON(out)
}

// handleWS GET /ws. The first frame must be an auth envelope; everything
// after flows through the hub.
func (a *API) handleWS(c *websocket.Conn) {
	userID, name, ok := a.authenticate(c)
	if !ok {
		_ = c.Close()
		return
	}

	if err := a.db.UpsertUser(userID, name); err != nil {
		a.logger.Warn("directory upsert failed", zap.String("user", userID), zap.Error(err))
	}

	sess := NewSession(userID, c)
	a.hub.Register(sess)
	defer a.hub.Unregister(sess)
	go sess.WritePump()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			a.logger.Debug("dropping malformed frame", zap.String("user", userID), zap.Error(err))
			continue
		}
		switch env.Type {
		case protocol.TypeMessage:
			a.hub.HandleMessage(userID, env.Message)
		case protocol.TypeCursor:
			a.hub.HandleCursor(userID, env.Cursor)
		case protocol.TypePresence:
			// Heartbeat; liveness is the read itself.
		default:
			a.logger.Debug("ignoring envelope", zap.String("type", string(env.Type)))
		}
	}
}

func (a *API) authenticate(c *websocket.Conn) (userID, name string, ok bool) {
	_ = c.SetReadDeadline(time.Now().Add(authDeadline))
	_, data, err := c.ReadMessage()
	if err != nil {
		return "", "", false
	}
	_ = c.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(data)
	if err != nil || env.Type != protocol.TypeAuth {
		return "", "", false
	}
	userID, err = a.verifier.Verify(env.Auth.Token)
	if err != nil {
		a.logger.Info("websocket auth rejected", zap.Error(err))
		return "", "", false
	}
	return userID, env.Auth.Name, true
}
