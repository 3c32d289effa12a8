package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/convlist"
	"github.com/nexobay/courier/internal/history"
	"github.com/nexobay/courier/internal/logging"
	"github.com/nexobay/courier/internal/msgstore"
	"github.com/nexobay/courier/internal/presence"
	"github.com/nexobay/courier/internal/transport"
	"go.uber.org/zap"
)

const historyPageSize = 50

// Session is the composition root for one logged-in client identity. It
// owns every piece of client state; logout tears all of it down.
type Session struct {
	Name   string
	UserID string

	Config   *config.Config
	Logger   *zap.Logger
	Bus      *bus.Bus
	Conn     *transport.Conn
	Messages *msgstore.Store
	Presence *presence.Aggregator
	Convs    *convlist.Manager
	History  *history.Client

	token  string
	cancel context.CancelFunc
	loaded map[string]bool // conversations with a fetched history page
}

// Open loads a session's config and stored credentials and wires its
// components together. Nothing connects until Start.
func Open(name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := EnsureDir(name); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	cfg, err := config.Load(ConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
		// First run; materialize the defaults so there is a file to edit.
		_ = config.Save(ConfigPath(), cfg)
	}

	logger, err := logging.NewFileOnly(LogPath(name), "courier")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	token := LoadToken(name)
	userID := ""
	if token != "" {
		if userID, err = UserIDFromToken(token); err != nil {
			return nil, fmt.Errorf("stored token: %w", err)
		}
	}

	b := bus.New()
	conn := transport.New(cfg.Client, b, logger)
	agg := presence.New(userID, b, logger)
	store := msgstore.New(userID, conn, agg, b, logger)
	convs := convlist.New(userID, agg, b, logger)
	hist := history.New(cfg.Client.Endpoint, token)

	return &Session{
		Name:     name,
		UserID:   userID,
		Config:   cfg,
		Logger:   logger,
		Bus:      b,
		Conn:     conn,
		Messages: store,
		Presence: agg,
		Convs:    convs,
		History:  hist,
		token:    token,
		loaded:   make(map[string]bool),
	}, nil
}

// SetToken stores fresh credentials and rewires the derived identity.
// Callers use this after login, before Start.
func (s *Session) SetToken(token string) error {
	userID, err := UserIDFromToken(token)
	if err != nil {
		return err
	}
	if err := SaveToken(s.Name, token); err != nil {
		return err
	}
	s.token = token
	s.UserID = userID
	s.History.SetToken(token)
	return nil
}

// Start launches the bus consumers and connects to the server. The seed
// fetch runs once the connection reaches connected; on every later
// reconnect the active conversation's recent history is re-fetched and
// merged, covering messages the socket missed.
func (s *Session) Start(ctx context.Context) error {
	if s.token == "" {
		return transport.ErrNoCredentials
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.Presence.Start(ctx)
	s.Messages.Start(ctx)
	s.Convs.Start(ctx)

	ch, unsub := s.Bus.Subscribe(bus.KindStateChanged, 16)
	go func() {
		defer unsub()
		seeded := false
		for {
			select {
			case evt := <-ch:
				sc, ok := evt.Payload.(transport.StateChange)
				if !ok || sc.To != transport.Connected {
					continue
				}
				if !seeded {
					seeded = true
					go s.seed(ctx)
				} else {
					go s.refreshActive(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return s.Conn.Connect(ctx, s.token)
}

// OpenConversation marks a conversation active across every component and
// lazily loads its first history page.
func (s *Session) OpenConversation(ctx context.Context, otherUserID string) {
	s.Presence.SetActiveChat(otherUserID)
	s.Conn.SetActiveChat(otherUserID)
	s.Messages.MarkConversationRead(otherUserID)

	if otherUserID == "" {
		return
	}
	needLoad := !s.loaded[otherUserID]
	s.loaded[otherUserID] = true
	if needLoad {
		go s.loadHistory(ctx, otherUserID)
	}
}

// Send sends a text message in the currently relevant conversation,
// returning the provisional client id.
func (s *Session) Send(otherUserID, content string) (string, error) {
	return s.Messages.SendText(otherUserID, content)
}

// LoadOlder fetches the page of history older than beforeTs for a
// conversation and merges it.
func (s *Session) LoadOlder(ctx context.Context, otherUserID string, beforeTs int64) error {
	page, err := s.History.Messages(ctx, otherUserID, beforeTs, historyPageSize)
	if err != nil {
		return err
	}
	s.Messages.SeedHistory(otherUserID, page)
	return nil
}

// Logout tears the session down: stops reconnecting, closes the socket,
// discards all in-memory state and the stored token. Terminal.
func (s *Session) Logout() {
	s.Conn.Logout()
	s.Messages.Reset()
	s.Presence.Reset()
	s.Convs.Reset()
	s.loaded = make(map[string]bool)
	if err := ClearToken(s.Name); err != nil {
		s.Logger.Warn("failed to clear token", zap.Error(err))
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Close shuts the session down without discarding credentials.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Convs.Stop()
	s.Messages.Stop()
	s.Presence.Stop()
	_ = s.Logger.Sync()
}

// seed performs the one-time REST load after the first successful connect:
// the conversation list with durable unread counts, then the active
// conversation's newest page if one is open.
func (s *Session) seed(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	summaries, err := s.History.Conversations(ctx)
	if err != nil {
		s.Logger.Warn("conversation seed failed", zap.Error(err))
		return
	}

	convs := make([]convlist.Conversation, 0, len(summaries))
	for _, sum := range summaries {
		convs = append(convs, convlist.Conversation{
			OtherUserID:   sum.OtherUserID,
			OtherUserName: sum.OtherUserName,
			LastMessage:   sum.LastMessage,
			LastTimestamp: sum.LastTimestamp,
			IsLastFromMe:  sum.IsLastFromMe,
		})
		s.Presence.SeedUnread(sum.OtherUserID, sum.UnreadCount)
	}
	s.Convs.Seed(convs)
	s.Logger.Info("conversation seed loaded", zap.Int("conversations", len(convs)))

	s.refreshActive(ctx)
}

// refreshActive re-fetches the newest history page for the active
// conversation. The merge is idempotent, so overlap with frames already
// received over the socket is harmless.
func (s *Session) refreshActive(ctx context.Context) {
	active := s.Presence.ActiveChat()
	if active == "" {
		return
	}
	if err := s.LoadOlder(ctx, active, 0); err != nil {
		s.Logger.Warn("active history refresh failed",
			zap.String("other", active), zap.Error(err))
		return
	}
	s.Messages.MarkConversationRead(active)
}

func (s *Session) loadHistory(ctx context.Context, otherUserID string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.LoadOlder(ctx, otherUserID, 0); err != nil {
		s.Logger.Warn("history load failed",
			zap.String("other", otherUserID), zap.Error(err))
	}
}
