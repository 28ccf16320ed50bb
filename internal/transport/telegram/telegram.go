// Package telegram delivers platform notifications as Telegram messages
// with an inline click-through button.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"nudge/internal/transport"
	logx "nudge/pkg/logx"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultButtonText = "Open"
	// Telegram rejects messages longer than 4096 characters.
	textLimit = 4000
)

var ErrNoChat = errors.New("telegram: user has no chat")

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint.
	APIURL     string
	Timeout    time.Duration
	ButtonText string
	// Chats maps user ids to Telegram chat ids. Users without a chat are
	// denied permission.
	Chats map[string]int64
}

type Surface struct {
	bot        *tele.Bot
	buttonText string
	log        logx.Logger

	mu    sync.RWMutex
	chats map[string]int64
}

func New(cfg Config, log logx.Logger) (*Surface, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimSpace(cfg.APIURL),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Surface{bot: b, buttonText: cfg.ButtonText, log: log}
	if strings.TrimSpace(s.buttonText) == "" {
		s.buttonText = defaultButtonText
	}
	s.SetChats(cfg.Chats)
	return s, nil
}

func (s *Surface) Name() string { return "telegram" }

// SetChats replaces the user to chat mapping.
func (s *Surface) SetChats(chats map[string]int64) {
	m := make(map[string]int64, len(chats))
	for u, id := range chats {
		if id != 0 {
			m[u] = id
		}
	}
	s.mu.Lock()
	s.chats = m
	s.mu.Unlock()
}

func (s *Surface) chat(userID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.chats[userID]
	return id, ok
}

func (s *Surface) Permission(_ context.Context, userID string) transport.Permission {
	if _, ok := s.chat(userID); ok {
		return transport.PermissionGranted
	}
	return transport.PermissionDenied
}

func (s *Surface) Deliver(ctx context.Context, n transport.PlatformNotification) error {
	id, ok := s.chat(n.UserID)
	if !ok {
		return ErrNoChat
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if isWebURL(n.URL) {
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.URL(s.buttonText, n.URL)))
		opts.ReplyMarkup = markup
	}
	if _, err := s.bot.Send(&tele.Chat{ID: id}, Format(n), opts); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	s.log.Debug("notification sent", logx.String("user", n.UserID), logx.String("tag", n.Tag))
	return nil
}

// Format renders n as Telegram HTML. The body is cut so the visible text
// stays within the message limit.
func Format(n transport.PlatformNotification) string {
	title := []rune(strings.TrimSpace(n.Title))
	body := []rune(strings.TrimSpace(n.Body))
	if len(title) > textLimit {
		title = append(title[:textLimit-1], '…')
		body = nil
	}
	if room := textLimit - len(title) - 1; len(body) > room {
		if room <= 1 {
			body = nil
		} else {
			body = append(body[:room-1], '…')
		}
	}

	var b strings.Builder
	if len(title) > 0 {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(string(title)))
		b.WriteString("</b>")
	}
	if len(body) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(html.EscapeString(string(body)))
	}
	return b.String()
}

func isWebURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
