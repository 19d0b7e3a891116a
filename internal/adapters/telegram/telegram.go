// Package telegram is warden's send-only Telegram surface. There is no
// poller and no command handling: warden pushes alerts to one configured
// chat and reads nothing back.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
	// ThreadID targets a forum topic; 0 sends to the main chat.
	ThreadID int
	// Offline skips the getMe verification call (tests only).
	Offline bool
}

// Adapter satisfies both notify.Sender and logx.AlertSender, so alert-level
// log lines and explicit notifications share one delivery path.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Send delivers text to the configured chat. The underlying client has no
// context support; ctx is honored up front only.
func (a *Adapter) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: a.cfg.ChatID}, text, &tele.SendOptions{
		ThreadID:              a.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		// Callers decide whether this is worth a warn; logging it here at
		// warn would feed the alert sink and loop.
		a.log.Debug("telegram send failed", logx.Any("err", err))
		return err
	}
	return nil
}

// SendAlert implements logx.AlertSender.
func (a *Adapter) SendAlert(ctx context.Context, text string) error {
	return a.Send(ctx, text)
}
