// Package telegram delivers operator log lines to a Telegram chat.
//
// The daemon talks to Discord; Telegram is only an optional sink for
// warnings and errors so operators notice failed jobs without tailing logs.
package telegram

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	"amd/internal/errors"
)

const textLimit = 4096

type Config struct {
	Token string
}

// botAPI is the part of *tele.Bot used by Sender.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Sender implements logx.TextSender.
type Sender struct {
	bot botAPI
}

func New(cfg Config) (*Sender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.Configuration("telegram token is empty")
	}
	// Offline: no getMe round-trip at startup and no poller, we only send.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	return &Sender{bot: b}, nil
}

func (s *Sender) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return errors.Network(err, "telegram send")
		}
	}
	return nil
}

// splitText cuts s into rune windows of at most limit, preferring a newline
// in the last two thirds of each window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
	}
	return out
}
