package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/unibox/internal/channel"
)

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: 100 + len(f.sent)}, nil
}

func newTestAdapter(bot *fakeBot) *Adapter {
	a := NewAdapter(nil, "token")
	a.bot = bot
	return a
}

func TestResolveTelegramSender(t *testing.T) {
	t.Parallel()

	externalID, displayName, attrs := resolveTelegramSender(nil)
	if externalID != "" || displayName != "" || len(attrs) != 0 {
		t.Fatalf("expected empty sender")
	}
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "alice", FirstName: "Alice"},
	}
	externalID, displayName, attrs = resolveTelegramSender(msg)
	if externalID != "123" || displayName != "Alice" {
		t.Fatalf("unexpected sender: %s %s", externalID, displayName)
	}
	if attrs["user_id"] != "123" || attrs["username"] != "alice" {
		t.Fatalf("unexpected attrs: %#v", attrs)
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	a := newTestAdapter(bot)
	id, err := a.Send(context.Background(), channel.SendRequest{ChatID: "42", Destination: "7", Text: "**hi**", ReplyToExternalID: "9"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "101" {
		t.Fatalf("unexpected external id %q", id)
	}
	cfg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", bot.sent[0])
	}
	if cfg.ChatID != 42 || cfg.ReplyToMessageID != 9 {
		t.Fatalf("unexpected config: %+v", cfg.BaseChat)
	}
	if cfg.Text != "<b>hi</b>" || cfg.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected text %q mode %q", cfg.Text, cfg.ParseMode)
	}
}

func TestSendAttachmentsCaptionFirst(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	a := newTestAdapter(bot)
	id, err := a.Send(context.Background(), channel.SendRequest{
		Destination: "42",
		Text:        "look",
		Attachments: []channel.Attachment{
			{URL: "https://files/a.png", Mime: "image/png"},
			{URL: "https://files/b.pdf", Mime: "application/pdf"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "101" || len(bot.sent) != 2 {
		t.Fatalf("unexpected result %q %d", id, len(bot.sent))
	}
	photo, ok := bot.sent[0].(tgbotapi.PhotoConfig)
	if !ok || photo.Caption != "look" {
		t.Fatalf("unexpected first send %#v", bot.sent[0])
	}
	doc, ok := bot.sent[1].(tgbotapi.DocumentConfig)
	if !ok || doc.Caption != "" {
		t.Fatalf("unexpected second send %#v", bot.sent[1])
	}
}

func TestSendRejectsBadTarget(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(&fakeBot{})
	_, err := a.Send(context.Background(), channel.SendRequest{Text: "hi"})
	if !errors.Is(err, channel.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestToInboundMessage(t *testing.T) {
	t.Parallel()

	if _, ok := toInboundMessage(nil, "bot"); ok {
		t.Fatalf("nil message must be skipped")
	}
	m := &tgbotapi.Message{
		MessageID:      7,
		Date:           1700000000,
		Text:           " hello ",
		Chat:           &tgbotapi.Chat{ID: 42},
		From:           &tgbotapi.User{ID: 123, FirstName: "Jane"},
		ReplyToMessage: &tgbotapi.Message{MessageID: 5},
	}
	msg, ok := toInboundMessage(m, "bot")
	if !ok {
		t.Fatalf("expected message")
	}
	if msg.MessageID != "7" || msg.ChatID != "42" || msg.Sender.Value != "123" || msg.Text != "hello" {
		t.Fatalf("unexpected inbound %+v", msg)
	}
	if msg.ReplyToExternalID != "5" || msg.AccountID != "bot" || msg.SentAt.Unix() != 1700000000 {
		t.Fatalf("unexpected inbound %+v", msg)
	}
}

func TestToInboundUpdate(t *testing.T) {
	t.Parallel()

	upd := toInboundUpdate(&tgbotapi.Message{MessageID: 7, EditDate: 1700000100, Text: "fixed", Chat: &tgbotapi.Chat{ID: 42}}, "bot")
	if upd.Kind != channel.UpdateEdit || upd.MessageID != "7" || upd.ChatID != "42" || upd.Text != "fixed" {
		t.Fatalf("unexpected update %+v", upd)
	}
}
