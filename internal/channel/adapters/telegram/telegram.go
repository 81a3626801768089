// Package telegram implements the Telegram channel adapter: bot API sends
// and a long-poll receiver feeding the ingest pipeline.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/adapterutil"
	"github.com/memohai/unibox/internal/store"
)

// Type is the registered channel type for Telegram.
const Type channel.Type = "telegram"

// textLimit is the Bot API's maximum message length.
const textLimit = 4096

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter sends through one bot. The bot client is created on first use.
type Adapter struct {
	logger    *slog.Logger
	token     string
	accountID string

	mu  sync.Mutex
	bot botAPI
	api *tgbotapi.BotAPI
}

// NewAdapter creates a Telegram adapter for the bot identified by token.
func NewAdapter(log *slog.Logger, token string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		token:  strings.TrimSpace(token),
	}
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:          Type,
		DisplayName:   "Telegram",
		IdentityType:  store.IdentityPlatformUser,
		ThreadCapable: true,
		Capabilities: channel.Capabilities{
			Text:        true,
			Markdown:    true,
			Attachments: true,
			Reply:       true,
			Threads:     true,
			Edit:        true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: textLimit,
			ChunkerMode:    channel.ChunkerModeMarkdown,
		},
	}
}

func (a *Adapter) client() (botAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if a.token == "" {
		return nil, fmt.Errorf("%w: telegram bot token is required", channel.ErrPermanent)
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: a.logger})
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.api = bot
	a.accountID = strconv.FormatInt(bot.Self.ID, 10)
	a.bot = bot
	return bot, nil
}

// Send delivers req.Text, or each attachment with the text as the first
// caption, and returns the id of the first Telegram message.
func (a *Adapter) Send(ctx context.Context, req channel.SendRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := req.ChatID
	if strings.TrimSpace(target) == "" {
		target = req.Destination
	}
	target = normalizeTarget(target)
	if target == "" {
		return "", fmt.Errorf("%w: telegram target is required", channel.ErrPermanent)
	}
	bot, err := a.client()
	if err != nil {
		return "", err
	}
	text, parseMode := formatTelegramOutput(strings.TrimSpace(req.Text), true)
	replyTo := parseReplyToMessageID(req.ReplyToExternalID)

	if len(req.Attachments) == 0 {
		sent, err := sendTelegramText(bot, target, text, replyTo, parseMode)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(sent.MessageID), nil
	}
	firstID := ""
	for i, att := range req.Attachments {
		caption := ""
		if i == 0 {
			caption = text
		}
		applyReply := replyTo
		if i > 0 {
			applyReply = 0
		}
		sent, err := sendTelegramAttachment(bot, target, att, caption, applyReply, parseMode)
		if err != nil {
			a.logger.Error("send attachment failed", slog.String("message_id", req.MessageID), slog.Any("error", err))
			return firstID, err
		}
		if i == 0 {
			firstID = strconv.Itoa(sent.MessageID)
		}
	}
	return firstID, nil
}

// Receive long-polls the bot for updates until ctx ends. New messages go to
// onMessage, edits to onUpdate when it is non-nil.
func (a *Adapter) Receive(ctx context.Context, onMessage channel.InboundHandler, onUpdate func(context.Context, channel.InboundUpdate) error) error {
	if _, err := a.client(); err != nil {
		return err
	}
	a.mu.Lock()
	bot, accountID := a.api, a.accountID
	a.mu.Unlock()
	if bot == nil {
		return fmt.Errorf("telegram receiver needs a bot api client")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	a.logger.Info("receiver started", slog.String("account_id", accountID))

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			a.logger.Info("receiver stopped", slog.String("account_id", accountID))
			return nil
		case update, ok := <-updates:
			if !ok {
				a.logger.Info("updates channel closed", slog.String("account_id", accountID))
				return nil
			}
			if update.EditedMessage != nil && onUpdate != nil {
				if err := onUpdate(ctx, toInboundUpdate(update.EditedMessage, accountID)); err != nil {
					a.logger.Error("handle edit failed", slog.Any("error", err))
				}
				continue
			}
			msg, ok := toInboundMessage(update.Message, accountID)
			if !ok {
				continue
			}
			a.logger.Info("inbound received",
				slog.String("chat_id", msg.ChatID),
				slog.String("user_id", msg.Sender.Value),
				slog.String("text", adapterutil.SummarizeText(msg.Text)))
			if err := onMessage(ctx, msg); err != nil {
				a.logger.Error("handle inbound failed", slog.String("chat_id", msg.ChatID), slog.Any("error", err))
			}
		}
	}
}

func toInboundMessage(m *tgbotapi.Message, accountID string) (channel.InboundMessage, bool) {
	if m == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	files := collectTelegramFiles(m)
	if text == "" && len(files) == 0 {
		return channel.InboundMessage{}, false
	}
	externalID, displayName, attrs := resolveTelegramSender(m)
	if externalID == "" {
		return channel.InboundMessage{}, false
	}
	chatID := ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
	}
	replyTo := ""
	if m.ReplyToMessage != nil {
		replyTo = strconv.Itoa(m.ReplyToMessage.MessageID)
	}
	meta := make(map[string]any, len(attrs))
	for k, v := range attrs {
		meta[k] = v
	}
	var raw json.RawMessage
	if len(files) > 0 {
		raw, _ = json.Marshal(map[string]any{"files": files})
	}
	return channel.InboundMessage{
		Channel:   Type,
		AccountID: accountID,
		ChatID:    chatID,
		MessageID: strconv.Itoa(m.MessageID),
		Sender: channel.Sender{
			Value:       externalID,
			DisplayName: displayName,
			Metadata:    meta,
		},
		Text:              text,
		ReplyToExternalID: replyTo,
		SentAt:            time.Unix(int64(m.Date), 0).UTC(),
		Raw:               raw,
	}, true
}

func toInboundUpdate(m *tgbotapi.Message, accountID string) channel.InboundUpdate {
	chatID := ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
	}
	at := time.Now().UTC()
	if m.EditDate > 0 {
		at = time.Unix(int64(m.EditDate), 0).UTC()
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	return channel.InboundUpdate{
		Channel:   Type,
		AccountID: accountID,
		ChatID:    chatID,
		MessageID: strconv.Itoa(m.MessageID),
		Kind:      channel.UpdateEdit,
		Text:      text,
		At:        at,
	}
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil {
		return "", "", attrs
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		userID := strconv.FormatInt(msg.From.ID, 10)
		username := strings.TrimSpace(msg.From.UserName)
		attrs["user_id"] = userID
		if username != "" {
			attrs["username"] = username
		}
		displayName := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if displayName == "" {
			displayName = username
		}
		return userID, displayName, attrs
	}
	if msg.SenderChat != nil {
		senderChatID := strconv.FormatInt(msg.SenderChat.ID, 10)
		attrs["sender_chat_id"] = senderChatID
		if msg.SenderChat.UserName != "" {
			attrs["sender_chat_username"] = strings.TrimSpace(msg.SenderChat.UserName)
		}
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return senderChatID, displayName, attrs
	}
	return "", "", attrs
}

type telegramFile struct {
	FileID string `json:"file_id"`
	Kind   string `json:"kind"`
	Name   string `json:"name,omitempty"`
	Mime   string `json:"mime,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

func collectTelegramFiles(msg *tgbotapi.Message) []telegramFile {
	files := make([]telegramFile, 0, 1)
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		files = append(files, telegramFile{FileID: photo.FileID, Kind: "image", Size: int64(photo.FileSize)})
	}
	if msg.Document != nil {
		files = append(files, telegramFile{FileID: msg.Document.FileID, Kind: "file", Name: msg.Document.FileName, Mime: msg.Document.MimeType, Size: int64(msg.Document.FileSize)})
	}
	if msg.Audio != nil {
		files = append(files, telegramFile{FileID: msg.Audio.FileID, Kind: "audio", Name: msg.Audio.FileName, Mime: msg.Audio.MimeType, Size: int64(msg.Audio.FileSize)})
	}
	if msg.Voice != nil {
		files = append(files, telegramFile{FileID: msg.Voice.FileID, Kind: "voice", Mime: msg.Voice.MimeType, Size: int64(msg.Voice.FileSize)})
	}
	if msg.Video != nil {
		files = append(files, telegramFile{FileID: msg.Video.FileID, Kind: "video", Name: msg.Video.FileName, Mime: msg.Video.MimeType, Size: int64(msg.Video.FileSize)})
	}
	return files
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

func parseReplyToMessageID(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}

func sendTelegramText(bot botAPI, target string, text string, replyTo int, parseMode string) (tgbotapi.Message, error) {
	var message tgbotapi.MessageConfig
	if strings.HasPrefix(target, "@") {
		message = tgbotapi.NewMessageToChannel(target, text)
	} else {
		chatID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return tgbotapi.Message{}, fmt.Errorf("%w: telegram target must be @username or chat_id", channel.ErrPermanent)
		}
		message = tgbotapi.NewMessage(chatID, text)
	}
	message.ParseMode = parseMode
	if replyTo > 0 {
		message.ReplyToMessageID = replyTo
	}
	return bot.Send(message)
}

func sendTelegramAttachment(bot botAPI, target string, att channel.Attachment, caption string, replyTo int, parseMode string) (tgbotapi.Message, error) {
	if strings.TrimSpace(att.URL) == "" {
		return tgbotapi.Message{}, fmt.Errorf("%w: attachment url is required", channel.ErrPermanent)
	}
	file := tgbotapi.FileURL(att.URL)
	isChannel := strings.HasPrefix(target, "@")
	var chatID int64
	if !isChannel {
		parsed, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return tgbotapi.Message{}, fmt.Errorf("%w: telegram target must be @username or chat_id", channel.ErrPermanent)
		}
		chatID = parsed
	}
	if strings.HasPrefix(strings.ToLower(att.Mime), "image/") {
		photo := tgbotapi.NewPhoto(chatID, file)
		if isChannel {
			photo = tgbotapi.NewPhotoToChannel(target, file)
		}
		photo.Caption = caption
		photo.ParseMode = parseMode
		photo.ReplyToMessageID = replyTo
		return bot.Send(photo)
	}
	document := tgbotapi.NewDocument(chatID, file)
	if isChannel {
		document.ChatID = 0
		document.ChannelUsername = target
	}
	document.Caption = caption
	document.ParseMode = parseMode
	document.ReplyToMessageID = replyTo
	return bot.Send(document)
}
