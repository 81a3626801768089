package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/store"
)

// ErrNoMessageID is returned for mail without a Message-ID header, which
// cannot be deduplicated.
var ErrNoMessageID = errors.New("email has no message-id")

// ParseInbound reads an RFC 5322 message into an InboundMessage for
// accountID, the receiving mailbox. Threading headers are passed through as
// written; the ingest pipeline resolves them.
func ParseInbound(r io.Reader, accountID string) (channel.InboundMessage, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return channel.InboundMessage{}, fmt.Errorf("read email: %w", err)
	}
	defer func() { _ = mr.Close() }()
	header := mr.Header

	messageID, err := header.MessageID()
	if err != nil || messageID == "" {
		return channel.InboundMessage{}, ErrNoMessageID
	}
	from, err := header.AddressList("From")
	if err != nil || len(from) == 0 {
		return channel.InboundMessage{}, fmt.Errorf("email sender: %w", errors.Join(err, errors.New("missing from")))
	}
	subject, _ := header.Subject()
	sentAt, err := header.Date()
	if err != nil || sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	var text, html string
	var files []map[string]any
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return channel.InboundMessage{}, fmt.Errorf("read email part: %w", err)
		}
		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return channel.InboundMessage{}, fmt.Errorf("read email body: %w", err)
			}
			switch {
			case ct == "text/html" && html == "":
				html = string(body)
			case (ct == "text/plain" || ct == "") && text == "":
				text = string(body)
			}
		case *gomail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			files = append(files, map[string]any{"name": name, "mime": ct})
		}
	}

	var raw json.RawMessage
	if len(files) > 0 {
		raw, _ = json.Marshal(map[string]any{"files": files})
	}
	return channel.InboundMessage{
		Channel:   Type,
		AccountID: strings.ToLower(strings.TrimSpace(accountID)),
		MessageID: messageID,
		Sender: channel.Sender{
			Type:        store.IdentityEmail,
			Value:       from[0].Address,
			DisplayName: from[0].Name,
		},
		Text:       strings.TrimSpace(text),
		HTML:       strings.TrimSpace(html),
		Subject:    subject,
		InReplyTo:  header.Get("In-Reply-To"),
		References: header.Get("References"),
		SentAt:     sentAt.UTC(),
		Raw:        raw,
	}, nil
}
