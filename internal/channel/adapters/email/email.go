// Package email implements the email channel: SMTP sends through go-mail
// with a rendered HTML alternative, and RFC 5322 parsing for inbound mail.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mail "github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/adapterutil"
	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/store"
)

// Type is the registered channel type for email.
const Type channel.Type = "email"

// Config holds the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is "mandatory" (default), "opportunistic", "ssl" or "none".
	TLS string
}

type smtpSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Adapter sends mail through one SMTP relay.
type Adapter struct {
	logger   *slog.Logger
	cfg      Config
	markdown goldmark.Markdown
	http     *http.Client
	// maxAttachment caps each fetched attachment body.
	maxAttachment int64
	dial          func(Config) (smtpSender, error)
	now           func() time.Time
}

// NewAdapter creates an email adapter.
func NewAdapter(log *slog.Logger, cfg Config) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:        log.With(slog.String("adapter", "email")),
		cfg:           cfg,
		markdown:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		http:          &http.Client{Timeout: 30 * time.Second},
		dial:          newSMTPClient,
		maxAttachment: media.MaxAssetBytes,
		now:           time.Now,
	}
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:         Type,
		DisplayName:  "Email",
		IdentityType: store.IdentityEmail,
		Capabilities: channel.Capabilities{
			Text:        true,
			Markdown:    true,
			Attachments: true,
			Reply:       true,
			Subject:     true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: -1,
		},
	}
}

func newSMTPClient(cfg Config) (smtpSender, error) {
	opts := []mail.Option{}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.TLS)) {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "opportunistic":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Send builds and relays one message. The returned id is the Message-ID
// without angle brackets, the form inbound replies reference.
func (a *Adapter) Send(ctx context.Context, req channel.SendRequest) (string, error) {
	if strings.TrimSpace(a.cfg.Host) == "" || strings.TrimSpace(a.cfg.From) == "" {
		return "", fmt.Errorf("%w: smtp host and from address are required", channel.ErrPermanent)
	}
	msg, messageID, err := a.build(ctx, req)
	if err != nil {
		return "", err
	}
	client, err := a.dial(a.cfg)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		a.logger.Warn("smtp send failed", slog.String("message_id", req.MessageID), slog.Any("error", err))
		return "", err
	}
	a.logger.Info("email sent",
		slog.String("message_id", req.MessageID),
		slog.String("subject", adapterutil.SummarizeText(req.Subject)))
	return messageID, nil
}

func (a *Adapter) build(ctx context.Context, req channel.SendRequest) (*mail.Msg, string, error) {
	msg := mail.NewMsg()
	if err := msg.From(a.cfg.From); err != nil {
		return nil, "", fmt.Errorf("%w: from address: %v", channel.ErrPermanent, err)
	}
	if err := msg.To(strings.TrimSpace(req.Destination)); err != nil {
		return nil, "", fmt.Errorf("%w: recipient address: %v", channel.ErrPermanent, err)
	}
	msg.Subject(subjectFor(req))
	msg.SetDateWithValue(a.now())

	messageID := uuid.NewString() + "@" + domainOf(a.cfg.From)
	msg.SetMessageIDWithValue(messageID)
	if ref := strings.TrimSpace(req.ReplyToExternalID); ref != "" {
		msg.SetGenHeader(mail.HeaderInReplyTo, bracket(ref))
	}
	if refs := referencesFor(req); len(refs) > 0 {
		msg.SetGenHeader(mail.HeaderReferences, strings.Join(refs, " "))
	}

	text := strings.TrimSpace(req.Text)
	msg.SetBodyString(mail.TypeTextPlain, text)
	html := req.HTML
	if html == "" && text != "" {
		rendered, err := a.renderHTML(text)
		if err != nil {
			a.logger.Warn("render html alternative failed", slog.Any("error", err))
		}
		html = rendered
	}
	if html != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	}
	for _, att := range req.Attachments {
		body, err := a.fetch(ctx, att)
		if err != nil {
			return nil, "", err
		}
		opts := []mail.FileOption{}
		if att.Mime != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(att.Mime)))
		}
		if err := msg.AttachReader(attachmentName(att), bytes.NewReader(body), opts...); err != nil {
			return nil, "", fmt.Errorf("attach %s: %w", att.ID, err)
		}
	}
	return msg, messageID, nil
}

func (a *Adapter) renderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := a.markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (a *Adapter) fetch(ctx context.Context, att channel.Attachment) ([]byte, error) {
	if strings.TrimSpace(att.URL) == "" {
		return nil, fmt.Errorf("%w: attachment url is required", channel.ErrPermanent)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: attachment url: %v", channel.ErrPermanent, err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}
	if resp.ContentLength > a.maxAttachment {
		return nil, fmt.Errorf("%w: attachment %s exceeds %d bytes", channel.ErrPermanent, att.ID, a.maxAttachment)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxAttachment+1))
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	if int64(len(body)) > a.maxAttachment {
		return nil, fmt.Errorf("%w: attachment %s exceeds %d bytes", channel.ErrPermanent, att.ID, a.maxAttachment)
	}
	return body, nil
}

func subjectFor(req channel.SendRequest) string {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return "(no subject)"
	}
	if req.ReplyToExternalID != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		return "Re: " + subject
	}
	return subject
}

// referencesFor returns the References chain: the parent's references
// followed by the parent itself.
func referencesFor(req channel.SendRequest) []string {
	out := make([]string, 0, len(req.References)+1)
	seen := map[string]struct{}{}
	add := func(id string) {
		id = strings.Trim(strings.TrimSpace(id), "<>")
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, bracket(id))
	}
	for _, ref := range req.References {
		add(ref)
	}
	add(req.ReplyToExternalID)
	return out
}

func bracket(id string) string {
	return "<" + strings.Trim(strings.TrimSpace(id), "<>") + ">"
}

func domainOf(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, ">"); i >= 0 {
		address = address[:i]
	}
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return address[i+1:]
	}
	return "localhost"
}

func attachmentName(att channel.Attachment) string {
	if name := strings.TrimSpace(att.Name); name != "" {
		return name
	}
	return att.ID
}
