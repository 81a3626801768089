package attachment

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/memohai/unibox/internal/store"
)

const (
	claimSubject   = "sub"
	claimWorkspace = "ws"
	claimType      = "typ"
	downloadType   = "attachment_download"
)

var (
	ErrSecretRequired = errors.New("signing secret is required")
	ErrInvalidToken   = errors.New("invalid download token")
)

// Signer issues and checks expiring HS256 download tokens. A token is
// bound to one attachment of one workspace.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewSigner creates a signer. baseURL prefixes generated links; an empty
// base yields root-relative links.
func NewSigner(secret string, ttl time.Duration, baseURL string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("url ttl must be positive")
	}
	return &Signer{
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		now:     time.Now,
	}, nil
}

// Token signs a download token for the attachment.
func (s *Signer) Token(att store.Attachment) (string, time.Time, error) {
	if strings.TrimSpace(att.ID) == "" {
		return "", time.Time{}, fmt.Errorf("attachment id is required")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := jwt.MapClaims{
		claimSubject:   att.ID,
		claimWorkspace: att.WorkspaceID,
		claimType:      downloadType,
		"iat":          now.Unix(),
		"exp":          expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// URL returns a signed download link for the attachment.
func (s *Signer) URL(att store.Attachment) (string, error) {
	token, _, err := s.Token(att)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/attachments/" + url.PathEscape(att.ID) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks the token and returns the attachment and workspace ids it
// grants access to.
func (s *Signer) Verify(raw string) (attachmentID, workspaceID string, err error) {
	parsed, err := jwt.Parse(strings.TrimSpace(raw), func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	if claimString(claims, claimType) != downloadType {
		return "", "", ErrInvalidToken
	}
	attachmentID = claimString(claims, claimSubject)
	workspaceID = claimString(claims, claimWorkspace)
	if attachmentID == "" || workspaceID == "" {
		return "", "", ErrInvalidToken
	}
	return attachmentID, workspaceID, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	if v, ok := raw.(string); ok {
		return v
	}
	return fmt.Sprint(raw)
}
