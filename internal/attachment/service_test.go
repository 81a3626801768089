package attachment

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/storage"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/store/memory"
)

type fakeLinker struct {
	st    store.Queries
	known map[string]bool
	calls int
}

func (f *fakeLinker) AttachToMessage(ctx context.Context, _, messageID, attachmentID string) (message.View, error) {
	f.calls++
	if !f.known[messageID] {
		return message.View{}, store.ErrNotFound
	}
	att, err := f.st.LinkAttachment(ctx, attachmentID, messageID)
	if err != nil {
		return message.View{}, err
	}
	return message.View{Message: store.Message{ID: messageID}, Attachments: []store.Attachment{att}}, nil
}

func newTestService(t *testing.T) (*Service, *fakeLinker, *Signer) {
	t.Helper()
	provider, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	st := memory.New()
	signer, err := NewSigner("test-secret", time.Minute, "https://inbox.test/")
	require.NoError(t, err)
	linker := &fakeLinker{st: st, known: map[string]bool{"msg-1": true}}
	return NewService(nil, st, media.NewService(nil, provider), linker, signer), linker, signer
}

func TestUploadSniffsMimeAndStoresBlob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	att, err := svc.Upload(ctx, UploadInput{
		WorkspaceID: "ws-1",
		Name:        "scan.png",
		Reader:      strings.NewReader("\x89PNG\r\n\x1a\npayload"),
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.Mime)
	assert.Equal(t, "scan.png", att.Name)
	assert.Equal(t, int64(15), att.SizeBytes)
	assert.Empty(t, att.MessageID)
	assert.NotEmpty(t, att.Metadata["content_hash"])

	link, err := svc.URL(att)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "inbox.test", u.Host)
	assert.Equal(t, "/attachments/"+att.ID, u.Path)

	rc, opened, err := svc.Open(ctx, att.ID, u.Query().Get("token"))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\npayload", string(data))
	assert.Equal(t, att.ID, opened.ID)
}

func TestUploadLinksKnownMessage(t *testing.T) {
	svc, linker, _ := newTestService(t)
	ctx := context.Background()

	linked, err := svc.Upload(ctx, UploadInput{WorkspaceID: "ws-1", MessageID: "msg-1", Mime: "text/plain", Reader: strings.NewReader("a")})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", linked.MessageID)

	early, err := svc.Upload(ctx, UploadInput{WorkspaceID: "ws-1", MessageID: "msg-2", Mime: "text/plain", Reader: strings.NewReader("b")})
	require.NoError(t, err, "a message that is not stored yet links later")
	assert.Empty(t, early.MessageID)
	assert.Equal(t, 2, linker.calls)

	_, err = svc.Upload(ctx, UploadInput{Reader: strings.NewReader("c")})
	assert.ErrorIs(t, err, ErrWorkspaceRequired)
}

func TestOpenRejectsBadTokens(t *testing.T) {
	svc, _, signer := newTestService(t)
	ctx := context.Background()
	a, err := svc.Upload(ctx, UploadInput{WorkspaceID: "ws-1", Reader: strings.NewReader("a")})
	require.NoError(t, err)
	b, err := svc.Upload(ctx, UploadInput{WorkspaceID: "ws-1", Reader: strings.NewReader("b")})
	require.NoError(t, err)

	tokenA, _, err := signer.Token(a)
	require.NoError(t, err)
	_, _, err = svc.Open(ctx, b.ID, tokenA)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = svc.Open(ctx, a.ID, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewSigner("other-secret", time.Minute, "")
	require.NoError(t, err)
	forged, _, err := other.Token(a)
	require.NoError(t, err)
	_, _, err = svc.Open(ctx, a.ID, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := a
	foreign.WorkspaceID = "ws-2"
	crossed, _, err := signer.Token(foreign)
	require.NoError(t, err)
	_, _, err = svc.Open(ctx, a.ID, crossed)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSignerExpiry(t *testing.T) {
	signer, err := NewSigner("secret", time.Minute, "")
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return now }

	token, expiresAt, err := signer.Token(store.Attachment{ID: "att-1", WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), expiresAt)

	id, workspaceID, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "att-1", id)
	assert.Equal(t, "ws-1", workspaceID)

	now = now.Add(2 * time.Minute)
	_, _, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	link, err := signer.URL(store.Attachment{ID: "att-1", WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "/attachments/att-1?token="))

	_, err = NewSigner(" ", time.Minute, "")
	assert.ErrorIs(t, err, ErrSecretRequired)
}
