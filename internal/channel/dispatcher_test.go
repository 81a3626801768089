package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/store"
)

type fakeAdapter struct {
	desc  Descriptor
	mu    sync.Mutex
	calls []SendRequest
	errs  []error
}

func (a *fakeAdapter) Descriptor() Descriptor { return a.desc }

func (a *fakeAdapter) Send(_ context.Context, req SendRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("ext-%d", len(a.calls)), nil
}

func newFake(policy OutboundPolicy, caps Capabilities, errs ...error) *fakeAdapter {
	return &fakeAdapter{
		desc: Descriptor{
			Type:           "fake",
			IdentityType:   store.IdentityPlatformUser,
			Capabilities:   caps,
			OutboundPolicy: policy,
		},
		errs: errs,
	}
}

func newTestDispatcher(t *testing.T, adapter Adapter) (*Dispatcher, *[]time.Duration) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(adapter))
	d := NewDispatcher(nil, reg)
	var waits []time.Duration
	d.wait = func(ctx context.Context, pause time.Duration) error {
		waits = append(waits, pause)
		return ctx.Err()
	}
	return d, &waits
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	adapter := newFake(OutboundPolicy{RetryMax: 3, RetryBackoffMs: 10}, Capabilities{Text: true},
		errors.New("timeout"), errors.New("timeout"))
	d, waits := newTestDispatcher(t, adapter)

	id, err := d.Send(context.Background(), "fake", SendRequest{Destination: "u1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ext-3", id)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestDispatcherStopsOnPermanentError(t *testing.T) {
	adapter := newFake(OutboundPolicy{RetryMax: 5}, Capabilities{Text: true},
		fmt.Errorf("%w: blocked by user", ErrPermanent))
	d, waits := newTestDispatcher(t, adapter)

	_, err := d.Send(context.Background(), "fake", SendRequest{Destination: "u1", Text: "hi"})
	require.ErrorIs(t, err, ErrPermanent)
	assert.Len(t, adapter.calls, 1)
	assert.Empty(t, *waits)
}

func TestDispatcherGivesUpAfterRetryMax(t *testing.T) {
	boom := errors.New("boom")
	adapter := newFake(OutboundPolicy{RetryMax: 2}, Capabilities{Text: true}, boom, boom, boom)
	d, _ := newTestDispatcher(t, adapter)

	_, err := d.Send(context.Background(), "fake", SendRequest{Destination: "u1", Text: "hi"})
	require.ErrorIs(t, err, boom)
	assert.Len(t, adapter.calls, 2)
}

func TestDispatcherCanceledContext(t *testing.T) {
	adapter := newFake(OutboundPolicy{RetryMax: 3}, Capabilities{Text: true}, errors.New("down"))
	d, _ := newTestDispatcher(t, adapter)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Send(ctx, "fake", SendRequest{Destination: "u1", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
	assert.Len(t, adapter.calls, 1)
}

func TestDispatcherValidation(t *testing.T) {
	adapter := newFake(OutboundPolicy{}, Capabilities{Text: true})
	d, _ := newTestDispatcher(t, adapter)
	ctx := context.Background()

	_, err := d.Send(ctx, "unknown", SendRequest{Destination: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = d.Send(ctx, "fake", SendRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = d.Send(ctx, "fake", SendRequest{Destination: "u1"})
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = d.Send(ctx, "fake", SendRequest{Destination: "u1", Text: "hi", Attachments: []Attachment{{ID: "a"}}})
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = d.Send(ctx, "fake", SendRequest{Destination: "u1", Text: "hi", ReplyToExternalID: "x"})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Empty(t, adapter.calls)
}

func TestDispatcherChunksLongText(t *testing.T) {
	adapter := newFake(OutboundPolicy{TextChunkLimit: 10}, Capabilities{Text: true, Reply: true, Attachments: true})
	d, _ := newTestDispatcher(t, adapter)

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	id, err := d.Send(context.Background(), "fake", SendRequest{
		Destination:       "u1",
		Text:              text,
		ReplyToExternalID: "x",
		Attachments:       []Attachment{{ID: "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)
	require.Len(t, adapter.calls, 2)
	assert.Equal(t, "aaaaaaaa", adapter.calls[0].Text)
	assert.Equal(t, "x", adapter.calls[0].ReplyToExternalID)
	assert.Len(t, adapter.calls[0].Attachments, 1)
	assert.Equal(t, "bbbbbbbb", adapter.calls[1].Text)
	assert.Empty(t, adapter.calls[1].ReplyToExternalID)
	assert.Empty(t, adapter.calls[1].Attachments)
}

func TestDispatcherUnchunked(t *testing.T) {
	adapter := newFake(OutboundPolicy{TextChunkLimit: -1}, Capabilities{Text: true})
	d, _ := newTestDispatcher(t, adapter)

	_, err := d.Send(context.Background(), "fake", SendRequest{Destination: "u1", Text: strings.Repeat("x", 5000)})
	require.NoError(t, err)
	require.Len(t, adapter.calls, 1)
	assert.Len(t, adapter.calls[0].Text, 5000)
}

func TestDispatcherResumesInterruptedChunkedSend(t *testing.T) {
	boom := errors.New("boom")
	adapter := newFake(OutboundPolicy{TextChunkLimit: 10, RetryMax: 1}, Capabilities{Text: true, Reply: true}, nil, boom)
	d, _ := newTestDispatcher(t, adapter)

	req := SendRequest{
		Destination:       "u1",
		Text:              strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8) + "\n" + strings.Repeat("c", 8),
		ReplyToExternalID: "x",
	}
	_, err := d.Send(context.Background(), "fake", req)
	var partial *PartialSendError
	require.ErrorAs(t, err, &partial)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, partial.Sent)
	assert.Equal(t, "ext-1", partial.ExternalID)

	req.ResumeChunk = partial.Sent
	id, err := d.Send(context.Background(), "fake", req)
	require.NoError(t, err)
	assert.Empty(t, id, "the first chunk's id was recorded by the interrupted attempt")

	var texts []string
	for _, call := range adapter.calls {
		texts = append(texts, call.Text)
	}
	assert.Equal(t, []string{"aaaaaaaa", "bbbbbbbb", "bbbbbbbb", "cccccccc"}, texts, "only the failed chunk and its successors go out again")
	assert.Empty(t, adapter.calls[2].ReplyToExternalID)
}

func TestDispatcherFirstChunkFailureIsNotPartial(t *testing.T) {
	boom := errors.New("boom")
	adapter := newFake(OutboundPolicy{TextChunkLimit: 10, RetryMax: 1}, Capabilities{Text: true}, boom)
	d, _ := newTestDispatcher(t, adapter)

	_, err := d.Send(context.Background(), "fake", SendRequest{Destination: "u1", Text: strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)})
	require.ErrorIs(t, err, boom)
	var partial *PartialSendError
	assert.False(t, errors.As(err, &partial))
	assert.Len(t, adapter.calls, 1)
}
