package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/channel"
)

func TestSendPostsToGateway(t *testing.T) {
	var got sendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"gw-1"}`))
	}))
	defer srv.Close()

	a := NewAdapter(nil, Config{GatewayURL: srv.URL + "/", APIKey: "key", From: "+15550000"}, nil)
	id, err := a.Send(context.Background(), channel.SendRequest{MessageID: "m1", Destination: "+15551234", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "gw-1", id)
	assert.Equal(t, sendPayload{From: "+15550000", To: "+15551234", Text: "hi", Ref: "m1"}, got)
}

func TestSendClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			a := NewAdapter(nil, Config{GatewayURL: srv.URL}, nil)
			_, err := a.Send(context.Background(), channel.SendRequest{Destination: "+1555", Text: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, channel.ErrPermanent))
		})
	}
}

func TestSendRequiresConfig(t *testing.T) {
	_, err := NewAdapter(nil, Config{}, nil).Send(context.Background(), channel.SendRequest{Destination: "+1", Text: "hi"})
	assert.ErrorIs(t, err, channel.ErrPermanent)
}
