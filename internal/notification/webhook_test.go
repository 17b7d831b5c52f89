package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://hooks.example.com/aqua"

func newMockedWebhook(t *testing.T, headers map[string]string) (*WebhookHandler, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	return NewWebhookHandler(hookURL, &http.Client{Transport: transport}, headers), transport
}

func TestWebhookHandler_PostsPayload(t *testing.T) {
	t.Parallel()
	h, transport := newMockedWebhook(t, map[string]string{"Authorization": "Bearer s3cret"})

	var got webhookPayload
	transport.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer s3cret", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		return httpmock.NewStringResponse(http.StatusOK, `{"id":"hook-42"}`), nil
	})

	res, err := h.Send(context.Background(), "u1",
		Rendered{Subject: "[High] pH", Body: "pH 9.4", ShortMessage: "pH 9.4"},
		map[string]string{"request_id": "req-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hook-42", res.MessageID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "[High] pH", got.Subject)
	assert.Equal(t, "req-1", got.Metadata["request_id"])
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestWebhookHandler_MessageIDSources(t *testing.T) {
	t.Parallel()

	t.Run("header", func(t *testing.T) {
		t.Parallel()
		h, transport := newMockedWebhook(t, nil)
		transport.RegisterResponder(http.MethodPost, hookURL,
			httpmock.NewStringResponder(http.StatusAccepted, "").HeaderSet(http.Header{"X-Message-Id": {"hdr-7"}}))
		res, err := h.Send(context.Background(), "u1", Rendered{Body: "x"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "hdr-7", res.MessageID)
	})

	t.Run("generated", func(t *testing.T) {
		t.Parallel()
		h, transport := newMockedWebhook(t, nil)
		transport.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusNoContent, ""))
		res, err := h.Send(context.Background(), "u1", Rendered{Body: "x"}, nil)
		require.NoError(t, err)
		assert.Len(t, res.MessageID, 36)
	})
}

func TestWebhookHandler_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"server error", http.StatusBadGateway, false},
		{"throttled", http.StatusTooManyRequests, false},
		{"bad request", http.StatusBadRequest, true},
		{"gone", http.StatusGone, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, transport := newMockedWebhook(t, nil)
			transport.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(tt.status, "nope"))

			res, err := h.Send(context.Background(), "u1", Rendered{Body: "x"}, nil)
			require.Error(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "status")
			assert.Equal(t, tt.permanent, errorsIsPermanent(err))
		})
	}
}

func TestWebhookHandler_RetriedByDispatcher(t *testing.T) {
	t.Parallel()
	h, transport := newMockedWebhook(t, nil)
	transport.RegisterResponder(http.MethodPost, hookURL, httpmock.ResponderFromMultipleResponses([]*http.Response{
		httpmock.NewStringResponse(http.StatusServiceUnavailable, ""),
		httpmock.NewStringResponse(http.StatusOK, `{"id":"ok"}`),
	}))

	f := newDispatcherFixture(t, DispatcherConfig{Retry: fastRetry(2)})
	f.reg.Register(ChannelWebhook, h)
	req := emailRequest("u1")
	req.Channels = []Channel{ChannelWebhook}

	res, err := f.d.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Results[0].Status)
	assert.Equal(t, 1, res.Results[0].RetryCount)
	assert.Equal(t, "ok", res.Results[0].MessageID)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}
