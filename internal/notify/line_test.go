package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T, token string) *LineClient {
	t.Helper()
	c := NewLineClient(token, "")
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestSend(t *testing.T) {
	c := newMockedClient(t, "secret")

	var got pushRequest
	httpmock.RegisterResponder("POST", DefaultAPIURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusOK, "{}"), nil
		})

	require.NoError(t, c.Send(context.Background(), "U123", "hello"))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Equal(t, pushRequest{To: "U123", Messages: []textMessage{{Type: "text", Text: "hello"}}}, got)
}

func TestSendErrorStatus(t *testing.T) {
	c := newMockedClient(t, "secret")
	httpmock.RegisterResponder("POST", DefaultAPIURL,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"message":"The property, 'to', in the request body is invalid"}`))

	err := c.Send(context.Background(), "bad", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSendWithoutToken(t *testing.T) {
	c := newMockedClient(t, "")

	err := c.Send(context.Background(), "U123", "hello")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestWelcomeMessage(t *testing.T) {
	msg := WelcomeMessage("A101", "http://x/report.pdf", "http://x/welcome")

	assert.Contains(t, msg, "ห้อง A101 🎉")
	assert.Contains(t, msg, "✅ ใบตรวจรับ (PDF)\nhttp://x/report.pdf")
	assert.Contains(t, msg, "📘 คู่มือการอยู่เบื้องต้น (PDF)\nhttp://x/welcome")
	assert.Contains(t, msg, "082-082-9484")
}
