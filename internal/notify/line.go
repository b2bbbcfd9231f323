// Package notify pushes text messages to tenants over the LINE Messaging API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultAPIURL = "https://api.line.me/v2/bot/message/push"

// ErrNotConfigured is returned by Send when no channel token is set.
var ErrNotConfigured = errors.New("line token not configured")

type LineClient struct {
	token      string
	apiURL     string
	httpClient *http.Client
}

func NewLineClient(token, apiURL string) *LineClient {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &LineClient{
		token:      token,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send pushes text to userID.
func (c *LineClient) Send(ctx context.Context, userID, text string) error {
	if c.token == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(pushRequest{
		To:       userID,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line push failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("line push returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// WelcomeMessage is the text sent to a tenant once their check-in is recorded.
func WelcomeMessage(roomID, pdfURL, welcomeURL string) string {
	return fmt.Sprintf(`ยินดีต้อนรับสู่ Mama Mansion ห้อง %s 🎉
ขอบคุณที่ตรวจรับห้องและลงชื่อเรียบร้อยแล้วนะคะ

✅ ใบตรวจรับ (PDF)
%s

📘 คู่มือการอยู่เบื้องต้น (PDF)
%s

ต้องการความช่วยเหลือ ทักแชทได้ตลอดค่ะ 💬
โทรติดต่อ: 082-082-9484 ☎️`, roomID, pdfURL, welcomeURL)
}
