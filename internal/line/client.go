package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cynthiaiii4/TSCBot/internal/config"
)

// LINE API limits applied before sending.
const (
	maxMessages      = 5
	maxTextRunes     = 5000
	maxQuickReplies  = 13
	maxLabelRunes    = 20
	defaultAPIBase   = "https://api.line.me"
	replyPath        = "/v2/bot/message/reply"
	errorBodyPreview = 512
)

// Config holds the reply client settings.
type Config struct {
	// ChannelToken is the channel access token.
	ChannelToken string
	// APIBase is the API origin, overridden in tests.
	APIBase string
	// Timeout bounds one reply call.
	Timeout time.Duration
}

// ConfigFromEnv reads LINE_CHANNEL_TOKEN and LINE_API_BASE.
func ConfigFromEnv() Config {
	return Config{
		ChannelToken: config.String("LINE_CHANNEL_TOKEN", ""),
		APIBase:      config.String("LINE_API_BASE", defaultAPIBase),
		Timeout:      10 * time.Second,
	}
}

// QuickReply is a message-action button.
type QuickReply struct {
	Label string
	Text  string
}

// Client sends replies through the Messaging API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a Client. A nil hc uses a client with cfg.Timeout.
func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	if cfg.ChannelToken == "" {
		return nil, fmt.Errorf("line: LINE_CHANNEL_TOKEN is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Client{cfg: cfg, http: hc}, nil
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type textMessage struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	QuickReply *quickReplyJSON `json:"quickReply,omitempty"`
}

type quickReplyJSON struct {
	Items []quickReplyItem `json:"items"`
}

type quickReplyItem struct {
	Type   string        `json:"type"`
	Action messageAction `json:"action"`
}

type messageAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Reply answers replyToken with texts, attaching quick to the last message.
// Texts beyond the API limits are truncated.
func (c *Client) Reply(ctx context.Context, replyToken string, texts []string, quick []QuickReply) error {
	body, err := json.Marshal(buildReply(replyToken, texts, quick))
	if err != nil {
		return fmt.Errorf("line: encode reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+replyPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("line: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.ChannelToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyPreview))
		return fmt.Errorf("line: reply returned %s: %s", resp.Status, strings.TrimSpace(string(preview)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// buildReply assembles the reply payload within the API limits: at most 5
// messages of at most 5000 characters, 13 quick replies and 20-character
// labels. Empty texts are skipped.
func buildReply(replyToken string, texts []string, quick []QuickReply) replyRequest {
	req := replyRequest{ReplyToken: replyToken}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if len(req.Messages) == maxMessages {
			break
		}
		req.Messages = append(req.Messages, textMessage{Type: "text", Text: truncateRunes(t, maxTextRunes)})
	}
	if len(req.Messages) == 0 || len(quick) == 0 {
		return req
	}

	qr := &quickReplyJSON{}
	for _, q := range quick[:min(len(quick), maxQuickReplies)] {
		qr.Items = append(qr.Items, quickReplyItem{
			Type:   "action",
			Action: messageAction{Type: "message", Label: truncateRunes(q.Label, maxLabelRunes), Text: q.Text},
		})
	}
	req.Messages[len(req.Messages)-1].QuickReply = qr
	return req
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
