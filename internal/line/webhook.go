// Package line is the LINE Messaging API gateway: it decodes webhook
// deliveries and sends replies through the reply endpoint.
package line

import (
	"encoding/json"
	"fmt"
	"io"
)

// Webhook is one webhook delivery.
type Webhook struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is a webhook event. Only the fields the bot reads are decoded.
type Event struct {
	Type       string   `json:"type"`
	ReplyToken string   `json:"replyToken"`
	Timestamp  int64    `json:"timestamp"`
	Source     Source   `json:"source"`
	Message    *Message `json:"message,omitempty"`
}

// Source identifies who sent the event.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message is the message carried by a "message" event.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextMessage is an inbound text message that can be replied to.
type TextMessage struct {
	ReplyToken string
	UserID     string
	Text       string
}

// maxWebhookBytes bounds a decoded webhook body.
const maxWebhookBytes = 1 << 20

// ParseWebhook decodes a webhook body.
func ParseWebhook(r io.Reader) (*Webhook, error) {
	var wh Webhook
	if err := json.NewDecoder(io.LimitReader(r, maxWebhookBytes)).Decode(&wh); err != nil {
		return nil, fmt.Errorf("line: decode webhook: %w", err)
	}
	return &wh, nil
}

// TextMessages returns the text message events that carry a reply token,
// in delivery order.
func (w *Webhook) TextMessages() []TextMessage {
	var out []TextMessage
	for _, ev := range w.Events {
		if ev.Type != "message" || ev.Message == nil || ev.Message.Type != "text" || ev.ReplyToken == "" {
			continue
		}
		out = append(out, TextMessage{ReplyToken: ev.ReplyToken, UserID: ev.Source.UserID, Text: ev.Message.Text})
	}
	return out
}
