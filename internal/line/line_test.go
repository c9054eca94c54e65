package line

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

const sampleWebhook = `{
  "destination": "Uxxxxxxxx",
  "events": [
    {"type": "message", "replyToken": "r1", "timestamp": 1700000000000,
     "source": {"type": "user", "userId": "U123"},
     "message": {"id": "m1", "type": "text", "text": "熱門詢問"}},
    {"type": "message", "replyToken": "r2",
     "source": {"type": "user", "userId": "U123"},
     "message": {"id": "m2", "type": "sticker"}},
    {"type": "follow", "replyToken": "r3", "source": {"type": "user", "userId": "U456"}},
    {"type": "message", "replyToken": "",
     "source": {"type": "user", "userId": "U789"},
     "message": {"id": "m4", "type": "text", "text": "no token"}}
  ]
}`

func TestParseWebhook_TextMessages(t *testing.T) {
	t.Parallel()

	wh, err := ParseWebhook(strings.NewReader(sampleWebhook))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(wh.Events) != 4 {
		t.Fatalf("events = %d, want 4", len(wh.Events))
	}
	msgs := wh.TextMessages()
	if len(msgs) != 1 {
		t.Fatalf("text messages = %d, want 1", len(msgs))
	}
	want := TextMessage{ReplyToken: "r1", UserID: "U123", Text: "熱門詢問"}
	if msgs[0] != want {
		t.Errorf("message = %+v, want %+v", msgs[0], want)
	}
}

func TestParseWebhook_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := ParseWebhook(strings.NewReader("{not json")); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestClient_Reply(t *testing.T) {
	t.Parallel()

	type captured struct {
		auth, path string
		body       replyRequest
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{auth: r.Header.Get("Authorization"), path: r.URL.Path}
		if err := json.NewDecoder(r.Body).Decode(&c.body); err != nil {
			t.Errorf("decode: %v", err)
		}
		seen <- c
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	c, err := NewClient(Config{ChannelToken: "tok", APIBase: srv.URL + "/"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	err = c.Reply(context.Background(), "r1", []string{"第一頁", "第二頁"}, []QuickReply{{Label: "熱門詢問", Text: "熱門詢問"}})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}

	rec := <-seen
	auth, path, got := rec.auth, rec.path, rec.body
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	if path != "/v2/bot/message/reply" {
		t.Errorf("path = %q", path)
	}
	if got.ReplyToken != "r1" || len(got.Messages) != 2 {
		t.Fatalf("payload = %+v", got)
	}
	if got.Messages[0].QuickReply != nil {
		t.Error("quick reply should be attached to the last message only")
	}
	qr := got.Messages[1].QuickReply
	if qr == nil || len(qr.Items) != 1 || qr.Items[0].Action.Text != "熱門詢問" || qr.Items[0].Action.Type != "message" {
		t.Errorf("quick reply = %+v", qr)
	}
}

func TestClient_ReplyErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"Invalid reply token"}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{ChannelToken: "tok", APIBase: srv.URL}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	err = c.Reply(context.Background(), "expired", []string{"hi"}, nil)
	if err == nil || !strings.Contains(err.Error(), "Invalid reply token") {
		t.Errorf("Reply error = %v, want API message", err)
	}
}

func TestNewClient_RequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("expected error without channel token")
	}
}

func TestBuildReply_Limits(t *testing.T) {
	t.Parallel()

	texts := []string{"", "1", "2", "3", "4", "5", "6", strings.Repeat("長", 6000)}
	var quick []QuickReply
	for range 20 {
		quick = append(quick, QuickReply{Label: strings.Repeat("標", 30), Text: "x"})
	}

	req := buildReply("r", texts, quick)
	if len(req.Messages) != 5 {
		t.Fatalf("messages = %d, want 5", len(req.Messages))
	}
	if req.Messages[0].Text != "1" {
		t.Errorf("empty text should be skipped, first = %q", req.Messages[0].Text)
	}
	items := req.Messages[4].QuickReply.Items
	if len(items) != 13 {
		t.Errorf("quick replies = %d, want 13", len(items))
	}
	if n := utf8.RuneCountInString(items[0].Action.Label); n != 20 {
		t.Errorf("label runes = %d, want 20", n)
	}

	long := buildReply("r", []string{strings.Repeat("長", 6000)}, nil)
	if n := utf8.RuneCountInString(long.Messages[0].Text); n != 5000 {
		t.Errorf("text runes = %d, want 5000", n)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LINE_CHANNEL_TOKEN", "tok")
	t.Setenv("LINE_API_BASE", "")

	cfg := ConfigFromEnv()
	if cfg.ChannelToken != "tok" || cfg.APIBase != "https://api.line.me" {
		t.Errorf("cfg = %+v", cfg)
	}
}
