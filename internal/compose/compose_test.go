package compose

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

type fixedRetriever struct {
	matches []retrieval.Match
	panics  bool
}

func (f fixedRetriever) RetrieveTopMatches(context.Context, string) []retrieval.Match {
	if f.panics {
		panic("index corrupted")
	}
	return f.matches
}

// fakeModel records the prompt and returns a preset response.
type fakeModel struct {
	mu    sync.Mutex
	input []*schema.Message
	resp  *schema.Message
	err   error
	delay time.Duration
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.input = input
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (f *fakeModel) prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var parts []string
	for _, m := range f.input {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

var twoMatches = []retrieval.Match{
	{Question: "A?", Answer: "ansA"},
	{Question: "B?", Answer: "ansB"},
}

func TestComposeReply_ReturnsSynthesizedText(t *testing.T) {
	t.Parallel()

	m := &fakeModel{resp: schema.AssistantMessage("  您好，請參考 ansA。 ", nil)}
	c := New(fixedRetriever{matches: twoMatches}, m, DefaultConfig(), nil)

	assert.Equal(t, "您好，請參考 ansA。", c.ComposeReply(context.Background(), "how?"))
	p := m.prompt()
	assert.Contains(t, p, `"question": "A?"`)
	assert.Contains(t, p, `"answer": "ansB"`)
	assert.Contains(t, p, "使用者問題：how?")
}

func TestComposeReply_EmptyMatchesStillCallsModel(t *testing.T) {
	t.Parallel()

	m := &fakeModel{resp: schema.AssistantMessage(DefaultNoAnswer, nil)}
	c := New(fixedRetriever{}, m, DefaultConfig(), nil)

	assert.Equal(t, DefaultNoAnswer, c.ComposeReply(context.Background(), "unrelated"))
	p := m.prompt()
	assert.Contains(t, p, "[]")
	assert.Contains(t, p, DefaultNoAnswer)
}

func TestComposeReply_DecodesEscapedUnicode(t *testing.T) {
	t.Parallel()

	m := &fakeModel{resp: schema.AssistantMessage(`\u8acb\u91cd\u8a2d\u5bc6\u78bc`, nil)}
	c := New(fixedRetriever{matches: twoMatches}, m, DefaultConfig(), nil)

	assert.Equal(t, "請重設密碼", c.ComposeReply(context.Background(), "q"))
}

func TestComposeReply_MalformedResponseIsEmpty(t *testing.T) {
	t.Parallel()

	for name, resp := range map[string]*schema.Message{
		"nil":   nil,
		"blank": schema.AssistantMessage("   ", nil),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := New(fixedRetriever{matches: twoMatches}, &fakeModel{resp: resp}, DefaultConfig(), nil)
			assert.Equal(t, "", c.ComposeReply(context.Background(), "q"))
		})
	}
}

func TestComposeReply_ModelErrorFallsBack(t *testing.T) {
	t.Parallel()

	m := &fakeModel{err: errors.New("503 unavailable")}
	c := New(fixedRetriever{matches: twoMatches}, m, DefaultConfig(), nil)

	assert.Equal(t, DefaultFallback, c.ComposeReply(context.Background(), "q"))
}

func TestComposeReply_TimeoutFallsBack(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Fallback = "稍後再試"
	m := &fakeModel{resp: schema.AssistantMessage("late", nil), delay: time.Second}
	c := New(fixedRetriever{matches: twoMatches}, m, cfg, nil)

	start := time.Now()
	assert.Equal(t, "稍後再試", c.ComposeReply(context.Background(), "q"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestComposeReply_PanicFallsBack(t *testing.T) {
	t.Parallel()

	c := New(fixedRetriever{panics: true}, &fakeModel{}, DefaultConfig(), nil)
	assert.NotPanics(t, func() {
		assert.Equal(t, DefaultFallback, c.ComposeReply(context.Background(), "q"))
	})
}

func TestComposeReply_WithoutModel(t *testing.T) {
	t.Parallel()

	c := New(fixedRetriever{matches: twoMatches}, nil, DefaultConfig(), nil)
	assert.Equal(t, "A?\nansA\n\nB?\nansB", c.ComposeReply(context.Background(), "q"))

	c = New(fixedRetriever{}, nil, Config{NoAnswer: "沒有答案"}, nil)
	assert.Equal(t, "沒有答案", c.ComposeReply(context.Background(), "q"))
	assert.Equal(t, DefaultFallback, c.Fallback())
}

func TestComposeReply_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ok := New(fixedRetriever{matches: twoMatches}, &fakeModel{resp: schema.AssistantMessage("hi", nil)}, DefaultConfig(), metrics)
	bad := New(fixedRetriever{matches: twoMatches}, &fakeModel{err: errors.New("boom")}, DefaultConfig(), metrics)

	ok.ComposeReply(context.Background(), "q")
	bad.ComposeReply(context.Background(), "q")
	bad.ComposeReply(context.Background(), "q")

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.repliesTotal.WithLabelValues(outcomeOK)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.repliesTotal.WithLabelValues(outcomeError)), 0)
}

func TestMessages_TruncatesLongAnswers(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxAnswerTokens = 5
	c := New(fixedRetriever{}, nil, cfg, nil)

	msgs, err := c.Messages("q", []retrieval.Match{{Question: "Q", Answer: strings.Repeat("長", 50)}})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, `"answer": "長長長長長"`)
	assert.NotContains(t, msgs[1].Content, "長長長長長長")
}

func TestDecodeEscapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, in, want string
	}{
		{"plain", "no escapes", "no escapes"},
		{"bmp", `\u5bc6\u78bc`, "密碼"},
		{"mixed", `\u8acb\u91cd\u8a2d ok`, "請重設 ok"},
		{"surrogate pair", `\ud83d\ude00`, "😀"},
		{"long form", `\U0001F600`, "😀"},
		{"newline", `a\nb`, "a\nb"},
		{"quote and backslash", `\"x\\`, `"x\`},
		{"malformed kept", `\uZZZZ`, `\uZZZZ`},
		{"truncated kept", `\u12`, `\u12`},
		{"trailing backslash", `end\`, `end\`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DecodeEscapes(tc.in))
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REPLY_NO_ANSWER", "")
	t.Setenv("REPLY_FALLBACK", "請稍候")
	t.Setenv("SYNTH_TIMEOUT", "5s")

	cfg := ConfigFromEnv()
	assert.Equal(t, DefaultNoAnswer, cfg.NoAnswer)
	assert.Equal(t, "請稍候", cfg.Fallback)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
