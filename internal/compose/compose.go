// Package compose turns ranked FAQ matches into the reply a user sees. The
// matches, possibly none, are always handed to a chat model that phrases
// them; every failure on that path converges on a static fallback reply.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/cynthiaiii4/TSCBot/internal/budget"
	"github.com/cynthiaiii4/TSCBot/internal/config"
	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

// Default static replies.
const (
	DefaultNoAnswer = "很抱歉，目前找不到相關的解答，請聯繫客服人員協助。"
	DefaultFallback = "系統暫時無法回覆，請稍後再試或聯繫客服人員。"
)

// Retriever returns the ranked matches for a query. It never fails; an
// empty result means nothing matched.
type Retriever interface {
	RetrieveTopMatches(ctx context.Context, query string) []retrieval.Match
}

// Config holds the composer's replies and limits.
type Config struct {
	// NoAnswer is the reply the model is told to use when nothing matched.
	NoAnswer string
	// Fallback is returned when synthesis fails for any reason.
	Fallback string
	// Timeout bounds one synthesis call. Expiry counts as a failure.
	Timeout time.Duration
	// MaxAnswerTokens caps the estimated size of each answer put into the
	// prompt. Zero disables truncation.
	MaxAnswerTokens int
}

// DefaultConfig returns the default replies, a 30s timeout and the default
// answer budget.
func DefaultConfig() Config {
	return Config{
		NoAnswer:        DefaultNoAnswer,
		Fallback:        DefaultFallback,
		Timeout:         30 * time.Second,
		MaxAnswerTokens: budget.DefaultMaxAnswerTokens,
	}
}

// ConfigFromEnv overlays REPLY_NO_ANSWER, REPLY_FALLBACK and SYNTH_TIMEOUT on
// DefaultConfig.
func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		NoAnswer:        config.String("REPLY_NO_ANSWER", d.NoAnswer),
		Fallback:        config.String("REPLY_FALLBACK", d.Fallback),
		Timeout:         config.Duration("SYNTH_TIMEOUT", d.Timeout),
		MaxAnswerTokens: d.MaxAnswerTokens,
	}
}

// Composer produces the final reply for a query. It is safe for concurrent
// use.
type Composer struct {
	retriever Retriever
	model     model.BaseChatModel
	cfg       Config
	metrics   *Metrics
}

// New returns a Composer. A nil chat model makes the composer reply with
// the matched answers verbatim, or NoAnswer when nothing matched. metrics
// may be nil.
func New(r Retriever, m model.BaseChatModel, cfg Config, metrics *Metrics) *Composer {
	d := DefaultConfig()
	if cfg.NoAnswer == "" {
		cfg.NoAnswer = d.NoAnswer
	}
	if cfg.Fallback == "" {
		cfg.Fallback = d.Fallback
	}
	return &Composer{retriever: r, model: m, cfg: cfg, metrics: metrics}
}

// Fallback returns the static reply used when composing fails.
func (c *Composer) Fallback() string {
	return c.cfg.Fallback
}

// ComposeReply retrieves matches for query and has the chat model phrase
// them. It never fails: a model error, timeout or panic yields Fallback,
// and a response with no text yields "".
func (c *Composer) ComposeReply(ctx context.Context, query string) (reply string) {
	log := logging.Component(ctx, "compose")
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("compose: panicked", slog.Any("panic", rec))
			c.metrics.observe(outcomeError, time.Since(start).Seconds())
			reply = c.cfg.Fallback
		}
	}()

	matches := c.retriever.RetrieveTopMatches(ctx, query)

	if c.model == nil {
		c.metrics.observe(outcomeDirect, time.Since(start).Seconds())
		return c.direct(matches)
	}

	text, err := c.synthesize(ctx, query, matches)
	if err != nil {
		log.Warn("compose: synthesis failed",
			slog.String("error", err.Error()),
			slog.Int("matches", len(matches)),
		)
		c.metrics.observe(outcomeError, time.Since(start).Seconds())
		return c.cfg.Fallback
	}
	if text == "" {
		log.Warn("compose: synthesizer returned no text")
		c.metrics.observe(outcomeEmpty, time.Since(start).Seconds())
		return ""
	}
	c.metrics.observe(outcomeOK, time.Since(start).Seconds())
	return text
}

// synthesize runs one bounded chat model call and extracts its text.
func (c *Composer) synthesize(ctx context.Context, query string, matches []retrieval.Match) (string, error) {
	msgs, err := c.Messages(query, matches)
	if err != nil {
		return "", err
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	ctx = callbacks.EnsureRunInfo(ctx, "FAQComposer", components.ComponentOfChatModel)

	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("compose: generate: %w", err)
	}
	return ExtractText(resp), nil
}

// pair is the shape each match takes inside the prompt.
type pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Messages builds the prompt for query and matches. The matches are passed
// as a JSON array so an empty result is explicit to the model.
func (c *Composer) Messages(query string, matches []retrieval.Match) ([]*schema.Message, error) {
	pairs := make([]pair, len(matches))
	for i, m := range matches {
		answer, _ := budget.Truncate(m.Answer, c.cfg.MaxAnswerTokens)
		pairs[i] = pair{Question: m.Question, Answer: answer}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pairs); err != nil {
		return nil, fmt.Errorf("compose: encode matches: %w", err)
	}

	system := fmt.Sprintf(systemPrompt, c.cfg.NoAnswer)
	user := fmt.Sprintf("使用者問題：%s\n\n查詢結果：\n%s", query, strings.TrimSpace(buf.String()))
	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}, nil
}

const systemPrompt = `你是客服機器人。以下會提供使用者的問題，以及從常見問題資料庫查到的問答列表（JSON 陣列）。
請根據列表中的解決方式，以禮貌、簡潔的繁體中文回覆使用者，不要加入列表以外的資訊。
若列表為空陣列，請只回覆：%s`

// direct formats matches without a chat model.
func (c *Composer) direct(matches []retrieval.Match) string {
	if len(matches) == 0 {
		return c.cfg.NoAnswer
	}
	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s", m.Question, m.Answer)
	}
	return b.String()
}

// ExtractText returns the text content of a model response with escaped
// unicode sequences decoded. It returns "" for a nil response or one that
// carries no text.
func ExtractText(resp *schema.Message) string {
	if resp == nil {
		return ""
	}
	text := strings.TrimSpace(resp.Content)
	if strings.Contains(text, `\u`) || strings.Contains(text, `\U`) {
		text = DecodeEscapes(text)
	}
	return text
}
