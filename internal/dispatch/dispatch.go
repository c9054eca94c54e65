// Package dispatch routes one inbound chat message to a reply. Menu
// commands (category list, category questions, exact question, hot
// questions, the points list) are answered from the live snapshot and the usage store;
// everything else goes to the answer composer.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
	"github.com/cynthiaiii4/TSCBot/internal/store"
)

// Command texts recognised by the router.
const (
	CmdCategories    = "問題分類"
	CmdCategoriesAlt = "請選擇問題分類"
	CmdHot           = "熱門詢問"
	CmdPoints        = "中油兌換點數"
	prefixCategory   = "問題分類"
	prefixQuestion   = "問題"
)

// Static replies.
const (
	msgQuestionNotFound = "找不到該問題的解決方式。"
	msgNoHot            = "目前沒有熱門排行記錄。"
	msgNoCategories     = "目前沒有問題分類。"
	msgCategoryNotFound = "找不到「%s」分類的相關問題。請確認分類名稱是否正確。"
	msgNoPoints         = "「%s」目前沒有資料。"
)

// DefaultPointsSource is the knowledge source listed by CmdPoints.
const DefaultPointsSource = "中油點數"

// Composer answers free-text queries.
type Composer interface {
	ComposeReply(ctx context.Context, query string) string
	Fallback() string
}

// HotSource ranks the most frequently matched questions.
type HotSource interface {
	HotQuestions(ctx context.Context, n int) ([]store.QuestionCount, error)
}

// QueryRecorder records inbound messages without blocking.
type QueryRecorder interface {
	RecordQuery(userID, text string)
}

// QuickReply is a button that sends Text when tapped.
type QuickReply struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Reply is the routed response: one or more messages plus quick replies.
type Reply struct {
	Messages     []string     `json:"messages"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

// Text joins the messages with blank lines.
func (r Reply) Text() string {
	return strings.Join(r.Messages, "\n\n")
}

// Config holds the router's collaborators. Hot and Recorder are optional.
type Config struct {
	Source   retrieval.SnapshotSource
	Composer Composer
	Hot      HotSource
	Recorder QueryRecorder
	Metrics  *Metrics

	// PageSize is the number of questions per message in lists.
	PageSize int
	// MaxPages caps the messages in one list reply.
	MaxPages int
	// HotLimit is the number of hot questions shown.
	HotLimit int
	// PointsSource names the imported source whose questions CmdPoints lists.
	PointsSource string
}

// Router dispatches messages. It is safe for concurrent use.
type Router struct {
	cfg Config
}

// New returns a Router, defaulting PageSize to 10, MaxPages to 5, HotLimit
// to 5 and PointsSource to DefaultPointsSource.
func New(cfg Config) (*Router, error) {
	if cfg.Source == nil || cfg.Composer == nil {
		return nil, fmt.Errorf("dispatch: snapshot source and composer are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.HotLimit <= 0 {
		cfg.HotLimit = 5
	}
	if cfg.PointsSource == "" {
		cfg.PointsSource = DefaultPointsSource
	}
	return &Router{cfg: cfg}, nil
}

// DefaultQuickReplies are attached to every reply.
func DefaultQuickReplies() []QuickReply {
	return []QuickReply{
		{Label: CmdHot, Text: CmdHot},
		{Label: CmdPoints, Text: CmdPoints},
		{Label: CmdCategories, Text: CmdCategories},
	}
}

// Handle routes text from userID and returns the reply. It never fails;
// the message is recorded in the background.
func (r *Router) Handle(ctx context.Context, userID, text string) Reply {
	log := logging.Component(ctx, "dispatch")
	start := time.Now()
	text = strings.TrimSpace(text)

	if r.cfg.Recorder != nil && text != "" {
		r.cfg.Recorder.RecordQuery(userID, text)
	}

	route, reply := r.route(ctx, log, text)
	reply.QuickReplies = append(reply.QuickReplies, DefaultQuickReplies()...)
	if len(reply.QuickReplies) > maxQuickReplies {
		reply.QuickReplies = reply.QuickReplies[len(reply.QuickReplies)-maxQuickReplies:]
	}

	r.cfg.Metrics.observe(route, time.Since(start).Seconds())
	log.Debug("dispatch: handled", slog.String("route", route), slog.Int("messages", len(reply.Messages)))
	return reply
}

// maxQuickReplies is the LINE limit on quick-reply items per message.
const maxQuickReplies = 13

func (r *Router) route(ctx context.Context, log *slog.Logger, text string) (string, Reply) {
	switch {
	case text == "" || text == CmdCategories || text == CmdCategoriesAlt:
		return routeCategories, r.categories()
	case text == CmdHot:
		return routeHot, r.hot(ctx, log)
	case text == CmdPoints:
		return routePoints, r.points()
	}
	if arg, ok := cutCommand(text, prefixCategory); ok {
		return routeCategory, r.category(arg)
	}
	if arg, ok := cutCommand(text, prefixQuestion); ok {
		return routeQuestion, r.question(arg)
	}

	answer := r.cfg.Composer.ComposeReply(ctx, text)
	if answer == "" {
		answer = r.cfg.Composer.Fallback()
	}
	return routeCompose, Reply{Messages: []string{answer}}
}

// cutCommand reports whether text is "<prefix>:<arg>" (ASCII or full-width
// colon) and returns the trimmed argument.
func cutCommand(text, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return "", false
	}
	rest = strings.TrimLeft(rest, " ")
	for _, colon := range []string{":", "："} {
		if arg, ok := strings.CutPrefix(rest, colon); ok {
			return strings.TrimSpace(arg), true
		}
	}
	return "", false
}

func (r *Router) categories() Reply {
	snap := r.cfg.Source.Snapshot()
	if snap == nil {
		return Reply{Messages: []string{msgNoCategories}}
	}
	cats := snap.Corpus.Categories()
	if len(cats) == 0 {
		return Reply{Messages: []string{msgNoCategories}}
	}

	reply := Reply{Messages: r.pages("請選擇問題分類", cats)}
	for _, c := range cats {
		reply.QuickReplies = append(reply.QuickReplies, QuickReply{Label: c, Text: prefixCategory + ": " + c})
	}
	return reply
}

func (r *Router) category(name string) Reply {
	var qs []string
	if snap := r.cfg.Source.Snapshot(); snap != nil && name != "" {
		qs = snap.Corpus.InCategory(name)
	}
	if len(qs) == 0 {
		return Reply{Messages: []string{fmt.Sprintf(msgCategoryNotFound, name)}}
	}
	return questionList(r.pages(name+" - 問題列表", qs), qs[:min(len(qs), r.cfg.PageSize)])
}

func (r *Router) points() Reply {
	var qs []string
	if snap := r.cfg.Source.Snapshot(); snap != nil {
		qs = snap.Corpus.InSource(r.cfg.PointsSource)
	}
	if len(qs) == 0 {
		return Reply{Messages: []string{fmt.Sprintf(msgNoPoints, r.cfg.PointsSource)}}
	}
	return questionList(r.pages(CmdPoints, qs), qs[:min(len(qs), r.cfg.PageSize)])
}

func (r *Router) question(q string) Reply {
	snap := r.cfg.Source.Snapshot()
	if snap == nil {
		return Reply{Messages: []string{msgQuestionNotFound}}
	}
	rec, ok := snap.Corpus.Lookup(q)
	if !ok {
		return Reply{Messages: []string{msgQuestionNotFound}}
	}
	return Reply{Messages: []string{"解決方式\n" + rec.Answer}}
}

func (r *Router) hot(ctx context.Context, log *slog.Logger) Reply {
	if r.cfg.Hot == nil {
		return Reply{Messages: []string{msgNoHot}}
	}
	top, err := r.cfg.Hot.HotQuestions(ctx, r.cfg.HotLimit)
	if err != nil {
		log.Warn("dispatch: hot questions failed", slog.String("error", err.Error()))
		return Reply{Messages: []string{msgNoHot}}
	}
	if len(top) == 0 {
		return Reply{Messages: []string{msgNoHot}}
	}

	qs := make([]string, len(top))
	for i, qc := range top {
		qs[i] = qc.Question
	}
	title := fmt.Sprintf("熱門詢問 - Top %d 問題", len(top))
	return questionList(r.pages(title, qs), qs)
}

// questionList attaches a "問題: <q>" quick reply for each of qs.
func questionList(messages, qs []string) Reply {
	reply := Reply{Messages: messages}
	for _, q := range qs {
		reply.QuickReplies = append(reply.QuickReplies, QuickReply{Label: q, Text: prefixQuestion + ": " + q})
	}
	return reply
}

// pages renders items as numbered lists of PageSize per message, at most
// MaxPages messages. Numbering continues across pages.
func (r *Router) pages(title string, items []string) []string {
	total := (len(items) + r.cfg.PageSize - 1) / r.cfg.PageSize
	shown := min(total, r.cfg.MaxPages)

	msgs := make([]string, 0, shown)
	for p := range shown {
		var b strings.Builder
		b.WriteString(title)
		if total > 1 {
			fmt.Fprintf(&b, " (%d/%d)", p+1, total)
		}
		lo, hi := p*r.cfg.PageSize, min((p+1)*r.cfg.PageSize, len(items))
		for i := lo; i < hi; i++ {
			fmt.Fprintf(&b, "\n%d. %s", i+1, items[i])
		}
		msgs = append(msgs, b.String())
	}
	return msgs
}
