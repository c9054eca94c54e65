// Package mcp exposes the FAQ bot as Model Context Protocol tools over
// stdio, so assistants such as Claude Desktop or Cursor can ask it
// questions and inspect its ranking.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cynthiaiii4/TSCBot/internal/dispatch"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

// Router routes one message exactly as the chat gateway does.
type Router interface {
	Handle(ctx context.Context, userID, text string) dispatch.Reply
}

// Searcher exposes per-candidate scores without recording usage.
type Searcher interface {
	Explain(ctx context.Context, query string) ([]retrieval.ScoredCandidate, error)
	QueryTokens(query string) []string
	Policy() retrieval.Policy
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Router   Router
	Searcher Searcher
	Version  string // version string for MCP server info
	// UserID tags usage events from MCP callers (default "mcp").
	UserID string
}

// maxSearchLimit caps faq_search results.
const maxSearchLimit = 50

// NewServer creates an MCP server with the faq_ask and faq_search tools.
func NewServer(cfg ServerConfig) (*server.MCPServer, error) {
	if cfg.Router == nil || cfg.Searcher == nil {
		return nil, fmt.Errorf("mcp: router and searcher are required")
	}
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.UserID == "" {
		cfg.UserID = "mcp"
	}

	s := server.NewMCPServer(
		"TSCBot",
		ver,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	registerAskTool(s, cfg.Router, cfg.UserID)
	registerSearchTool(s, cfg.Searcher)
	return s, nil
}

// Serve runs s over the given streams until ctx is cancelled or in is
// closed. Protocol errors go to errLog.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, errLog *log.Logger) error {
	stdio := server.NewStdioServer(s)
	if errLog != nil {
		stdio.SetErrorLogger(errLog)
	}
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: serve stdio: %w", err)
	}
	return nil
}

// askResult is the faq_ask payload.
type askResult struct {
	Messages     []string              `json:"messages"`
	QuickReplies []dispatch.QuickReply `json:"quick_replies,omitempty"`
}

func registerAskTool(s *server.MCPServer, r Router, userID string) {
	tool := mcp.NewTool("faq_ask",
		mcp.WithDescription("Ask the customer-service FAQ bot. Free text is answered from the FAQ knowledge base; menu commands such as '問題分類', '問題分類: <category>', '問題: <question>' and '熱門詢問' browse it."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's message"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(msg) == "" {
			return mcp.NewToolResultError("message is required"), nil
		}

		reply := r.Handle(ctx, userID, msg)
		data, _ := json.MarshalIndent(askResult{Messages: reply.Messages, QuickReplies: reply.QuickReplies}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// searchResult is the faq_search payload.
type searchResult struct {
	Query      string                      `json:"query"`
	Tokens     []string                    `json:"tokens"`
	Selected   []retrieval.ScoredCandidate `json:"selected"`
	Candidates []retrieval.ScoredCandidate `json:"candidates"`
}

func registerSearchTool(s *server.MCPServer, sr Searcher) {
	tool := mcp.NewTool("faq_search",
		mcp.WithDescription("Score every FAQ question against a query with the hybrid BM25 + embedding ranker. Returns the per-candidate lexical, semantic and combined scores and the questions the ranking policy would select. Does not record usage."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of candidates (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		limit := 10
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			limit = min(int(v), maxSearchLimit)
		}

		cands, err := sr.Explain(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		selected := retrieval.Select(cands, sr.Policy())
		if selected == nil {
			selected = []retrieval.ScoredCandidate{}
		}

		data, _ := json.MarshalIndent(searchResult{
			Query:      query,
			Tokens:     sr.QueryTokens(query),
			Selected:   selected,
			Candidates: cands[:min(limit, len(cands))],
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
