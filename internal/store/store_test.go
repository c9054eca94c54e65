package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/knowledge"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_ReplaceSourceAndLoad(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	main := []knowledge.Record{
		{Category: "帳號", Question: "如何重設密碼？", Answer: "請至設定頁面。"},
		{Category: "帳號", Question: "如何註冊？", Answer: "下載 App。"},
	}
	points := []knowledge.Record{
		{Category: "點數", Question: "中油點數如何兌換？", Answer: "至加油站兌換。"},
	}

	if n, err := s.ReplaceSource(ctx, "表單回應 1", main); err != nil || n != 2 {
		t.Fatalf("replace main: n=%d err=%v", n, err)
	}
	if _, err := s.ReplaceSource(ctx, "中油點數", points); err != nil {
		t.Fatalf("replace points: %v", err)
	}

	recs, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("want 3 records, got %d", len(recs))
	}
	if recs[0].Question != "如何重設密碼？" || recs[2].Source != "中油點數" {
		t.Errorf("unexpected order: %+v", recs)
	}
}

func Test_Store_ReplaceSourceIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ReplaceSource(ctx, "a", []knowledge.Record{{Question: "a1"}, {Question: "a2"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReplaceSource(ctx, "b", []knowledge.Record{{Question: "b1"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReplaceSource(ctx, "a", []knowledge.Record{{Question: "a3"}}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.Question
	}
	if len(got) != 2 || got[0] != "b1" || got[1] != "a3" {
		t.Errorf("want [b1 a3], got %v", got)
	}
}

func Test_Store_ReplaceSourceRequiresName(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.ReplaceSource(context.Background(), "", nil)
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("want ErrEmptySource, got %v", err)
	}
}

func Test_Store_HotQuestions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{Kind: EventTopMatch, Text: "B?", CreatedAt: base},
		{Kind: EventTopMatch, Text: "A?", CreatedAt: base.Add(time.Second)},
		{Kind: EventTopMatch, Text: "A?", CreatedAt: base.Add(2 * time.Second)},
		{Kind: EventTopMatch, Text: "C?", CreatedAt: base.Add(3 * time.Second)},
		{Kind: EventQuery, UserID: "U1", Text: "A?", CreatedAt: base.Add(4 * time.Second)},
	}
	for _, ev := range events {
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hot, err := s.HotQuestions(ctx, 2)
	if err != nil {
		t.Fatalf("hot: %v", err)
	}
	if len(hot) != 2 {
		t.Fatalf("want 2 rows, got %d", len(hot))
	}
	if hot[0].Question != "A?" || hot[0].Count != 2 {
		t.Errorf("row 0: got %+v", hot[0])
	}
	// B? and C? tie at 1; B? was matched first.
	if hot[1].Question != "B?" {
		t.Errorf("row 1: want B?, got %+v", hot[1])
	}
}

func Test_Store_AppendEventAssignsID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for range 3 {
		if err := s.AppendEvent(ctx, Event{Kind: EventQuery, Text: "hi"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT id) FROM usage_events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("want 3 distinct ids, got %d", n)
	}
}

func Test_Store_RejectsUnknownKind(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.AppendEvent(context.Background(), Event{Kind: "bogus", Text: "x"}); err == nil {
		t.Fatal("expected CHECK constraint violation")
	}
}

func Test_Store_Ping(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
