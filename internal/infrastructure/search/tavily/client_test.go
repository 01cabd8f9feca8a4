package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
}

func TestSearchCleansAndTruncatesSnippets(t *testing.T) {
	long := strings.Repeat("a", 400)
	var request searchRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&request)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": " Llama  4 ", "url": "https://ai.meta.com/llama", "content": "<p>Open <b>weights</b> &amp; tools</p><script>track()</script>", "score": 0.9},
				{"title": "Long", "url": "https://example.org", "content": long},
				{"title": "Extra", "url": "https://example.org/3", "content": "x"},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "key", testExecutor())
	results, err := client.Search(context.Background(), domain.SearchRequest{Query: "llama release", MaxResults: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if auth != "Bearer key" || request.Query != "llama release" || request.MaxResults != 2 {
		t.Fatalf("unexpected request: auth=%q %+v", auth, request)
	}
	if request.Topic != "" || request.Days != 0 {
		t.Fatalf("plain search must not send a topic filter: %+v", request)
	}
	if len(results) != 2 {
		t.Fatalf("expected results capped at 2, got %d", len(results))
	}
	if results[0].Title != "Llama 4" || results[0].Content != "Open weights & tools" {
		t.Fatalf("unexpected cleaned result: %+v", results[0])
	}
	if got := results[1].Content; len([]rune(got)) != 303 || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected 300 runes plus ellipsis, got %d", len([]rune(got)))
	}
}

func TestSearchSendsNewsTopicAndDays(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "key", testExecutor()).Search(context.Background(), domain.SearchRequest{
		Query:      "stablecoin regulation",
		MaxResults: 5,
		Topic:      "news",
		Days:       7,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if raw["topic"] != "news" || raw["days"] != float64(7) || raw["search_depth"] != "advanced" {
		t.Fatalf("unexpected news payload %v", raw)
	}
}

func TestSearchRetriesThrottling(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	results, err := New(server.URL, "key", testExecutor()).Search(context.Background(), domain.SearchRequest{Query: "q", MaxResults: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected empty result after one retry, got %v after %d calls", results, calls)
	}
}

func TestSearchReportsOutageAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "key", testExecutor()).Search(context.Background(), domain.SearchRequest{Query: "q", MaxResults: 5})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestSearchRequiresKeyAndQuery(t *testing.T) {
	if _, err := New("http://unused", "", testExecutor()).Search(context.Background(), domain.SearchRequest{Query: "q", MaxResults: 5}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without key, got %v", err)
	}
	if _, err := New("http://unused", "key", testExecutor()).Search(context.Background(), domain.SearchRequest{Query: " ", MaxResults: 5}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without query, got %v", err)
	}
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"plain   text\n here":              "plain text here",
		"<div>a<br/>b</div>":               "a b",
		"<style>p{}</style><p>visible</p>": "visible",
		"Fish &amp; chips":                 "Fish & chips",
	}
	for in, want := range cases {
		if got := plainText(in); got != want {
			t.Fatalf("plainText(%q) = %q, want %q", in, got, want)
		}
	}
}
