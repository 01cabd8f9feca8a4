package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const (
	searchOperation  = "tavily.search"
	maxSnippetRunes  = 300
	defaultMaxResult = 5
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

// New builds a search client. The executor should carry a rate limit for
// the "tavily.search" operation; see SearchOperation.
func New(baseURL, apiKey string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

// SearchOperation names the executor operation used for rate limiting.
func SearchOperation() string { return searchOperation }

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
	Topic       string `json:"topic,omitempty"`
	Days        int    `json:"days,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "web search", fmt.Errorf("query is required"))
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "web search", fmt.Errorf("search api key is not configured"))
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResult
	}
	days := req.Days
	if days < 0 {
		days = 0
	}

	var response searchResponse
	err := c.executor.Execute(ctx, searchOperation, func(callCtx context.Context) error {
		response = searchResponse{}
		return c.postSearch(callCtx, searchRequest{
			Query:       query,
			SearchDepth: "advanced",
			MaxResults:  maxResults,
			Topic:       strings.TrimSpace(req.Topic),
			Days:        days,
		}, &response)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("tavily search", err, resilience.ClassifyHTTPError)
	}

	results := make([]domain.SearchResult, 0, len(response.Results))
	for _, item := range response.Results {
		if len(results) == maxResults {
			break
		}
		results = append(results, domain.SearchResult{
			Title:   collapseSpace(item.Title),
			URL:     strings.TrimSpace(item.URL),
			Content: truncateRunes(plainText(item.Content), maxSnippetRunes),
			Score:   item.Score,
		})
	}
	return results, nil
}

func (c *Client) postSearch(ctx context.Context, payload searchRequest, out *searchResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tavily search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "tavily",
			Operation:  "search",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}
