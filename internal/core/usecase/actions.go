package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

const (
	ActionWebSearch      = "web_search"
	ActionSearchGitHub   = "search_github"
	ActionSearchArxiv    = "search_arxiv"
	ActionSearchNews     = "search_news"
	ActionCheckMemory    = "check_memory"
	ActionSearchMemory   = "search_memory"
	ActionCheckNovelty   = "check_novelty"
	ActionSaveToMemory   = "save_to_memory"
	ActionMemoryStats    = "memory_stats"
	ActionSendNewsletter = "send_newsletter"
	ActionSendEmail      = "send_email"

	defaultSearchResults = 5
	newsTopic            = "news"
	newsWindowDays       = 7
)

// ActionRegistry holds the capabilities offered to the reasoning loop and
// gates every invocation through the turn budget.
type ActionRegistry struct {
	actions  map[string]ports.Action
	observer ports.ResearchObserver
}

func NewActionRegistry(observer ports.ResearchObserver, actions ...ports.Action) *ActionRegistry {
	if observer == nil {
		observer = noopObserver{}
	}
	index := make(map[string]ports.Action, len(actions))
	for _, action := range actions {
		if action == nil {
			continue
		}
		index[action.Name()] = action
	}
	return &ActionRegistry{actions: index, observer: observer}
}

func (r *ActionRegistry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ActionRegistry) Lookup(name string) (ports.Action, bool) {
	action, ok := r.actions[strings.ToLower(strings.TrimSpace(name))]
	return action, ok
}

// Invoke consumes one unit of budget before calling the action. A denied call
// is not executed and returns the decision with an empty event.
func (r *ActionRegistry) Invoke(ctx context.Context, turn domain.Turn, budget ports.BudgetGate, name string, input map[string]interface{}) (domain.ToolEvent, domain.BudgetDecision, error) {
	decision := budget.TryConsume()
	r.observer.ObserveBudgetDecision(decision)
	if decision == domain.BudgetDenied {
		r.observer.ObserveToolCall(name, "denied")
		return domain.ToolEvent{Tool: name, Status: "denied", Decision: decision.String()}, decision, nil
	}

	action, ok := r.Lookup(name)
	if !ok {
		r.observer.ObserveToolCall(name, "unknown")
		return domain.ToolEvent{}, decision, domain.WrapError(domain.ErrInvalidInput, "invoke action", fmt.Errorf("unsupported tool: %s", name))
	}
	output, err := action.Invoke(ctx, turn, input)
	if err != nil {
		r.observer.ObserveToolCall(action.Name(), "error")
		return domain.ToolEvent{}, decision, err
	}
	r.observer.ObserveToolCall(action.Name(), "ok")
	return domain.ToolEvent{
		Tool:     action.Name(),
		Status:   "ok",
		Output:   output,
		Decision: decision.String(),
	}, decision, nil
}

// Catalog renders the tool list for planner prompts.
func (r *ActionRegistry) Catalog() string {
	var b strings.Builder
	for _, name := range r.Names() {
		action := r.actions[name]
		fmt.Fprintf(&b, "- %s: %s\n", name, action.Description())
		for _, param := range action.Params() {
			required := "optional"
			if param.Required {
				required = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", param.Name, param.Type, required, param.Description)
		}
	}
	return b.String()
}

type WebSearchAction struct {
	searcher   ports.WebSearcher
	domains    ports.DomainRegistry
	maxResults int
}

func NewWebSearchAction(searcher ports.WebSearcher, domains ports.DomainRegistry, maxResults int) *WebSearchAction {
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	return &WebSearchAction{searcher: searcher, domains: domains, maxResults: maxResults}
}

func (a *WebSearchAction) Name() string { return ActionWebSearch }

func (a *WebSearchAction) Description() string {
	return "Search the web for current information on the active research domain."
}

func (a *WebSearchAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "query", Type: "string", Description: "search query", Required: true},
	}
}

func (a *WebSearchAction) Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error) {
	query := strings.TrimSpace(stringInput(input, "query", ""))
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "web search", fmt.Errorf("query is required"))
	}
	d, err := a.domains.GetDomain(ctx, turn.DomainID)
	if err != nil {
		return "", err
	}
	query = biasQuery(query, *d)

	results, err := a.searcher.Search(ctx, domain.SearchRequest{Query: query, MaxResults: a.maxResults})
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	return marshalOutput(map[string]interface{}{
		"query":   query,
		"results": results,
	}), nil
}

// SiteSearchAction restricts web search to one site with a site: filter.
type SiteSearchAction struct {
	name        string
	description string
	site        string
	searcher    ports.WebSearcher
	maxResults  int
}

func NewGitHubSearchAction(searcher ports.WebSearcher, maxResults int) *SiteSearchAction {
	return newSiteSearchAction(ActionSearchGitHub, "Search GitHub for repositories, projects and code.", "github.com", searcher, maxResults)
}

func NewArxivSearchAction(searcher ports.WebSearcher, maxResults int) *SiteSearchAction {
	return newSiteSearchAction(ActionSearchArxiv, "Search arXiv for research papers.", "arxiv.org", searcher, maxResults)
}

func newSiteSearchAction(name, description, site string, searcher ports.WebSearcher, maxResults int) *SiteSearchAction {
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	return &SiteSearchAction{
		name:        name,
		description: description,
		site:        site,
		searcher:    searcher,
		maxResults:  maxResults,
	}
}

func (a *SiteSearchAction) Name() string { return a.name }

func (a *SiteSearchAction) Description() string { return a.description }

func (a *SiteSearchAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "query", Type: "string", Description: "search query", Required: true},
	}
}

func (a *SiteSearchAction) Invoke(ctx context.Context, _ domain.Turn, input map[string]interface{}) (string, error) {
	query := strings.TrimSpace(stringInput(input, "query", ""))
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, a.name, fmt.Errorf("query is required"))
	}
	query = query + " site:" + a.site

	results, err := a.searcher.Search(ctx, domain.SearchRequest{Query: query, MaxResults: a.maxResults})
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.name, err)
	}
	return marshalOutput(map[string]interface{}{
		"query":   query,
		"results": results,
	}), nil
}

// NewsSearchAction searches news published in the last week.
type NewsSearchAction struct {
	searcher   ports.WebSearcher
	maxResults int
}

func NewNewsSearchAction(searcher ports.WebSearcher, maxResults int) *NewsSearchAction {
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	return &NewsSearchAction{searcher: searcher, maxResults: maxResults}
}

func (a *NewsSearchAction) Name() string { return ActionSearchNews }

func (a *NewsSearchAction) Description() string {
	return "Search news articles from the last 7 days."
}

func (a *NewsSearchAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "query", Type: "string", Description: "search query", Required: true},
	}
}

func (a *NewsSearchAction) Invoke(ctx context.Context, _ domain.Turn, input map[string]interface{}) (string, error) {
	query := strings.TrimSpace(stringInput(input, "query", ""))
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "news search", fmt.Errorf("query is required"))
	}
	results, err := a.searcher.Search(ctx, domain.SearchRequest{
		Query:      query,
		MaxResults: a.maxResults,
		Topic:      newsTopic,
		Days:       newsWindowDays,
	})
	if err != nil {
		return "", fmt.Errorf("news search: %w", err)
	}
	return marshalOutput(map[string]interface{}{
		"query":   query,
		"days":    newsWindowDays,
		"results": results,
	}), nil
}

// biasQuery anchors a query to the domain when it mentions none of the
// domain's keywords.
func biasQuery(query string, d domain.Domain) string {
	lowered := domain.NormalizeName(query)
	if strings.Contains(lowered, domain.NormalizeName(d.Name)) {
		return query
	}
	for _, kw := range d.Keywords {
		if key := domain.NormalizeName(kw); key != "" && strings.Contains(lowered, key) {
			return query
		}
	}
	return query + " " + d.Name
}

type CheckMemoryAction struct {
	memory ports.MemoryService
}

func NewCheckMemoryAction(memory ports.MemoryService) *CheckMemoryAction {
	return &CheckMemoryAction{memory: memory}
}

func (a *CheckMemoryAction) Name() string { return ActionCheckMemory }

func (a *CheckMemoryAction) Description() string {
	return "Check whether a topic has been researched before in this domain."
}

func (a *CheckMemoryAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "topic", Type: "string", Description: "topic name", Required: true},
	}
}

func (a *CheckMemoryAction) Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error) {
	name := stringInput(input, "topic", "")
	topic, err := a.memory.FindTopic(ctx, turn.DomainID, name)
	if err != nil {
		if domain.IsKind(err, domain.ErrTopicNotFound) {
			return marshalOutput(map[string]interface{}{"topic": domain.DisplayName(name), "found": false}), nil
		}
		return "", err
	}
	return marshalOutput(map[string]interface{}{"found": true, "topic": topic}), nil
}

type SearchMemoryAction struct {
	memory ports.MemoryService
}

func NewSearchMemoryAction(memory ports.MemoryService) *SearchMemoryAction {
	return &SearchMemoryAction{memory: memory}
}

func (a *SearchMemoryAction) Name() string { return ActionSearchMemory }

func (a *SearchMemoryAction) Description() string {
	return "Search remembered topics by text and optional comma-separated tags."
}

func (a *SearchMemoryAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "query", Type: "string", Description: "text matched against names and summaries", Required: true},
		{Name: "tags", Type: "string", Description: "comma-separated tag filter"},
		{Name: "limit", Type: "integer", Description: "maximum results"},
	}
}

func (a *SearchMemoryAction) Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error) {
	topics, err := a.memory.SearchTopics(ctx, turn.DomainID, domain.TopicQuery{
		Text:  stringInput(input, "query", ""),
		Tags:  splitCSV(stringInput(input, "tags", "")),
		Limit: intInput(input, "limit", defaultRecentLimit),
	})
	if err != nil {
		return "", err
	}
	return marshalOutput(map[string]interface{}{"count": len(topics), "topics": topics}), nil
}

type CheckNoveltyAction struct {
	memory ports.MemoryService
}

func NewCheckNoveltyAction(memory ports.MemoryService) *CheckNoveltyAction {
	return &CheckNoveltyAction{memory: memory}
}

func (a *CheckNoveltyAction) Name() string { return ActionCheckNovelty }

func (a *CheckNoveltyAction) Description() string {
	return "Tell whether a topic is unseen or has not been mentioned within the staleness window."
}

func (a *CheckNoveltyAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "topic", Type: "string", Description: "topic name", Required: true},
	}
}

func (a *CheckNoveltyAction) Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error) {
	check, err := a.memory.CheckNovelty(ctx, turn.DomainID, stringInput(input, "topic", ""), time.Time{})
	if err != nil {
		return "", err
	}
	return marshalOutput(check), nil
}

type SaveToMemoryAction struct {
	memory ports.MemoryService
}

func NewSaveToMemoryAction(memory ports.MemoryService) *SaveToMemoryAction {
	return &SaveToMemoryAction{memory: memory}
}

func (a *SaveToMemoryAction) Name() string { return ActionSaveToMemory }

func (a *SaveToMemoryAction) Description() string {
	return "Remember a researched topic; the result says whether it was NEW, UPDATED or already KNOWN."
}

func (a *SaveToMemoryAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "topic", Type: "string", Description: "topic name", Required: true},
		{Name: "summary", Type: "string", Description: "latest synthesis", Required: true},
		{Name: "sources", Type: "array", Description: "source URLs"},
		{Name: "tags", Type: "array", Description: "category tags"},
	}
}

func (a *SaveToMemoryAction) Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error) {
	result, err := a.memory.RecordFinding(ctx, domain.Finding{
		DomainID:  turn.DomainID,
		TopicName: stringInput(input, "topic", ""),
		Summary:   stringInput(input, "summary", ""),
		Sources:   stringsInput(input, "sources"),
		Tags:      stringsInput(input, "tags"),
	})
	if err != nil {
		return "", err
	}
	return marshalOutput(map[string]interface{}{
		"classification": result.Classification,
		"topic":          result.Topic.Name,
		"sources":        len(result.Topic.Sources),
		"tags":           result.Topic.Tags,
	}), nil
}

type MemoryStatsAction struct {
	memory ports.MemoryService
}

func NewMemoryStatsAction(memory ports.MemoryService) *MemoryStatsAction {
	return &MemoryStatsAction{memory: memory}
}

func (a *MemoryStatsAction) Name() string { return ActionMemoryStats }

func (a *MemoryStatsAction) Description() string {
	return "Report how many topics the domain remembers and how many were mentioned recently."
}

func (a *MemoryStatsAction) Params() []domain.ActionParam { return nil }

func (a *MemoryStatsAction) Invoke(ctx context.Context, turn domain.Turn, _ map[string]interface{}) (string, error) {
	stats, err := a.memory.Stats(ctx, turn.DomainID)
	if err != nil {
		return "", err
	}
	return marshalOutput(stats), nil
}

type SendNewsletterAction struct {
	newsletters ports.NewsletterService
}

func NewSendNewsletterAction(newsletters ports.NewsletterService) *SendNewsletterAction {
	return &SendNewsletterAction{newsletters: newsletters}
}

func (a *SendNewsletterAction) Name() string { return ActionSendNewsletter }

func (a *SendNewsletterAction) Description() string {
	return "Email a digest of the most recent findings of this domain."
}

func (a *SendNewsletterAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "limit", Type: "integer", Description: "number of topics to include"},
	}
}

func (a *SendNewsletterAction) Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error) {
	letter, err := a.newsletters.Send(ctx, turn.DomainID, intInput(input, "limit", defaultRecentLimit))
	if err != nil {
		if domain.IsKind(err, domain.ErrNoContent) {
			return marshalOutput(map[string]interface{}{"sent": false, "reason": "no findings to report yet"}), nil
		}
		return "", err
	}
	return marshalOutput(map[string]interface{}{
		"sent":    true,
		"subject": letter.Subject,
		"topics":  letter.Topics,
	}), nil
}

// SendEmailAction mails free-form plain text, for quick updates that are not
// a digest of findings.
type SendEmailAction struct {
	mailer ports.Mailer
	now    func() time.Time
}

func NewSendEmailAction(mailer ports.Mailer) *SendEmailAction {
	return &SendEmailAction{mailer: mailer, now: time.Now}
}

func (a *SendEmailAction) Name() string { return ActionSendEmail }

func (a *SendEmailAction) Description() string {
	return "Send a short plain-text email. Prefer send_newsletter for research findings."
}

func (a *SendEmailAction) Params() []domain.ActionParam {
	return []domain.ActionParam{
		{Name: "content", Type: "string", Description: "email body", Required: true},
	}
}

func (a *SendEmailAction) Invoke(ctx context.Context, _ domain.Turn, input map[string]interface{}) (string, error) {
	if a.mailer == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "send email", fmt.Errorf("mail delivery is not configured"))
	}
	content := strings.TrimSpace(stringInput(input, "content", ""))
	if content == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "send email", fmt.Errorf("content is required"))
	}
	subject := "Research Assistant Update - " + a.now().UTC().Format("2006-01-02")
	if err := a.mailer.Send(ctx, domain.MailMessage{Subject: subject, TextBody: content}); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return marshalOutput(map[string]interface{}{"sent": true, "subject": subject}), nil
}

func marshalOutput(v interface{}) string {
	payload, err := json.Marshal(v)
	if err != nil {
		errorPayload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(errorPayload)
	}
	return string(payload)
}

func stringInput(input map[string]interface{}, key, fallback string) string {
	if input == nil {
		return fallback
	}
	value, ok := input[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}

func intInput(input map[string]interface{}, key string, fallback int) int {
	if input == nil {
		return fallback
	}
	value, ok := input[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case int64:
		return int(typed)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

// stringsInput accepts a JSON array or a comma-separated string.
func stringsInput(input map[string]interface{}, key string) []string {
	if input == nil {
		return nil
	}
	switch typed := input[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return typed
	case string:
		return splitCSV(typed)
	default:
		return nil
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
