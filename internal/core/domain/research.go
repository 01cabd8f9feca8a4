package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Domain is an isolated research scope. Topics never cross domains.
type Domain struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Keywords    []string  `json:"keywords"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

type DomainWithCount struct {
	Domain
	TopicCount int `json:"topic_count"`
}

type DomainStats struct {
	Domain       Domain   `json:"domain"`
	TopicCount   int      `json:"topic_count"`
	RecentTopics []string `json:"recent_topics"`
}

// DomainPreset is one row of the bootstrap preset table.
type DomainPreset struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	FocusAreas  []string `json:"focus_areas,omitempty" yaml:"focus_areas"`
}

// Topic is a single remembered subject within a domain.
type Topic struct {
	ID                string    `json:"id"`
	DomainID          string    `json:"domain_id"`
	Name              string    `json:"name"`
	FirstResearchedAt time.Time `json:"first_researched_at"`
	LastMentionedAt   time.Time `json:"last_mentioned_at"`
	Summary           string    `json:"summary"`
	Sources           []string  `json:"sources"`
	Tags              []string  `json:"tags"`
}

// Finding is a candidate observation submitted to the novelty service.
type Finding struct {
	DomainID   string    `json:"domain_id"`
	TopicName  string    `json:"topic"`
	Summary    string    `json:"summary"`
	Sources    []string  `json:"sources,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

type Classification string

const (
	ClassificationNew     Classification = "NEW"
	ClassificationUpdated Classification = "UPDATED"
	ClassificationKnown   Classification = "KNOWN"
)

type RecordResult struct {
	Topic          Topic          `json:"topic"`
	Classification Classification `json:"classification"`
}

type TopicQuery struct {
	Text  string   `json:"query"`
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit"`
}

// NoveltyCheck is a read-only preview of how a topic name relates to memory.
type NoveltyCheck struct {
	TopicName     string `json:"topic"`
	Seen          bool   `json:"seen"`
	Topic         *Topic `json:"existing,omitempty"`
	DaysSinceSeen int    `json:"days_since_seen,omitempty"`
	Stale         bool   `json:"stale"`
}

type MemoryStats struct {
	DomainID     string        `json:"domain_id"`
	TotalTopics  int           `json:"total_topics"`
	RecentTopics int           `json:"recent_topics"`
	Window       time.Duration `json:"window"`
}

// SearchRequest is one query to the web search provider. Topic and Days
// narrow it to recent news; both are optional.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Topic      string `json:"topic,omitempty"`
	Days       int    `json:"days,omitempty"`
}

type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// NormalizeName is the identity key used for domain and topic uniqueness:
// inner whitespace collapsed, outer whitespace trimmed, Unicode case folded.
func NormalizeName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	// Casers carry state and cannot be shared between goroutines.
	return cases.Fold().String(collapsed)
}

// DisplayName trims and collapses whitespace but keeps the caller's casing.
func DisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// StorageTime truncates to the precision both storage backends keep.
func StorageTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
