package usecase

import (
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const (
	NoveltyModeWindow  = "window"
	NoveltyModeContent = "content"

	defaultStalenessWindow = 7 * 24 * time.Hour
)

// NoveltyPolicy decides how a re-observed topic is classified.
//
// Content mode is the default: only a summary change produces UPDATED.
// In window mode an unchanged summary is KNOWN only while the previous mention
// is inside the staleness window; past it the topic resurfaces as UPDATED.
// Summaries are compared byte for byte.
type NoveltyPolicy struct {
	Mode            string
	StalenessWindow time.Duration
}

func (p NoveltyPolicy) normalize() NoveltyPolicy {
	out := p
	switch strings.ToLower(strings.TrimSpace(out.Mode)) {
	case NoveltyModeWindow:
		out.Mode = NoveltyModeWindow
	default:
		out.Mode = NoveltyModeContent
	}
	if out.StalenessWindow <= 0 {
		out.StalenessWindow = defaultStalenessWindow
	}
	return out
}

// apply is pure: it computes the next topic state and its classification.
func (p NoveltyPolicy) apply(current *domain.Topic, finding domain.Finding, newID func() string) (domain.Topic, domain.Classification) {
	observed := domain.StorageTime(finding.ObservedAt)

	if current == nil {
		return domain.Topic{
			ID:                newID(),
			DomainID:          finding.DomainID,
			Name:              domain.DisplayName(finding.TopicName),
			FirstResearchedAt: observed,
			LastMentionedAt:   observed,
			Summary:           finding.Summary,
			Sources:           mergeSources(nil, finding.Sources),
			Tags:              mergeTags(nil, finding.Tags),
		}, domain.ClassificationNew
	}

	next := *current
	next.Sources = mergeSources(current.Sources, finding.Sources)
	next.Tags = mergeTags(current.Tags, finding.Tags)
	if observed.After(next.LastMentionedAt) {
		next.LastMentionedAt = observed
	}
	if next.LastMentionedAt.Before(next.FirstResearchedAt) {
		next.LastMentionedAt = next.FirstResearchedAt
	}

	if finding.Summary == current.Summary {
		gap := observed.Sub(current.LastMentionedAt)
		if p.Mode == NoveltyModeContent || gap <= p.StalenessWindow {
			return next, domain.ClassificationKnown
		}
	}

	next.Summary = finding.Summary
	return next, domain.ClassificationUpdated
}

func (p NoveltyPolicy) isStale(lastMentioned, at time.Time) bool {
	return at.Sub(lastMentioned) > p.StalenessWindow
}

// mergeSources appends unseen sources in submission order.
func mergeSources(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, group := range [][]string{existing, incoming} {
		for _, source := range group {
			source = strings.TrimSpace(source)
			if source == "" {
				continue
			}
			if _, ok := seen[source]; ok {
				continue
			}
			seen[source] = struct{}{}
			out = append(out, source)
		}
	}
	return out
}

// mergeTags returns the sorted union; tags compare case-insensitively.
func mergeTags(existing, incoming []string) []string {
	set := make(map[string]struct{}, len(existing)+len(incoming))
	for _, group := range [][]string{existing, incoming} {
		for _, tag := range group {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			set[tag] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
