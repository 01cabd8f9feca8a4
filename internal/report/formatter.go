// Package report renders findings into newsletter documents. Rendering is a
// pure transform: the generation time is an input and nothing is read from the
// clock, network or storage.
package report

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

const (
	defaultSourceLimit = 5
	noFindingsText     = "No new findings to report."
	footerText         = "This newsletter was generated automatically by the AI Research Assistant."
	textRule           = "----------------------------------------------------------------------"
)

type Options struct {
	Title        string
	Introduction string
	GeneratedAt  time.Time
	SourceLimit  int
}

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "plain", "txt":
		return FormatText, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse newsletter format", fmt.Errorf("unsupported format %q", raw))
	}
}

// DefaultTitle is the digest title for the given generation date.
func DefaultTitle(at time.Time) string {
	return "AI Research Digest - " + formatDate(at)
}

// Render produces the newsletter. A nil findings slice means the caller never
// collected anything and fails with domain.ErrNoContent; an empty non-nil
// slice renders the "no new findings" document.
func Render(findings []domain.Topic, format Format, opts Options) (string, error) {
	if findings == nil {
		return "", domain.WrapError(domain.ErrNoContent, "render newsletter", fmt.Errorf("findings were not collected"))
	}
	if opts.GeneratedAt.IsZero() {
		return "", domain.WrapError(domain.ErrInvalidInput, "render newsletter", fmt.Errorf("generation time is required"))
	}
	if opts.SourceLimit <= 0 {
		opts.SourceLimit = defaultSourceLimit
	}
	if strings.TrimSpace(opts.Title) == "" {
		opts.Title = DefaultTitle(opts.GeneratedAt)
	}

	switch format {
	case FormatHTML:
		return renderHTML(findings, opts), nil
	case FormatMarkdown:
		return renderMarkdown(findings, opts), nil
	case FormatText:
		return renderText(findings, opts), nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "render newsletter", fmt.Errorf("unsupported format %q", format))
	}
}

func renderMarkdown(findings []domain.Topic, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", opts.Title)
	fmt.Fprintf(&b, "*Generated on %s*\n\n", formatDate(opts.GeneratedAt))
	if intro := strings.TrimSpace(opts.Introduction); intro != "" {
		fmt.Fprintf(&b, "%s\n\n", intro)
	}
	b.WriteString("---\n\n")

	if len(findings) == 0 {
		fmt.Fprintf(&b, "%s\n", noFindingsText)
		return b.String()
	}

	fmt.Fprintf(&b, "## Key Findings (%d topics)\n\n", len(findings))
	for i, topic := range findings {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, topicTitle(topic))
		fmt.Fprintf(&b, "%s\n\n", topicSummary(topic))
		if len(topic.Tags) > 0 {
			fmt.Fprintf(&b, "**Tags:** %s\n\n", strings.Join(topic.Tags, ", "))
		}
		if len(topic.Sources) > 0 {
			shown, rest := splitSources(topic.Sources, opts.SourceLimit)
			b.WriteString("**Sources:**\n")
			for _, source := range shown {
				fmt.Fprintf(&b, "- %s\n", source)
			}
			if rest > 0 {
				fmt.Fprintf(&b, "- *...and %d more*\n", rest)
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}
	fmt.Fprintf(&b, "*%s*\n", footerText)
	return b.String()
}

func renderText(findings []domain.Topic, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", opts.Title, strings.Repeat("=", len([]rune(opts.Title))))
	fmt.Fprintf(&b, "Generated on %s\n\n", formatDate(opts.GeneratedAt))
	if intro := strings.TrimSpace(opts.Introduction); intro != "" {
		fmt.Fprintf(&b, "%s\n\n", intro)
	}
	fmt.Fprintf(&b, "%s\n\n", textRule)

	if len(findings) == 0 {
		fmt.Fprintf(&b, "%s\n", noFindingsText)
		return b.String()
	}

	fmt.Fprintf(&b, "KEY FINDINGS (%d topics)\n\n", len(findings))
	for i, topic := range findings {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, strings.ToUpper(topicTitle(topic)))
		fmt.Fprintf(&b, "   %s\n\n", topicSummary(topic))
		if len(topic.Tags) > 0 {
			fmt.Fprintf(&b, "   Tags: %s\n\n", strings.Join(topic.Tags, ", "))
		}
		if len(topic.Sources) > 0 {
			shown, rest := splitSources(topic.Sources, opts.SourceLimit)
			b.WriteString("   Sources:\n")
			for _, source := range shown {
				fmt.Fprintf(&b, "   - %s\n", source)
			}
			if rest > 0 {
				fmt.Fprintf(&b, "   - ...and %d more\n", rest)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n\n", textRule)
	}
	fmt.Fprintf(&b, "\n%s\n", footerText)
	return b.String()
}

func renderHTML(findings []domain.Topic, opts Options) string {
	esc := html.EscapeString
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"UTF-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", esc(opts.Title))
	b.WriteString("<style>\n" + htmlStyle + "</style>\n")
	b.WriteString("</head>\n<body>\n<div class=\"container\">\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", esc(opts.Title))
	fmt.Fprintf(&b, "<p class=\"date\">Generated on %s</p>\n", esc(formatDate(opts.GeneratedAt)))
	if intro := strings.TrimSpace(opts.Introduction); intro != "" {
		fmt.Fprintf(&b, "<div class=\"introduction\"><p>%s</p></div>\n", esc(intro))
	}

	if len(findings) == 0 {
		fmt.Fprintf(&b, "<p>%s</p>\n", noFindingsText)
	} else {
		fmt.Fprintf(&b, "<h2>Key Findings (%d topics)</h2>\n", len(findings))
		for i, topic := range findings {
			b.WriteString("<div class=\"finding\">\n")
			fmt.Fprintf(&b, "<h3>%d. %s</h3>\n", i+1, esc(topicTitle(topic)))
			fmt.Fprintf(&b, "<p>%s</p>\n", esc(topicSummary(topic)))
			if len(topic.Tags) > 0 {
				b.WriteString("<div class=\"tags\">")
				for _, tag := range topic.Tags {
					fmt.Fprintf(&b, "<span class=\"tag\">%s</span>", esc(tag))
				}
				b.WriteString("</div>\n")
			}
			if len(topic.Sources) > 0 {
				shown, rest := splitSources(topic.Sources, opts.SourceLimit)
				b.WriteString("<div class=\"sources\"><strong>Sources:</strong>\n<ul>\n")
				for _, source := range shown {
					if linkable(source) {
						fmt.Fprintf(&b, "<li><a href=\"%s\" target=\"_blank\">%s</a></li>\n", esc(source), esc(source))
					} else {
						fmt.Fprintf(&b, "<li>%s</li>\n", esc(source))
					}
				}
				if rest > 0 {
					fmt.Fprintf(&b, "<li><em>...and %d more</em></li>\n", rest)
				}
				b.WriteString("</ul>\n</div>\n")
			}
			if i < len(findings)-1 {
				b.WriteString("<hr>\n")
			}
			b.WriteString("</div>\n")
		}
	}

	fmt.Fprintf(&b, "<div class=\"footer\"><p>%s</p></div>\n", footerText)
	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}

func topicTitle(topic domain.Topic) string {
	if name := strings.TrimSpace(topic.Name); name != "" {
		return name
	}
	return "Untitled"
}

func topicSummary(topic domain.Topic) string {
	if summary := strings.TrimSpace(topic.Summary); summary != "" {
		return summary
	}
	return "No summary available"
}

// linkable reports whether a source may be rendered as a clickable link. Only
// absolute http and https URLs qualify.
func linkable(source string) bool {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func splitSources(sources []string, limit int) ([]string, int) {
	if len(sources) <= limit {
		return sources, 0
	}
	return sources[:limit], len(sources) - limit
}

func formatDate(at time.Time) string {
	return at.UTC().Format("January 02, 2006")
}

const htmlStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background-color: #f5f5f5; }
.container { background-color: white; padding: 30px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
h1 { color: #2c3e50; border-bottom: 3px solid #3498db; padding-bottom: 10px; }
h2 { color: #2c3e50; margin-top: 30px; }
h3 { color: #34495e; margin-top: 25px; }
.date { color: #7f8c8d; font-style: italic; margin-bottom: 20px; }
.introduction { background-color: #ecf0f1; padding: 15px; border-left: 4px solid #3498db; margin: 20px 0; }
.finding { border-left: 3px solid #3498db; padding-left: 20px; margin: 25px 0; }
.tags { display: flex; flex-wrap: wrap; gap: 8px; margin: 10px 0; }
.tag { background-color: #3498db; color: white; padding: 4px 12px; border-radius: 12px; font-size: 0.85em; }
.sources { background-color: #f8f9fa; padding: 15px; border-radius: 4px; margin: 15px 0; }
.sources a { color: #3498db; text-decoration: none; }
.footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #ddd; color: #7f8c8d; font-size: 0.9em; text-align: center; }
hr { border: none; border-top: 1px solid #ecf0f1; margin: 30px 0; }
`
