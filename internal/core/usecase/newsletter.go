package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/report"
)

type NewsletterSettings struct {
	Format      string
	Subject     string
	SourceLimit int
}

type NewsletterUseCase struct {
	memory   ports.MemoryService
	registry *DomainRegistryUseCase
	mailer   ports.Mailer
	settings NewsletterSettings
	now      func() time.Time
}

func NewNewsletterUseCase(memory ports.MemoryService, registry *DomainRegistryUseCase, mailer ports.Mailer, settings NewsletterSettings) *NewsletterUseCase {
	if _, err := report.ParseFormat(settings.Format); err != nil {
		settings.Format = string(report.FormatHTML)
	}
	if strings.TrimSpace(settings.Subject) == "" {
		settings.Subject = "AI Research Digest - {date}"
	}
	return &NewsletterUseCase{
		memory:   memory,
		registry: registry,
		mailer:   mailer,
		settings: settings,
		now:      time.Now,
	}
}

// Render builds a digest of the most recent topics of a domain. A domain with
// no topics renders the "no new findings" document.
func (uc *NewsletterUseCase) Render(ctx context.Context, domainID, format string, limit int) (*domain.Newsletter, error) {
	if strings.TrimSpace(format) == "" {
		format = uc.settings.Format
	}
	parsed, err := report.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	d, err := uc.registry.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	topics, err := uc.memory.ListRecent(ctx, d.ID, limit)
	if err != nil {
		return nil, err
	}
	if topics == nil {
		topics = []domain.Topic{}
	}

	generatedAt := uc.now()
	title := report.DefaultTitle(generatedAt)
	body, err := report.Render(topics, parsed, report.Options{
		Title:        title,
		Introduction: fmt.Sprintf("Latest findings from the %s research domain.", d.Name),
		GeneratedAt:  generatedAt,
		SourceLimit:  uc.settings.SourceLimit,
	})
	if err != nil {
		return nil, err
	}
	return &domain.Newsletter{
		DomainID: d.ID,
		Format:   string(parsed),
		Subject:  uc.subject(generatedAt, d.Name),
		Body:     body,
		Topics:   len(topics),
	}, nil
}

// Send renders the digest in the configured format and delivers it. An empty
// domain is not mailed and reports domain.ErrNoContent.
func (uc *NewsletterUseCase) Send(ctx context.Context, domainID string, limit int) (*domain.Newsletter, error) {
	if uc.mailer == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "send newsletter", fmt.Errorf("mail delivery is not configured"))
	}
	letter, err := uc.Render(ctx, domainID, uc.settings.Format, limit)
	if err != nil {
		return nil, err
	}
	if letter.Topics == 0 {
		return nil, domain.WrapError(domain.ErrNoContent, "send newsletter", fmt.Errorf("domain has no findings yet"))
	}

	msg := domain.MailMessage{Subject: letter.Subject}
	if letter.Format == string(report.FormatHTML) {
		msg.HTMLBody = letter.Body
	} else {
		msg.TextBody = letter.Body
	}
	if err := uc.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("deliver newsletter: %w", err)
	}
	slog.Info("newsletter_sent", "domain_id", letter.DomainID, "format", letter.Format, "topics", letter.Topics)
	return letter, nil
}

func (uc *NewsletterUseCase) subject(at time.Time, domainName string) string {
	replacer := strings.NewReplacer(
		"{date}", at.UTC().Format("January 02, 2006"),
		"{domain}", domainName,
	)
	return replacer.Replace(uc.settings.Subject)
}
