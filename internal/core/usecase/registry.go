package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

const domainStatsRecentTopics = 5

type DomainRegistryUseCase struct {
	domains ports.DomainStore
	topics  ports.TopicStore
	presets map[string]domain.DomainPreset
	order   []string
	now     func() time.Time
}

func NewDomainRegistryUseCase(domains ports.DomainStore, topics ports.TopicStore, presets []domain.DomainPreset) *DomainRegistryUseCase {
	index := make(map[string]domain.DomainPreset, len(presets))
	order := make([]string, 0, len(presets))
	for _, preset := range presets {
		key := domain.NormalizeName(preset.Name)
		if key == "" {
			continue
		}
		if _, dup := index[key]; !dup {
			order = append(order, key)
		}
		index[key] = preset
	}
	return &DomainRegistryUseCase{
		domains: domains,
		topics:  topics,
		presets: index,
		order:   order,
		now:     time.Now,
	}
}

func (uc *DomainRegistryUseCase) CreateDomain(ctx context.Context, name, description string, keywords []string) (*domain.Domain, error) {
	display := domain.DisplayName(name)
	nameKey := domain.NormalizeName(name)
	if nameKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create domain", fmt.Errorf("name is required"))
	}

	if existing, err := uc.domains.GetDomainByKey(ctx, nameKey); err == nil {
		return nil, domain.WrapError(domain.ErrDuplicateDomain, "create domain", fmt.Errorf("domain %q already exists as %q", display, existing.Name))
	} else if !domain.IsKind(err, domain.ErrUnknownDomain) {
		return nil, err
	}

	now := domain.StorageTime(uc.now())
	d := &domain.Domain{
		ID:          uuid.NewString(),
		Name:        display,
		Description: strings.TrimSpace(description),
		Keywords:    cleanKeywords(keywords),
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	// The store enforces name_key uniqueness too; a racing creator gets ErrDuplicateDomain here.
	if err := uc.domains.CreateDomain(ctx, d, nameKey); err != nil {
		return nil, err
	}
	slog.Info("domain_created", "domain_id", d.ID, "name", d.Name, "keywords", len(d.Keywords))
	return d, nil
}

// GetOrCreateDefault returns the existing domain untouched, or creates it.
func (uc *DomainRegistryUseCase) GetOrCreateDefault(ctx context.Context, name, description string, keywords []string) (*domain.Domain, error) {
	nameKey := domain.NormalizeName(name)
	if nameKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get or create domain", fmt.Errorf("name is required"))
	}
	existing, err := uc.domains.GetDomainByKey(ctx, nameKey)
	if err == nil {
		return existing, nil
	}
	if !domain.IsKind(err, domain.ErrUnknownDomain) {
		return nil, err
	}

	created, err := uc.CreateDomain(ctx, name, description, keywords)
	if err == nil {
		return created, nil
	}
	if !domain.IsKind(err, domain.ErrDuplicateDomain) {
		return nil, err
	}
	return uc.domains.GetDomainByKey(ctx, nameKey)
}

// EnsurePresets creates every preset domain that does not exist yet.
func (uc *DomainRegistryUseCase) EnsurePresets(ctx context.Context) error {
	for _, key := range uc.order {
		preset := uc.presets[key]
		if _, err := uc.GetOrCreateDefault(ctx, preset.Name, preset.Description, preset.Keywords); err != nil {
			return fmt.Errorf("ensure preset %s: %w", preset.Name, err)
		}
	}
	return nil
}

// Preset looks up the preset row for a domain name.
func (uc *DomainRegistryUseCase) Preset(name string) (domain.DomainPreset, bool) {
	preset, ok := uc.presets[domain.NormalizeName(name)]
	return preset, ok
}

func (uc *DomainRegistryUseCase) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get domain", fmt.Errorf("domain id is required"))
	}
	return uc.domains.GetDomainByID(ctx, id)
}

// ResolveDomain accepts either a domain id or a domain name.
func (uc *DomainRegistryUseCase) ResolveDomain(ctx context.Context, ref string) (*domain.Domain, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve domain", fmt.Errorf("domain reference is required"))
	}
	if _, err := uuid.Parse(ref); err == nil {
		d, err := uc.domains.GetDomainByID(ctx, ref)
		if err == nil || !domain.IsKind(err, domain.ErrUnknownDomain) {
			return d, err
		}
	}
	return uc.domains.GetDomainByKey(ctx, domain.NormalizeName(ref))
}

func (uc *DomainRegistryUseCase) ListDomains(ctx context.Context) ([]domain.DomainWithCount, error) {
	return uc.domains.ListDomains(ctx)
}

func (uc *DomainRegistryUseCase) UpdateKeywords(ctx context.Context, id string, keywords []string) (*domain.Domain, error) {
	if err := uc.domains.UpdateKeywords(ctx, id, cleanKeywords(keywords)); err != nil {
		return nil, err
	}
	return uc.domains.GetDomainByID(ctx, id)
}

// Touch marks the domain as used now.
func (uc *DomainRegistryUseCase) Touch(ctx context.Context, id string) error {
	return uc.domains.TouchDomain(ctx, id, domain.StorageTime(uc.now()))
}

func (uc *DomainRegistryUseCase) DeleteDomain(ctx context.Context, id string, cascade bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete domain", fmt.Errorf("domain id is required"))
	}
	removed, err := uc.domains.DeleteDomain(ctx, id, cascade)
	if err != nil {
		return err
	}
	slog.Info("domain_deleted", "domain_id", id, "cascade", cascade, "topics_removed", removed)
	return nil
}

func (uc *DomainRegistryUseCase) DomainStats(ctx context.Context, id string) (*domain.DomainStats, error) {
	d, err := uc.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	total, _, err := uc.topics.CountTopics(ctx, d.ID, d.CreatedAt)
	if err != nil {
		return nil, err
	}
	recent, err := uc.topics.ListRecentTopics(ctx, d.ID, domainStatsRecentTopics)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recent))
	for _, topic := range recent {
		names = append(names, topic.Name)
	}
	return &domain.DomainStats{Domain: *d, TopicCount: total, RecentTopics: names}, nil
}

// PromptContext describes the domain for the research planner.
func (uc *DomainRegistryUseCase) PromptContext(d domain.Domain) string {
	focus := []string{"recent developments", "notable releases", "emerging trends"}
	if preset, ok := uc.Preset(d.Name); ok && len(preset.FocusAreas) > 0 {
		focus = preset.FocusAreas
	}
	description := d.Description
	if description == "" {
		description = "Research on " + d.Name
	}
	keywords := "(none)"
	if len(d.Keywords) > 0 {
		keywords = strings.Join(d.Keywords, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research domain: %s\n", d.Name)
	fmt.Fprintf(&b, "Description: %s\n", description)
	fmt.Fprintf(&b, "Keywords: %s\n", keywords)
	b.WriteString("Focus areas:\n")
	for _, area := range focus {
		fmt.Fprintf(&b, "- %s\n", area)
	}
	return b.String()
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = domain.DisplayName(kw)
		key := domain.NormalizeName(kw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}
