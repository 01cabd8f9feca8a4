package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// SessionRegistry maps chat sessions to their active domain. A session that
// has been initialized always has exactly one active domain; if that domain is
// deleted the session falls back to the default.
type SessionRegistry struct {
	registry      *DomainRegistryUseCase
	defaultDomain string

	mu     sync.Mutex
	active map[string]string
}

func NewSessionRegistry(registry *DomainRegistryUseCase, defaultDomain string) *SessionRegistry {
	defaultDomain = strings.TrimSpace(defaultDomain)
	if defaultDomain == "" {
		defaultDomain = "ai-ml"
	}
	return &SessionRegistry{
		registry:      registry,
		defaultDomain: defaultDomain,
		active:        make(map[string]string),
	}
}

func (s *SessionRegistry) Active(ctx context.Context, sessionID string) (*domain.Domain, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "active domain", fmt.Errorf("session id is required"))
	}

	s.mu.Lock()
	domainID, ok := s.active[sessionID]
	s.mu.Unlock()

	if ok {
		d, err := s.registry.GetDomain(ctx, domainID)
		if err == nil {
			return d, nil
		}
		if !domain.IsKind(err, domain.ErrUnknownDomain) {
			return nil, err
		}
		slog.Warn("session_domain_gone", "session_id", sessionID, "domain_id", domainID)
	}

	d, err := s.defaultDomainFor(ctx)
	if err != nil {
		return nil, err
	}
	return s.SetActive(ctx, sessionID, d.ID)
}

func (s *SessionRegistry) SetActive(ctx context.Context, sessionID, domainID string) (*domain.Domain, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "set active domain", fmt.Errorf("session id is required"))
	}
	d, err := s.registry.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Touch(ctx, d.ID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active[sessionID] = d.ID
	s.mu.Unlock()

	slog.Info("session_domain_set", "session_id", sessionID, "domain_id", d.ID, "domain", d.Name)
	return s.registry.GetDomain(ctx, d.ID)
}

func (s *SessionRegistry) defaultDomainFor(ctx context.Context) (*domain.Domain, error) {
	if preset, ok := s.registry.Preset(s.defaultDomain); ok {
		return s.registry.GetOrCreateDefault(ctx, preset.Name, preset.Description, preset.Keywords)
	}
	return s.registry.GetOrCreateDefault(ctx, s.defaultDomain, "", nil)
}
