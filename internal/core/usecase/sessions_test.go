package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func TestSessionActiveDefaultsToPresetDomain(t *testing.T) {
	env := newTestEnv(NoveltyPolicy{})
	sessions := NewSessionRegistry(env.registry, "")

	d, err := sessions.Active(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if d.Name != "ai-ml" || len(d.Keywords) != 2 {
		t.Fatalf("expected preset ai-ml domain, got %+v", d)
	}
}

func TestSessionSwitchesAndFallsBackAfterDelete(t *testing.T) {
	env := newTestEnv(NoveltyPolicy{})
	ctx := context.Background()
	sessions := NewSessionRegistry(env.registry, "ai-ml")
	crypto := mustCreateDomain(t, env, "cryptocurrency")

	if _, err := sessions.SetActive(ctx, "s1", crypto.ID); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	active, err := sessions.Active(ctx, "s1")
	if err != nil || active.ID != crypto.ID {
		t.Fatalf("Active() = %+v, %v", active, err)
	}

	other, err := sessions.Active(ctx, "s2")
	if err != nil || other.ID == crypto.ID {
		t.Fatalf("expected independent session scope, got %+v, %v", other, err)
	}

	if err := env.registry.DeleteDomain(ctx, crypto.ID, true); err != nil {
		t.Fatalf("DeleteDomain() error = %v", err)
	}
	fallback, err := sessions.Active(ctx, "s1")
	if err != nil {
		t.Fatalf("Active() after delete error = %v", err)
	}
	if fallback.Name != "ai-ml" {
		t.Fatalf("expected fallback to ai-ml, got %q", fallback.Name)
	}
}

func TestSessionSetActiveUnknownDomain(t *testing.T) {
	env := newTestEnv(NoveltyPolicy{})
	sessions := NewSessionRegistry(env.registry, "ai-ml")
	if _, err := sessions.SetActive(context.Background(), "s1", "missing"); !domain.IsKind(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
	if _, err := sessions.Active(context.Background(), " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank session, got %v", err)
	}
}
