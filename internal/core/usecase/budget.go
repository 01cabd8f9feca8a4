package usecase

import (
	"math"
	"sync"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const (
	defaultToolCallCeiling  = 10
	defaultWarnFraction     = 0.8
	warnThresholdRoundSlack = 1e-9
)

// BudgetGuard counts autonomous tool calls within one turn. It is not meant to
// be shared across turns; each turn gets its own instance.
type BudgetGuard struct {
	mu      sync.Mutex
	ceiling int
	warnAt  int
	count   int
	denied  bool
}

func NewBudgetGuard(policy domain.BudgetPolicy) *BudgetGuard {
	policy = NormalizeBudgetPolicy(policy)
	warnAt := int(math.Ceil(float64(policy.Ceiling)*policy.WarnFraction - warnThresholdRoundSlack))
	if warnAt < 1 {
		warnAt = 1
	}
	return &BudgetGuard{
		ceiling: policy.Ceiling,
		warnAt:  warnAt,
	}
}

func NormalizeBudgetPolicy(policy domain.BudgetPolicy) domain.BudgetPolicy {
	if policy.Ceiling <= 0 {
		policy.Ceiling = defaultToolCallCeiling
	}
	if policy.WarnFraction <= 0 || policy.WarnFraction > 1 {
		policy.WarnFraction = defaultWarnFraction
	}
	return policy
}

func (g *BudgetGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count = 0
	g.denied = false
}

// TryConsume counts the attempt whether or not it is allowed. Denied is sticky
// until Reset.
func (g *BudgetGuard) TryConsume() domain.BudgetDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count++
	if g.denied || g.count > g.ceiling {
		g.denied = true
		return domain.BudgetDenied
	}
	if g.count >= g.warnAt {
		return domain.BudgetWarn
	}
	return domain.BudgetAllowed
}

func (g *BudgetGuard) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *BudgetGuard) Ceiling() int {
	return g.ceiling
}
