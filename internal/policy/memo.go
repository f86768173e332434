package policy

import (
	"regexp"
	"strings"
	"sync"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"go.uber.org/zap"
)

type cachedPolicy struct {
	policy domain.Policy
	toolRe *regexp.Regexp // nil, если target_tool_regex не компилируется
}

// MemoCache: in-memory кэш активных политик консоли.
// Источник правды — таблица policies, кэш только целиком заменяется через Replace
// после каждого перечитывания, точечных правок нет.
type MemoCache struct {
	mu sync.RWMutex
	// Порядок как в выборке: created_at DESC
	policies []cachedPolicy
	byID     map[string]int

	logger *zap.Logger
}

func NewMemoCache(logger *zap.Logger) *MemoCache {
	return &MemoCache{
		byID:   make(map[string]int),
		logger: logger.Named("policy-cache"),
	}
}

// Replace атомарно подменяет весь набор политик.
func (c *MemoCache) Replace(policies []domain.Policy) {
	next := make([]cachedPolicy, 0, len(policies))
	byID := make(map[string]int, len(policies))

	for _, p := range policies {
		cp := cachedPolicy{policy: p}
		if expr := p.Rules.String(domain.RuleKeyTargetToolRegex); expr != "" {
			re, err := regexp.Compile(expr)
			if err != nil {
				// Регэкспы пишет внешний сервис (Python re), RE2 понимает не все
				c.logger.Debug("target_tool_regex not compilable, substring match will be used",
					zap.String("policy_id", p.ID), zap.Error(err))
			} else {
				cp.toolRe = re
			}
		}
		byID[p.ID] = len(next)
		next = append(next, cp)
	}

	c.mu.Lock()
	c.policies = next
	c.byID = byID
	c.mu.Unlock()

	c.logger.Debug("policy cache replaced", zap.Int("count", len(next)))
}

// List возвращает копию набора, никогда не nil.
func (c *MemoCache) List() []domain.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Policy, 0, len(c.policies))
	for _, cp := range c.policies {
		out = append(out, cp.policy)
	}
	return out
}

func (c *MemoCache) Get(id string) (domain.Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return domain.Policy{}, false
	}
	return c.policies[i].policy, true
}

func (c *MemoCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.policies)
}

// ForTool отбирает политики, чей target_tool_regex подходит под имя инструмента.
// Для некомпилируемых выражений — поиск подстроки tool в самом выражении.
func (c *MemoCache) ForTool(tool string) []domain.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Policy, 0)
	for _, cp := range c.policies {
		if cp.toolRe != nil {
			if cp.toolRe.MatchString(tool) {
				out = append(out, cp.policy)
			}
			continue
		}
		expr := cp.policy.Rules.String(domain.RuleKeyTargetToolRegex)
		if expr != "" && strings.Contains(expr, tool) {
			out = append(out, cp.policy)
		}
	}
	return out
}
