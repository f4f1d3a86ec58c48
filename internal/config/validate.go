package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
)

// Validate проверяет согласованность конфигурации.
// Возвращает все найденные ошибки, обёрнутые в ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Backends) == 0 {
		add("at least one backend is required")
	}

	scopes := make(map[string]bool)
	resourceIDs := make(map[string]bool)
	for i, r := range c.Resources {
		switch {
		case r.ID == "":
			add("resources[%d]: id is required", i)
		case r.Scope == "":
			add("resources[%d] %s: scope is required", i, r.ID)
		case resourceIDs[r.ID]:
			add("resources[%d]: duplicate id %s", i, r.ID)
		}
		resourceIDs[r.ID] = true
		scopes[r.Scope] = true
	}

	kinds := make(map[string]string, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name != "" {
			kinds[b.Name] = b.Kind
		}
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		name := b.Name
		if name == "" {
			add("backends[%d]: name is required", i)
			continue
		}
		if seen[name] {
			add("backends[%d]: duplicate name %s", i, name)
		}
		seen[name] = true

		switch b.Kind {
		case backend.KindAPI, backend.KindCloud:
			if b.Endpoint == "" {
				add("backend %s: endpoint is required", name)
			}
		case backend.KindBrowser:
			if b.Endpoint == "" {
				add("backend %s: session service endpoint is required", name)
			}
			if b.ResourceScope == "" {
				add("backend %s: resource_scope is required", name)
			}
		case backend.KindHybrid:
			if len(b.Candidates) == 0 {
				add("backend %s: at least one candidate is required", name)
			}
			for _, cand := range b.Candidates {
				kind, ok := kinds[cand]
				switch {
				case !ok:
					add("backend %s: unknown candidate %s", name, cand)
				case kind == backend.KindHybrid:
					add("backend %s: candidate %s is a hybrid", name, cand)
				}
			}
		default:
			add("backend %s: unknown kind %q", name, b.Kind)
		}

		if b.ResourceScope != "" && !scopes[b.ResourceScope] {
			add("backend %s: no resources in scope %s", name, b.ResourceScope)
		}
		if b.MaxConcurrency < 0 || b.MaxBatchSize < 0 || b.RateLimit < 0 {
			add("backend %s: limits must not be negative", name)
		}
	}

	// Reap освобождает просроченные аренды, поэтому аренда должна пережить попытку.
	if c.Pool.LeaseTTL <= c.Engine.TaskTimeout {
		add("pool.lease_ttl %s must exceed engine.task_timeout %s", c.Pool.LeaseTTL, c.Engine.TaskTimeout)
	}

	for i, r := range c.Recurring {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("recurring[%d]", i)
		}
		if _, err := cron.ParseStandard(r.Schedule); err != nil {
			add("%s: invalid schedule %q: %v", label, r.Schedule, err)
		}
		if strings.TrimSpace(r.Target) == "" {
			add("%s: target is required", label)
		}
		if r.Quantity <= 0 {
			add("%s: quantity must be positive", label)
		}
		for _, name := range r.Backends {
			if !seen[name] {
				add("%s: unknown backend %s", label, name)
			}
		}
		if r.Priority != "" && r.Priority != domain.PriorityNormal && r.Priority != domain.PriorityHigh {
			add("%s: unknown priority %q", label, r.Priority)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
