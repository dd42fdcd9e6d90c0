package coordinator

import (
	"context"
	"fmt"
)

// Setting keys read and written by the coordinator.
const (
	KeyTargetMetric          = "ai_target_metric"
	KeyOptimizationGoal      = "ai_optimization_goal"
	KeyStrictMode            = "enforcer_strict_mode"
	KeyLastAgentSync         = "last_agent_sync"
	KeySystemIgnited         = "system_ignited"
	KeyIgnitionStarted       = "system_ignition_started"
	KeyIgnitionTimestamp     = "ignition_timestamp"
	KeyAgentResponsibilities = "agent_responsibilities"
)

// Policy defaults used when the settings are absent.
const (
	DefaultTargetMetric     = 80.0
	DefaultOptimizationGoal = "roi"
)

// Policy is the operating policy a cycle runs under.
type Policy struct {
	TargetMetricGoal float64 `json:"target_metric_goal"`
	Focus            string  `json:"focus"`
	StrictMode       bool    `json:"strict_mode"`
}

// DefaultPolicy returns the policy used before any has been stored.
func DefaultPolicy() Policy {
	return Policy{TargetMetricGoal: DefaultTargetMetric, Focus: DefaultOptimizationGoal}
}

// LoadPolicy reads the policy settings, falling back to DefaultPolicy for
// absent keys.
func (c *Coordinator) LoadPolicy(ctx context.Context) (Policy, error) {
	def := DefaultPolicy()

	target, err := c.store.GetFloat(ctx, KeyTargetMetric, def.TargetMetricGoal)
	if err != nil {
		return Policy{}, fmt.Errorf("load policy: %w", err)
	}
	focus, err := c.store.GetSetting(ctx, KeyOptimizationGoal, def.Focus)
	if err != nil {
		return Policy{}, fmt.Errorf("load policy: %w", err)
	}
	strict, err := c.store.GetBool(ctx, KeyStrictMode, def.StrictMode)
	if err != nil {
		return Policy{}, fmt.Errorf("load policy: %w", err)
	}
	return Policy{TargetMetricGoal: target, Focus: focus, StrictMode: strict}, nil
}

// SavePolicy writes every policy setting. Keys are written one at a time;
// a failure leaves earlier keys written.
func (c *Coordinator) SavePolicy(ctx context.Context, p Policy) error {
	if err := c.store.SetBool(ctx, KeyStrictMode, p.StrictMode); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	if err := c.store.SetSetting(ctx, KeyOptimizationGoal, p.Focus); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	if err := c.store.SetFloat(ctx, KeyTargetMetric, p.TargetMetricGoal); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}
