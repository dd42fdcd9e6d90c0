// Package agent defines the capability contract between the cross-learning
// coordinator and the agents it drives, plus the registry that holds them.
//
// An agent implements Agent and any subset of Trainer, InsightReceiver,
// DataReporter and CrossLearner. Capability presence is an interface check.
package agent

import (
	"context"
	"errors"
	"time"
)

// Registry errors.
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentExists   = errors.New("agent already registered")
	ErrEmptyAgentID  = errors.New("agent id is empty")
)

// Capability names one optional method set of the contract.
type Capability string

const (
	CapTrain         Capability = "train"
	CapReceive       Capability = "receive_insight"
	CapReport        Capability = "report_availability"
	CapCrossLearning Capability = "cross_learning"
)

// Agent is the base every registered handle implements.
type Agent interface {
	ID() string
}

// TrainingParams is passed to every Trainer on each cycle.
type TrainingParams struct {
	Target float64 `json:"target"`
	Focus  string  `json:"focus"`
}

// TrainingResult carries the insights produced by one Train call.
type TrainingResult struct {
	Insights []Insight `json:"insights"`
}

// Insight is something one agent learned. Payload is opaque to the
// coordinator.
type Insight struct {
	SourceAgent string         `json:"source_agent"`
	InsightType string         `json:"insight_type"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Trainer runs one training step.
type Trainer interface {
	Agent
	Train(ctx context.Context, p TrainingParams) (TrainingResult, error)
}

// InsightReceiver accepts insights produced by another agent.
type InsightReceiver interface {
	Agent
	ReceiveExternalInsight(ctx context.Context, sourceID string, insights []Insight) error
}

// DataReporter reports how many training examples the agent holds. Used for
// performance accounting only, never to gate training.
type DataReporter interface {
	Agent
	TrainingDataAvailability(ctx context.Context) (int64, error)
}

// CrossLearner exposes the cross-learning participation flag.
type CrossLearner interface {
	Agent
	CrossLearningEnabled() bool
	SetCrossLearning(enabled bool)
}

// Refresher re-reads agent state held outside the process, such as the
// cross-learning flag of a remote agent.
type Refresher interface {
	Agent
	Refresh(ctx context.Context) error
}

// Responsible lists the duties an agent owns. Ignition shares them with the
// rest of the pool.
type Responsible interface {
	Agent
	Responsibilities() []string
}

// Record is the registry's view of an agent.
type Record struct {
	ID                   string       `json:"id"`
	Capabilities         []Capability `json:"capabilities"`
	CrossLearningEnabled bool         `json:"cross_learning_enabled"`
}

// CapabilitiesOf returns the capabilities a implements, in a fixed order.
func CapabilitiesOf(a Agent) []Capability {
	var caps []Capability
	if _, ok := a.(Trainer); ok {
		caps = append(caps, CapTrain)
	}
	if _, ok := a.(InsightReceiver); ok {
		caps = append(caps, CapReceive)
	}
	if _, ok := a.(DataReporter); ok {
		caps = append(caps, CapReport)
	}
	if _, ok := a.(CrossLearner); ok {
		caps = append(caps, CapCrossLearning)
	}
	return caps
}

// RecordOf builds a Record for a. Agents without CrossLearner count as
// enabled.
func RecordOf(a Agent) Record {
	enabled := true
	if cl, ok := a.(CrossLearner); ok {
		enabled = cl.CrossLearningEnabled()
	}
	return Record{
		ID:                   a.ID(),
		Capabilities:         CapabilitiesOf(a),
		CrossLearningEnabled: enabled,
	}
}
