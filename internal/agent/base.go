package agent

import (
	"context"
	"sync"
)

// Base is an embeddable agent core. It implements Agent, CrossLearner,
// Responsible and InsightReceiver. Received insights accumulate in an inbox;
// while cross-learning is disabled they are dropped and the call still
// succeeds.
type Base struct {
	id     string
	duties []string

	mu      sync.RWMutex
	enabled bool
	inbox   []Insight
}

// NewBase returns a Base with cross-learning enabled.
func NewBase(id string, responsibilities ...string) *Base {
	return &Base{
		id:      id,
		duties:  append([]string(nil), responsibilities...),
		enabled: true,
	}
}

func (b *Base) ID() string { return b.id }

// Responsibilities returns a copy of the agent's duties.
func (b *Base) Responsibilities() []string {
	return append([]string(nil), b.duties...)
}

func (b *Base) CrossLearningEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *Base) SetCrossLearning(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

// ReceiveExternalInsight stores insights from sourceID in the inbox.
func (b *Base) ReceiveExternalInsight(ctx context.Context, sourceID string, insights []Insight) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return nil
	}
	for _, in := range insights {
		if in.SourceAgent == "" {
			in.SourceAgent = sourceID
		}
		b.inbox = append(b.inbox, in)
	}
	return nil
}

// Inbox returns a copy of the received insights.
func (b *Base) Inbox() []Insight {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Insight(nil), b.inbox...)
}

// InboxLen returns the number of received insights.
func (b *Base) InboxLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.inbox)
}
