package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idOnly implements nothing beyond Agent.
type idOnly string

func (a idOnly) ID() string { return string(a) }

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	w := NewWorker(WorkerConfig{ID: "pricing"})

	require.NoError(t, r.Register("pricing", w))
	got, err := r.Resolve("pricing")
	require.NoError(t, err)
	assert.Same(t, w, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register("", idOnly("x")), ErrEmptyAgentID)
	require.NoError(t, r.Register("x", idOnly("x")))
	assert.ErrorIs(t, r.Register("x", idOnly("x")), ErrAgentExists)

	_, err := r.Resolve("missing")
	assert.True(t, errors.Is(err, ErrAgentNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	ids := []string{"zeta", "alpha", "mid"}
	for _, id := range ids {
		require.NoError(t, r.Register(id, idOnly(id)))
	}

	var got []string
	for _, e := range r.All() {
		got = append(got, e.ID)
	}
	assert.Equal(t, ids, got)

	require.NoError(t, r.Unregister("alpha"))
	got = got[:0]
	for _, e := range r.All() {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"zeta", "mid"}, got)

	_, err := r.Resolve("alpha")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.ErrorIs(t, r.Unregister("alpha"), ErrAgentNotFound)
}

func TestRegistry_Records(t *testing.T) {
	r := NewRegistry()
	w := NewWorker(WorkerConfig{ID: "w"})
	w.SetCrossLearning(false)
	require.NoError(t, r.Register("w", w))
	require.NoError(t, r.Register("plain", idOnly("plain")))

	recs := r.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, []Capability{CapTrain, CapReceive, CapReport, CapCrossLearning}, recs[0].Capabilities)
	assert.False(t, recs[0].CrossLearningEnabled)
	assert.Empty(t, recs[1].Capabilities)
	assert.True(t, recs[1].CrossLearningEnabled)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", i)
			_ = r.Register(id, idOnly(id))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.All()
			_, _ = r.Resolve("agent-0")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
}

func TestBase_DisabledReceiveIsNoop(t *testing.T) {
	b := NewBase("x", "pricing")
	ctx := context.Background()
	in := []Insight{{InsightType: "t"}}

	require.NoError(t, b.ReceiveExternalInsight(ctx, "y", in))
	assert.Equal(t, 1, b.InboxLen())
	assert.Equal(t, "y", b.Inbox()[0].SourceAgent)

	b.SetCrossLearning(false)
	require.NoError(t, b.ReceiveExternalInsight(ctx, "y", in))
	assert.Equal(t, 1, b.InboxLen(), "disabled receiver must drop")
	assert.Equal(t, []string{"pricing"}, b.Responsibilities())
}

func TestWorker_TrainAndAvailability(t *testing.T) {
	ctx := context.Background()
	w := NewWorker(WorkerConfig{ID: "w", Examples: 10, InsightsPerCycle: 3})

	res, err := w.Train(ctx, TrainingParams{Target: 80, Focus: "roi"})
	require.NoError(t, err)
	require.Len(t, res.Insights, 3)
	for _, in := range res.Insights {
		assert.Equal(t, "w", in.SourceAgent)
		assert.Equal(t, "training_insights", in.InsightType)
		assert.Equal(t, "roi", in.Payload["focus"])
	}
	assert.Equal(t, int64(1), w.Rounds())

	require.NoError(t, w.ReceiveExternalInsight(ctx, "other", res.Insights[:2]))
	n, err := w.TrainingDataAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestWorker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWorker(WorkerConfig{ID: "w"})

	_, err := w.Train(ctx, TrainingParams{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), w.Rounds())
}
