package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/crosslearn/internal/agent"
)

func TestLoadPolicy_Defaults(t *testing.T) {
	c := newTestCoordinator(t, testDB(t), agent.NewRegistry())

	p, err := c.LoadPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
	assert.Equal(t, 80.0, p.TargetMetricGoal)
	assert.Equal(t, "roi", p.Focus)
	assert.False(t, p.StrictMode)
}

func TestSaveLoadPolicy(t *testing.T) {
	db := testDB(t)
	c := newTestCoordinator(t, db, agent.NewRegistry())
	ctx := context.Background()

	want := Policy{TargetMetricGoal: 92.5, Focus: "retention", StrictMode: true}
	require.NoError(t, c.SavePolicy(ctx, want))

	got, err := c.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := db.GetSetting(ctx, KeyStrictMode, "")
	require.NoError(t, err)
	assert.Equal(t, "true", raw)
}

func TestLoadPolicy_MalformedValueFallsBack(t *testing.T) {
	db := testDB(t)
	c := newTestCoordinator(t, db, agent.NewRegistry())
	ctx := context.Background()

	require.NoError(t, db.SetSetting(ctx, KeyTargetMetric, "eighty"))
	require.NoError(t, db.SetSetting(ctx, KeyStrictMode, "maybe"))
	p, err := c.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetMetric, p.TargetMetricGoal)
	assert.False(t, p.StrictMode)
}

func TestTick(t *testing.T) {
	db := testDB(t)
	reg := agent.NewRegistry()
	a, b := newTrainer("A", 1), newReceiver("B")
	register(t, reg, a, b)
	now, set := fixedClock()
	c := newTestCoordinator(t, db, reg, WithClock(now))
	ctx := context.Background()

	require.NoError(t, c.SavePolicy(ctx, Policy{TargetMetricGoal: 70, Focus: "growth", StrictMode: true}))
	b.SetCrossLearning(false)

	set(now().Add(time.Minute))
	require.NoError(t, c.Tick(ctx))

	assert.True(t, b.CrossLearningEnabled(), "strict policy re-enabled B")
	assert.Equal(t, 0, b.InboxLen(), "B was disabled during the cycle")

	last, err := db.GetInt(ctx, KeyLastAgentSync, 0)
	require.NoError(t, err)
	assert.Equal(t, now().Unix(), last)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Ignited)
	assert.Equal(t, now().Unix(), st.LastSync)
	assert.Equal(t, "growth", st.Policy.Focus)
	assert.Len(t, st.Agents, 2)
	require.Len(t, st.Performance, 1)
	assert.Equal(t, "A", st.Performance[0].AgentID)
	assert.Zero(t, st.QueueDepth)
}

func TestTick_JoinsStepErrors(t *testing.T) {
	db := testDB(t)
	reg := agent.NewRegistry()
	register(t, reg, newTrainer("A", 1), newTrainer("B", 1))
	store := &failingStore{DB: db, failLogType: LogCrossLearning}
	c := newTestCoordinator(t, store, reg)
	ctx := context.Background()

	err := c.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)

	last, err := db.GetInt(ctx, KeyLastAgentSync, 0)
	require.NoError(t, err)
	assert.NotZero(t, last, "later steps still ran")
}

func TestStatus_AfterIgnite(t *testing.T) {
	db := testDB(t)
	reg, _ := defaultPool(t)
	now, _ := fixedClock()
	c := newTestCoordinator(t, db, reg, WithClock(now))
	ctx := context.Background()

	_, err := c.Ignite(ctx)
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Ignited)
	assert.Equal(t, now().Unix(), st.IgnitedAt)
	assert.Equal(t, 12, st.QueueDepth)
	assert.Empty(t, st.Performance)
	assert.Len(t, st.Agents, 4)
}
