package coordinator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

func TestEnforce_StrictModeReenables(t *testing.T) {
	db := testDB(t)
	reg := agent.NewRegistry()
	a, b := newTrainer("A", 1), newTrainer("B", 1)
	register(t, reg, a, b)
	now, _ := fixedClock()
	c := newTestCoordinator(t, db, reg, WithClock(now))
	ctx := context.Background()

	_, err := c.RunCycle(ctx, DefaultPolicy())
	require.NoError(t, err)

	a.SetCrossLearning(false)
	res, err := c.Enforce(ctx, Policy{StrictMode: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Reenabled)
	assert.Empty(t, res.Paused)
	assert.True(t, a.CrossLearningEnabled())

	n, err := db.CountSystemLogs(ctx, LogEnforcerAction)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := db.GetAgentPerformance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusActive, p.LearningStatus)
}

func TestEnforce_LenientModePauses(t *testing.T) {
	db := testDB(t)
	reg := agent.NewRegistry()
	a, b := newTrainer("A", 1), newReceiver("B")
	register(t, reg, a, b)
	c := newTestCoordinator(t, db, reg)
	ctx := context.Background()

	_, err := c.RunCycle(ctx, DefaultPolicy())
	require.NoError(t, err)

	a.SetCrossLearning(false)
	b.SetCrossLearning(false)
	res, err := c.Enforce(ctx, Policy{})
	require.NoError(t, err, "B has no row and is skipped")
	assert.Equal(t, []string{"A", "B"}, res.Paused)
	assert.False(t, a.CrossLearningEnabled())

	p, err := db.GetAgentPerformance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPaused, p.LearningStatus)
	_, err = db.GetAgentPerformance(ctx, "B")
	assert.True(t, storage.IsNotFound(err))

	// The next training cycle reactivates the row.
	_, err = c.RunCycle(ctx, DefaultPolicy())
	require.NoError(t, err)
	p, err = db.GetAgentPerformance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusActive, p.LearningStatus)
}

func TestEnforce_ReportsStalledAgents(t *testing.T) {
	db := testDB(t)
	reg := agent.NewRegistry()
	a, b := newTrainer("A", 1), newReceiver("B")
	register(t, reg, a, b)
	now, set := fixedClock()
	c := newTestCoordinator(t, db, reg, WithClock(now), WithStallThreshold(time.Hour))
	ctx := context.Background()

	_, err := c.RunCycle(ctx, DefaultPolicy())
	require.NoError(t, err)

	res, err := c.Enforce(ctx, Policy{})
	require.NoError(t, err)
	assert.Empty(t, res.Stalled)

	set(now().Add(2 * time.Hour))
	res, err = c.Enforce(ctx, Policy{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Stalled)

	logs, err := db.ListSystemLogs(ctx, storage.LogFilter{LogType: LogEnforcerAction})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "has not trained for 2h0m0s")
}

// remoteWorker serves w over HTTP and returns the coordinator-side adapter.
func remoteWorker(t *testing.T, w *agent.Worker) (*agent.Remote, *httptest.Server) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	srv := httptest.NewServer(agent.NewHandler(w, pub, nil))
	t.Cleanup(srv.Close)
	return agent.NewRemote(agent.RemoteConfig{
		ID:            w.ID(),
		BaseURL:       srv.URL,
		CoordinatorID: "coordinator",
		Key:           priv,
		Client:        srv.Client(),
	}), srv
}

func TestEnforce_RefreshesRemoteAgents(t *testing.T) {
	db := testDB(t)
	reg := agent.NewRegistry()
	w := agent.NewWorker(agent.WorkerConfig{ID: "far"})
	r, srv := remoteWorker(t, w)
	register(t, reg, r, newTrainer("A", 1))
	c := newTestCoordinator(t, db, reg)
	ctx := context.Background()

	_, err := c.RunCycle(ctx, DefaultPolicy())
	require.NoError(t, err)

	// The agent turned itself off; the adapter still caches true.
	w.SetCrossLearning(false)
	require.True(t, r.CrossLearningEnabled())

	res, err := c.Enforce(ctx, Policy{StrictMode: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"far"}, res.Reenabled)
	assert.True(t, w.CrossLearningEnabled(), "re-enable reached the agent")

	st, err := c.Status(ctx)
	require.NoError(t, err)
	for _, rec := range st.Agents {
		assert.True(t, rec.CrossLearningEnabled, rec.ID)
	}

	// An unreachable agent keeps its cached state and does not fail the pass.
	srv.Close()
	res, err = c.Enforce(ctx, Policy{StrictMode: true})
	require.NoError(t, err)
	assert.Empty(t, res.Reenabled)
}
