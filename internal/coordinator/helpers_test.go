package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// testDB creates a temporary SQLite database with the full schema.
func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

// fixedClock returns a clock frozen at a known instant plus a setter.
func fixedClock() (func() time.Time, func(time.Time)) {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time { return now }, func(t time.Time) { now = t }
}

func newTestCoordinator(t *testing.T, store Store, reg *agent.Registry, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(store, reg, opts...)
	require.NoError(t, err)
	return c
}

// trainer produces n insights per cycle, or fails.
type trainer struct {
	*agent.Base
	n        int
	examples int64
	err      error
	panics   bool
}

func newTrainer(id string, n int) *trainer {
	return &trainer{Base: agent.NewBase(id), n: n, examples: int64(10 * n)}
}

func (a *trainer) Train(ctx context.Context, p agent.TrainingParams) (agent.TrainingResult, error) {
	if a.panics {
		panic("model exploded")
	}
	if a.err != nil {
		return agent.TrainingResult{}, a.err
	}
	out := make([]agent.Insight, a.n)
	for i := range out {
		out[i] = agent.Insight{Payload: map[string]any{"i": i, "focus": p.Focus}}
	}
	return agent.TrainingResult{Insights: out}, nil
}

func (a *trainer) TrainingDataAvailability(context.Context) (int64, error) {
	return a.examples, nil
}

// receiver has no Train; it only receives.
type receiver struct {
	*agent.Base
}

func newReceiver(id string) *receiver {
	return &receiver{Base: agent.NewBase(id)}
}

// brokenReceiver trains normally but every delivery to it fails.
type brokenReceiver struct {
	*trainer
}

func (b *brokenReceiver) ReceiveExternalInsight(context.Context, string, []agent.Insight) error {
	return errors.New("inbox full")
}

// deafAgent trains but does not implement InsightReceiver.
type deafAgent struct {
	id string
	n  int
}

func (d *deafAgent) ID() string { return d.id }

func (d *deafAgent) Train(context.Context, agent.TrainingParams) (agent.TrainingResult, error) {
	return agent.TrainingResult{Insights: make([]agent.Insight, d.n)}, nil
}

// failingStore wraps a real store and fails selected writes.
type failingStore struct {
	*storage.DB
	failLogType string
	failAppend  bool
	failRecord  bool
	// appendBudget, when positive, is how many queue appends succeed before
	// every later one fails.
	appendBudget int
	appended     int
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) AppendSystemLog(ctx context.Context, l *storage.SystemLog) (int64, error) {
	if f.failLogType != "" && l.LogType == f.failLogType {
		return 0, errDiskFull
	}
	return f.DB.AppendSystemLog(ctx, l)
}

func (f *failingStore) AppendQueueEntry(ctx context.Context, e *storage.QueueEntry) (int64, error) {
	if f.failAppend || (f.appendBudget > 0 && f.appended >= f.appendBudget) {
		return 0, errDiskFull
	}
	f.appended++
	return f.DB.AppendQueueEntry(ctx, e)
}

func (f *failingStore) RecordTraining(ctx context.Context, id string, examples, insights, at int64) error {
	if f.failRecord {
		return errDiskFull
	}
	return f.DB.RecordTraining(ctx, id, examples, insights, at)
}

func register(t *testing.T, reg *agent.Registry, agents ...agent.Agent) {
	t.Helper()
	for _, a := range agents {
		require.NoError(t, reg.Register(a.ID(), a))
	}
}

func queue(t *testing.T, db *storage.DB) []storage.QueueEntry {
	t.Helper()
	entries, err := db.ListQueueEntries(context.Background(), storage.QueueFilter{})
	require.NoError(t, err)
	return entries
}

func pendingCount(t *testing.T, db *storage.DB) int {
	t.Helper()
	pending := false
	n, err := db.CountQueueEntries(context.Background(), storage.QueueFilter{Processed: &pending})
	require.NoError(t, err)
	return n
}
