package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEntry(t *testing.T, db *DB, src, dst string, at int64) int64 {
	t.Helper()
	id, err := db.AppendQueueEntry(context.Background(), &QueueEntry{
		SourceAgent: src,
		TargetAgent: dst,
		InsightType: "training_insights",
		InsightData: `[{"k":1}]`,
		CreatedAt:   at,
	})
	require.NoError(t, err)
	return id
}

func TestAppendQueueEntry_AssignsIncreasingIDs(t *testing.T) {
	db := testDB(t)

	a := appendEntry(t, db, "x", "y", 10)
	b := appendEntry(t, db, "x", "z", 10)
	assert.Greater(t, b, a)

	entries, err := db.ListQueueEntries(context.Background(), QueueFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "y", entries[0].TargetAgent)
	assert.False(t, entries[0].Processed)
	assert.Equal(t, `[{"k":1}]`, entries[1].InsightData)
}

func TestAppendQueueEntry_RejectsSelfDelivery(t *testing.T) {
	db := testDB(t)

	_, err := db.AppendQueueEntry(context.Background(), &QueueEntry{
		SourceAgent: "x", TargetAgent: "x", InsightType: "t", InsightData: "[]", CreatedAt: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSelfDelivery))
}

func TestQueue_CheckConstraint(t *testing.T) {
	db := testDB(t)

	// Bypass the Go-side guard to make sure the table enforces it too.
	_, err := db.db.Exec(`INSERT INTO cross_learning_queue
		(source_agent, target_agent, insight_type, insight_data, created_at) VALUES ('a', 'a', 't', '[]', 1)`)
	assert.Error(t, err)
}

func TestMarkQueueEntryProcessed(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id := appendEntry(t, db, "x", "y", 1)
	require.NoError(t, db.MarkQueueEntryProcessed(ctx, id))
	// Marking twice stays processed.
	require.NoError(t, db.MarkQueueEntryProcessed(ctx, id))

	done := true
	n, err := db.CountQueueEntries(ctx, QueueFilter{Processed: &done})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = db.MarkQueueEntryProcessed(ctx, id+100)
	assert.True(t, IsNotFound(err), "expected not found, got %v", err)
}

func TestListUnprocessedQueueEntries_OldestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	late := appendEntry(t, db, "x", "y", 30)
	early := appendEntry(t, db, "y", "x", 10)
	mid := appendEntry(t, db, "z", "x", 20)
	done := appendEntry(t, db, "z", "y", 5)
	require.NoError(t, db.MarkQueueEntryProcessed(ctx, done))

	entries, err := db.ListUnprocessedQueueEntries(ctx, QueueCursor{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{early, mid, late}, []int64{entries[0].ID, entries[1].ID, entries[2].ID})

	limited, err := db.ListUnprocessedQueueEntries(ctx, QueueCursor{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListUnprocessedQueueEntries_AfterCursor(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := appendEntry(t, db, "x", "y", 10)
	b := appendEntry(t, db, "y", "x", 10)
	c := appendEntry(t, db, "z", "x", 20)
	early := appendEntry(t, db, "z", "y", 5)

	first, err := db.ListUnprocessedQueueEntries(ctx, QueueCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, []int64{early, a}, []int64{first[0].ID, first[1].ID})

	rest, err := db.ListUnprocessedQueueEntries(ctx, CursorOf(first[1]), 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, []int64{b, c}, []int64{rest[0].ID, rest[1].ID})

	end, err := db.ListUnprocessedQueueEntries(ctx, CursorOf(rest[1]), 0)
	require.NoError(t, err)
	assert.Empty(t, end)
}

func TestListQueueEntries_Filters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	appendEntry(t, db, "x", "y", 1)
	appendEntry(t, db, "x", "z", 1)
	appendEntry(t, db, "y", "z", 1)

	bySource, err := db.ListQueueEntries(ctx, QueueFilter{SourceAgent: "x"})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	byTarget, err := db.ListQueueEntries(ctx, QueueFilter{TargetAgent: "z"})
	require.NoError(t, err)
	assert.Len(t, byTarget, 2)

	n, err := db.CountQueueEntries(ctx, QueueFilter{SourceAgent: "y", TargetAgent: "z"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.CountQueueEntries(ctx, QueueFilter{InsightType: "responsibility_awareness"})
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = db.CountQueueEntries(ctx, QueueFilter{InsightType: "training_insights"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
