// Package coordinator runs cross-learning cycles over the agent registry:
// every trainer trains, every non-empty batch is fanned out to every other
// agent through the cross-learning queue, and per-agent counters plus an
// audit line are persisted.
//
// Cycles are not serialized. Two overlapping cycles both run to completion;
// counters stay correct because they are additive, and every delivery has
// its own queue entry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// System log types written by the coordinator.
const (
	LogWarning             = "warning"
	LogCrossLearning       = "cross_learning"
	LogSystemIgnition      = "system_ignition"
	LogAgentInitialization = "agent_initialization"
	LogSystemStatus        = "system_status"
	LogEnforcerAction      = "enforcer_action"
)

// Queue insight types.
const (
	InsightTraining                = "training_insights"
	InsightResponsibilityAwareness = "responsibility_awareness"
)

// StatusSuccess is the only status a cycle reports; partial agent failures
// do not change it.
const StatusSuccess = "success"

// Store is the persistence the coordinator needs. *storage.DB satisfies it.
type Store interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	GetInt(ctx context.Context, key string, def int64) (int64, error)
	SetInt(ctx context.Context, key string, value int64) error
	GetFloat(ctx context.Context, key string, def float64) (float64, error)
	SetFloat(ctx context.Context, key string, value float64) error

	AppendSystemLog(ctx context.Context, l *storage.SystemLog) (int64, error)
	AppendQueueEntry(ctx context.Context, e *storage.QueueEntry) (int64, error)
	MarkQueueEntryProcessed(ctx context.Context, id int64) error
	ListUnprocessedQueueEntries(ctx context.Context, after storage.QueueCursor, limit int) ([]storage.QueueEntry, error)
	CountQueueEntries(ctx context.Context, f storage.QueueFilter) (int, error)

	RecordTraining(ctx context.Context, agentID string, examples, insights, at int64) error
	SetLearningStatus(ctx context.Context, agentID, status string, at int64) error
	GetAgentPerformance(ctx context.Context, agentID string) (*storage.AgentPerformance, error)
	ListAgentPerformance(ctx context.Context) ([]storage.AgentPerformance, error)
}

// CycleResult summarises one RunCycle call.
type CycleResult struct {
	ID           string                     `json:"id"`
	Status       string                     `json:"status"`
	Insights     map[string][]agent.Insight `json:"insights"`
	AgentsRun    int                        `json:"agents_run"`
	QueueEntries int                        `json:"queue_entries"`
	Delivered    int                        `json:"delivered"`
	Failed       int                        `json:"failed"`
	Skipped      int                        `json:"skipped"`
	Duration     time.Duration              `json:"duration"`
	// Errors lists store failures that did not abort the cycle.
	Errors []string `json:"errors,omitempty"`
}

// TotalInsights counts insights across all sources.
func (r *CycleResult) TotalInsights() int {
	n := 0
	for _, batch := range r.Insights {
		n += len(batch)
	}
	return n
}

// Coordinator drives cycles over a registry and a store.
type Coordinator struct {
	store          Store
	registry       *agent.Registry
	logger         *zap.Logger
	tracer         trace.Tracer
	meterProvider  metric.MeterProvider
	metrics        *metrics
	now            func() time.Time
	sweepBatch     int
	stallThreshold time.Duration

	// sweepCursor is where the next Sweep resumes. Zero after a sweep that
	// reached the end of the queue.
	sweepMu     sync.Mutex
	sweepCursor storage.QueueCursor
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMeterProvider sets the provider for cycle metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the provider for cycle spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSweepBatch sets how many unprocessed entries one sweep re-drives.
func WithSweepBatch(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.sweepBatch = n
		}
	}
}

// WithStallThreshold sets how long an agent may go without training before
// the enforcer reports it.
func WithStallThreshold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.stallThreshold = d
		}
	}
}

// New creates a Coordinator.
func New(store Store, registry *agent.Registry, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:          store,
		registry:       registry,
		logger:         zap.NewNop(),
		tracer:         otel.GetTracerProvider().Tracer(instrumentationName),
		meterProvider:  otel.GetMeterProvider(),
		now:            time.Now,
		sweepBatch:     50,
		stallThreshold: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("coordinator")

	m, err := newMetrics(c.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	c.metrics = m
	return c, nil
}

// Registry returns the registry the coordinator iterates.
func (c *Coordinator) Registry() *agent.Registry { return c.registry }

// RunCycle trains every Trainer, fans each non-empty batch out to every
// other agent and records performance. Agent failures are logged and never
// abort the cycle. Only a failure to write the closing cross_learning log is
// returned as an error, together with the populated result.
func (c *Coordinator) RunCycle(ctx context.Context, p Policy) (*CycleResult, error) {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, "coordinator.RunCycle")
	defer span.End()

	res := &CycleResult{
		ID:       uuid.NewString(),
		Status:   StatusSuccess,
		Insights: make(map[string][]agent.Insight),
	}
	log := c.logger.With(zap.String("cycle", res.ID))
	entries := c.registry.All()
	params := agent.TrainingParams{Target: p.TargetMetricGoal, Focus: p.Focus}

	// Train.
	for _, e := range entries {
		tr, ok := e.Agent.(agent.Trainer)
		if !ok {
			continue
		}
		res.AgentsRun++
		out, err := c.train(ctx, tr, params)
		if err != nil {
			c.agentFailure(ctx, res, log, e.ID, "train", err)
			continue
		}
		if batch := stamp(out.Insights, e.ID, start); len(batch) > 0 {
			res.Insights[e.ID] = batch
		}
	}

	// Fan out, recipient outer and source inner. An unencodable batch is
	// still delivered in process; only its stored copy degrades.
	payloads := make(map[string]string, len(res.Insights))
	for _, e := range entries {
		batch, ok := res.Insights[e.ID]
		if !ok {
			continue
		}
		data, err := encodeBatch(batch)
		if err != nil {
			log.Warn("insights stored in degraded form", zap.String("agent", e.ID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("encode insights of %s: %v", e.ID, err))
		}
		payloads[e.ID] = data
	}
	for _, recipient := range entries {
		for _, source := range entries {
			if recipient.ID == source.ID {
				continue
			}
			batch := res.Insights[source.ID]
			if len(batch) == 0 {
				continue
			}
			c.fanOut(ctx, res, log, source.ID, recipient.ID, batch, payloads[source.ID], start)
		}
	}

	// Performance.
	for _, e := range entries {
		batch := res.Insights[e.ID]
		if len(batch) == 0 {
			continue
		}
		examples := c.examples(ctx, log, e.Agent)
		if err := c.store.RecordTraining(ctx, e.ID, examples, int64(len(batch)), c.now().Unix()); err != nil {
			log.Error("record training failed", zap.String("agent", e.ID), zap.Error(err))
			res.Errors = append(res.Errors, err.Error())
		}
	}

	res.Duration = c.now().Sub(start)
	total := res.TotalInsights()
	c.metrics.recordCycle(ctx, res, total)
	span.SetAttributes(
		attribute.String("cycle.id", res.ID),
		attribute.Int("cycle.agents_run", res.AgentsRun),
		attribute.Int("cycle.insights", total),
		attribute.Int("cycle.queue_entries", res.QueueEntries),
	)

	_, err := c.store.AppendSystemLog(ctx, &storage.SystemLog{
		LogType: LogCrossLearning,
		Message: fmt.Sprintf("cycle %s: %d agents run, %d insights, %d queue entries (%d delivered, %d failed, %d pending) in %s",
			res.ID, res.AgentsRun, total, res.QueueEntries, res.Delivered, res.Failed, res.Skipped, res.Duration),
		CreatedAt: c.now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle log failed")
		log.Error("cycle completed but summary log failed", zap.Error(err))
		return res, fmt.Errorf("write cycle log: %w", err)
	}

	log.Info("cycle completed",
		zap.Int("agents_run", res.AgentsRun),
		zap.Int("insights", total),
		zap.Int("queue_entries", res.QueueEntries),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

// fanOut queues one (source, recipient) delivery and hands it off. A failed
// append skips the delivery: without a receipt there is nothing to mark.
func (c *Coordinator) fanOut(ctx context.Context, res *CycleResult, log *zap.Logger, source, target string, batch []agent.Insight, data string, at time.Time) {
	entry := &storage.QueueEntry{
		SourceAgent: source,
		TargetAgent: target,
		InsightType: batchType(batch),
		InsightData: data,
		CreatedAt:   at.Unix(),
	}
	if _, err := c.store.AppendQueueEntry(ctx, entry); err != nil {
		log.Error("queue entry append failed", zap.String("source", source), zap.String("target", target), zap.Error(err))
		res.Errors = append(res.Errors, err.Error())
		return
	}
	res.QueueEntries++

	outcome, err := c.handOff(ctx, log, entry.ID, source, target, batch)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	switch outcome {
	case outcomeDelivered:
		res.Delivered++
	case outcomeFailed:
		res.Failed++
	default:
		res.Skipped++
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeDelivered:
		return "delivered"
	case outcomeFailed:
		return "failed"
	}
	return "skipped"
}

// handOff delivers batch to target and marks entry id processed on success.
// An unresolvable target or one that cannot receive is skipped and the entry
// stays pending. The returned error is a store failure only.
func (c *Coordinator) handOff(ctx context.Context, log *zap.Logger, id int64, source, target string, batch []agent.Insight) (outcome, error) {
	a, err := c.registry.Resolve(target)
	if err != nil {
		log.Debug("recipient unavailable, entry left pending", zap.String("target", target), zap.Int64("entry", id))
		c.metrics.recordDelivery(ctx, outcomeSkipped)
		return outcomeSkipped, nil
	}
	rcv, ok := a.(agent.InsightReceiver)
	if !ok {
		c.metrics.recordDelivery(ctx, outcomeSkipped)
		return outcomeSkipped, nil
	}

	err = callSafely(func() error { return rcv.ReceiveExternalInsight(ctx, source, batch) })
	if err != nil {
		log.Warn("insight delivery failed",
			zap.String("source", source), zap.String("target", target), zap.Int64("entry", id), zap.Error(err))
		c.warn(ctx, log, fmt.Sprintf("delivery of %s insights to %s failed (entry %d): %v", source, target, id, err))
		c.metrics.recordDelivery(ctx, outcomeFailed)
		return outcomeFailed, nil
	}
	c.metrics.recordDelivery(ctx, outcomeDelivered)

	if err := c.store.MarkQueueEntryProcessed(ctx, id); err != nil {
		log.Error("delivered but mark processed failed", zap.Int64("entry", id), zap.Error(err))
		return outcomeDelivered, err
	}
	return outcomeDelivered, nil
}

func (c *Coordinator) train(ctx context.Context, tr agent.Trainer, p agent.TrainingParams) (agent.TrainingResult, error) {
	var out agent.TrainingResult
	err := callSafely(func() error {
		var err error
		out, err = tr.Train(ctx, p)
		return err
	})
	return out, err
}

// examples asks a DataReporter for its example count. Absence or failure
// counts as zero.
func (c *Coordinator) examples(ctx context.Context, log *zap.Logger, a agent.Agent) int64 {
	dr, ok := a.(agent.DataReporter)
	if !ok {
		return 0
	}
	var n int64
	err := callSafely(func() error {
		var err error
		n, err = dr.TrainingDataAvailability(ctx)
		return err
	})
	if err != nil || n < 0 {
		log.Warn("training data availability unavailable", zap.String("agent", a.ID()), zap.Error(err))
		return 0
	}
	return n
}

// agentFailure records a transient agent failure: a zap warning, a warning
// system log, and learning_status=error when the agent already has a row.
func (c *Coordinator) agentFailure(ctx context.Context, res *CycleResult, log *zap.Logger, id, op string, cause error) {
	log.Warn("agent "+op+" failed", zap.String("agent", id), zap.Error(cause))
	c.warn(ctx, log, fmt.Sprintf("agent %s %s failed: %v", id, op, cause))

	err := c.store.SetLearningStatus(ctx, id, storage.StatusError, c.now().Unix())
	if err != nil && !storage.IsNotFound(err) {
		res.Errors = append(res.Errors, err.Error())
	}
}

// warn appends a warning system log. A failure is logged and swallowed.
func (c *Coordinator) warn(ctx context.Context, log *zap.Logger, msg string) {
	_, err := c.store.AppendSystemLog(ctx, &storage.SystemLog{
		LogType:   LogWarning,
		Message:   msg,
		CreatedAt: c.now().Unix(),
	})
	if err != nil {
		log.Error("warning log failed", zap.String("message", msg), zap.Error(err))
	}
}

// stamp fills in the source and timestamp of insights that lack them.
func stamp(in []agent.Insight, source string, at time.Time) []agent.Insight {
	if len(in) == 0 {
		return nil
	}
	out := make([]agent.Insight, len(in))
	for i, ins := range in {
		if ins.SourceAgent == "" {
			ins.SourceAgent = source
		}
		if ins.InsightType == "" {
			ins.InsightType = InsightTraining
		}
		if ins.CreatedAt.IsZero() {
			ins.CreatedAt = at
		}
		out[i] = ins
	}
	return out
}

// batchType is the shared insight type of batch, or InsightTraining when
// the batch is mixed.
func batchType(batch []agent.Insight) string {
	typ := batch[0].InsightType
	for _, ins := range batch[1:] {
		if ins.InsightType != typ {
			return InsightTraining
		}
	}
	return typ
}

// errAgentPanic wraps a recovered agent panic.
var errAgentPanic = errors.New("agent panicked")

func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errAgentPanic, r)
		}
	}()
	return fn()
}
