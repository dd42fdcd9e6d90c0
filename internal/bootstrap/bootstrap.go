// Package bootstrap runs the one-time activation sequence of a crosslearn
// deployment. Three trigger paths (the first request, the liveness probe and
// the operator) may launch it concurrently; the launch flag is written with a
// check-before-act and duplicate deferred jobs are collapsed by the
// scheduler. Execution itself is guarded by the executed flag plus an atomic
// claim in the settings table, so the sequence runs exactly once.
package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/coordinator"
	"github.com/ssd-technologies/crosslearn/internal/scheduler"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// Persisted bootstrap settings.
const (
	KeySiteLaunched  = "site_launched"
	KeyLaunchTime    = "launch_timestamp"
	KeyExecuted      = "bootloader_executed"
	KeyExecutionTime = "bootloader_execution_time"
	KeyClaim         = "bootloader_claim"
)

// System log types written by the controller.
const (
	LogBootloader         = "bootloader"
	LogBootloaderExecuted = "bootloader_executed"
)

// Scheduler job names.
const (
	JobExecute = "bootstrap.execute"
	JobCycle   = "coordinator.cycle"
)

// Launch triggers.
const (
	TriggerRequest   = "first_request"
	TriggerHeartbeat = "heartbeat"
	TriggerOperator  = "operator"
)

// Store is the persistence the controller needs. *storage.DB satisfies it.
type Store interface {
	EnsureSchema(ctx context.Context) error
	GetSetting(ctx context.Context, key, def string) (string, error)
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	SetInt(ctx context.Context, key string, value int64) error
	ClaimSetting(ctx context.Context, key, value string) (bool, error)
	CompareAndSwapSetting(ctx context.Context, key, prev, next string) (bool, error)
	DeleteSetting(ctx context.Context, key string) error
	AppendSystemLog(ctx context.Context, l *storage.SystemLog) (int64, error)
}

// Coordinator is the part of *coordinator.Coordinator the controller drives.
type Coordinator interface {
	Ignite(ctx context.Context) (bool, error)
	SavePolicy(ctx context.Context, p coordinator.Policy) error
	Tick(ctx context.Context) error
}

// Scheduler is the job binding. *scheduler.Scheduler satisfies it.
type Scheduler interface {
	After(name string, delay time.Duration, fn scheduler.Job) bool
	Every(name string, interval time.Duration, fn scheduler.Job) bool
	Pending(name string) bool
	Cancel(name string)
}

// Config holds the bootstrap timings and the policy written on execution.
type Config struct {
	LaunchDelay   time.Duration
	CycleInterval time.Duration
	// ClaimTTL is how old an execution claim must be before another
	// process may take it over.
	ClaimTTL time.Duration
	Policy   coordinator.Policy
}

func (c Config) withDefaults() Config {
	if c.LaunchDelay <= 0 {
		c.LaunchDelay = 10 * time.Second
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Hour
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.Policy == (coordinator.Policy{}) {
		c.Policy = coordinator.DefaultPolicy()
		c.Policy.StrictMode = true
	}
	return c
}

// Controller owns the bootstrap state machine.
type Controller struct {
	store  Store
	coord  Coordinator
	sched  Scheduler
	cfg    Config
	owner  string
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	// launched caches a true site_launched so requests stop reading it.
	launched atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracerProvider sets the provider for the Execute span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) {
		if tp != nil {
			c.tracer = tp.Tracer("github.com/ssd-technologies/crosslearn/internal/bootstrap")
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Controller. Every process gets its own claim owner id.
func New(store Store, coord Coordinator, sched Scheduler, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		coord:  coord,
		sched:  sched,
		cfg:    cfg.withDefaults(),
		owner:  uuid.NewString(),
		logger: zap.NewNop(),
		tracer: otel.GetTracerProvider().Tracer("github.com/ssd-technologies/crosslearn/internal/bootstrap"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("bootstrap")
	return c
}

// ObserveRequest is the first-request hook. After the launch has been seen
// once it returns without touching the store.
func (c *Controller) ObserveRequest(ctx context.Context) error {
	if c.launched.Load() {
		return nil
	}
	_, err := c.Launch(ctx, TriggerRequest)
	return err
}

// Launch performs the NotLaunched to LaunchPending transition: it re-reads
// site_launched and, when false, stores the launch time and the flag and
// asks for the deferred execution job. It reports whether this call set the
// flag. A concurrent caller may also see false and set it; the scheduler
// drops the duplicate job.
func (c *Controller) Launch(ctx context.Context, trigger string) (bool, error) {
	return c.launch(ctx, trigger, true)
}

func (c *Controller) launch(ctx context.Context, trigger string, schedule bool) (bool, error) {
	launched, err := c.store.GetBool(ctx, KeySiteLaunched, false)
	if err != nil {
		return false, fmt.Errorf("launch: %w", err)
	}
	if launched {
		c.launched.Store(true)
		return false, nil
	}

	if err := c.store.SetInt(ctx, KeyLaunchTime, c.now().Unix()); err != nil {
		return false, fmt.Errorf("launch: %w", err)
	}
	if err := c.store.SetBool(ctx, KeySiteLaunched, true); err != nil {
		return false, fmt.Errorf("launch: %w", err)
	}
	c.launched.Store(true)
	c.logger.Info("site launched", zap.String("trigger", trigger))

	if schedule {
		c.scheduleExecute()
	}
	return true, nil
}

// Heartbeat is the liveness probe path. Besides launching, it re-schedules
// the deferred execution when the site is launched, not yet executed and no
// job is pending, which covers a process restart between launch and
// execution.
func (c *Controller) Heartbeat(ctx context.Context) error {
	if _, err := c.Launch(ctx, TriggerHeartbeat); err != nil {
		return err
	}
	executed, err := c.store.GetBool(ctx, KeyExecuted, false)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if !executed && !c.sched.Pending(JobExecute) {
		c.scheduleExecute()
	}
	return nil
}

// Force is the operator trigger: launch without the deferred job, then
// execute on the caller's goroutine.
func (c *Controller) Force(ctx context.Context) (Outcome, error) {
	if _, err := c.launch(ctx, TriggerOperator, false); err != nil {
		return 0, err
	}
	return c.Execute(ctx)
}

// Execute runs the activation sequence once. A set executed flag or a claim
// held by someone else makes it a logged no-op. On failure the claim is
// released and the executed flag is left unset.
func (c *Controller) Execute(ctx context.Context) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "bootstrap.Execute")
	defer span.End()

	outcome, err := c.execute(ctx)
	span.SetAttributes(attribute.String("bootstrap.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
	}
	return outcome, err
}

func (c *Controller) execute(ctx context.Context) (Outcome, error) {
	executed, err := c.store.GetBool(ctx, KeyExecuted, false)
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	if executed {
		c.logger.Info("already executed, skipping")
		return OutcomeAlreadyExecuted, nil
	}

	claim, won, err := c.claim(ctx)
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	if !won {
		c.logger.Info("execution claimed elsewhere, skipping")
		return OutcomeClaimLost, nil
	}

	// The holder of a stolen claim may have finished in between.
	if executed, err = c.store.GetBool(ctx, KeyExecuted, false); err != nil || executed {
		if err != nil {
			c.release(ctx, claim)
			return 0, fmt.Errorf("execute: %w", err)
		}
		return OutcomeAlreadyExecuted, nil
	}

	c.logger.Info("execution started")
	if err := c.activate(ctx); err != nil {
		c.sched.Cancel(JobCycle)
		c.release(ctx, claim)
		c.logger.Error("execution failed", zap.Error(err))
		return 0, fmt.Errorf("execute: %w", err)
	}

	// The flag is set; a failed closing log does not undo the transition.
	at := c.now()
	if _, err := c.store.AppendSystemLog(ctx, &storage.SystemLog{
		LogType:   LogBootloaderExecuted,
		Message:   fmt.Sprintf("bootloader executed by %s", c.owner),
		CreatedAt: at.Unix(),
	}); err != nil {
		c.logger.Error("executed but completion log failed", zap.Error(err))
		return OutcomeExecuted, fmt.Errorf("execute: completion log: %w", err)
	}
	c.logger.Info("execution completed")
	return OutcomeExecuted, nil
}

// activate is the body of Execute. Writes happen in dependency order and the
// executed flag is written last.
func (c *Controller) activate(ctx context.Context) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if _, err := c.store.AppendSystemLog(ctx, &storage.SystemLog{
		LogType:   LogBootloader,
		Message:   "bootloader execution started",
		CreatedAt: c.now().Unix(),
	}); err != nil {
		return err
	}
	if _, err := c.coord.Ignite(ctx); err != nil {
		return err
	}
	if err := c.coord.SavePolicy(ctx, c.cfg.Policy); err != nil {
		return err
	}
	c.registerCycle()

	if err := c.store.SetInt(ctx, KeyExecutionTime, c.now().Unix()); err != nil {
		return err
	}
	if err := c.store.SetBool(ctx, KeyExecuted, true); err != nil {
		return err
	}
	return nil
}

// Resume re-creates scheduler state after a process start: the recurring
// cycle when executed, the deferred execution when launched but not
// executed.
func (c *Controller) Resume(ctx context.Context) (State, error) {
	st, err := c.State(ctx)
	if err != nil {
		return st, err
	}
	switch st {
	case Executed:
		c.launched.Store(true)
		c.registerCycle()
	case LaunchedUnexecuted:
		c.launched.Store(true)
		c.scheduleExecute()
		st = LaunchPending
	case LaunchPending:
		c.launched.Store(true)
	}
	c.logger.Info("resumed", zap.Stringer("state", st))
	return st, nil
}

// State derives the current state from the flags and the scheduler.
func (c *Controller) State(ctx context.Context) (State, error) {
	executed, err := c.store.GetBool(ctx, KeyExecuted, false)
	if err != nil {
		return NotLaunched, fmt.Errorf("state: %w", err)
	}
	if executed {
		return Executed, nil
	}
	launched, err := c.store.GetBool(ctx, KeySiteLaunched, false)
	if err != nil {
		return NotLaunched, fmt.Errorf("state: %w", err)
	}
	if !launched {
		return NotLaunched, nil
	}
	if c.sched.Pending(JobExecute) {
		return LaunchPending, nil
	}
	return LaunchedUnexecuted, nil
}

func (c *Controller) scheduleExecute() {
	ok := c.sched.After(JobExecute, c.cfg.LaunchDelay, func(ctx context.Context) {
		if _, err := c.Execute(ctx); err != nil {
			c.logger.Error("deferred execution failed", zap.Error(err))
		}
	})
	if ok {
		c.logger.Info("execution scheduled", zap.Duration("delay", c.cfg.LaunchDelay))
	}
}

func (c *Controller) registerCycle() {
	c.sched.Every(JobCycle, c.cfg.CycleInterval, func(ctx context.Context) {
		if err := c.coord.Tick(ctx); err != nil {
			c.logger.Error("cycle tick failed", zap.Error(err))
		}
	})
}

// claim takes the execution claim. A claim older than ClaimTTL belongs to a
// process that died mid-execution and is taken over with a compare-and-swap.
func (c *Controller) claim(ctx context.Context) (string, bool, error) {
	now := c.now()
	value := c.owner + "@" + strconv.FormatInt(now.Unix(), 10)

	won, err := c.store.ClaimSetting(ctx, KeyClaim, value)
	if err != nil || won {
		return value, won, err
	}

	held, err := c.store.GetSetting(ctx, KeyClaim, "")
	if err != nil {
		return "", false, err
	}
	if held == "" {
		return "", false, nil
	}
	_, ts, _ := strings.Cut(held, "@")
	at, perr := strconv.ParseInt(ts, 10, 64)
	if perr == nil && now.Sub(time.Unix(at, 0)) < c.cfg.ClaimTTL {
		return "", false, nil
	}

	won, err = c.store.CompareAndSwapSetting(ctx, KeyClaim, held, value)
	if err != nil {
		return "", false, err
	}
	if won {
		c.logger.Warn("stale execution claim taken over", zap.String("previous", held))
	}
	return value, won, nil
}

// release drops the claim if it is still ours.
func (c *Controller) release(ctx context.Context, claim string) {
	held, err := c.store.GetSetting(ctx, KeyClaim, "")
	if err != nil || held != claim {
		return
	}
	if err := c.store.DeleteSetting(ctx, KeyClaim); err != nil {
		c.logger.Error("release claim failed", zap.Error(err))
	}
}
