package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/bootstrap"
	"github.com/ssd-technologies/crosslearn/internal/config"
	"github.com/ssd-technologies/crosslearn/internal/coordinator"
	"github.com/ssd-technologies/crosslearn/internal/scheduler"
	"github.com/ssd-technologies/crosslearn/internal/storage"
	"github.com/ssd-technologies/crosslearn/internal/telemetry"
)

// app is the composition root. It owns every long-lived component.
type app struct {
	db    *storage.DB
	reg   *agent.Registry
	coord *coordinator.Coordinator
	sched *scheduler.Scheduler
	boot  *bootstrap.Controller
	tel   *telemetry.Provider
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if cfg.Database.Driver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN()), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	var (
		db  *storage.DB
		err error
	)
	if cfg.Database.Driver == storage.DriverSQLite && cfg.Database.DSN == "" {
		db, err = storage.NewDB(cfg.DSN())
	} else {
		db, err = storage.Open(cfg.Database.Driver, cfg.DSN())
	}
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		tel.Shutdown(ctx)
		db.Close()
		return nil, err
	}

	coord, err := coordinator.New(db, reg,
		coordinator.WithLogger(logger),
		coordinator.WithMeterProvider(tel.MeterProvider()),
		coordinator.WithTracerProvider(tel.TracerProvider()),
		coordinator.WithSweepBatch(cfg.Coordinator.SweepBatch),
		coordinator.WithStallThreshold(cfg.Coordinator.StallThreshold),
	)
	if err != nil {
		tel.Shutdown(ctx)
		db.Close()
		return nil, err
	}

	sched := scheduler.New(logger)
	boot := bootstrap.New(db, coord, sched, bootstrap.Config{
		LaunchDelay:   cfg.Bootstrap.LaunchDelay,
		CycleInterval: cfg.Bootstrap.CycleInterval,
		ClaimTTL:      cfg.Bootstrap.ClaimTTL,
		Policy: coordinator.Policy{
			TargetMetricGoal: cfg.Bootstrap.TargetMetric,
			Focus:            cfg.Bootstrap.OptimizationGoal,
			StrictMode:       cfg.Bootstrap.StrictMode,
		},
	}, bootstrap.WithLogger(logger), bootstrap.WithTracerProvider(tel.TracerProvider()))

	return &app{db: db, reg: reg, coord: coord, sched: sched, boot: boot, tel: tel}, nil
}

// close stops the scheduler first so no job outlives the store.
func (a *app) close(ctx context.Context) error {
	a.sched.Stop()
	return errors.Join(a.tel.Shutdown(ctx), a.db.Close())
}

// requireExecuted fails one-shot commands that need the cross-learning
// tables.
func (a *app) requireExecuted(ctx context.Context) error {
	st, err := a.boot.State(ctx)
	if err != nil {
		return err
	}
	if st != bootstrap.Executed {
		return fmt.Errorf("bootstrap not executed (state %s); run `crosslearn boot` first", st)
	}
	return nil
}

// buildRegistry registers the configured pool in order. Remote agents share
// the coordinator signing key.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*agent.Registry, error) {
	reg := agent.NewRegistry()

	var key ed25519.PrivateKey
	for _, ac := range cfg.Agents {
		if ac.Kind != config.KindRemote || key != nil {
			continue
		}
		path := cfg.Coordinator.KeyFile
		if path == "" {
			path = filepath.Join(cfg.Database.DataDir, "coordinator.key")
		}
		k, created, err := agent.LoadOrGenerateKey(path)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Info("generated coordinator key", zap.String("path", path),
				zap.String("key_id", agent.KeyID(k.Public().(ed25519.PublicKey))))
		}
		key = k
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for _, ac := range cfg.Agents {
		var a agent.Agent
		switch {
		case ac.Kind == config.KindRemote:
			a = agent.NewRemote(agent.RemoteConfig{
				ID:               ac.ID,
				BaseURL:          ac.URL,
				Responsibilities: ac.Responsibilities,
				CoordinatorID:    cfg.Coordinator.ID,
				Key:              key,
				Client:           client,
				Logger:           logger,
			})
		case ac.Trainer != nil && !*ac.Trainer:
			a = agent.NewBase(ac.ID, ac.Responsibilities...)
		default:
			a = agent.NewWorker(agent.WorkerConfig{
				ID:               ac.ID,
				Responsibilities: ac.Responsibilities,
				Examples:         ac.Examples,
				InsightsPerCycle: ac.InsightsPerCycle,
			})
		}
		if err := reg.Register(ac.ID, a); err != nil {
			return nil, err
		}
	}
	logger.Debug("agent pool registered", zap.Int("agents", reg.Len()))
	return reg, nil
}
