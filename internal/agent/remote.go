package agent

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Wire bodies shared by Remote and Handler.
type insightsRequest struct {
	Source   string    `json:"source"`
	Insights []Insight `json:"insights"`
}

type availabilityResponse struct {
	Examples int64 `json:"examples"`
}

type crossLearningBody struct {
	Enabled bool `json:"enabled"`
}

// RemoteConfig describes an agent served by another process.
type RemoteConfig struct {
	ID               string
	BaseURL          string
	Responsibilities []string
	// CoordinatorID and Key sign every request.
	CoordinatorID string
	Key           ed25519.PrivateKey
	Client        *http.Client
	Logger        *zap.Logger
}

// Remote is an HTTP adapter for an agent running elsewhere. It implements
// every capability of the contract.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
	logger *zap.Logger

	mu      sync.RWMutex
	enabled bool
}

// NewRemote creates a Remote. Cross-learning is assumed enabled until the
// agent reports otherwise.
func NewRemote(cfg RemoteConfig) *Remote {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Remote{
		cfg:     cfg,
		client:  client,
		logger:  logger.Named("remote").With(zap.String("agent", cfg.ID)),
		enabled: true,
	}
}

func (r *Remote) ID() string { return r.cfg.ID }

func (r *Remote) Responsibilities() []string {
	return append([]string(nil), r.cfg.Responsibilities...)
}

// Train calls POST /train.
func (r *Remote) Train(ctx context.Context, p TrainingParams) (TrainingResult, error) {
	var res TrainingResult
	if err := r.do(ctx, http.MethodPost, "/train", p, &res); err != nil {
		return TrainingResult{}, fmt.Errorf("remote train %s: %w", r.cfg.ID, err)
	}
	return res, nil
}

// ReceiveExternalInsight calls POST /insights.
func (r *Remote) ReceiveExternalInsight(ctx context.Context, sourceID string, insights []Insight) error {
	body := insightsRequest{Source: sourceID, Insights: insights}
	if err := r.do(ctx, http.MethodPost, "/insights", body, nil); err != nil {
		return fmt.Errorf("remote receive %s: %w", r.cfg.ID, err)
	}
	return nil
}

// TrainingDataAvailability calls GET /availability.
func (r *Remote) TrainingDataAvailability(ctx context.Context) (int64, error) {
	var res availabilityResponse
	if err := r.do(ctx, http.MethodGet, "/availability", nil, &res); err != nil {
		return 0, fmt.Errorf("remote availability %s: %w", r.cfg.ID, err)
	}
	return res.Examples, nil
}

// CrossLearningEnabled returns the last known flag.
func (r *Remote) CrossLearningEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetCrossLearning updates the cached flag and pushes it to the agent.
// A failed push is logged; the next Refresh resynchronises. The coordinator
// refreshes remote agents before every enforcement pass.
func (r *Remote) SetCrossLearning(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.do(ctx, http.MethodPut, "/cross-learning", crossLearningBody{Enabled: enabled}, nil); err != nil {
		r.logger.Warn("push cross-learning flag failed", zap.Bool("enabled", enabled), zap.Error(err))
	}
}

// Refresh reads the cross-learning flag from the agent.
func (r *Remote) Refresh(ctx context.Context) error {
	var res crossLearningBody
	if err := r.do(ctx, http.MethodGet, "/cross-learning", nil, &res); err != nil {
		return fmt.Errorf("remote refresh %s: %w", r.cfg.ID, err)
	}
	r.mu.Lock()
	r.enabled = res.Enabled
	r.mu.Unlock()
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cfg.Key != nil {
		SignRequest(req, r.cfg.CoordinatorID, r.cfg.Key, body)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
