package agent

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies accepted by Handler.
const maxBodyBytes = 4 << 20

// Handler serves a Worker over the HTTP API that Remote speaks. Every
// request must carry a coordinator signature verifiable with coordinatorPub.
type Handler struct {
	worker *Worker
	pub    ed25519.PublicKey
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewHandler creates a Handler with all routes registered.
func NewHandler(w *Worker, coordinatorPub ed25519.PublicKey, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		worker: w,
		pub:    coordinatorPub,
		logger: logger.Named("handler").With(zap.String("agent", w.ID())),
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /train", h.handleTrain)
	h.mux.HandleFunc("POST /insights", h.handleInsights)
	h.mux.HandleFunc("GET /availability", h.handleAvailability)
	h.mux.HandleFunc("GET /cross-learning", h.handleGetCrossLearning)
	h.mux.HandleFunc("PUT /cross-learning", h.handleSetCrossLearning)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// authenticate reads the body and verifies the coordinator signature.
// On failure it writes the HTTP error and returns false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if err := VerifyRequest(r, h.pub, body); err != nil {
		h.logger.Warn("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "signature verification failed: "+err.Error())
		return nil, false
	}
	return body, true
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	body, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var p TrainingParams
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.worker.Train(r.Context(), p)
	if err != nil {
		h.logger.Warn("train failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleInsights(w http.ResponseWriter, r *http.Request) {
	body, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req insightsRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if err := h.worker.ReceiveExternalInsight(r.Context(), req.Source, req.Insights); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	n, err := h.worker.TrainingDataAvailability(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Examples: n})
}

func (h *Handler) handleGetCrossLearning(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, crossLearningBody{Enabled: h.worker.CrossLearningEnabled()})
}

func (h *Handler) handleSetCrossLearning(w http.ResponseWriter, r *http.Request) {
	body, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req crossLearningBody
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.worker.SetCrossLearning(req.Enabled)
	h.logger.Info("cross-learning updated", zap.Bool("enabled", req.Enabled))
	writeJSON(w, http.StatusOK, req)
}

// handleHealth is unauthenticated.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"agent":    h.worker.ID(),
		"rounds":   h.worker.Rounds(),
		"inbox":    h.worker.InboxLen(),
		"learning": h.worker.CrossLearningEnabled(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
