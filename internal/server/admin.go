package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/bootstrap"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

const maxListLimit = 500

// handleBoot is the operator trigger: launch if needed and execute inline.
func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	out, err := s.boot.Force(r.Context())
	if err != nil {
		s.logger.Error("forced bootstrap failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "bootstrap failed: "+err.Error())
		return
	}
	st, err := s.boot.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read state: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": out,
		"state":   st,
	})
}

// requireExecuted writes 409 and returns false until bootstrap has created
// the cross-learning tables.
func (s *Server) requireExecuted(w http.ResponseWriter, r *http.Request) (bootstrap.State, bool) {
	st, err := s.boot.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read state: "+err.Error())
		return st, false
	}
	if st != bootstrap.Executed {
		writeError(w, http.StatusConflict, "bootstrap not executed (state "+st.String()+")")
		return st, false
	}
	return st, true
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireExecuted(w, r); !ok {
		return
	}
	p, err := s.coord.LoadPolicy(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res, err := s.coord.RunCycle(r.Context(), p)
	if err != nil {
		if res == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Fan-out finished; only the summary log failed.
		writeJSON(w, http.StatusOK, map[string]any{"cycle": res, "log_error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": res})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireExecuted(w, r); !ok {
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	res, err := s.coord.Sweep(r.Context(), limit)
	if res == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := map[string]any{"sweep": res}
	if err != nil {
		body["errors"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleStatus reports the bootstrap state and, once executed, the pool.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.boot.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read state: "+err.Error())
		return
	}
	body := map[string]any{"state": st}
	if st == bootstrap.Executed {
		pool, err := s.coord.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		body["pool"] = pool
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireExecuted(w, r); !ok {
		return
	}
	after, ok := intParam(w, r, "after")
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	logs, err := s.store.ListSystemLogs(r.Context(), storage.LogFilter{
		LogType: r.URL.Query().Get("type"),
		AfterID: int64(after),
		Limit:   clampLimit(limit),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []storage.SystemLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireExecuted(w, r); !ok {
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	f := storage.QueueFilter{
		SourceAgent: q.Get("source"),
		TargetAgent: q.Get("target"),
		Limit:       clampLimit(limit),
	}
	if v := q.Get("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid processed")
			return
		}
		f.Processed = &b
	}
	entries, err := s.store.ListQueueEntries(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []storage.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// intParam parses an optional non-negative integer query parameter.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func clampLimit(n int) int {
	if n <= 0 || n > maxListLimit {
		return maxListLimit
	}
	return n
}
