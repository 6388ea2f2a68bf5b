package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/recall"
)

// defaultContextBudget is used when a recall request does not name one.
const defaultContextBudget = 2048

// episodeSearchLimit caps ?q= keyword search results before session
// filtering.
const episodeSearchLimit = 50

type turnRequest struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Seq       uint64    `json:"seq"`
	AffectTag string    `json:"affect_tag,omitempty"`
}

func (s *Server) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	t := memory.Turn{
		Role:      memory.Role(req.Role),
		Text:      req.Text,
		Timestamp: req.Timestamp,
		Seq:       req.Seq,
		AffectTag: req.AffectTag,
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	if err := s.sets.Append(r.Context(), sessionID, t); err != nil {
		switch {
		case errors.Is(err, memory.ErrOutOfOrderTurn):
			errorResponse(w, http.StatusConflict, err.Error())
		case errors.Is(err, memory.ErrJournalWrite):
			errorResponse(w, http.StatusServiceUnavailable, err.Error())
		default:
			errorResponse(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	if err := s.sets.EndSession(r.Context(), sessionID); err != nil {
		s.logger.Error("api: end session failed", "session", sessionID, "error", err)
		errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	query := r.URL.Query().Get("query")

	budget := defaultContextBudget
	if raw := r.URL.Query().Get("max_tokens"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(w, http.StatusBadRequest, "max_tokens must be a positive integer")
			return
		}
		budget = n
	}

	out := s.engine.BuildContext(r.Context(), sessionID, query, recall.SizeBudget{MaxTokens: budget})
	successResponse(w, out)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	if q := r.URL.Query().Get("q"); q != "" {
		s.searchEpisodes(w, r, sessionID, q)
		return
	}

	eps, err := s.episodes.BySession(r.Context(), sessionID)
	if err != nil {
		errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	successResponse(w, map[string]any{"episodes": eps})
}

// searchEpisodes answers ?q= keyword queries against the episode store's
// summary search, scoped to the session.
func (s *Server) searchEpisodes(w http.ResponseWriter, r *http.Request, sessionID, q string) {
	searcher, ok := s.episodes.(memory.SummarySearcher)
	if !ok {
		errorResponse(w, http.StatusNotImplemented, "episode store does not support search")
		return
	}

	hits, err := searcher.SearchSummaries(r.Context(), q, episodeSearchLimit)
	if err != nil {
		errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	eps := make([]memory.EpisodeSummary, 0, len(hits))
	for _, ep := range hits {
		if ep.SessionID == sessionID {
			eps = append(eps, ep)
		}
	}
	successResponse(w, map[string]any{"episodes": eps})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	successResponse(w, map[string]any{
		"sessions":       s.sets.Sessions(),
		"pending_blocks": s.sets.PendingBlocks(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	successResponse(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// The episode store is the only dependency that can be down while
	// the process is up.
	if _, err := s.episodes.Recent(r.Context(), time.Now().Add(-time.Minute), 1); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	successResponse(w, map[string]string{"status": "ready"})
}

// errorResponse writes a JSON error response.
func errorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// successResponse writes a JSON success response.
func successResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(data)
}
