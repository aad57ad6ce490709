package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/expert-router/internal/config"
	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/core/ports"
	"github.com/kirillkom/expert-router/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg      config.Config
	answerer ports.QueryAnswerer
	experts  ports.ExpertRouter
	sessions ports.SessionStore
	bus      ports.EventBus
	metrics  *metrics.APIMetrics
}

func NewRouter(
	cfg config.Config,
	answerer ports.QueryAnswerer,
	experts ports.ExpertRouter,
	sessions ports.SessionStore,
	bus ports.EventBus,
	apiMetrics *metrics.APIMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		answerer: answerer,
		experts:  experts,
		sessions: sessions,
		bus:      bus,
		metrics:  apiMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.query)
	mux.HandleFunc("/v1/sessions/", rt.sessionHistory)
	mux.HandleFunc("/v1/index/run", rt.runIndex)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxConcurrent, backpressureMaxWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	experts := 0
	if rt.experts != nil {
		experts = rt.experts.Snapshot().ExpertCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "experts": experts})
}

type queryRequest struct {
	Query          string `json:"query"`
	SessionID      string `json:"session_id"`
	CheckAccuracy  bool   `json:"check_accuracy"`
	ExpectedExpert string `json:"expected_expert"`
}

type queryResponse struct {
	Answer    string `json:"answer"`
	Group     string `json:"group,omitempty"`
	Expert    string `json:"expert,omitempty"`
	Sources   int    `json:"sources"`
	IsCorrect *bool  `json:"is_correct,omitempty"`
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	start := time.Now()
	answer, err := rt.answerer.Answer(r.Context(), domain.AskRequest{
		Query:          req.Query,
		SessionID:      req.SessionID,
		CheckAccuracy:  req.CheckAccuracy,
		ExpectedExpert: req.ExpectedExpert,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		if domain.IsClearCommand(req.Query) {
			rt.metrics.RecordSessionOp(serviceName, "clear")
		} else {
			rt.metrics.RecordAnswer(serviceName, answer.Sources, time.Since(start), answer.Degraded)
			if answer.Expert != "" {
				rt.metrics.RecordRouteDecision(serviceName, answer.Group, answer.Expert, answer.Score)
			}
		}
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    answer.Text,
		Group:     displayName(answer.Group),
		Expert:    displayName(answer.Expert),
		Sources:   answer.Sources,
		IsCorrect: answer.Correct,
	})
}

// sessionHistory serves GET and DELETE /v1/sessions/{session_id}/history.
func (rt *Router) sessionHistory(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	sessionID, ok := strings.CutSuffix(rest, "/history")
	if !ok || sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		history := rt.sessions.History(sessionID)
		if rt.metrics != nil {
			rt.metrics.RecordSessionOp(serviceName, "history")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"history":    history,
		})
	case http.MethodDelete:
		if err := rt.sessions.Clear(r.Context(), sessionID); err != nil {
			writeError(w, err)
			return
		}
		if rt.metrics != nil {
			rt.metrics.RecordSessionOp(serviceName, "clear")
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Session cleared",
		})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// runIndex asks the indexer fleet for an ingestion pass. The pass is
// asynchronous; 202 means the request was published, not that it ran.
func (rt *Router) runIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "index requests are not configured"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "api request"
	}

	if err := rt.bus.PublishIndexRequested(r.Context(), reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "reason": reason})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

// displayName turns a directory identifier into the presentation form the
// response carries: underscores become spaces, words are title-cased.
func displayName(id string) string {
	if id == "" {
		return ""
	}
	words := strings.Fields(strings.ReplaceAll(id, "_", " "))
	for i, word := range words {
		runes := []rune(word)
		words[i] = strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
	}
	return strings.Join(words, " ")
}
