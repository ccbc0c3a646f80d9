package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// maxBodyBytes bounds request bodies; queries are capped far below this
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error             string `json:"error" example:"rate limited: queries quota exceeded"`
	Kind              string `json:"kind,omitempty" example:"rate_limited"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty" example:"3600"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ReadyResponse reports backend reachability
// @Description Readiness response
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// HistoryResponse is a page of the tenant's query ledger
// @Description Query history page
type HistoryResponse struct {
	Queries []*domain.LedgerEntry `json:"queries"`
	Total   int                   `json:"total" example:"42"`
	Limit   int                   `json:"limit" example:"20"`
	Offset  int                   `json:"offset" example:"0"`
}

// FeedbackRequest rates an answer
// @Description Answer feedback
type FeedbackRequest struct {
	Rating  int    `json:"rating" example:"5"`
	Comment string `json:"comment,omitempty" example:"accurate and well cited"`
}

// UsageResponse is the caller tenant's quota window
// @Description Quota usage
type UsageResponse struct {
	TenantID         string    `json:"tenant_id"`
	WindowStart      time.Time `json:"window_start"`
	WindowSeconds    int64     `json:"window_seconds"`
	Queries          int64     `json:"queries"`
	Tokens           int64     `json:"tokens"`
	MaxQueriesPerDay int       `json:"max_queries_per_day"`
	MaxTokensPerDay  int64     `json:"max_tokens_per_day"`
}

// SearchResponse lists the chunks matching a search
// @Description Semantic search result
type SearchResponse struct {
	Query        string             `json:"query" example:"refund policy"`
	Results      []domain.SearchHit `json:"results"`
	TotalFound   int                `json:"total_found" example:"3"`
	SearchTimeMs float64            `json:"search_time_ms" example:"42.5"`
}

// InvalidateCacheResponse reports dropped cache entries
// @Description Cache invalidation result
type InvalidateCacheResponse struct {
	Invalidated int `json:"invalidated" example:"12"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings PostgreSQL and Redis (when configured)
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: map[string]string{}}
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			log.Printf("readiness: %s unavailable: %v", name, err)
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			return
		}
		resp.Checks[name] = "ok"
	}
	check("postgres", s.db)
	check("redis", s.redisClient)

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Query endpoints

// handleSubmitQuery godoc
// @Summary      Ask a question
// @Description  Retrieves tenant context, generates an answer and returns it in one response
// @Tags         Queries
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.QueryRequest  true  "Query"
// @Success      200      {object}  domain.QueryResult
// @Failure      400      {object}  ErrorResponse  "Invalid input or unknown provider"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      429      {object}  ErrorResponse  "Quota exhausted"
// @Failure      502      {object}  ErrorResponse  "Generation failed"
// @Failure      503      {object}  ErrorResponse  "Embedding or retrieval unavailable"
// @Router       /queries [post]
func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.queries.Submit(r.Context(), tc, req)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSearch godoc
// @Summary      Semantic search
// @Description  Returns the tenant's chunks most similar to the query, without generating an answer
// @Tags         Queries
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.SearchRequest  true  "Search"
// @Success      200      {object}  SearchResponse
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      429      {object}  ErrorResponse  "Quota exhausted"
// @Failure      503      {object}  ErrorResponse  "Embedding or retrieval unavailable"
// @Router       /search [post]
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.queries.Search(r.Context(), tc, req)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	hits := result.Hits
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Query:        result.Query,
		Results:      hits,
		TotalFound:   len(hits),
		SearchTimeMs: float64(result.Latency.Microseconds()) / 1000,
	})
}

// handleStreamQuery godoc
// @Summary      Ask a question (streaming)
// @Description  Streams the answer as server-sent events: "delta" frames with {"text"}, then one "end" frame with the result or one "error" frame with {"kind","message"}, then "data: [DONE]"
// @Tags         Queries
// @Accept       json
// @Produce      text/event-stream
// @Security     BearerAuth
// @Param        request  body      domain.QueryRequest  true  "Query"
// @Success      200      {string}  string  "event stream"
// @Failure      400      {object}  ErrorResponse  "Invalid input or unknown provider"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      429      {object}  ErrorResponse  "Quota exhausted"
// @Failure      503      {object}  ErrorResponse  "Embedding or retrieval unavailable"
// @Router       /queries/stream [post]
func (s *Server) handleStreamQuery(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Failures before generation starts are plain JSON errors
	stream, err := s.queries.Stream(r.Context(), tc, req)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Query-ID", stream.QueryID)
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			if ev.Type != domain.StreamEventDelta {
				fmt.Fprint(w, "data: [DONE]\n\n")
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handleListQueries godoc
// @Summary      Query history
// @Description  Lists the tenant's queries newest first. Members only see their own queries.
// @Tags         Queries
// @Produce      json
// @Security     BearerAuth
// @Param        session_id  query     string  false  "Conversation session"
// @Param        limit       query     int     false  "Page size (default 20, max 100)"
// @Param        offset      query     int     false  "Offset"
// @Success      200         {object}  HistoryResponse
// @Failure      400         {object}  ErrorResponse  "Invalid pagination"
// @Failure      401         {object}  ErrorResponse  "Unauthorized"
// @Router       /queries [get]
func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, err1 := queryInt(r, "limit")
	offset, err2 := queryInt(r, "offset")
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "limit and offset must be integers")
		return
	}

	filter := domain.HistoryFilter{
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     limit,
		Offset:    offset,
	}
	entries, total, err := s.queries.History(r.Context(), tc, filter)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Queries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// handleGetQuery godoc
// @Summary      Get a query
// @Description  Returns one ledger entry with its latest feedback
// @Tags         Queries
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Query ID"
// @Success      200  {object}  domain.LedgerEntry
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "Query not found"
// @Router       /queries/{id} [get]
func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entry, err := s.queries.Get(r.Context(), tc, r.PathValue("id"))
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// handleSubmitFeedback godoc
// @Summary      Rate an answer
// @Description  Records a 1-5 rating for a query; the latest rating wins
// @Tags         Queries
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string           true  "Query ID"
// @Param        request  body      FeedbackRequest  true  "Feedback"
// @Success      201      {object}  domain.Feedback
// @Failure      400      {object}  ErrorResponse  "Invalid rating"
// @Failure      404      {object}  ErrorResponse  "Query not found"
// @Router       /queries/{id}/feedback [post]
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req FeedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	feedback, err := s.queries.SubmitFeedback(r.Context(), tc, r.PathValue("id"), req.Rating, req.Comment)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, feedback)
}

// handleGetUsage godoc
// @Summary      Quota usage
// @Description  Returns the tenant's current quota window
// @Tags         Queries
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  UsageResponse
// @Router       /usage [get]
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	counter, err := s.queries.Usage(r.Context(), tc)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	quota := tc.Quota()
	resp := UsageResponse{
		TenantID:         tc.TenantID(),
		MaxQueriesPerDay: quota.MaxQueriesPerDay,
		MaxTokensPerDay:  quota.MaxTokensPerDay,
	}
	if counter != nil {
		resp.WindowStart = counter.WindowStart
		resp.WindowSeconds = int64(counter.Window / time.Second)
		resp.Queries = counter.Queries
		resp.Tokens = counter.Tokens
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAnalyticsSummary godoc
// @Summary      Usage analytics
// @Description  Aggregates the tenant's ledger over the last days (admin only)
// @Tags         Analytics
// @Produce      json
// @Security     BearerAuth
// @Param        days  query     int  false  "Period in days (default 30, max 365)"
// @Success      200   {object}  domain.AnalyticsSummary
// @Failure      400   {object}  ErrorResponse  "Invalid period"
// @Failure      403   {object}  ErrorResponse  "Admin access required"
// @Router       /analytics/summary [get]
func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}

	summary, err := s.queries.Analytics(r.Context(), tc, days)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Admin endpoints

// handleInvalidateCache godoc
// @Summary      Invalidate cached answers
// @Description  Drops every cached answer of the caller's tenant, e.g. after its documents changed
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  InvalidateCacheResponse
// @Failure      403  {object}  ErrorResponse  "Admin access required"
// @Router       /admin/cache/invalidate [post]
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	tc, ok := GetTenantContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := s.cacheAdmin.InvalidateTenant(r.Context(), tc)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InvalidateCacheResponse{Invalidated: n})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindEmbeddingUnavailable, domain.KindRetrievalUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindGenerationFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeQueryError renders a service error with its kind and, for
// rejections, a Retry-After hint in whole seconds.
func writeQueryError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: err.Error(), Kind: string(kind)}
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		resp.Error = "internal server error"
	}
	if kind == domain.KindRateLimited {
		if ra := domain.RetryAfter(err); ra > 0 {
			secs := int(math.Ceil(ra.Seconds()))
			resp.RetryAfterSeconds = secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	writeJSON(w, status, resp)
}

// writeEvent writes one server-sent event frame
func writeEvent(w io.Writer, ev domain.StreamEvent) error {
	var payload any
	switch ev.Type {
	case domain.StreamEventDelta:
		payload = struct {
			Text string `json:"text"`
		}{ev.Text}
	case domain.StreamEventEnd:
		payload = ev.Result
	default:
		payload = struct {
			Kind    domain.ErrorKind `json:"kind"`
			Message string           `json:"message"`
		}{ev.Kind, ev.Message}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

// queryInt parses an optional integer query parameter; absent is 0
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
