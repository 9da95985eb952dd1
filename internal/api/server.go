package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"paperflow/internal/config"
	"paperflow/internal/logging"
	"paperflow/internal/search"
	"paperflow/internal/util"
	"paperflow/internal/workflows"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

type Searcher interface {
	Search(ctx context.Context, p search.Params) (search.Response, error)
}

type IndexInfo interface {
	HealthCheck(ctx context.Context) bool
	Stats(ctx context.Context) (search.IndexStats, error)
}

// WorkflowClient is the part of the Temporal client the API uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type Server struct {
	cfg      config.Config
	searcher Searcher
	index    IndexInfo
	temporal WorkflowClient
	registry prometheus.Gatherer
	log      zerolog.Logger
}

// NewServer builds the HTTP layer. temporal may be nil, in which case the
// workflow endpoints answer 503. registry may be nil to disable /metrics.
func NewServer(cfg config.Config, s Searcher, idx IndexInfo, tc WorkflowClient, reg prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		searcher: s,
		index:    idx,
		temporal: tc,
		registry: reg,
		log:      logging.Component(log, "api"),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/ingest/", s.handleIngestScoped)
	mux.HandleFunc("/reindex", s.handleReindex)
	if s.registry != nil && s.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.index.HealthCheck(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "storage": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "storage": "ok"})
}

type searchRequest struct {
	Query        string   `json:"query"`
	Size         int      `json:"size"`
	From         int      `json:"from"`
	Categories   []string `json:"categories"`
	LatestPapers bool     `json:"latest_papers"`
	UseHybrid    bool     `json:"use_hybrid"`
	Target       string   `json:"target"`
	MinScore     float64  `json:"min_score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	switch r.Method {
	case http.MethodGet:
		parsed, err := searchRequestFromQuery(r.URL.Query())
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		req = parsed
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	resp, err := s.searcher.Search(r.Context(), search.Params{
		Query:       req.Query,
		Size:        req.Size,
		From:        req.From,
		Categories:  req.Categories,
		LatestFirst: req.LatestPapers,
		Hybrid:      req.UseHybrid,
		Target:      search.Target(strings.ToLower(strings.TrimSpace(req.Target))),
		MinScore:    req.MinScore,
	})
	if err != nil {
		if errors.Is(err, util.ErrValidation) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		s.log.Error().Err(err).Str("query", req.Query).Msg("search failed")
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func searchRequestFromQuery(q url.Values) (searchRequest, error) {
	req := searchRequest{
		Query:  q.Get("query"),
		Target: q.Get("target"),
	}
	if req.Query == "" {
		req.Query = q.Get("q")
	}
	var err error
	if req.Size, err = intParam(q, "size"); err != nil {
		return req, err
	}
	if req.From, err = intParam(q, "from"); err != nil {
		return req, err
	}
	if req.LatestPapers, err = boolParam(q, "latest_papers"); err != nil {
		return req, err
	}
	if req.UseHybrid, err = boolParam(q, "use_hybrid"); err != nil {
		return req, err
	}
	if v := q.Get("min_score"); v != "" {
		if req.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("invalid min_score %q", v)
		}
	}
	for _, c := range q["categories"] {
		req.Categories = append(req.Categories, strings.Split(c, ",")...)
	}
	return req, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func boolParam(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v)
	}
	return b, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	st, err := s.index.Stats(r.Context())
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflow client not configured"))
		return
	}
	var in workflows.IngestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(in.Category) == "" {
		in.Category = s.cfg.ArxivCategory
	}
	if in.MaxResults <= 0 {
		in.MaxResults = s.cfg.ArxivMaxResults
	}
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}

	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       "ingest-" + in.RunID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.PaperIngestWorkflow, in)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	s.log.Info().Str("run_id", in.RunID).Str("category", in.Category).Str("workflow_id", we.GetID()).Msg("ingest started")
	writeJSON(w, http.StatusAccepted, map[string]any{"ingest_run_id": in.RunID, "workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleIngestScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/ingest/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflow client not configured"))
		return
	}
	resp, err := s.temporal.QueryWorkflow(r.Context(), "ingest-"+parts[0], "", workflows.QueryGetProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var prog workflows.IngestProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflow client not configured"))
		return
	}
	var in workflows.ReindexInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if len(in.ArxivIDs) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("arxiv_ids are required"))
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "reindex-" + uuid.NewString(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.ReindexWorkflow, in)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID(), "papers": len(in.ArxivIDs)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrTransport), errors.Is(err, util.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "PF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusServiceUnavailable:
		code = "PF-API-5030"
		msg = "Storage or workflow service is unavailable. Check local services and retry."
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "PF-DB-5001", Message: "Index is not initialized. Run paperctl setup and retry."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "PF-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		case status == http.StatusBadGateway:
			return apiError{Code: "PF-API-5020", Message: "Upstream provider unavailable. Retry shortly."}
		default:
			return apiError{Code: "PF-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		code = "PF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "PF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "PF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "PF-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "arxiv_ids are required"):
			msg = "At least one arXiv id is required."
		case strings.Contains(raw, "bad_target"):
			msg = "Target must be chunks or papers."
		case strings.HasPrefix(raw, "invalid "):
			msg = "Invalid query parameter: " + strings.TrimPrefix(err.Error(), "invalid ") + "."
		}
	}
	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
