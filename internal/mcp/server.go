// Package mcp provides an MCP (Model Context Protocol) server that exposes
// taskview filtering as MCP tools for AI assistants.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/taskview/internal/engine"
	"github.com/valter-silva-au/taskview/internal/filter"
	"github.com/valter-silva-au/taskview/internal/observability"
	"github.com/valter-silva-au/taskview/pkg/models"
)

// defaultLimit caps filter_tasks pages when no limit is given.
const defaultLimit = 50

// maxLimit is the largest page filter_tasks returns.
const maxLimit = 500

// Session is the part of engine.Session the server needs.
type Session interface {
	Evaluate(ctx context.Context, text string) (engine.Result, error)
	Lookup(id string) (models.TaskRecord, bool)
	Status() engine.Status
}

// Server wraps a filter session and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	session     Session
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server over session. metricsCalc and
// alertEngine may be nil if the event log is unavailable.
func NewServer(session Session, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		session:     session,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "taskview", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type filterTasksInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"filter expression, e.g. status:pending project:work due:<=eow sort:due. Empty matches every task."`
	Offset int    `json:"offset,omitempty" jsonschema:"index of the first match to return"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of matches to return (default 50, max 500)"`
}

type taskOutput struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Project     string   `json:"project,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Urgency     float64  `json:"urgency"`
	Due         string   `json:"due,omitempty"`
	Description string   `json:"description"`
}

type filterTasksOutput struct {
	Canonical string       `json:"canonical"`
	Version   uint64       `json:"version"`
	Total     int          `json:"total"`
	Offset    int          `json:"offset"`
	Tasks     []taskOutput `json:"tasks"`
}

type getTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
}

type explainFilterInput struct {
	Filter string `json:"filter" jsonschema:"filter expression to compile"`
}

type explainFilterOutput struct {
	Canonical   string `json:"canonical"`
	Fingerprint string `json:"fingerprint"`
	SortField   string `json:"sort_field"`
	SortDir     string `json:"sort_direction"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
}

type cacheStatsInput struct{}

type cacheStatsOutput struct {
	Version     uint64  `json:"version"`
	Entries     int     `json:"entries"`
	UsedBytes   int64   `json:"used_bytes"`
	BudgetBytes int64   `json:"budget_bytes"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	InFlight    int     `json:"in_flight"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	FiltersApplied  int            `json:"filters_applied"`
	FiltersRejected int            `json:"filters_rejected"`
	RejectedByKind  map[string]int `json:"rejected_by_kind"`
	CacheHits       int            `json:"cache_hits"`
	HitRate         float64        `json:"hit_rate"`
	BackgroundEvals int            `json:"background_evals"`
	EvalsCompleted  int            `json:"evals_completed"`
	EvalsDiscarded  int            `json:"evals_discarded"`
	MeanEvalMillis  float64        `json:"mean_eval_ms"`
	MaxEvalMillis   float64        `json:"max_eval_ms"`
	EventCount      int            `json:"event_count"`
	OldestEvent     string         `json:"oldest_event,omitempty"`
	NewestEvent     string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window to evaluate (e.g. 7d, 24h). Defaults to 24h."`
}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "filter_tasks",
		Description: "Evaluate a filter expression and return one page of the ordered matching tasks.",
	}, s.handleFilterTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task by ID from the current dataset.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "explain_filter",
		Description: "Compile a filter expression and return its canonical form, fingerprint and sort order.",
	}, s.handleExplainFilter)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "cache_stats",
		Description: "Return result cache counters and the current dataset version.",
	}, s.handleCacheStats)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get session metrics from the event log: applied and rejected filters, cache hits and evaluation times.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return session health alerts (slow evaluations, low hit rate, rejected filters).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleFilterTasks(ctx context.Context, _ *gomcp.CallToolRequest, input filterTasksInput) (*gomcp.CallToolResult, filterTasksOutput, error) {
	if input.Offset < 0 {
		return errorResult("offset must not be negative"), filterTasksOutput{}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	res, err := s.session.Evaluate(ctx, input.Filter)
	if err != nil {
		return errorResult(describeError(err)), filterTasksOutput{}, nil
	}

	start := min(input.Offset, len(res.IDs))
	end := min(start+limit, len(res.IDs))
	out := filterTasksOutput{
		Canonical: res.Expression.Canonical(),
		Version:   res.Key.Version,
		Total:     len(res.IDs),
		Offset:    start,
		Tasks:     make([]taskOutput, 0, end-start),
	}
	for _, id := range res.IDs[start:end] {
		rec, ok := s.session.Lookup(id)
		if !ok {
			rec = models.TaskRecord{ID: id}
		}
		out.Tasks = append(out.Tasks, taskToOutput(rec))
	}
	return nil, out, nil
}

func (s *Server) handleGetTask(_ context.Context, _ *gomcp.CallToolRequest, input getTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}
	rec, ok := s.session.Lookup(input.TaskID)
	if !ok {
		return errorResult(fmt.Sprintf("task %s not found", input.TaskID)), taskOutput{}, nil
	}
	return nil, taskToOutput(rec), nil
}

func (s *Server) handleExplainFilter(_ context.Context, _ *gomcp.CallToolRequest, input explainFilterInput) (*gomcp.CallToolResult, explainFilterOutput, error) {
	expr, err := filter.Compile(input.Filter)
	if err != nil {
		return errorResult(describeError(err)), explainFilterOutput{}, nil
	}
	out := explainFilterOutput{
		Canonical:   expr.Canonical(),
		Fingerprint: expr.Fingerprint(),
		SortField:   string(expr.Sort().Field),
		SortDir:     string(expr.Sort().Direction),
		Valid:       true,
	}
	if err := filter.Validate(expr, time.Now()); err != nil {
		out.Valid = false
		out.Error = describeError(err)
	}
	return nil, out, nil
}

func (s *Server) handleCacheStats(_ context.Context, _ *gomcp.CallToolRequest, _ cacheStatsInput) (*gomcp.CallToolResult, cacheStatsOutput, error) {
	st := s.session.Status()
	return nil, cacheStatsOutput{
		Version:     st.Version,
		Entries:     st.Cache.Entries,
		UsedBytes:   st.Cache.UsedBytes,
		BudgetBytes: st.Cache.BudgetBytes,
		Hits:        st.Cache.Hits,
		Misses:      st.Cache.Misses,
		HitRate:     st.Cache.HitRate(),
		Evictions:   st.Cache.Evictions,
		InFlight:    st.InFlight,
	}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (event log may be unavailable)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}
	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		FiltersApplied:  metrics.FiltersApplied,
		FiltersRejected: metrics.FiltersRejected,
		RejectedByKind:  metrics.RejectedByKind,
		CacheHits:       metrics.CacheHits,
		HitRate:         metrics.HitRate(),
		BackgroundEvals: metrics.BackgroundEvals,
		EvalsCompleted:  metrics.EvalsCompleted,
		EvalsDiscarded:  metrics.EvalsDiscarded,
		MeanEvalMillis:  metrics.MeanEvalMillis,
		MaxEvalMillis:   metrics.MaxEvalMillis,
		EventCount:      metrics.EventCount,
	}
	if out.RejectedByKind == nil {
		out.RejectedByKind = make(map[string]int)
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, input getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (event log may be unavailable)"), getAlertsOutput{}, nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "24h"
	}
	since, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate(since)
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func taskToOutput(r models.TaskRecord) taskOutput {
	out := taskOutput{
		ID:          r.ID,
		Status:      string(r.Status),
		Project:     r.Project,
		Priority:    string(r.Priority),
		Tags:        r.Tags,
		Urgency:     r.Urgency,
		Description: r.Description,
	}
	if r.Due != nil {
		out.Due = r.Due.Format(time.RFC3339)
	}
	return out
}

func describeError(err error) string {
	var pe *filter.ParseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("parse error at offset %d: expected %s, found %s", pe.Offset, pe.Expected, pe.Found)
	}
	var ve *filter.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("invalid %s value %q in %s: %v", ve.Field, ve.Value, ve.Predicate, ve.Err)
	}
	return err.Error()
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{RejectedByKind: make(map[string]int)}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	var num int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
