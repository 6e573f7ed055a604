package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/lifecycle"
	"github.com/animus-labs/runqc/internal/metrics"
	"github.com/animus-labs/runqc/internal/platform/auth"
	"github.com/animus-labs/runqc/internal/platform/httpserver"
	"github.com/animus-labs/runqc/internal/repo"
	"github.com/animus-labs/runqc/internal/rules"
	"github.com/animus-labs/runqc/internal/service/analyses"
)

const serviceName = "autoqc"

// analysisService is the part of analyses.Service the handlers call.
type analysisService interface {
	Register(ctx context.Context, info analyses.AuditInfo, in analyses.RegisterInput) (domain.RunAnalysis, bool, error)
	ImportSampleSheet(ctx context.Context, info analyses.AuditInfo, in analyses.ImportInput, sheet io.Reader) (analyses.ImportResult, error)
	Get(ctx context.Context, id string) (analyses.View, error)
	List(ctx context.Context, filter repo.RunAnalysisFilter) ([]domain.RunAnalysis, error)
	History(ctx context.Context, id string, limit int) ([]domain.QCEvaluation, error)
	Evaluate(ctx context.Context, info analyses.AuditInfo, id string) (analyses.Outcome, error)
	Verdict(ctx context.Context, id string) (domain.Verdict, error)
	Signoff(ctx context.Context, info analyses.AuditInfo, id string, approved bool, comment string) (domain.RunAnalysis, error)
	Reset(ctx context.Context, info analyses.AuditInfo, id string) (domain.RunAnalysis, error)
	Archive(ctx context.Context, info analyses.AuditInfo, id string, comment string) (domain.RunAnalysis, error)
	Sweep(ctx context.Context, info analyses.AuditInfo, limit int) (analyses.SweepResult, error)
}

type autoQCAPI struct {
	logger  *slog.Logger
	service analysisService
	// fastqRoot and resultsRoot locate a run's directories when a sample
	// sheet import does not name them.
	fastqRoot   string
	resultsRoot string
}

func newAutoQCAPI(logger *slog.Logger, service analysisService, fastqRoot, resultsRoot string) *autoQCAPI {
	return &autoQCAPI{
		logger:      logger,
		service:     service,
		fastqRoot:   fastqRoot,
		resultsRoot: resultsRoot,
	}
}

func (api *autoQCAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /run-analyses", api.handleListRunAnalyses)
	mux.HandleFunc("POST /run-analyses", api.handleCreateRunAnalysis)
	mux.HandleFunc("GET /run-analyses/{id}", api.handleGetRunAnalysis)
	mux.HandleFunc("GET /run-analyses/{id}/evaluations", api.handleListEvaluations)
	mux.HandleFunc("POST /run-analyses/{id}/evaluate", api.handleEvaluate)
	mux.HandleFunc("GET /run-analyses/{id}/auto-qc", api.handleAutoQC)
	mux.HandleFunc("POST /run-analyses/{id}/signoff", api.handleSignoff)
	mux.HandleFunc("POST /run-analyses/{id}/reset", api.handleReset)
	mux.HandleFunc("POST /run-analyses/{id}/archive", api.handleArchive)

	mux.HandleFunc("POST /runs/{run_id}/sample-sheet", api.handleImportSampleSheet)
	mux.HandleFunc("POST /sweeps", api.handleSweep)
}

type runAnalysis struct {
	RunAnalysisID           string          `json:"run_analysis_id"`
	RunID                   string          `json:"run_id"`
	PipelineID              string          `json:"pipeline_id"`
	AnalysisType            string          `json:"analysis_type"`
	ResultsDir              string          `json:"results_dir"`
	FastqDir                string          `json:"fastq_dir,omitempty"`
	Lanes                   int             `json:"lanes"`
	AutoQCChecks            *string         `json:"auto_qc_checks"`
	MinQ30Score             float64         `json:"min_q30_score"`
	State                   lifecycle.State `json:"state"`
	DemultiplexingCompleted bool            `json:"demultiplexing_completed"`
	DemultiplexingValid     bool            `json:"demultiplexing_valid"`
	ResultsCompleted        bool            `json:"results_completed"`
	ResultsValid            bool            `json:"results_valid"`
	Watching                bool            `json:"watching"`
	ManualApproval          bool            `json:"manual_approval"`
	Comment                 string          `json:"comment,omitempty"`
	SignoffUser             string          `json:"signoff_user,omitempty"`
	SignoffAt               *time.Time      `json:"signoff_at,omitempty"`
	Verdict                 *domain.Verdict `json:"verdict,omitempty"`
	EvaluatedAt             *time.Time      `json:"evaluated_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
	Version                 int64           `json:"version"`
}

type sampleAnalysis struct {
	SampleID               string  `json:"sample_id"`
	Worksheet              string  `json:"worksheet,omitempty"`
	Sex                    string  `json:"sex"`
	SexLabel               string  `json:"sex_label"`
	NTC                    bool    `json:"ntc"`
	ResultsCompleted       bool    `json:"results_completed"`
	ResultsValid           bool    `json:"results_valid"`
	ContaminationCutoff    float64 `json:"contamination_cutoff"`
	NTCContaminationCutoff float64 `json:"ntc_contamination_cutoff"`
}

type runAnalysisDetail struct {
	runAnalysis
	Samples          []sampleAnalysis `json:"samples"`
	SamplesCompleted int              `json:"samples_completed"`
	SamplesValid     int              `json:"samples_valid"`
	SamplesTotal     int              `json:"samples_total"`
	NTCs             []string         `json:"ntcs"`
	Worksheets       string           `json:"worksheets"`
}

type evaluation struct {
	EvaluationID    string         `json:"evaluation_id"`
	RunAnalysisID   string         `json:"run_analysis_id"`
	EvaluatedAt     time.Time      `json:"evaluated_at"`
	EvaluatedBy     string         `json:"evaluated_by"`
	Verdict         domain.Verdict `json:"verdict"`
	ReportObjectKey string         `json:"report_object_key,omitempty"`
	ReportSHA256    string         `json:"report_sha256,omitempty"`
	ReportSizeBytes int64          `json:"report_size_bytes,omitempty"`
}

func toRunAnalysis(a domain.RunAnalysis) runAnalysis {
	return runAnalysis{
		RunAnalysisID:           a.ID,
		RunID:                   a.RunID,
		PipelineID:              a.PipelineID,
		AnalysisType:            a.AnalysisType,
		ResultsDir:              a.ResultsDir,
		FastqDir:                a.FastqDir,
		Lanes:                   a.Lanes,
		AutoQCChecks:            a.AutoQCChecks,
		MinQ30Score:             a.MinQ30Score,
		State:                   lifecycle.Derive(a),
		DemultiplexingCompleted: a.DemultiplexingCompleted,
		DemultiplexingValid:     a.DemultiplexingValid,
		ResultsCompleted:        a.ResultsCompleted,
		ResultsValid:            a.ResultsValid,
		Watching:                a.Watching,
		ManualApproval:          a.ManualApproval,
		Comment:                 a.Comment,
		SignoffUser:             a.SignoffUser,
		SignoffAt:               a.SignoffAt,
		Verdict:                 a.Verdict,
		EvaluatedAt:             a.EvaluatedAt,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
		Version:                 a.Version,
	}
}

func toDetail(v analyses.View) runAnalysisDetail {
	ntcs := make(map[string]struct{}, len(v.NTCs))
	for _, id := range v.NTCs {
		ntcs[id] = struct{}{}
	}
	samples := make([]sampleAnalysis, 0, len(v.Samples))
	for _, s := range v.Samples {
		_, ntc := ntcs[s.SampleID]
		samples = append(samples, sampleAnalysis{
			SampleID:               s.SampleID,
			Worksheet:              s.Worksheet,
			Sex:                    s.Sex,
			SexLabel:               domain.SexLabel(s.Sex),
			NTC:                    ntc,
			ResultsCompleted:       s.ResultsCompleted,
			ResultsValid:           s.ResultsValid,
			ContaminationCutoff:    s.ContaminationCutoff,
			NTCContaminationCutoff: s.NTCContaminationCutoff,
		})
	}
	ntcList := v.NTCs
	if ntcList == nil {
		ntcList = []string{}
	}
	return runAnalysisDetail{
		runAnalysis:      toRunAnalysis(v.Analysis),
		Samples:          samples,
		SamplesCompleted: v.SamplesCompleted,
		SamplesValid:     v.SamplesValid,
		SamplesTotal:     len(v.Samples),
		NTCs:             ntcList,
		Worksheets:       v.Worksheets,
	}
}

func toEvaluation(e domain.QCEvaluation) evaluation {
	return evaluation{
		EvaluationID:    e.ID,
		RunAnalysisID:   e.RunAnalysisID,
		EvaluatedAt:     e.EvaluatedAt,
		EvaluatedBy:     e.EvaluatedBy,
		Verdict:         e.Verdict,
		ReportObjectKey: e.ReportObjectKey,
		ReportSHA256:    e.ReportSHA256,
		ReportSizeBytes: e.ReportSizeBytes,
	}
}

func (api *autoQCAPI) handleListRunAnalyses(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunAnalysisFilter{
		RunID: strings.TrimSpace(r.URL.Query().Get("run_id")),
		Limit: clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("watching")); raw != "" {
		watching, err := strconv.ParseBool(raw)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_watching")
			return
		}
		filter.Watching = &watching
	}
	items, err := api.service.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]runAnalysis, 0, len(items))
	for _, a := range items {
		out = append(out, toRunAnalysis(a))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"run_analyses": out})
}

func (api *autoQCAPI) handleCreateRunAnalysis(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	var req analyses.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.RunID) == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	if len(req.Samples) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "samples_required")
		return
	}
	a, created, err := api.service.Register(r.Context(), info, req)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/run-analyses/"+a.ID)
	}
	httpserver.WriteJSON(w, status, toRunAnalysis(a))
}

func (api *autoQCAPI) handleImportSampleSheet(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	in := analyses.ImportInput{
		RunID:       runID,
		ResultsRoot: strings.TrimSpace(r.URL.Query().Get("results_root")),
		FastqDir:    strings.TrimSpace(r.URL.Query().Get("fastq_dir")),
	}
	if in.ResultsRoot == "" {
		in.ResultsRoot = joinRoot(api.resultsRoot, runID)
	}
	if in.FastqDir == "" {
		in.FastqDir = joinRoot(api.fastqRoot, runID)
	}
	res, err := api.service.ImportSampleSheet(r.Context(), info, in, io.LimitReader(r.Body, 4<<20))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]runAnalysis, 0, len(res.Analyses))
	for _, a := range res.Analyses {
		out = append(out, toRunAnalysis(a))
	}
	status := http.StatusOK
	if res.Created > 0 {
		status = http.StatusCreated
	}
	httpserver.WriteJSON(w, status, map[string]any{"run_analyses": out, "created": res.Created})
}

func (api *autoQCAPI) handleGetRunAnalysis(w http.ResponseWriter, r *http.Request) {
	view, err := api.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toDetail(view))
}

func (api *autoQCAPI) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 50), 1, 200)
	items, err := api.service.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]evaluation, 0, len(items))
	for _, e := range items {
		out = append(out, toEvaluation(e))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"evaluations": out})
}

func (api *autoQCAPI) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	out, err := api.service.Evaluate(r.Context(), info, r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"run_analysis":  toRunAnalysis(out.Analysis),
		"copy_complete": out.CopyComplete,
		"samples":       out.Results.Samples,
		"evaluation":    toEvaluation(out.Evaluation),
	})
}

func (api *autoQCAPI) handleAutoQC(w http.ResponseWriter, r *http.Request) {
	verdict, err := api.service.Verdict(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, verdict)
}

type signoffRequest struct {
	Approved *bool  `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

func (api *autoQCAPI) handleSignoff(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	var req signoffRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Approved == nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "approved_required")
		return
	}
	a, err := api.service.Signoff(r.Context(), info, r.PathValue("id"), *req.Approved, req.Comment)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunAnalysis(a))
}

func (api *autoQCAPI) handleReset(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	a, err := api.service.Reset(r.Context(), info, r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunAnalysis(a))
}

type archiveRequest struct {
	Comment string `json:"comment,omitempty"`
}

func (api *autoQCAPI) handleArchive(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	var req archiveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	a, err := api.service.Archive(r.Context(), info, r.PathValue("id"), req.Comment)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunAnalysis(a))
}

func (api *autoQCAPI) handleSweep(w http.ResponseWriter, r *http.Request) {
	info, ok := api.auditInfo(w, r)
	if !ok {
		return
	}
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	res, err := api.service.Sweep(r.Context(), info, limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, res)
}

func (api *autoQCAPI) auditInfo(w http.ResponseWriter, r *http.Request) (analyses.AuditInfo, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return analyses.AuditInfo{}, false
	}
	return analyses.AuditInfo{
		Actor:     identity.Subject,
		RequestID: r.Header.Get("X-Request-Id"),
		UserAgent: r.UserAgent(),
		IP:        requestIP(r.RemoteAddr),
		Service:   serviceName,
	}, true
}

func (api *autoQCAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_transition")
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, analyses.ErrInvalidInput):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, rules.ErrUnknownVariant):
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "unknown_pipeline")
	case errors.Is(err, metrics.ErrMissingMetricSource), errors.Is(err, metrics.ErrAmbiguousArtifact):
		api.logger.Warn("metric extraction failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "metrics_unavailable")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func joinRoot(root, runID string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	return strings.TrimRight(root, "/") + "/" + runID
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
