package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/runqc/internal/domain"
)

type EvaluationStore struct {
	db DB
}

const (
	insertEvaluationQuery = `INSERT INTO qc_evaluations (
		evaluation_id,
		run_analysis_id,
		evaluated_at,
		evaluated_by,
		passed,
		reason,
		summary,
		report_object_key,
		report_sha256,
		report_size_bytes
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	selectEvaluationsQuery = `SELECT evaluation_id, run_analysis_id, evaluated_at, evaluated_by, passed, reason, summary,
		report_object_key, report_sha256, report_size_bytes
	 FROM qc_evaluations
	 WHERE run_analysis_id = $1
	 ORDER BY evaluated_at DESC, evaluation_id DESC
	 LIMIT $2`
)

func NewEvaluationStore(db DB) *EvaluationStore {
	if db == nil {
		return nil
	}
	return &EvaluationStore{db: db}
}

func (s *EvaluationStore) AppendEvaluation(ctx context.Context, e domain.QCEvaluation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("evaluation store not initialized")
	}
	if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.RunAnalysisID) == "" {
		return fmt.Errorf("evaluation id and run analysis id are required")
	}
	summary := e.Summary
	if len(summary) == 0 {
		encoded, err := json.Marshal(e.Verdict)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		summary = encoded
	}
	var size sql.NullInt64
	if e.ReportObjectKey != "" {
		size = sql.NullInt64{Int64: e.ReportSizeBytes, Valid: true}
	}
	_, err := s.db.ExecContext(
		ctx,
		insertEvaluationQuery,
		strings.TrimSpace(e.ID),
		strings.TrimSpace(e.RunAnalysisID),
		normalizeTime(e.EvaluatedAt),
		strings.TrimSpace(e.EvaluatedBy),
		e.Verdict.Passed,
		e.Verdict.Reason,
		[]byte(summary),
		nullIfEmpty(e.ReportObjectKey),
		nullIfEmpty(e.ReportSHA256),
		size,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert evaluation %s: duplicate id", e.ID)
		}
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

func (s *EvaluationStore) ListEvaluations(ctx context.Context, runAnalysisID string, limit int) ([]domain.QCEvaluation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("evaluation store not initialized")
	}
	runAnalysisID = strings.TrimSpace(runAnalysisID)
	if runAnalysisID == "" {
		return nil, fmt.Errorf("run analysis id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectEvaluationsQuery, runAnalysisID, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []domain.QCEvaluation
	for rows.Next() {
		var e domain.QCEvaluation
		var summary []byte
		var key, sha sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(
			&e.ID,
			&e.RunAnalysisID,
			&e.EvaluatedAt,
			&e.EvaluatedBy,
			&e.Verdict.Passed,
			&e.Verdict.Reason,
			&summary,
			&key,
			&sha,
			&size,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		e.EvaluatedAt = e.EvaluatedAt.UTC()
		e.Summary = json.RawMessage(summary)
		e.ReportObjectKey = key.String
		e.ReportSHA256 = sha.String
		e.ReportSizeBytes = size.Int64
		var decoded domain.Verdict
		if err := json.Unmarshal(summary, &decoded); err == nil {
			e.Verdict.Results = decoded.Results
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return out, nil
}
