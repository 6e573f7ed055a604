package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/platform/auditlog"
	"github.com/animus-labs/runqc/internal/repo"
)

type RunAnalysisStore struct {
	db TxDB
}

const runAnalysisColumns = `run_analysis_id, run_id, pipeline_id, analysis_type, results_dir, fastq_dir, lanes,
	auto_qc_checks, min_q30_score, demultiplexing_completed, demultiplexing_valid, results_completed, results_valid,
	watching, manual_approval, comment, signoff_user, signoff_at, verdict_passed, verdict_reason, verdict_results,
	evaluated_at, created_at, updated_at, version`

const (
	insertRunAnalysisQuery = `INSERT INTO run_analyses (
		run_analysis_id,
		run_id,
		pipeline_id,
		analysis_type,
		results_dir,
		fastq_dir,
		lanes,
		auto_qc_checks,
		min_q30_score,
		watching,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,$10,$10)
	ON CONFLICT (run_id, pipeline_id, analysis_type) DO NOTHING
	RETURNING ` + runAnalysisColumns

	selectRunAnalysisByIDQuery = `SELECT ` + runAnalysisColumns + `
	 FROM run_analyses
	 WHERE run_analysis_id = $1`

	selectRunAnalysisForUpdateQuery = selectRunAnalysisByIDQuery + `
	 FOR UPDATE`

	selectRunAnalysisByKeyQuery = `SELECT ` + runAnalysisColumns + `
	 FROM run_analyses
	 WHERE run_id = $1 AND pipeline_id = $2 AND analysis_type = $3`

	updateRunAnalysisQuery = `UPDATE run_analyses SET
		results_dir = $3,
		fastq_dir = $4,
		lanes = $5,
		auto_qc_checks = $6,
		min_q30_score = $7,
		demultiplexing_completed = $8,
		demultiplexing_valid = $9,
		results_completed = $10,
		results_valid = $11,
		watching = $12,
		manual_approval = $13,
		comment = $14,
		signoff_user = $15,
		signoff_at = $16,
		verdict_passed = $17,
		verdict_reason = $18,
		verdict_results = $19,
		evaluated_at = $20,
		updated_at = $21,
		version = version + 1
	 WHERE run_analysis_id = $1 AND version = $2
	 RETURNING version, updated_at`

	selectSamplesQuery = `SELECT run_analysis_id, sample_id, position, worksheet, sex, results_completed, results_valid,
		contamination_cutoff, ntc_contamination_cutoff
	 FROM sample_analyses
	 WHERE run_analysis_id = $1
	 ORDER BY position ASC, sample_id ASC`

	upsertSampleQuery = `INSERT INTO sample_analyses (
		run_analysis_id,
		sample_id,
		position,
		worksheet,
		sex,
		contamination_cutoff,
		ntc_contamination_cutoff
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (run_analysis_id, sample_id) DO UPDATE SET
		position = EXCLUDED.position,
		worksheet = EXCLUDED.worksheet,
		sex = EXCLUDED.sex`

	updateSampleFlagsQuery = `UPDATE sample_analyses SET
		results_completed = $3,
		results_valid = $4
	 WHERE run_analysis_id = $1 AND sample_id = $2`
)

func NewRunAnalysisStore(db TxDB) *RunAnalysisStore {
	if db == nil {
		return nil
	}
	return &RunAnalysisStore{db: db}
}

func (s *RunAnalysisStore) Create(ctx context.Context, a domain.RunAnalysis, samples []domain.SampleAnalysis, events ...auditlog.Event) (domain.RunAnalysis, bool, error) {
	if s == nil || s.db == nil {
		return domain.RunAnalysis{}, false, fmt.Errorf("run analysis store not initialized")
	}
	if err := a.Validate(); err != nil {
		return domain.RunAnalysis{}, false, err
	}
	if strings.TrimSpace(a.ID) == "" {
		return domain.RunAnalysis{}, false, errors.New("run analysis id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RunAnalysis{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanRunAnalysis(tx.QueryRowContext(
		ctx,
		insertRunAnalysisQuery,
		strings.TrimSpace(a.ID),
		strings.TrimSpace(a.RunID),
		strings.TrimSpace(a.PipelineID),
		strings.TrimSpace(a.AnalysisType),
		strings.TrimSpace(a.ResultsDir),
		strings.TrimSpace(a.FastqDir),
		a.Lanes,
		nullChecks(a.AutoQCChecks),
		a.MinQ30Score,
		normalizeTime(a.CreatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.RunAnalysis{}, false, fmt.Errorf("insert run analysis: %w", repo.ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.RunAnalysis{}, false, fmt.Errorf("insert run analysis: %w", err)
		}
		existing, err := s.GetByKey(ctx, a.RunID, a.PipelineID, a.AnalysisType)
		if err != nil {
			return domain.RunAnalysis{}, false, err
		}
		return existing, false, nil
	}

	if err := upsertSamples(ctx, tx, created.ID, samples); err != nil {
		return domain.RunAnalysis{}, false, err
	}
	for _, event := range events {
		if _, err := auditlog.Insert(ctx, tx, event); err != nil {
			return domain.RunAnalysis{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.RunAnalysis{}, false, fmt.Errorf("commit: %w", err)
	}
	return created, true, nil
}

func (s *RunAnalysisStore) Get(ctx context.Context, id string) (domain.RunAnalysis, error) {
	if s == nil || s.db == nil {
		return domain.RunAnalysis{}, fmt.Errorf("run analysis store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RunAnalysis{}, fmt.Errorf("run analysis id is required")
	}
	a, err := scanRunAnalysis(s.db.QueryRowContext(ctx, selectRunAnalysisByIDQuery, id))
	if err != nil {
		return domain.RunAnalysis{}, handleNotFound(err)
	}
	return a, nil
}

func (s *RunAnalysisStore) GetByKey(ctx context.Context, runID, pipelineID, analysisType string) (domain.RunAnalysis, error) {
	if s == nil || s.db == nil {
		return domain.RunAnalysis{}, fmt.Errorf("run analysis store not initialized")
	}
	a, err := scanRunAnalysis(s.db.QueryRowContext(
		ctx,
		selectRunAnalysisByKeyQuery,
		strings.TrimSpace(runID),
		strings.TrimSpace(pipelineID),
		strings.TrimSpace(analysisType),
	))
	if err != nil {
		return domain.RunAnalysis{}, handleNotFound(err)
	}
	return a, nil
}

func (s *RunAnalysisStore) List(ctx context.Context, filter repo.RunAnalysisFilter) ([]domain.RunAnalysis, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run analysis store not initialized")
	}
	query, args := buildListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run analyses: %w", err)
	}
	defer rows.Close()

	var out []domain.RunAnalysis
	for rows.Next() {
		a, err := scanRunAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run analysis: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run analyses: %w", err)
	}
	return out, nil
}

func buildListQuery(filter repo.RunAnalysisFilter) (string, []any) {
	query := `SELECT ` + runAnalysisColumns + ` FROM run_analyses`
	var clauses []string
	var args []any
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		args = append(args, runID)
		clauses = append(clauses, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if filter.Watching != nil {
		args = append(args, *filter.Watching)
		clauses = append(clauses, fmt.Sprintf("watching = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, run_analysis_id ASC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	return query, args
}

func (s *RunAnalysisStore) ListSamples(ctx context.Context, runAnalysisID string) ([]domain.SampleAnalysis, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run analysis store not initialized")
	}
	return listSamples(ctx, s.db, runAnalysisID)
}

func (s *RunAnalysisStore) UpsertSamples(ctx context.Context, runAnalysisID string, samples []domain.SampleAnalysis) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run analysis store not initialized")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertSamples(ctx, tx, runAnalysisID, samples); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *RunAnalysisStore) Update(ctx context.Context, id string, fn repo.UpdateFunc) (domain.RunAnalysis, []domain.SampleAnalysis, error) {
	if s == nil || s.db == nil {
		return domain.RunAnalysis{}, nil, fmt.Errorf("run analysis store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RunAnalysis{}, nil, fmt.Errorf("run analysis id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RunAnalysis{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRunAnalysis(tx.QueryRowContext(ctx, selectRunAnalysisForUpdateQuery, id))
	if err != nil {
		return domain.RunAnalysis{}, nil, handleNotFound(err)
	}
	samples, err := listSamples(ctx, tx, id)
	if err != nil {
		return domain.RunAnalysis{}, nil, err
	}
	before := make(map[string]domain.SampleAnalysis, len(samples))
	for _, sample := range samples {
		before[sample.SampleID] = sample
	}

	next := current
	events, err := fn(&next, samples)
	if err != nil {
		return domain.RunAnalysis{}, nil, err
	}
	next.ID = current.ID
	if err := next.Validate(); err != nil {
		return domain.RunAnalysis{}, nil, err
	}

	var verdictPassed sql.NullBool
	var verdictReason sql.NullString
	var verdictResults []byte
	if next.Verdict != nil {
		verdictPassed = sql.NullBool{Bool: next.Verdict.Passed, Valid: true}
		verdictReason = sql.NullString{String: next.Verdict.Reason, Valid: true}
		verdictResults, err = json.Marshal(next.Verdict.Results)
		if err != nil {
			return domain.RunAnalysis{}, nil, fmt.Errorf("encode verdict: %w", err)
		}
	}

	err = tx.QueryRowContext(
		ctx,
		updateRunAnalysisQuery,
		current.ID,
		current.Version,
		strings.TrimSpace(next.ResultsDir),
		strings.TrimSpace(next.FastqDir),
		next.Lanes,
		nullChecks(next.AutoQCChecks),
		next.MinQ30Score,
		next.DemultiplexingCompleted,
		next.DemultiplexingValid,
		next.ResultsCompleted,
		next.ResultsValid,
		next.Watching,
		next.ManualApproval,
		nullIfEmpty(next.Comment),
		nullIfEmpty(next.SignoffUser),
		nullTime(next.SignoffAt),
		verdictPassed,
		verdictReason,
		verdictResults,
		nullTime(next.EvaluatedAt),
		time.Now().UTC(),
	).Scan(&next.Version, &next.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RunAnalysis{}, nil, fmt.Errorf("update run analysis %s: %w", id, repo.ErrConflict)
		}
		return domain.RunAnalysis{}, nil, fmt.Errorf("update run analysis: %w", err)
	}

	for _, sample := range samples {
		prev, ok := before[sample.SampleID]
		if !ok {
			return domain.RunAnalysis{}, nil, fmt.Errorf("update added unknown sample %s", sample.SampleID)
		}
		if prev.ResultsCompleted == sample.ResultsCompleted && prev.ResultsValid == sample.ResultsValid {
			continue
		}
		if _, err := tx.ExecContext(ctx, updateSampleFlagsQuery, id, sample.SampleID, sample.ResultsCompleted, sample.ResultsValid); err != nil {
			return domain.RunAnalysis{}, nil, fmt.Errorf("update sample flags: %w", err)
		}
	}
	for _, event := range events {
		if _, err := auditlog.Insert(ctx, tx, event); err != nil {
			return domain.RunAnalysis{}, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.RunAnalysis{}, nil, fmt.Errorf("commit: %w", err)
	}
	return next, samples, nil
}

func upsertSamples(ctx context.Context, db DB, runAnalysisID string, samples []domain.SampleAnalysis) error {
	runAnalysisID = strings.TrimSpace(runAnalysisID)
	if runAnalysisID == "" {
		return fmt.Errorf("run analysis id is required")
	}
	for i, sample := range samples {
		sampleID := strings.TrimSpace(sample.SampleID)
		if sampleID == "" {
			return fmt.Errorf("samples[%d]: sample id is required", i)
		}
		sex := strings.TrimSpace(sample.Sex)
		if sex == "" {
			sex = domain.SexUnknown
		}
		if sample.ContaminationCutoff < 0 || sample.NTCContaminationCutoff < 0 {
			return fmt.Errorf("samples[%d]: cutoffs must be >= 0", i)
		}
		if _, err := db.ExecContext(
			ctx,
			upsertSampleQuery,
			runAnalysisID,
			sampleID,
			i,
			strings.TrimSpace(sample.Worksheet),
			sex,
			sample.ContaminationCutoff,
			sample.NTCContaminationCutoff,
		); err != nil {
			return fmt.Errorf("upsert sample %s: %w", sampleID, err)
		}
	}
	return nil
}

func listSamples(ctx context.Context, db DB, runAnalysisID string) ([]domain.SampleAnalysis, error) {
	runAnalysisID = strings.TrimSpace(runAnalysisID)
	if runAnalysisID == "" {
		return nil, fmt.Errorf("run analysis id is required")
	}
	rows, err := db.QueryContext(ctx, selectSamplesQuery, runAnalysisID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []domain.SampleAnalysis
	for rows.Next() {
		var sample domain.SampleAnalysis
		if err := rows.Scan(
			&sample.RunAnalysisID,
			&sample.SampleID,
			&sample.Position,
			&sample.Worksheet,
			&sample.Sex,
			&sample.ResultsCompleted,
			&sample.ResultsValid,
			&sample.ContaminationCutoff,
			&sample.NTCContaminationCutoff,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

func scanRunAnalysis(row rowScanner) (domain.RunAnalysis, error) {
	var a domain.RunAnalysis
	var checks sql.NullString
	var comment sql.NullString
	var signoffUser sql.NullString
	var signoffAt sql.NullTime
	var verdictPassed sql.NullBool
	var verdictReason sql.NullString
	var verdictResults []byte
	var evaluatedAt sql.NullTime
	if err := row.Scan(
		&a.ID,
		&a.RunID,
		&a.PipelineID,
		&a.AnalysisType,
		&a.ResultsDir,
		&a.FastqDir,
		&a.Lanes,
		&checks,
		&a.MinQ30Score,
		&a.DemultiplexingCompleted,
		&a.DemultiplexingValid,
		&a.ResultsCompleted,
		&a.ResultsValid,
		&a.Watching,
		&a.ManualApproval,
		&comment,
		&signoffUser,
		&signoffAt,
		&verdictPassed,
		&verdictReason,
		&verdictResults,
		&evaluatedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	); err != nil {
		return domain.RunAnalysis{}, err
	}
	if checks.Valid {
		value := checks.String
		a.AutoQCChecks = &value
	}
	a.Comment = comment.String
	a.SignoffUser = signoffUser.String
	a.SignoffAt = timePtr(signoffAt)
	a.EvaluatedAt = timePtr(evaluatedAt)
	if verdictPassed.Valid {
		verdict := domain.Verdict{Passed: verdictPassed.Bool, Reason: verdictReason.String}
		if len(verdictResults) > 0 {
			if err := json.Unmarshal(verdictResults, &verdict.Results); err != nil {
				return domain.RunAnalysis{}, fmt.Errorf("decode verdict results: %w", err)
			}
		}
		a.Verdict = &verdict
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// nullChecks keeps the difference between an unconfigured check list (NULL)
// and a configured one.
func nullChecks(checks *string) sql.NullString {
	if checks == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*checks), Valid: true}
}
