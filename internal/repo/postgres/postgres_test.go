package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/animus-labs/runqc/internal/domain"
	"github.com/animus-labs/runqc/internal/repo"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRunAnalysisInsertQueryIsIdempotent(t *testing.T) {
	if !strings.Contains(insertRunAnalysisQuery, "ON CONFLICT (run_id, pipeline_id, analysis_type) DO NOTHING") {
		t.Fatalf("expected natural key conflict clause in insert query")
	}
	if !strings.Contains(selectRunAnalysisByKeyQuery, "run_id = $1 AND pipeline_id = $2 AND analysis_type = $3") {
		t.Fatalf("expected natural key predicate in lookup query")
	}
}

func TestRunAnalysisUpdateIsLockedAndVersioned(t *testing.T) {
	if !strings.HasSuffix(strings.TrimSpace(selectRunAnalysisForUpdateQuery), "FOR UPDATE") {
		t.Fatalf("expected row lock on read-modify-write select")
	}
	if !strings.Contains(updateRunAnalysisQuery, "version = version + 1") {
		t.Fatalf("expected version bump in update query")
	}
	if !strings.Contains(updateRunAnalysisQuery, "WHERE run_analysis_id = $1 AND version = $2") {
		t.Fatalf("expected optimistic version predicate in update query")
	}
}

func TestSampleUpsertKeepsEvaluatorFlags(t *testing.T) {
	if !strings.Contains(upsertSampleQuery, "ON CONFLICT (run_analysis_id, sample_id) DO UPDATE") {
		t.Fatalf("expected sample upsert conflict clause")
	}
	if strings.Contains(upsertSampleQuery, "results_completed") {
		t.Fatalf("sample upsert must not overwrite evaluator flags")
	}
	if !strings.Contains(selectSamplesQuery, "ORDER BY position ASC") {
		t.Fatalf("expected roster order in sample query")
	}
}

func TestBuildListQuery(t *testing.T) {
	watching := true
	query, args := buildListQuery(repo.RunAnalysisFilter{RunID: "run-1", Watching: &watching, Limit: 10})
	if !strings.Contains(query, "WHERE run_id = $1 AND watching = $2") {
		t.Fatalf("query=%q, want run and watching predicates", query)
	}
	if !strings.HasSuffix(query, "LIMIT $3") {
		t.Fatalf("query=%q, want limit placeholder $3", query)
	}
	if len(args) != 3 || args[0] != "run-1" || args[1] != true || args[2] != 10 {
		t.Fatalf("args=%v", args)
	}

	query, args = buildListQuery(repo.RunAnalysisFilter{})
	if strings.Contains(query, "WHERE") {
		t.Fatalf("query=%q, want no predicates", query)
	}
	if len(args) != 1 || args[0] != 100 {
		t.Fatalf("args=%v, want default limit", args)
	}
}

func TestEvaluationQueries(t *testing.T) {
	if !strings.Contains(selectEvaluationsQuery, "ORDER BY evaluated_at DESC") {
		t.Fatalf("expected newest-first ordering")
	}
	if strings.Contains(insertEvaluationQuery, "ON CONFLICT") {
		t.Fatalf("evaluation history is append-only")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(err) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestNilStoresReportNotInitialized(t *testing.T) {
	if NewRunAnalysisStore(nil) != nil {
		t.Fatalf("expected nil store for nil db")
	}
	var s *RunAnalysisStore
	if _, err := s.Get(t.Context(), "x"); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("err=%v, want not initialized", err)
	}
	var e *EvaluationStore
	if _, err := e.ListEvaluations(t.Context(), "x", 0); err == nil {
		t.Fatalf("expected error from nil evaluation store")
	}
}

type execRecorder struct {
	args [][]any
}

func (e *execRecorder) ExecContext(_ context.Context, _ string, args ...any) (sql.Result, error) {
	e.args = append(e.args, args)
	return driver.RowsAffected(1), nil
}

func (e *execRecorder) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (e *execRecorder) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func TestUpsertSamplesStoresCutoffsAsGiven(t *testing.T) {
	db := &execRecorder{}
	samples := []domain.SampleAnalysis{
		{SampleID: "S1", ContaminationCutoff: 0, NTCContaminationCutoff: 0},
		{SampleID: "S2", ContaminationCutoff: 0.2, NTCContaminationCutoff: 5},
	}
	if err := upsertSamples(t.Context(), db, "ra-1", samples); err != nil {
		t.Fatalf("upsertSamples() err=%v", err)
	}
	if len(db.args) != 2 {
		t.Fatalf("exec calls=%d, want 2", len(db.args))
	}
	if got := db.args[0]; got[4] != domain.SexUnknown || got[5] != 0.0 || got[6] != 0.0 {
		t.Fatalf("S1 args=%v, want unknown sex and zero cutoffs", got)
	}
	if got := db.args[1]; got[5] != 0.2 || got[6] != 5.0 {
		t.Fatalf("S2 args=%v", got)
	}

	samples[0].ContaminationCutoff = -0.1
	if err := upsertSamples(t.Context(), &execRecorder{}, "ra-1", samples); err == nil {
		t.Fatalf("upsertSamples() err=nil, want negative cutoff error")
	}
}
