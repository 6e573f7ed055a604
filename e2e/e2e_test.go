//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const pipelinesConfig = `
demultiplex:
  min_fastq_size: 10
variants:
  - name: GermlineEnrichment
    auto_qc_checks: "contamination"
    artifacts:
      sample_completion_marker: "1_GermlineEnrichment.sh.e*"
      sample_expected: ["*.bam"]
      run_completion: single_marker
      run_completion_markers: ["2_GermlineEnrichment.sh.e*"]
      run_expected: ["combined_QC.txt"]
`

type stack struct {
	autoqcURL  string
	gatewayURL string
	dataDir    string
}

// startStack runs autoqc behind the gateway. The gateway authenticates every
// caller as a dev admin and signs the identity for autoqc.
func startStack(t *testing.T) stack {
	t.Helper()
	infra := ensureInfra(t)

	dataDir := t.TempDir()
	configPath := filepath.Join(dataDir, "pipelines.yaml")
	if err := os.WriteFile(configPath, []byte(pipelinesConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	autoqcAddr := freeAddr(t)
	autoqcEnv := append(infra.env(),
		"RUNQC_HTTP_ADDR="+autoqcAddr,
		"RUNQC_PIPELINES_CONFIG="+configPath,
		"RUNQC_ARTIFACT_BACKEND=fs",
		"RUNQC_ARTIFACT_ROOT=/",
		"AUTH_MODE=gateway",
	)
	startService(t, "./autoqc", autoqcEnv)

	gatewayAddr := freeAddr(t)
	gatewayEnv := append(infra.env(),
		"GATEWAY_HTTP_ADDR="+gatewayAddr,
		"AUTOQC_BASE_URL=http://"+autoqcAddr,
		"AUTH_MODE=dev",
		"DEV_AUTH_SUBJECT=e2e-operator",
		"DEV_AUTH_ROLES=admin",
	)
	startService(t, "./gateway", gatewayEnv)

	s := stack{
		autoqcURL:  "http://" + autoqcAddr,
		gatewayURL: "http://" + gatewayAddr,
		dataDir:    dataDir,
	}
	waitHTTP200(t, s.autoqcURL+"/readyz", 15*time.Second)
	waitHTTP200(t, s.gatewayURL+"/readyz", 15*time.Second)
	return s
}

func TestServicesHealthz(t *testing.T) {
	s := startStack(t)
	for _, url := range []string{s.autoqcURL + "/healthz", s.gatewayURL + "/healthz"} {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("GET %s: %v", url, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d, want 200", url, resp.StatusCode)
		}
	}
}

func TestAutoQCRejectsUnsignedRequests(t *testing.T) {
	s := startStack(t)
	resp, err := http.Get(s.autoqcURL + "/run-analyses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", resp.StatusCode)
	}
}

func TestRegisterAndEvaluateThroughGateway(t *testing.T) {
	s := startStack(t)
	fastqDir := filepath.Join(s.dataDir, "fastq", "RUN1")
	resultsDir := filepath.Join(s.dataDir, "results", "RUN1", "IlluminaTruSightCancer")

	var created struct {
		RunAnalysisID string `json:"run_analysis_id"`
		State         string `json:"state"`
	}
	status := postJSON(t, s.gatewayURL+"/api/autoqc/run-analyses", map[string]any{
		"run_id":        "RUN1",
		"pipeline_id":   "GermlineEnrichment-2.5.3",
		"analysis_type": "IlluminaTruSightCancer",
		"results_dir":   resultsDir,
		"fastq_dir":     fastqDir,
		"samples":       []map[string]string{{"sample_id": "S1"}, {"sample_id": "NTC-1"}},
	}, &created)
	if status != http.StatusCreated || created.RunAnalysisID == "" {
		t.Fatalf("register status=%d body=%+v", status, created)
	}
	if created.State != "pending" {
		t.Fatalf("state=%q, want pending", created.State)
	}

	var evaluated struct {
		RunAnalysis struct {
			State   string `json:"state"`
			Verdict struct {
				Passed bool   `json:"passed"`
				Reason string `json:"reason"`
			} `json:"verdict"`
		} `json:"run_analysis"`
		Evaluation struct {
			EvaluatedBy string `json:"evaluated_by"`
		} `json:"evaluation"`
	}
	status = postJSON(t, fmt.Sprintf("%s/api/autoqc/run-analyses/%s/evaluate", s.gatewayURL, created.RunAnalysisID), nil, &evaluated)
	if status != http.StatusOK {
		t.Fatalf("evaluate status=%d", status)
	}
	if evaluated.RunAnalysis.State != "auto_evaluated" {
		t.Fatalf("state=%q, want auto_evaluated", evaluated.RunAnalysis.State)
	}
	if evaluated.RunAnalysis.Verdict.Passed || evaluated.RunAnalysis.Verdict.Reason != "Demultiplexing not complete for some samples" {
		t.Fatalf("verdict=%+v", evaluated.RunAnalysis.Verdict)
	}
	if evaluated.Evaluation.EvaluatedBy != "e2e-operator" {
		t.Fatalf("evaluated_by=%q, want gateway identity", evaluated.Evaluation.EvaluatedBy)
	}
}

func postJSON(t *testing.T, url string, in any, out any) int {
	t.Helper()

	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}
