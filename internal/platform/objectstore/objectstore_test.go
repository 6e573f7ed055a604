package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketResults: "run-results",
		BucketReports: "qc-reports",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.BucketReports = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank reports bucket")
	}

	for _, bucket := range []string{"QC_Reports", "qc..reports", "ab"} {
		invalid = valid
		invalid.BucketReports = bucket
		if err := invalid.Validate(); err == nil {
			t.Fatalf("Validate() expected error for bucket %q", bucket)
		}
	}

	invalid = valid
	invalid.BucketReports = valid.BucketResults
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for shared bucket")
	}
}

func TestConfigFromEnvReportsVersioning(t *testing.T) {
	t.Setenv("RUNQC_MINIO_REPORTS_VERSIONING", "true")
	t.Setenv("RUNQC_MINIO_BUCKET_REPORTS", "runqc-reports")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !cfg.ReportsVersioning || cfg.BucketReports != "runqc-reports" {
		t.Fatalf("cfg=%+v", cfg)
	}

	t.Setenv("RUNQC_MINIO_REPORTS_VERSIONING", "sometimes")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error for bad bool")
	}
}

func TestNewMinIOClientRejectsInvalidConfig(t *testing.T) {
	if _, err := NewMinIOClient(Config{}); err == nil {
		t.Fatalf("NewMinIOClient() expected error")
	}
}
