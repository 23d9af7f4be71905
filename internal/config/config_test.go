package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Blob.Driver != "fs" {
		t.Errorf("expected fs blob driver, got %q", cfg.Blob.Driver)
	}
	if cfg.Ingest.Timeout != 10*time.Minute {
		t.Errorf("expected 10m ingest timeout, got %s", cfg.Ingest.Timeout)
	}
	if cfg.Auth.SecretKey == "" {
		t.Error("expected dev secret key default")
	}
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing SECRET_KEY in production")
	}

	t.Setenv("SECRET_KEY", "short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short SECRET_KEY in production")
	}
}

func TestLoad_S3RequiresBucket(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("BLOB_DRIVER", "s3")
	t.Setenv("BLOB_S3_BUCKET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for s3 driver without bucket")
	}

	t.Setenv("BLOB_S3_BUCKET", "matos-datafiles")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Blob.S3Bucket != "matos-datafiles" {
		t.Errorf("unexpected bucket %q", cfg.Blob.S3Bucket)
	}
}

func TestLoad_UnknownBlobDriver(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("BLOB_DRIVER", "ftp")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown blob driver")
	}
}

func TestLoad_NotifyEmails(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("NOTIFY_EMAILS", " admin@example.org, ,ops@example.org ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := strings.Join(cfg.Notify.AdminEmails, "|")
	if got != "admin@example.org|ops@example.org" {
		t.Errorf("unexpected admin emails %q", got)
	}
}

func TestDSN_BuildsFromFields(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "matos", Password: "p@ss:word", Name: "matos"}
	dsn := d.DSN()
	if !strings.Contains(dsn, "tcp(db:3306)") {
		t.Errorf("expected default port appended, got %q", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime in DSN, got %q", dsn)
	}
}

func TestDSN_OverrideWins(t *testing.T) {
	d := DatabaseConfig{Host: "db", dsnOverride: "u:p@tcp(other:3307)/x"}
	if d.DSN() != "u:p@tcp(other:3307)/x" {
		t.Errorf("expected override DSN, got %q", d.DSN())
	}
}
