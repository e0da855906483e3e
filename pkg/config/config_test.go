package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %q", cfg.Database.Driver)
	}
	if cfg.Uploads.MaxFiles != 10 {
		t.Errorf("expected default max files 10, got %d", cfg.Uploads.MaxFiles)
	}
	if cfg.Uploads.MaxFileSize != 50<<20 {
		t.Errorf("expected default max file size 50MiB, got %d", cfg.Uploads.MaxFileSize)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/test.db
uploads:
  dir: /tmp/uploads
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("expected db path /tmp/test.db, got %q", cfg.Database.Path)
	}
	if cfg.Uploads.Dir != "/tmp/uploads" {
		t.Errorf("expected uploads dir /tmp/uploads, got %q", cfg.Uploads.Dir)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("GRANTH_TEST_PORT", "7070")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  port: ${GRANTH_TEST_PORT}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected expanded port 7070, got %d", cfg.Server.Port)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("GRANTH_MISSING_VAR")
	got := expandEnvVars("${GRANTH_MISSING_VAR:-fallback}")
	if got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Path: "/tmp/x.db"},
			want: "/tmp/x.db?_busy_timeout=10000",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", User: "u", Password: "p", Name: "granth"},
			want: "u:p@tcp(db:3306)/granth?parseTime=true",
		},
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", User: "u", Password: "p", Name: "granth", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=granth sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDatabaseConfig_Validate(t *testing.T) {
	cfg := DatabaseConfig{Driver: "mysql"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for mysql without host")
	}

	cfg = DatabaseConfig{Driver: "oracle"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
