package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"0":       LevelOff,
		"1":       slog.LevelInfo,
		"2":       slog.LevelDebug,
		"3":       LevelTrace,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		" trace ": LevelTrace,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLevelOffSilencesErrors(t *testing.T) {
	if LevelOff <= slog.LevelError {
		t.Fatalf("off level must be above error")
	}
	if LevelTrace >= slog.LevelDebug {
		t.Fatalf("trace level must be below debug")
	}
}

func TestInitWritesFileAndAuditStreams(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit", "audit.log")
	t.Cleanup(func() { _ = Init(Config{Level: "off"}) })

	err := Init(Config{
		Level:       "3",
		OutputPaths: []string{appPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	Trace(context.Background(), "request", slog.String("path", "/swarm"))
	Named("swarm").Info("created")
	Audit().Info("swarm_created", slog.String("swarm_id", "pit"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	app, err := os.ReadFile(appPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(app), `"level":"TRACE"`) || !strings.Contains(string(app), `"component":"swarm"`) {
		t.Fatalf("unexpected app log:\n%s", app)
	}
	if strings.Contains(string(app), "swarm_created") {
		t.Fatalf("audit records should not reach the app log when the audit file is enabled")
	}
	audit, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(audit), `"swarm_id":"pit"`) {
		t.Fatalf("unexpected audit log:\n%s", audit)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected an error for an audit stream without a path")
	}
}
