package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 8080\n")
	t.Chdir(filepath.Dir(path))

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, "google:\n  refresh_token: ${MEETLY_TEST_TOKEN}\n")
	t.Setenv("MEETLY_TEST_TOKEN", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Google.RefreshToken != "secret123" {
		t.Errorf("refresh_token = %q, want %q", cfg.Google.RefreshToken, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("llm.provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Google.CalendarID != "primary" {
		t.Errorf("google.calendar_id = %q, want primary", cfg.Google.CalendarID)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("agent.max_iterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.Session.Driver != "memory" {
		t.Errorf("session.driver = %q, want memory", cfg.Session.Driver)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown llm", "llm:\n  provider: palm\n", "llm.provider"},
		{"anthropic without key", "llm:\n  provider: anthropic\n", "api_key"},
		{"caldav without url", "calendar:\n  provider: caldav\n", "caldav.url"},
		{"sqlite without path", "session:\n  driver: sqlite\n", "session.path"},
		{"bad timezone", "agent:\n  timezone: Mars/Olympus\n", "agent.timezone"},
		{"bad log level", "log_level: loud\n", "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestAgentConfig_Location(t *testing.T) {
	loc, err := AgentConfig{Timezone: "Europe/Stockholm"}.Location()
	if err != nil {
		t.Fatalf("Location() error: %v", err)
	}
	if loc.String() != "Europe/Stockholm" {
		t.Errorf("Location() = %q, want Europe/Stockholm", loc)
	}
}
