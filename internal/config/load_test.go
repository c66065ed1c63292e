package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "5s"
  admin_ids: [42]
logging:
  level: "debug"
  console: true
storage:
  path: "./bot.db"
reminders:
  retry_interval: "15m"
  max_retries: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminIDs) != 1 || cfg.Telegram.AdminIDs[0] != 42 {
		t.Fatalf("admin_ids = %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Reminders.MaxRetries != 3 {
		t.Fatalf("max_retries = %d", cfg.Reminders.MaxRetries)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  tokne_typo: "oops"
storage:
  path: "./bot.db"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{},"storage":{"path":"./bot.db"}}`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "config.json",
		`{"telegram":{"token":"t"},"storage":{"path":"p"},"reminders":{"retry_interval":"15 minutes"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestDurationDefault(t *testing.T) {
	d, err := Duration("x", "", 15*time.Minute)
	if err != nil || d != 15*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = Duration("x", "30s", time.Minute)
	if err != nil || d != 30*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
}
