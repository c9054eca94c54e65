package audit

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("LINE_CHANNEL_TOKEN", "tok-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("GOOGLE_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
	for _, k := range []string{"AWS_SECRET_ACCESS_KEY", "REDIS_PASSWORD", "LANGFUSE_SECRET_KEY", "CLIENT_SECRET"} {
		if got := SanitiseKey(k, "x"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", k, got)
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("SEMANTIC_BACKEND", "qdrant"); got != "qdrant" {
		t.Errorf("expected 'qdrant', got %q", got)
	}
	if got := SanitiseKey("SEMANTIC_BACKEND", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.tscbot/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.tscbot/config.yaml" {
			t.Errorf("expected '~/.tscbot/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("LINE_CHANNEL_TOKEN", "super-secret-token")
	t.Setenv("SEMANTIC_BACKEND", "memory")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "super-secret-token") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	if !strings.Contains(out, `"LINE_CHANNEL_TOKEN":"set"`) {
		t.Errorf("expected redacted token presence, got %s", out)
	}
	if !strings.Contains(out, `"semantic":{"SEMANTIC_BACKEND":"memory"`) {
		t.Errorf("expected plain SEMANTIC_BACKEND, got %s", out)
	}
}
