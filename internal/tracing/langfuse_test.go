package tracing

import (
	"testing"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
)

func TestConfigEnabled(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfg  Config
		want bool
	}{
		{Config{}, false},
		{Config{PublicKey: "pk"}, false},
		{Config{SecretKey: "sk"}, false},
		{Config{PublicKey: "pk", SecretKey: "sk"}, true},
	}
	for _, tc := range cases {
		if got := tc.cfg.Enabled(); got != tc.want {
			t.Errorf("Enabled(%+v) = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}

func TestSetup_DisabledReturnsNoopFlush(t *testing.T) {
	t.Parallel()

	flush := Setup(Config{}, logging.Discard())
	if flush == nil {
		t.Fatal("Setup returned nil flush")
	}
	flush()
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	cfg := ConfigFromEnv()
	if cfg.Host != "http://localhost:3000" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.Enabled() {
		t.Error("want disabled without secret key")
	}
}
