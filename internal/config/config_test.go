package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DEFAULT_CURRENCY", "GATEWAY_EVENT_QUEUE",
		"INVITATION_TTL_HOURS", "REFUND_MAX_ATTEMPTS", "REDIS_RATE_LIMIT_PREFIX",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.DefaultCurrency != "XOF" {
		t.Fatalf("expected default currency XOF, got %q", cfg.DefaultCurrency)
	}
	if cfg.GatewayEventQueue != "tontine_service.charge_updates" {
		t.Fatalf("expected default gateway queue, got %q", cfg.GatewayEventQueue)
	}
	if cfg.InvitationTTLHours != 72 {
		t.Fatalf("expected default invitation TTL of 72 hours, got %d", cfg.InvitationTTLHours)
	}
	if cfg.RefundMaxAttempts != 8 {
		t.Fatalf("expected default refund attempt budget of 8, got %d", cfg.RefundMaxAttempts)
	}
	if cfg.RedisRateLimitPrefix != "tontine:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "TONTINE_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "TONTINE_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_NormalizesCurrency(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEFAULT_CURRENCY", " ngn ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultCurrency != "NGN" {
		t.Fatalf("expected currency normalized to NGN, got %q", cfg.DefaultCurrency)
	}
}

func TestLoadConfig_ClampsNonPositiveTunables(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "REFUND_MAX_ATTEMPTS", "-1")
	setEnvWithCleanup(t, "REFUND_POLL_INTERVAL_SECONDS", "0")
	setEnvWithCleanup(t, "CONTRIBUTION_RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RefundMaxAttempts != 8 {
		t.Fatalf("expected attempt budget floored to 8, got %d", cfg.RefundMaxAttempts)
	}
	if cfg.RefundPollIntervalSeconds != 15 {
		t.Fatalf("expected poll interval floored to 15, got %d", cfg.RefundPollIntervalSeconds)
	}
	if cfg.ContributionRateLimitPerMinute != 30 {
		t.Fatalf("expected contribution limit floored to 30, got %d", cfg.ContributionRateLimitPerMinute)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
