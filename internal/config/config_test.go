package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PLATFORM_FEE_PERCENT", "AUTO_RELEASE_DAYS", "DEFAULT_DELIVERY_DAYS", "CURRENCY", "AUTO_RELEASE_SCHEDULE", "PORT", "SERVER_PORT"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PlatformFeePercent != 6 {
		t.Fatalf("expected default fee percent 6, got %f", cfg.PlatformFeePercent)
	}
	if cfg.AutoReleaseDays != 3 {
		t.Fatalf("expected default auto-release days 3, got %d", cfg.AutoReleaseDays)
	}
	if cfg.DefaultDeliveryDays != 7 {
		t.Fatalf("expected default delivery days 7, got %d", cfg.DefaultDeliveryDays)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %q", cfg.Currency)
	}
	if cfg.AutoReleaseSchedule != "@every 5m" {
		t.Fatalf("expected default schedule, got %q", cfg.AutoReleaseSchedule)
	}
	if cfg.ServerPort != "8090" {
		t.Fatalf("expected default port 8090, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ClampsPlatformFeePercent(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{name: "negative coerced to zero", value: "-4", want: 0},
		{name: "above hundred capped", value: "250", want: 100},
		{name: "fractional kept", value: "15.5", want: 15.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			setEnvWithCleanup(t, "PLATFORM_FEE_PERCENT", tt.value)

			cfg, err := LoadConfig(t.TempDir())
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if cfg.PlatformFeePercent != tt.want {
				t.Fatalf("expected fee percent %f, got %f", tt.want, cfg.PlatformFeePercent)
			}
		})
	}
}

func TestLoadConfig_UsesEscrowServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "ESCROW_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_InvalidAutoReleaseDaysFallsBack(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "AUTO_RELEASE_DAYS", "0")
	setEnvWithCleanup(t, "STORE", "Memory")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AutoReleaseDays != 3 {
		t.Fatalf("expected fallback to 3 days, got %d", cfg.AutoReleaseDays)
	}
	if !cfg.UsesMemoryStore() {
		t.Fatalf("expected memory store to be selected")
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
		}
	})
}
